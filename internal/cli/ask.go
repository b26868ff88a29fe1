package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/engine"
	"github.com/spf13/cobra"
)

var (
	askJSON           bool
	askUserID         string
	askConversationID string
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Execute one request and print the answer",
	Long: `Execute one request through the router, the ReAct loop or a specialist
workflow, and print the answer with its execution trace.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")
	askCmd.Flags().StringVar(&askUserID, "user", "cli", "user id of the request")
	askCmd.Flags().StringVar(&askConversationID, "conversation", "", "conversation id; stored history is used as context")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	req := agent.AgentRequest{
		UserID:         askUserID,
		ConversationID: askConversationID,
		Query:          strings.Join(args, " "),
	}

	resp, err := a.engine.Execute(cmd.Context(), req)
	var rejected *engine.RejectedError
	if err != nil && !errors.As(err, &rejected) {
		return err
	}

	if err == nil && req.ConversationID != "" {
		if err := a.store.AppendTurns(cmd.Context(), req.ConversationID, req.UserID,
			agent.Turn{Role: agent.RoleUser, Content: req.Query},
			agent.Turn{Role: agent.RoleAssistant, Content: resp.Answer},
		); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to record conversation turns")
		}
	}

	if askJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResponse(cmd.OutOrStdout(), resp)
	return nil
}

// printResponse writes the answer followed by a compact trace
func printResponse(w io.Writer, resp engine.Response) {
	fmt.Fprintln(w, resp.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "mode: %s", resp.Mode)
	if resp.Decision.Classifier != "" {
		fmt.Fprintf(w, " (%s, confidence %.2f)", resp.Decision.Classifier, resp.Decision.Confidence)
	}
	fmt.Fprintf(w, "\ntrace: %s\n", resp.TraceID)

	if s := resp.ReActTrace; s != nil {
		fmt.Fprintf(w, "react: %s after %d iteration(s)\n", s.State, s.IterationCount)
		for _, step := range s.Steps {
			if step.Action == nil {
				continue
			}
			fmt.Fprintf(w, "  %d. %s -> %s\n", step.Iteration, step.Action.Tool, step.Observation)
		}
	}

	if p := resp.WorkflowTrace; p != nil {
		fmt.Fprintf(w, "workflow %s: %s, partial=%t\n", p.ID, p.Type, p.Partial)
		for i, step := range p.Steps {
			fmt.Fprintf(w, "  %d. %s [%s]", i+1, step.DisplayName, step.Status)
			if step.Error != "" {
				fmt.Fprintf(w, " %s", step.Error)
			}
			fmt.Fprintln(w)
		}
	}
}
