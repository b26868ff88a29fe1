package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/harun/sigap/pkg/audit"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools",
	Long:  `List the tools available to the ReAct loop with their parameters.`,
	RunE:  runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	executor, err := newToolExecutor(cfg, audit.Nop{}, nil, nil, zerolog.Nop())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tPARAMETERS\tDESCRIPTION")
	for _, def := range executor.Definitions(nil) {
		params := make([]string, 0, len(def.Parameters))
		for _, p := range def.Parameters {
			name := p.Name
			if p.Required {
				name += "*"
			}
			params = append(params, name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", def.Name, strings.Join(params, ","), def.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nIdentical calls per session: %d (%s match)\n",
		cfg.Tools.MaxIdenticalCalls, executor.MatchMode())
	return nil
}
