package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/harun/sigap/pkg/orchestrator"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the specialist catalog",
	Long:  `List the specialist agents available to workflows, with their mode, keywords and tools.`,
	RunE:  runAgents,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := orchestrator.LoadCatalog(cfg.Orchestrator.AgentsFile, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to load agent catalog: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODE\tTOOLS\tKEYWORDS")
	for _, a := range registry.List() {
		tools := "-"
		if len(a.Tools.Allow) > 0 {
			tools = strings.Join(a.Tools.Allow, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Mode, tools, strings.Join(a.Keywords, ","))
	}
	return w.Flush()
}
