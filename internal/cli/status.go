package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Query the health endpoint of a running Sigap gateway and show its budgets.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// budgetStatus mirrors governor stats in the /healthz body
type budgetStatus struct {
	Active   int `json:"active"`
	Capacity int `json:"capacity"`
	Rejected int `json:"rejected"`
}

type healthStatus struct {
	Status   string       `json:"status"`
	Version  string       `json:"version"`
	UptimeS  int64        `json:"uptime_s"`
	ReAct    budgetStatus `json:"react"`
	Workflow budgetStatus `json:"workflow"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port)) + "/healthz"

	health, err := fetchHealth(cmd.Context(), url)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}
	printHealth(cmd.OutOrStdout(), health)
	return nil
}

func fetchHealth(ctx context.Context, url string) (healthStatus, error) {
	var health healthStatus

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return health, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return health, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return health, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, fmt.Errorf("invalid health response: %w", err)
	}
	return health, nil
}

func printHealth(w io.Writer, h healthStatus) {
	fmt.Fprintf(w, "Status: %s\n", h.Status)
	if h.Version != "" {
		fmt.Fprintf(w, "Version: %s\n", h.Version)
	}
	fmt.Fprintf(w, "Uptime: %s\n", formatDuration(time.Duration(h.UptimeS)*time.Second))
	fmt.Fprintf(w, "ReAct sessions: %d/%d (rejected %d)\n", h.ReAct.Active, h.ReAct.Capacity, h.ReAct.Rejected)
	fmt.Fprintf(w, "Workflows: %d/%d (rejected %d)\n", h.Workflow.Active, h.Workflow.Capacity, h.Workflow.Rejected)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
