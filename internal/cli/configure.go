package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/harun/sigap/internal/config"
	"github.com/spf13/cobra"
)

var configInit bool

var configureCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration with secrets masked. With --init, write
the default configuration to the config path when no file exists yet.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVar(&configInit, "init", false, "write a default config file")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	if configInit {
		configPath := loader.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s", configPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat config file: %w", err)
		}

		if err := loader.Save(config.DefaultConfig()); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", configPath)
		fmt.Fprintln(cmd.OutOrStdout(), "Add an AI profile under ai.profiles, then run: sigap serve")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
	return nil
}
