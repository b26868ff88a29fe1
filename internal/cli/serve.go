package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/sigap/internal/config"
	"github.com/harun/sigap/pkg/gateway"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket gateway",
	Long: `Run the gateway in the foreground. The audit retention job and the
config watcher run alongside it until the process is interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, appOptions{Console: true})
	if err != nil {
		return err
	}
	defer a.close()

	srv, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Engine:       a.engine,
		Turns:        a.store,
		Status:       a.status,
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return a.rotateLogs(ctx, hangup) })
	g.Go(func() error { return a.runRetention(ctx) })
	g.Go(func() error { return a.watchConfig(ctx, config.NewLoader(cfgFile)) })

	a.logger.Info().Str("version", version).Msg("Sigap started")
	err = g.Wait()
	a.logger.Info().Msg("Sigap stopped")
	return err
}

// runRetention runs cleanup on the configured schedule until ctx ends
func (a *app) runRetention(ctx context.Context) error {
	if a.cfg.Audit.RetentionDays <= 0 {
		a.logger.Info().Msg("Audit retention disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(a.cfg.Audit.CleanupSchedule, func() {
		a.cleanup(ctx, time.Now())
	}); err != nil {
		return err
	}
	c.Start()
	a.logger.Info().
		Str("schedule", a.cfg.Audit.CleanupSchedule).
		Int("retention_days", a.cfg.Audit.RetentionDays).
		Msg("Audit retention scheduled")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// rotateLogs reopens the log file on every signal until ctx ends, for
// external log shippers that move the file away
func (a *app) rotateLogs(ctx context.Context, signals <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signals:
			if err := a.log.Rotate(); err != nil {
				a.logger.Error().Err(err).Msg("Failed to rotate log file")
				continue
			}
			a.logger.Info().Msg("Log file rotated")
		}
	}
}

// watchConfig hot-reloads budgets and the routing threshold until ctx ends
func (a *app) watchConfig(ctx context.Context, loader *config.Loader) error {
	if _, err := os.Stat(loader.GetConfigPath()); errors.Is(err, os.ErrNotExist) {
		a.logger.Info().Str("path", loader.GetConfigPath()).Msg("No config file, hot reload disabled")
		return nil
	}

	w, err := config.NewWatcher(loader, 0)
	if err != nil {
		return err
	}
	w.OnReload(a.applyConfig)
	if err := w.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	return w.Stop()
}
