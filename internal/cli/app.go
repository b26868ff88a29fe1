package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/harun/sigap/internal/config"
	"github.com/harun/sigap/internal/logger"
	"github.com/harun/sigap/internal/observability"
	"github.com/harun/sigap/internal/tracing"
	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/audit"
	"github.com/harun/sigap/pkg/coretools"
	"github.com/harun/sigap/pkg/engine"
	"github.com/harun/sigap/pkg/governor"
	"github.com/harun/sigap/pkg/orchestrator"
	"github.com/harun/sigap/pkg/routing"
	"github.com/harun/sigap/pkg/store"
	"github.com/harun/sigap/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

const serviceName = "sigap"

// appOptions adjusts how the core is assembled
type appOptions struct {
	// Console mirrors logs to stdout
	Console bool
	// Generator replaces the provider-backed generator
	Generator agent.Generator
}

// app is the assembled execution core plus its resources
type app struct {
	cfg         *config.Config
	log         *logger.Logger
	logger      zerolog.Logger
	store       *store.Store
	plans       *orchestrator.FileStore
	executor    *toolexecutor.ToolExecutor
	registry    *orchestrator.Registry
	governor    *governor.Governor
	router      *routing.Router
	coordinator *orchestrator.Coordinator
	engine      *engine.Engine
	started     time.Time

	closers []func() error
}

// buildApp wires every component from cfg. On error the resources opened so
// far are closed.
func buildApp(cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: zerolog.Nop(), started: time.Now()}
	if err := a.build(opts); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(opts appOptions) (err error) {
	cfg := a.cfg

	a.log, err = logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   opts.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = a.log.GetZerolog()
	a.closers = append(a.closers, a.log.Close)

	if err := tracing.InitOpenTelemetry(serviceName, version); err != nil {
		a.logger.Warn().Err(err).Msg("OpenTelemetry disabled")
	} else {
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tracing.ShutdownOpenTelemetry(ctx)
		})
	}
	observability.EnsureRegistered()

	a.store, err = store.Open(store.Config{DBPath: cfg.Audit.DBPath, Logger: a.log.Component("store")})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.store.Close)

	auditLog := observability.OpenAuditLog(cfg.Audit.LogPath, cfg.Logging.MaxSize, cfg.Logging.MaxAge)
	a.closers = append(a.closers, auditLog.Close)
	sink := audit.NewMulti(auditLog, a.store)

	if err := seedDocuments(context.Background(), a.store); err != nil {
		return err
	}

	a.executor, err = newToolExecutor(cfg, sink, a.store, a.log.Redactor(), a.logger)
	if err != nil {
		return err
	}

	a.registry, err = orchestrator.LoadCatalog(cfg.Orchestrator.AgentsFile, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load agent catalog: %w", err)
	}

	generator := opts.Generator
	if generator == nil {
		generator, err = newGenerator(cfg, a.logger)
		if err != nil {
			return err
		}
	}

	react, err := agent.NewReActEngine(agent.Config{
		Executor:      a.executor,
		Generator:     generator,
		MaxIterations: cfg.ReAct.MaxIterations,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	specialist, err := orchestrator.NewAgentSpecialist(react, generator, a.logger)
	if err != nil {
		return err
	}

	a.plans, err = orchestrator.NewFileStore(filepath.Join(cfg.DataDir, "workflows"))
	if err != nil {
		return err
	}

	a.coordinator, err = orchestrator.NewCoordinator(orchestrator.Config{
		Registry:       a.registry,
		Specialist:     specialist,
		MaxChainLength: cfg.Orchestrator.MaxChainLength,
		MaxParallel:    cfg.Orchestrator.MaxParallel,
		Timeout:        cfg.Orchestrator.WorkflowTimeout,
		Sink:           sink,
		Store:          a.plans,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	a.router, err = routing.New(routing.Config{
		Classifier:          cfg.Router.Classifier,
		Registry:            a.registry,
		Generator:           generator,
		ConfidenceThreshold: cfg.Router.ConfidenceThreshold,
		CacheTTL:            cfg.Router.CacheTTL,
		Sink:                sink,
		Logger:              a.logger,
	})
	if err != nil {
		return err
	}

	a.governor = governor.New(governor.Config{
		MaxReActSessions: cfg.Governor.MaxReActSessions,
		MaxWorkflows:     cfg.Governor.MaxWorkflows,
		Logger:           a.logger,
	})

	a.engine, err = engine.New(engine.Config{
		Router:        a.router,
		Governor:      a.governor,
		ReAct:         react,
		Coordinator:   a.coordinator,
		Generator:     generator,
		Conversations: a.store,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	return nil
}

// seedDocuments indexes the built-in circulars into an empty document store
func seedDocuments(ctx context.Context, st *store.Store) error {
	n, err := st.DocumentCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count indexed documents: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := st.IndexDocuments(ctx, coretools.DefaultDocuments()...); err != nil {
		return fmt.Errorf("failed to seed document index: %w", err)
	}
	return nil
}

// newToolExecutor builds the executor with the six core tools registered
func newToolExecutor(cfg *config.Config, sink audit.Sink, index coretools.DocumentIndex, redactor *logger.Redactor, zl zerolog.Logger) (*toolexecutor.ToolExecutor, error) {
	loc, err := time.LoadLocation(cfg.Tools.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Tools.Timezone, err)
	}

	var corpus *coretools.LegalCorpus
	if cfg.Tools.LegalCorpusFile != "" {
		corpus, err = coretools.LoadLegalCorpus(cfg.Tools.LegalCorpusFile)
		if err != nil {
			return nil, err
		}
	}

	executor := toolexecutor.New(toolexecutor.Config{
		Timeout:           cfg.Tools.Timeout,
		MaxResultChars:    cfg.Tools.MaxResultChars,
		MaxIdenticalCalls: cfg.Tools.MaxIdenticalCalls,
		RepetitionMatch:   toolexecutor.MatchMode(cfg.Tools.RepetitionMatch),
		Sink:              sink,
		Redactor:          redactor,
		Logger:            zl,
	})
	if err := coretools.RegisterCoreTools(executor, coretools.Options{
		Location: loc,
		Index:    index,
		Corpus:   corpus,
	}); err != nil {
		return nil, fmt.Errorf("failed to register core tools: %w", err)
	}
	return executor, nil
}

// newGenerator builds the provider-backed generator from the AI profiles
func newGenerator(cfg *config.Config, zl zerolog.Logger) (agent.Generator, error) {
	if len(cfg.AI.Profiles) == 0 {
		return nil, errors.New("no AI profile configured: add one under ai.profiles")
	}

	profiles := make([]agent.AuthProfile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Model:    p.Model,
			Priority: p.Priority,
		})
	}

	return agent.NewProviderGenerator(agent.ProviderGeneratorConfig{
		Profiles:    profiles,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		MaxRetries:  cfg.AI.MaxRetries,
		Logger:      zl,
	})
}

// applyConfig pushes the reloadable settings into the live components
func (a *app) applyConfig(cfg *config.Config) {
	a.governor.SetLimits(cfg.Governor.MaxReActSessions, cfg.Governor.MaxWorkflows)
	a.router.SetThreshold(cfg.Router.ConfidenceThreshold)

	a.logger.Info().
		Int("max_react_sessions", cfg.Governor.MaxReActSessions).
		Int("max_workflows", cfg.Governor.MaxWorkflows).
		Float64("confidence_threshold", cfg.Router.ConfidenceThreshold).
		Msg("Applied reloaded config")
}

// status reports budgets, routing and audit counts for /healthz
func (a *app) status(ctx context.Context) map[string]interface{} {
	body := map[string]interface{}{
		"version":  version,
		"uptime_s": int64(time.Since(a.started).Seconds()),
		"react":    a.governor.Stats(governor.KindReAct),
		"workflow": a.governor.Stats(governor.KindWorkflow),
		"routing":  a.router.Stats(),
	}
	if counts, err := a.store.Counts(ctx); err == nil {
		body["audit"] = counts
	}
	return body
}

// cleanup drops audit rows and stored workflow plans older than the
// retention window
func (a *app) cleanup(ctx context.Context, now time.Time) {
	if a.cfg.Audit.RetentionDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -a.cfg.Audit.RetentionDays)

	rows, err := a.store.Cleanup(ctx, cutoff)
	if err != nil {
		a.logger.Error().Err(err).Msg("Audit cleanup failed")
		return
	}

	plans, err := a.plans.List()
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to list workflow plans")
		return
	}
	removed := 0
	for _, plan := range plans {
		if plan.CreatedAt.Before(cutoff) {
			if err := a.plans.Delete(plan.ID); err != nil {
				a.logger.Warn().Err(err).Str("workflow_id", plan.ID).Msg("Failed to delete workflow plan")
				continue
			}
			removed++
		}
	}

	a.logger.Info().
		Int64("rows", rows).
		Int("plans", removed).
		Time("cutoff", cutoff).
		Msg("Retention cleanup finished")
}

// close releases resources in reverse order of acquisition
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}
