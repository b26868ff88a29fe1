package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/sigap/internal/observability"
	"github.com/harun/sigap/internal/tracing"
	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/audit"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxChainLength  = 5
	DefaultMaxParallel     = 3
	DefaultWorkflowTimeout = 5 * time.Minute
)

// Config configures a Coordinator
type Config struct {
	Registry       *Registry
	Specialist     Specialist
	MaxChainLength int
	MaxParallel    int
	Timeout        time.Duration
	Sink           audit.Sink
	// Store keeps finished plans; optional
	Store  PlanStore
	Logger zerolog.Logger
}

// Coordinator runs workflow plans across specialist agents
type Coordinator struct {
	registry    *Registry
	specialist  Specialist
	maxChain    int
	maxParallel int
	timeout     time.Duration
	sink        audit.Sink
	store       PlanStore
	logger      zerolog.Logger
}

// WorkflowResult is a finished plan with its aggregated, attributed answer
type WorkflowResult struct {
	Plan   WorkflowPlan `json:"plan"`
	Answer string       `json:"answer"`
}

// Err returns ErrWorkflowTimeout for timed-out plans, ErrAgentFailure when
// any step failed, and nil otherwise
func (r *WorkflowResult) Err() error {
	if r.Plan.TimedOut {
		return ErrWorkflowTimeout
	}
	for _, step := range r.Plan.Steps {
		if step.Status == StepFailed {
			return fmt.Errorf("%w: %s: %s", ErrAgentFailure, step.AgentID, step.Error)
		}
	}
	return nil
}

// NewCoordinator creates a coordinator
func NewCoordinator(cfg Config) (*Coordinator, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if cfg.Specialist == nil {
		return nil, fmt.Errorf("specialist runner is required")
	}
	if cfg.MaxChainLength <= 0 {
		cfg.MaxChainLength = DefaultMaxChainLength
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWorkflowTimeout
	}
	if cfg.Sink == nil {
		cfg.Sink = audit.Nop{}
	}

	return &Coordinator{
		registry:    cfg.Registry,
		specialist:  cfg.Specialist,
		maxChain:    cfg.MaxChainLength,
		maxParallel: cfg.MaxParallel,
		timeout:     cfg.Timeout,
		sink:        cfg.Sink,
		store:       cfg.Store,
		logger:      cfg.Logger.With().Str("component", "coordinator").Logger(),
	}, nil
}

// Registry returns the specialist catalog
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// NewPlan builds a pending plan over the given agents
func (c *Coordinator) NewPlan(workflowType WorkflowType, agentIDs ...string) (WorkflowPlan, error) {
	plan := WorkflowPlan{
		ID:        gonanoid.Must(12),
		Type:      workflowType,
		Steps:     make([]AgentStep, len(agentIDs)),
		CreatedAt: time.Now(),
	}
	for i, id := range agentIDs {
		plan.Steps[i] = AgentStep{AgentID: id, Status: StepPending}
	}
	if _, err := c.prepare(&plan); err != nil {
		return WorkflowPlan{}, err
	}
	return plan, nil
}

// prepare validates the plan and resets its steps to pending
func (c *Coordinator) prepare(plan *WorkflowPlan) ([]AgentConfig, error) {
	n := len(plan.Steps)
	if n == 0 {
		return nil, ErrEmptyPlan
	}
	if n > c.maxChain {
		return nil, fmt.Errorf("%w: %d steps, limit is %d", ErrChainTooLong, n, c.maxChain)
	}

	switch plan.Type {
	case WorkflowSingle:
		if n != 1 {
			return nil, fmt.Errorf("single workflow needs exactly one step, got %d", n)
		}
	case WorkflowSequential, WorkflowParallel:
	default:
		return nil, fmt.Errorf("invalid workflow type: %s", plan.Type)
	}

	agents := make([]AgentConfig, n)
	for i := range plan.Steps {
		cfg, err := c.registry.Get(plan.Steps[i].AgentID)
		if err != nil {
			return nil, err
		}
		agents[i] = cfg
		plan.Steps[i] = AgentStep{
			AgentID:     cfg.ID,
			DisplayName: cfg.Name,
			Status:      StepPending,
		}
	}
	return agents, nil
}

// Run executes plan under the workflow wall clock. The error is non-nil only
// when the plan is rejected before execution; step failures and timeouts are
// reported in the result.
func (c *Coordinator) Run(ctx context.Context, req agent.AgentRequest, plan WorkflowPlan) (*WorkflowResult, error) {
	plan.Steps = append([]AgentStep(nil), plan.Steps...)
	agents, err := c.prepare(&plan)
	if err != nil {
		return nil, err
	}
	if plan.ID == "" {
		plan.ID = gonanoid.Must(12)
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}

	ctx, span := tracing.StartSpan(ctx, "sigap.orchestrator", "workflow.run",
		attribute.String("workflow_id", plan.ID),
		attribute.String("workflow_type", string(plan.Type)),
		attribute.Int("steps", len(plan.Steps)),
	)
	logger := tracing.LoggerFromContext(ctx, c.logger).With().
		Str("workflow_id", plan.ID).
		Str("workflow_type", string(plan.Type)).
		Logger()

	logger.Info().Strs("agents", plan.AgentIDs()).Msg("Starting workflow")

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	w := &workflowRun{
		coordinator: c,
		plan:        &plan,
		agents:      agents,
		req:         req,
		parent:      ctx,
		logger:      logger,
	}

	if plan.Type == WorkflowParallel {
		w.parallel(runCtx)
	} else {
		w.sequential(runCtx)
	}

	plan.TotalTime = time.Since(start)
	for _, step := range plan.Steps {
		if step.Status != StepCompleted {
			plan.Partial = true
		}
		observability.RecordWorkflowStep(string(plan.Type), string(step.Status))
	}
	observability.RecordWorkflow(string(plan.Type), plan.TotalTime, plan.Partial)

	result := &WorkflowResult{Plan: plan, Answer: Aggregate(plan)}

	c.sink.RecordWorkflow(ctx, workflowRecord(ctx, plan))
	if c.store != nil {
		if err := c.store.Save(plan); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist workflow plan")
		}
	}

	span.SetAttributes(attribute.Bool("partial", plan.Partial), attribute.Bool("timed_out", plan.TimedOut))
	tracing.EndSpan(span, result.Err())

	logger.Info().
		Bool("partial", plan.Partial).
		Bool("timed_out", plan.TimedOut).
		Dur("total_time", plan.TotalTime).
		Msg("Workflow finished")

	return result, nil
}

type stepResult struct {
	index   int
	outcome StepOutcome
}

// workflowRun owns the plan while it executes; only its goroutine mutates steps
type workflowRun struct {
	coordinator *Coordinator
	plan        *WorkflowPlan
	agents      []AgentConfig
	req         agent.AgentRequest
	parent      context.Context
	logger      zerolog.Logger
}

func (w *workflowRun) sequential(ctx context.Context) {
	results := make(chan stepResult, len(w.plan.Steps))
	var failed []int

	for i := range w.plan.Steps {
		if ctx.Err() != nil {
			w.abort(ctx)
			return
		}

		in := StepInput{Request: w.req, Agent: w.agents[i]}
		for j := 0; j < i; j++ {
			if w.plan.Steps[j].Status == StepCompleted {
				in.Prior = append(in.Prior, w.plan.Steps[j])
			}
		}
		if len(failed) > 0 {
			in.Notice = w.failureNotice(failed)
			w.plan.Steps[i].UpstreamFailure = true
			w.plan.Steps[i].Notice = in.Notice
		}

		w.launch(ctx, i, in, results)

		select {
		case r := <-results:
			w.complete(r)
			if w.plan.Steps[i].Status == StepFailed {
				failed = append(failed, i)
			}
		case <-ctx.Done():
			w.drain(results)
			w.abort(ctx)
			return
		}
	}
}

func (w *workflowRun) parallel(ctx context.Context) {
	n := len(w.plan.Steps)
	gate := semaphore.NewWeighted(int64(w.coordinator.maxParallel))
	results := make(chan stepResult, n)

	next, done := 0, 0
	for done < n {
		if ctx.Err() != nil {
			w.drain(results)
			w.abort(ctx)
			return
		}

		// Excess steps stay pending until a slot frees up
		for next < n && gate.TryAcquire(1) {
			w.launch(ctx, next, StepInput{Request: w.req, Agent: w.agents[next]}, results)
			next++
		}

		select {
		case r := <-results:
			w.complete(r)
			gate.Release(1)
			done++
		case <-ctx.Done():
			w.drain(results)
			w.abort(ctx)
			return
		}
	}
}

// launch marks the step running and runs it in its own goroutine. The
// results channel is buffered for every step so abandoned goroutines never block.
func (w *workflowRun) launch(ctx context.Context, i int, in StepInput, results chan<- stepResult) {
	step := &w.plan.Steps[i]
	step.Status = StepRunning
	step.StartedAt = time.Now()

	w.logger.Debug().Int("step", i+1).Str("agent_id", step.AgentID).Msg("Step started")

	stepCtx := tracing.PropagateToAgent(ctx, in.Agent.ID)
	go func() {
		var out StepOutcome
		defer func() {
			if r := recover(); r != nil {
				out = StepOutcome{Err: fmt.Errorf("%w: specialist panicked: %v", ErrAgentFailure, r)}
			}
			results <- stepResult{index: i, outcome: out}
		}()
		out = w.coordinator.specialist.RunStep(stepCtx, in)
	}()
}

func (w *workflowRun) complete(r stepResult) {
	step := &w.plan.Steps[r.index]
	step.EndedAt = time.Now()
	step.Trace = r.outcome.Trace

	if r.outcome.Err != nil {
		step.Status = StepFailed
		step.Error = failureText(r.outcome.Err)
		w.logger.Warn().
			Int("step", r.index+1).
			Str("agent_id", step.AgentID).
			Str("error", step.Error).
			Msg("Step failed")
		return
	}

	step.Status = StepCompleted
	step.Contribution = strings.TrimSpace(r.outcome.Contribution)
	if step.UpstreamFailure && !strings.Contains(step.Contribution, step.Notice) {
		step.Contribution = strings.TrimSpace(step.Notice + "\n\n" + step.Contribution)
	}
	w.logger.Debug().
		Int("step", r.index+1).
		Str("agent_id", step.AgentID).
		Dur("duration", step.Duration()).
		Msg("Step completed")
}

// abort fails every unfinished step without waiting for running ones
// drain completes the results already delivered, so a step that finished as
// the deadline fired is not reported as failed
func (w *workflowRun) drain(results <-chan stepResult) {
	for {
		select {
		case r := <-results:
			w.complete(r)
		default:
			return
		}
	}
}

func (w *workflowRun) abort(ctx context.Context) {
	reason := ErrWorkflowTimeout.Error()
	if w.parent.Err() != nil {
		reason = agent.ErrCancelled.Error()
	} else {
		w.plan.TimedOut = true
	}

	now := time.Now()
	for i := range w.plan.Steps {
		step := &w.plan.Steps[i]
		if step.Status == StepPending || step.Status == StepRunning {
			step.Status = StepFailed
			step.Error = reason
			step.EndedAt = now
		}
	}

	w.logger.Warn().Str("reason", reason).AnErr("cause", ctx.Err()).Msg("Workflow aborted")
}

func (w *workflowRun) failureNotice(failed []int) string {
	parts := make([]string, 0, len(failed))
	for _, i := range failed {
		step := w.plan.Steps[i]
		parts = append(parts, fmt.Sprintf("langkah %d (%s) gagal: %s", i+1, step.DisplayName, step.Error))
	}
	return "PEMBERITAHUAN: " + strings.Join(parts, "; ") + "."
}

// failureText strips the sentinel prefix from a step error
func failureText(err error) string {
	text := err.Error()
	if errors.Is(err, ErrAgentFailure) {
		text = strings.TrimPrefix(text, ErrAgentFailure.Error()+": ")
	}
	return text
}

func workflowRecord(ctx context.Context, plan WorkflowPlan) audit.WorkflowRecord {
	steps := make([]audit.StepRecord, len(plan.Steps))
	for i, step := range plan.Steps {
		steps[i] = audit.StepRecord{
			AgentID:  step.AgentID,
			Status:   string(step.Status),
			Duration: step.Duration(),
			Error:    step.Error,
		}
	}
	return audit.WorkflowRecord{
		TraceID:      tracing.GetTraceID(ctx),
		WorkflowID:   plan.ID,
		WorkflowType: string(plan.Type),
		AgentSteps:   steps,
		Partial:      plan.Partial,
		TotalTime:    plan.TotalTime,
		Timestamp:    plan.CreatedAt,
	}
}
