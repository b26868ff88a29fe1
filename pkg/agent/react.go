package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/sigap/internal/observability"
	"github.com/harun/sigap/internal/tracing"
	"github.com/harun/sigap/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxIterations bounds the number of tool-using cycles per session
const DefaultMaxIterations = 5

// ErrMaxIterations is reported when a session ran out of iterations
var ErrMaxIterations = errors.New("maximum iterations reached")

// ErrCancelled is reported when the caller cancelled the session
var ErrCancelled = errors.New("cancelled")

// User-facing texts for sessions that end without a model answer
const (
	UnavailableAnswer = "Maaf, layanan penalaran sedang tidak tersedia sehingga pertanyaan Anda belum bisa dijawab. Silakan coba lagi beberapa menit lagi."
	CancelledAnswer   = "Permintaan dibatalkan sebelum jawaban selesai disusun."

	repetitionHint = "Your last action repeated an identical tool call and was refused. Choose a different action or give the Final Answer."
)

// State is the ReAct session state
type State string

const (
	StateReasoning            State = "reasoning"
	StateActing               State = "acting"
	StateObserving            State = "observing"
	StateCompleted            State = "completed"
	StateMaxIterationsReached State = "max_iterations_reached"
	StateFailed               State = "failed"
)

// Terminal reports whether the state ends the session
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateMaxIterationsReached || s == StateFailed
}

// ReActStep records one reasoning cycle that used a tool
type ReActStep struct {
	Iteration   int                          `json:"iteration"`
	Thought     string                       `json:"thought,omitempty"`
	Action      *Action                      `json:"action,omitempty"`
	Observation string                       `json:"observation"`
	Invocation  *toolexecutor.ToolInvocation `json:"invocation,omitempty"`
	Timestamp   time.Time                    `json:"timestamp"`
}

// ReActSession is the trace of one bounded reasoning loop
type ReActSession struct {
	ID             string      `json:"id"`
	AgentID        string      `json:"agent_id,omitempty"`
	Steps          []ReActStep `json:"steps"`
	IterationCount int         `json:"iteration_count"`
	State          State       `json:"state"`
	Answer         string      `json:"answer"`
	FinalThought   string      `json:"final_thought,omitempty"`
	FailureReason  string      `json:"failure_reason,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	EndedAt        time.Time   `json:"ended_at"`
	Usage          TokenUsage  `json:"usage"`

	err error
}

// Err returns nil for a completed session and the terminal cause otherwise
func (s *ReActSession) Err() error {
	switch s.State {
	case StateCompleted:
		return nil
	case StateMaxIterationsReached:
		return ErrMaxIterations
	default:
		if s.err != nil {
			return s.err
		}
		return fmt.Errorf("react session %s: %s", s.State, s.FailureReason)
	}
}

// ToolsUsed lists the tools invoked in order
func (s *ReActSession) ToolsUsed() []string {
	tools := make([]string, 0, len(s.Steps))
	for _, step := range s.Steps {
		if step.Action != nil {
			tools = append(tools, step.Action.Tool)
		}
	}
	return tools
}

// Summary describes the attempted steps, one line each
func (s *ReActSession) Summary() string {
	if len(s.Steps) == 0 {
		return "no steps were attempted"
	}
	lines := make([]string, 0, len(s.Steps))
	for _, step := range s.Steps {
		status := "ok"
		if step.Invocation != nil && !step.Invocation.Success {
			status = "failed: " + string(step.Invocation.ErrorKind)
		}
		tool := ""
		if step.Action != nil {
			tool = step.Action.Tool
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", step.Iteration, tool, status))
	}
	return strings.Join(lines, "\n")
}

// Config configures a ReActEngine
type Config struct {
	Executor      *toolexecutor.ToolExecutor
	Generator     Generator
	MaxIterations int
	Logger        zerolog.Logger
}

// RunOptions scopes one run to an agent
type RunOptions struct {
	AgentID      string
	SystemPrompt string
	// Policy restricts the visible and callable tools; nil allows all
	Policy *toolexecutor.ToolPolicy
}

// ReActEngine runs the bounded Reasoning/Acting/Observing loop
type ReActEngine struct {
	executor      *toolexecutor.ToolExecutor
	generator     Generator
	maxIterations int
	logger        zerolog.Logger
}

// NewReActEngine creates an engine. MaxIterations outside 1..5 falls back to 5.
func NewReActEngine(cfg Config) (*ReActEngine, error) {
	observability.EnsureRegistered()

	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.MaxIterations <= 0 || cfg.MaxIterations > DefaultMaxIterations {
		cfg.MaxIterations = DefaultMaxIterations
	}

	return &ReActEngine{
		executor:      cfg.Executor,
		generator:     cfg.Generator,
		maxIterations: cfg.MaxIterations,
		logger:        cfg.Logger.With().Str("component", "react").Logger(),
	}, nil
}

// MaxIterations returns the iteration bound
func (e *ReActEngine) MaxIterations() int {
	return e.maxIterations
}

// Run drives one session to a terminal state. It never returns an
// unfinished session; failures are reported through State and Answer.
func (e *ReActEngine) Run(ctx context.Context, req AgentRequest, opts RunOptions) *ReActSession {
	session := &ReActSession{
		ID:        gonanoid.Must(12),
		AgentID:   opts.AgentID,
		Steps:     []ReActStep{},
		State:     StateReasoning,
		StartedAt: time.Now(),
	}

	ctx, span := tracing.StartSpan(ctx, "sigap.agent", "react.run",
		attribute.String("session_id", session.ID),
		attribute.String("agent_id", opts.AgentID),
	)
	defer func() {
		span.SetAttributes(
			attribute.String("state", string(session.State)),
			attribute.Int("iterations", session.IterationCount),
		)
		tracing.EndSpan(span, session.Err())
	}()

	logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("session_id", session.ID).Logger()

	toolSession := toolexecutor.NewSession(session.ID, req.UserID, opts.AgentID, opts.Policy)
	ctx = toolexecutor.ContextWithDocumentScope(ctx, req.DocumentScope)
	tools := e.executor.Definitions(opts.Policy)

	var (
		pending Generation
		hint    string
	)

	for !session.State.Terminal() {
		switch session.State {
		case StateReasoning:
			if ctx.Err() != nil {
				e.cancel(session, ctx.Err())
				continue
			}
			if session.IterationCount >= e.maxIterations {
				e.exhaust(session)
				continue
			}

			gen, err := e.generator.Generate(ctx, GenerateRequest{
				SystemPrompt: opts.SystemPrompt,
				Query:        req.Query,
				Context:      req.Context,
				Tools:        tools,
				Steps:        session.Steps,
				Hint:         hint,
			})
			hint = ""
			if err != nil {
				if ctx.Err() != nil {
					e.cancel(session, ctx.Err())
					continue
				}
				logger.Warn().Err(err).Int("iteration", session.IterationCount).Msg("Generator failed")
				e.fail(session, "generator unavailable", err)
				continue
			}
			session.Usage.Add(gen.Usage)

			if gen.Action == nil {
				session.FinalThought = gen.Thought
				session.Answer = strings.TrimSpace(gen.Answer)
				if session.Answer == "" {
					session.Answer = strings.TrimSpace(gen.Thought)
				}
				session.State = StateCompleted
				continue
			}

			session.IterationCount++
			pending = gen
			session.State = StateActing

		case StateActing:
			logger.Debug().
				Int("iteration", session.IterationCount).
				Str("tool", pending.Action.Tool).
				Msg("Invoking tool")

			inv := e.executor.Invoke(ctx, toolSession, pending.Action.Tool, pending.Action.Params)
			session.Steps = append(session.Steps, ReActStep{
				Iteration:   session.IterationCount,
				Thought:     pending.Thought,
				Action:      pending.Action,
				Observation: inv.Observation(),
				Invocation:  &inv,
				Timestamp:   inv.Timestamp,
			})
			session.State = StateObserving

		case StateObserving:
			last := session.Steps[len(session.Steps)-1]
			logger.Debug().
				Int("iteration", last.Iteration).
				Bool("success", last.Invocation.Success).
				Str("error_kind", string(last.Invocation.ErrorKind)).
				Msg("Observation recorded")

			if last.Invocation.ErrorKind == toolexecutor.ErrorKindRepetition {
				hint = repetitionHint
			}
			session.State = StateReasoning
		}
	}

	session.EndedAt = time.Now()
	observability.RecordReActSession(string(session.State), session.IterationCount)
	logger.Info().
		Str("state", string(session.State)).
		Int("iterations", session.IterationCount).
		Strs("tools", session.ToolsUsed()).
		Dur("duration", session.EndedAt.Sub(session.StartedAt)).
		Msg("ReAct session finished")

	return session
}

func (e *ReActEngine) exhaust(session *ReActSession) {
	session.State = StateMaxIterationsReached
	session.FailureReason = ErrMaxIterations.Error()
	session.Answer = fmt.Sprintf(
		"Saya belum dapat menyelesaikan permintaan ini dalam batas %d langkah. Langkah yang sudah dicoba:\n%s\nSilakan persempit pertanyaan atau pecah menjadi beberapa pertanyaan terpisah.",
		e.maxIterations, session.Summary())
}

func (e *ReActEngine) fail(session *ReActSession, reason string, err error) {
	session.State = StateFailed
	session.FailureReason = reason
	session.err = fmt.Errorf("%s: %w", reason, err)
	session.Answer = UnavailableAnswer
}

func (e *ReActEngine) cancel(session *ReActSession, err error) {
	session.State = StateFailed
	session.FailureReason = ErrCancelled.Error()
	session.err = fmt.Errorf("%w: %v", ErrCancelled, err)
	session.Answer = CancelledAnswer
}
