// Package engine is the entry point of the execution core. Execute routes a
// request, admits it against the governor budget of the chosen mode, runs it
// and always releases the lease.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/sigap/internal/tracing"
	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/governor"
	"github.com/harun/sigap/pkg/orchestrator"
	"github.com/harun/sigap/pkg/routing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultHistoryLimit = 10

// ErrEmptyQuery is returned for requests without a query
var ErrEmptyQuery = errors.New("query is required")

// BusyAnswer is returned alongside a RejectedError
const BusyAnswer = "Sistem sedang melayani banyak permintaan sehingga permintaan Anda belum dapat diproses. Silakan coba lagi dalam beberapa saat."

// ConversationStore supplies prior turns of a conversation
type ConversationStore interface {
	History(ctx context.Context, conversationID string, limit int) ([]agent.Turn, error)
}

// RejectedError reports a request refused by admission control
type RejectedError struct {
	Kind governor.Kind
	Err  error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected: %v", e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Response is the answer plus the trace of how it was produced
type Response struct {
	Answer        string                     `json:"answer"`
	Mode          routing.Mode               `json:"mode"`
	Decision      routing.Decision           `json:"decision"`
	ReActTrace    *agent.ReActSession        `json:"react_trace,omitempty"`
	WorkflowTrace *orchestrator.WorkflowPlan `json:"workflow_trace,omitempty"`
	TraceID       string                     `json:"trace_id,omitempty"`
	Duration      time.Duration              `json:"duration"`
}

// Config wires the components of the core
type Config struct {
	Router      *routing.Router
	Governor    *governor.Governor
	ReAct       *agent.ReActEngine
	Coordinator *orchestrator.Coordinator
	Generator   agent.Generator
	// Conversations is optional; when set, requests without context get the
	// stored history of their conversation
	Conversations ConversationStore
	HistoryLimit  int
	SystemPrompt  string
	Logger        zerolog.Logger
}

// Engine executes requests
type Engine struct {
	router        *routing.Router
	governor      *governor.Governor
	react         *agent.ReActEngine
	coordinator   *orchestrator.Coordinator
	generator     agent.Generator
	conversations ConversationStore
	historyLimit  int
	systemPrompt  string
	logger        zerolog.Logger
}

// New creates an engine
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Router == nil:
		return nil, fmt.Errorf("router is required")
	case cfg.Governor == nil:
		return nil, fmt.Errorf("governor is required")
	case cfg.ReAct == nil:
		return nil, fmt.Errorf("react engine is required")
	case cfg.Coordinator == nil:
		return nil, fmt.Errorf("coordinator is required")
	case cfg.Generator == nil:
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = agent.DefaultSystemPrompt
	}

	return &Engine{
		router:        cfg.Router,
		governor:      cfg.Governor,
		react:         cfg.ReAct,
		coordinator:   cfg.Coordinator,
		generator:     cfg.Generator,
		conversations: cfg.Conversations,
		historyLimit:  cfg.HistoryLimit,
		systemPrompt:  cfg.SystemPrompt,
		logger:        cfg.Logger.With().Str("component", "engine").Logger(),
	}, nil
}

// Router returns the router, for live reconfiguration
func (e *Engine) Router() *routing.Router { return e.router }

// Governor returns the governor, for live reconfiguration
func (e *Engine) Governor() *governor.Governor { return e.governor }

// Coordinator returns the workflow coordinator
func (e *Engine) Coordinator() *orchestrator.Coordinator { return e.coordinator }

// Execute answers one request. The error is non-nil only for invalid requests
// and for admission rejections (*RejectedError wrapping
// governor.ErrResourceExhausted); everything else, including generator and
// tool failures, is reported through the answer and the trace.
func (e *Engine) Execute(ctx context.Context, req agent.AgentRequest) (Response, error) {
	start := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		return Response{}, ErrEmptyQuery
	}

	ctx = tracing.NewRequestContext(ctx, req.UserID, req.ConversationID)
	ctx, span := tracing.StartSpan(ctx, "sigap.engine", "engine.execute",
		attribute.String("user_id", req.UserID),
		attribute.String("conversation_id", req.ConversationID),
	)
	logger := tracing.LoggerFromContext(ctx, e.logger)

	// Nothing can be admitted, so skip routing and its classifier call
	if e.governor.Saturated() {
		err := &RejectedError{
			Kind: governor.KindReAct,
			Err:  fmt.Errorf("all budgets at capacity: %w", governor.ErrResourceExhausted),
		}
		resp := Response{Answer: BusyAnswer, TraceID: tracing.GetTraceID(ctx), Duration: time.Since(start)}
		tracing.EndSpan(span, err)
		logger.Warn().Err(err).Msg("Request rejected before routing")
		return resp, err
	}

	req = e.withHistory(ctx, req, logger)

	decision := e.router.Route(ctx, req)
	resp := Response{
		Mode:     decision.Mode,
		Decision: decision,
		TraceID:  tracing.GetTraceID(ctx),
	}

	var err error
	switch decision.Mode {
	case routing.ModeReAct:
		err = e.runReAct(ctx, req, &resp)
	case routing.ModeWorkflow:
		err = e.runWorkflow(ctx, req, &resp, logger)
	default:
		e.runDirect(ctx, req, &resp, logger)
	}

	resp.Duration = time.Since(start)
	span.SetAttributes(attribute.String("mode", string(resp.Mode)))
	tracing.EndSpan(span, err)

	if err != nil {
		logger.Warn().Err(err).Str("mode", string(resp.Mode)).Msg("Request rejected")
		return resp, err
	}

	logger.Info().
		Str("mode", string(resp.Mode)).
		Dur("duration", resp.Duration).
		Msg("Request executed")

	return resp, nil
}

func (e *Engine) withHistory(ctx context.Context, req agent.AgentRequest, logger zerolog.Logger) agent.AgentRequest {
	if e.conversations == nil || req.ConversationID == "" || len(req.Context) > 0 {
		return req
	}
	turns, err := e.conversations.History(ctx, req.ConversationID, e.historyLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load conversation history")
		return req
	}
	req.Context = turns
	return req
}

func (e *Engine) admit(kind governor.Kind, resp *Response) (*governor.Lease, error) {
	lease, err := e.governor.TryAdmit(kind)
	if err != nil {
		resp.Answer = BusyAnswer
		return nil, &RejectedError{Kind: kind, Err: err}
	}
	return lease, nil
}

func (e *Engine) runDirect(ctx context.Context, req agent.AgentRequest, resp *Response, logger zerolog.Logger) {
	resp.Mode = routing.ModeDirect
	answer, err := agent.DirectAnswer(ctx, e.generator, e.systemPrompt, req)
	if err != nil {
		logger.Warn().Err(err).Msg("Direct answer failed")
		if ctx.Err() != nil {
			answer = agent.CancelledAnswer
		} else {
			answer = agent.UnavailableAnswer
		}
	}
	resp.Answer = answer
}

func (e *Engine) runReAct(ctx context.Context, req agent.AgentRequest, resp *Response) error {
	lease, err := e.admit(governor.KindReAct, resp)
	if err != nil {
		return err
	}
	defer lease.Release()

	session := e.react.Run(ctx, req, agent.RunOptions{SystemPrompt: e.systemPrompt})
	resp.ReActTrace = session
	resp.Answer = session.Answer
	return nil
}

func (e *Engine) runWorkflow(ctx context.Context, req agent.AgentRequest, resp *Response, logger zerolog.Logger) error {
	plan, err := e.coordinator.NewPlan(resp.Decision.WorkflowType, resp.Decision.AgentIDs()...)
	if err != nil {
		// The router only proposes catalog agents, so this means the catalog changed underneath it
		logger.Warn().Err(err).Msg("Workflow plan rejected, answering directly")
		e.runDirect(ctx, req, resp, logger)
		return nil
	}

	lease, err := e.admit(governor.KindWorkflow, resp)
	if err != nil {
		return err
	}
	defer lease.Release()

	result, err := e.coordinator.Run(ctx, req, plan)
	if err != nil {
		logger.Warn().Err(err).Msg("Workflow rejected, answering directly")
		e.runDirect(ctx, req, resp, logger)
		return nil
	}

	resp.WorkflowTrace = &result.Plan
	resp.Answer = result.Answer
	return nil
}
