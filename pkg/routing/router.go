package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/sigap/internal/observability"
	"github.com/harun/sigap/internal/tracing"
	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/audit"
	"github.com/harun/sigap/pkg/orchestrator"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Classifier kinds accepted by New
const (
	KindKeyword = "keyword"
	KindLLM     = "llm"
	KindHybrid  = "hybrid"
)

// Config configures a Router
type Config struct {
	// Classifier is keyword, llm or hybrid; empty means keyword
	Classifier          string
	Registry            *orchestrator.Registry
	Generator           agent.Generator
	ConfidenceThreshold float64
	CacheTTL            time.Duration
	Sink                audit.Sink
	Logger              zerolog.Logger
}

// Router picks the execution mode for every request. It never fails: any
// classifier error or ambiguity yields a direct decision.
type Router struct {
	classifiers []Classifier
	llm         *LLMClassifier
	registry    *orchestrator.Registry
	sink        audit.Sink
	stats       *StatisticsTracker
	logger      zerolog.Logger
}

// New builds a router with the configured classifier chain. Hybrid consults
// the LLM classifier first and the keyword classifier when it is ambiguous.
func New(cfg Config) (*Router, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent registry is required")
	}

	var chain []Classifier
	var llm *LLMClassifier

	kind := cfg.Classifier
	if kind == "" {
		kind = KindKeyword
	}

	if kind == KindLLM || kind == KindHybrid {
		var err error
		llm, err = NewLLMClassifier(LLMClassifierConfig{
			Registry:  cfg.Registry,
			Generator: cfg.Generator,
			Threshold: cfg.ConfidenceThreshold,
			CacheTTL:  cfg.CacheTTL,
			Logger:    cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("llm classifier: %w", err)
		}
		chain = append(chain, llm)
	}

	switch kind {
	case KindKeyword, KindHybrid:
		chain = append(chain, NewKeywordClassifier(cfg.Registry))
	case KindLLM:
	default:
		return nil, fmt.Errorf("unknown classifier %q (want keyword, llm or hybrid)", kind)
	}

	r := NewWithClassifiers(cfg.Registry, cfg.Sink, cfg.Logger, chain...)
	r.llm = llm
	return r, nil
}

// NewWithClassifiers builds a router over an explicit classifier chain
func NewWithClassifiers(registry *orchestrator.Registry, sink audit.Sink, logger zerolog.Logger, classifiers ...Classifier) *Router {
	observability.EnsureRegistered()
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Router{
		classifiers: classifiers,
		registry:    registry,
		sink:        sink,
		stats:       NewStatisticsTracker(),
		logger:      logger.With().Str("component", "router").Logger(),
	}
}

// SetThreshold updates the LLM classifier threshold when one is configured
func (r *Router) SetThreshold(threshold float64) {
	if r.llm != nil {
		r.llm.SetThreshold(threshold)
	}
}

// Stats returns a snapshot of the decisions made so far
func (r *Router) Stats() Statistics {
	return r.stats.Snapshot()
}

// Route classifies req
func (r *Router) Route(ctx context.Context, req agent.AgentRequest) Decision {
	ctx, span := tracing.StartSpan(ctx, "sigap.routing", "router.route")
	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	decision, fallback := r.classify(ctx, req, logger)

	latency := time.Since(start)
	r.stats.RecordDecision(decision, latency.Milliseconds(), fallback)
	observability.RecordRouteDecision(string(decision.Mode), decision.Classifier)
	r.sink.RecordRoute(ctx, audit.RouteRecord{
		TraceID:        tracing.GetTraceID(ctx),
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Mode:           string(decision.Mode),
		WorkflowType:   string(decision.WorkflowType),
		Agents:         decision.AgentIDs(),
		Confidence:     decision.Confidence,
		Classifier:     decision.Classifier,
		Reason:         decision.Reason,
		Timestamp:      start,
	})

	span.SetAttributes(
		attribute.String("mode", string(decision.Mode)),
		attribute.String("classifier", decision.Classifier),
		attribute.Float64("confidence", decision.Confidence),
	)
	tracing.EndSpan(span, nil)

	logger.Info().
		Str("mode", string(decision.Mode)).
		Str("classifier", decision.Classifier).
		Strs("agents", decision.AgentIDs()).
		Float64("confidence", decision.Confidence).
		Dur("latency", latency).
		Msg("Request routed")

	return decision
}

func (r *Router) classify(ctx context.Context, req agent.AgentRequest, logger zerolog.Logger) (Decision, bool) {
	reason := "no classifier configured"

	for _, c := range r.classifiers {
		if ctx.Err() != nil {
			reason = "request cancelled before classification"
			break
		}

		decision, err := c.Classify(ctx, req)
		if err == nil {
			err = r.check(&decision)
		}
		if err != nil {
			if !errors.Is(err, ErrAmbiguous) {
				r.stats.RecordError()
			}
			logger.Debug().Err(err).Str("classifier", c.Name()).Msg("Classifier gave no decision")
			reason = fmt.Sprintf("%s: %v", c.Name(), err)
			continue
		}

		decision.Classifier = c.Name()
		return decision, false
	}

	return Decision{
		Mode:       ModeDirect,
		Classifier: "fallback",
		Reason:     reason,
	}, true
}

// check enforces the decision contract. Workflow decisions need 1 to
// MaxCandidates known agents and a valid workflow type.
func (r *Router) check(d *Decision) error {
	switch d.Mode {
	case ModeDirect, ModeReAct:
		d.Candidates = nil
		d.WorkflowType = ""
		return nil
	case ModeWorkflow:
	default:
		return fmt.Errorf("%w: invalid mode %q", ErrAmbiguous, d.Mode)
	}

	if len(d.Candidates) == 0 {
		return fmt.Errorf("%w: workflow without candidates", ErrAmbiguous)
	}
	if len(d.Candidates) > MaxCandidates {
		d.Candidates = d.Candidates[:MaxCandidates]
	}
	for _, c := range d.Candidates {
		if !r.registry.Exists(c.AgentID) {
			return fmt.Errorf("%w: unknown agent %q", ErrAmbiguous, c.AgentID)
		}
	}

	switch d.WorkflowType {
	case orchestrator.WorkflowSingle:
		d.Candidates = d.Candidates[:1]
	case orchestrator.WorkflowSequential, orchestrator.WorkflowParallel:
		if len(d.Candidates) == 1 {
			d.WorkflowType = orchestrator.WorkflowSingle
		}
	case "":
		if len(d.Candidates) == 1 {
			d.WorkflowType = orchestrator.WorkflowSingle
		} else {
			d.WorkflowType = orchestrator.WorkflowParallel
		}
	default:
		return fmt.Errorf("%w: invalid workflow type %q", ErrAmbiguous, d.WorkflowType)
	}
	return nil
}
