package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/orchestrator"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

const (
	DefaultConfidenceThreshold = 0.5
	DefaultCacheTTL            = 10 * time.Minute
)

// LLMClassifierConfig configures an LLMClassifier
type LLMClassifierConfig struct {
	Registry  *orchestrator.Registry
	Generator agent.Generator
	// Threshold drops candidates scored below it
	Threshold float64
	CacheTTL  time.Duration
	Logger    zerolog.Logger
}

// LLMClassifier asks the generator for a JSON routing decision
type LLMClassifier struct {
	registry  *orchestrator.Registry
	generator agent.Generator
	cache     *cache.Cache
	prompt    string
	logger    zerolog.Logger

	mu        sync.RWMutex
	threshold float64
}

// NewLLMClassifier creates a classifier over the catalog
func NewLLMClassifier(cfg LLMClassifierConfig) (*LLMClassifier, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultConfidenceThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	return &LLMClassifier{
		registry:  cfg.Registry,
		generator: cfg.Generator,
		cache:     cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		prompt:    classifierPrompt(cfg.Registry),
		threshold: cfg.Threshold,
		logger:    cfg.Logger.With().Str("component", "llm_classifier").Logger(),
	}, nil
}

func (c *LLMClassifier) Name() string { return "llm" }

// Threshold returns the current candidate threshold
func (c *LLMClassifier) Threshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threshold
}

// SetThreshold changes the candidate threshold and drops cached decisions
func (c *LLMClassifier) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		return
	}
	c.mu.Lock()
	c.threshold = threshold
	c.mu.Unlock()
	c.cache.Flush()
}

type llmCandidate struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type llmDecision struct {
	Mode         string         `json:"mode"`
	Agents       []llmCandidate `json:"agents"`
	WorkflowType string         `json:"workflow_type"`
	Confidence   float64        `json:"confidence"`
	Reason       string         `json:"reason"`
}

// Classify returns a cached decision for the normalized query when present
func (c *LLMClassifier) Classify(ctx context.Context, req agent.AgentRequest) (Decision, error) {
	key := normalizeQuery(req.Query)
	if key == "" {
		return Decision{}, ErrAmbiguous
	}
	if cached, ok := c.cache.Get(key); ok {
		return cached.(Decision), nil
	}

	gen, err := c.generator.Generate(ctx, agent.GenerateRequest{
		SystemPrompt: c.prompt,
		Query:        req.Query,
		Context:      req.Context,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("classifier generation: %w", err)
	}

	text := gen.Answer
	if text == "" {
		text = gen.Thought
	}
	raw, err := parseLLMDecision(text)
	if err != nil {
		c.logger.Debug().Err(err).Str("output", truncate(text, 200)).Msg("Unparseable classifier output")
		return Decision{}, fmt.Errorf("%w: %v", ErrAmbiguous, err)
	}

	decision, err := c.decide(raw)
	if err != nil {
		return Decision{}, err
	}
	c.cache.SetDefault(key, decision)
	return decision, nil
}

func (c *LLMClassifier) decide(raw llmDecision) (Decision, error) {
	threshold := c.Threshold()
	confidence := raw.Confidence
	if confidence == 0 {
		confidence = 1
	}

	switch Mode(strings.ToLower(strings.TrimSpace(raw.Mode))) {
	case ModeDirect:
		if confidence < threshold {
			return Decision{}, fmt.Errorf("%w: direct confidence %.2f below %.2f", ErrAmbiguous, confidence, threshold)
		}
		return Decision{Mode: ModeDirect, Confidence: confidence, Reason: raw.Reason}, nil

	case ModeReAct:
		if confidence < threshold {
			return Decision{}, fmt.Errorf("%w: react confidence %.2f below %.2f", ErrAmbiguous, confidence, threshold)
		}
		return Decision{Mode: ModeReAct, Confidence: confidence, Reason: raw.Reason}, nil

	case ModeWorkflow:
		return c.decideWorkflow(raw, threshold)

	default:
		return Decision{}, fmt.Errorf("%w: unknown mode %q", ErrAmbiguous, raw.Mode)
	}
}

type rankedCandidate struct {
	Candidate
	catalog int
	given   int
}

// decideWorkflow keeps known agents at or above the threshold. Ranking is by
// score with ties broken by catalog order; sequential chains keep the order
// the model proposed.
func (c *LLMClassifier) decideWorkflow(raw llmDecision, threshold float64) (Decision, error) {
	seen := make(map[string]bool)
	var ranked []rankedCandidate
	for i, a := range raw.Agents {
		id := strings.TrimSpace(a.ID)
		idx := c.registry.Index(id)
		if idx < 0 || seen[id] || a.Score < threshold {
			continue
		}
		seen[id] = true
		ranked = append(ranked, rankedCandidate{Candidate: Candidate{AgentID: id, Score: a.Score}, catalog: idx, given: i})
	}
	if len(ranked) == 0 {
		return Decision{}, fmt.Errorf("%w: no specialist scored at least %.2f", ErrAmbiguous, threshold)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].catalog < ranked[j].catalog
	})

	wt := orchestrator.WorkflowType(strings.ToLower(strings.TrimSpace(raw.WorkflowType)))
	switch {
	case len(ranked) == 1, wt == orchestrator.WorkflowSingle:
		wt = orchestrator.WorkflowSingle
		ranked = ranked[:1]
	case wt != orchestrator.WorkflowSequential:
		wt = orchestrator.WorkflowParallel
	}

	if len(ranked) > MaxCandidates {
		ranked = ranked[:MaxCandidates]
	}
	if wt == orchestrator.WorkflowSequential {
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].given < ranked[j].given })
	}

	candidates := make([]Candidate, len(ranked))
	var top float64
	for i, r := range ranked {
		candidates[i] = r.Candidate
		if r.Score > top {
			top = r.Score
		}
	}

	return Decision{
		Mode:         ModeWorkflow,
		Candidates:   candidates,
		WorkflowType: wt,
		Confidence:   top,
		Reason:       raw.Reason,
	}, nil
}

// parseLLMDecision extracts the first JSON object from the model output
func parseLLMDecision(text string) (llmDecision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return llmDecision{}, fmt.Errorf("no JSON object in classifier output")
	}
	var d llmDecision
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return llmDecision{}, fmt.Errorf("invalid classifier JSON: %w", err)
	}
	return d, nil
}

func classifierPrompt(registry *orchestrator.Registry) string {
	var sb strings.Builder
	sb.WriteString("You route questions from government staff to an execution mode.\n\n")
	sb.WriteString("Modes:\n")
	sb.WriteString("- direct: general questions answerable without tools or specialists\n")
	sb.WriteString("- react: one question that needs tools (calculation, dates, tables, search, legal lookup, templates)\n")
	sb.WriteString("- workflow: work that needs one or more of the specialists below\n\n")
	sb.WriteString("Specialists:\n")
	for _, cfg := range registry.List() {
		fmt.Fprintf(&sb, "- %s: %s. %s\n", cfg.ID, cfg.Name, cfg.Description)
	}
	sb.WriteString("\nReply with one JSON object and nothing else:\n")
	sb.WriteString(`{"mode": "direct|react|workflow", "agents": [{"id": "<specialist id>", "score": 0.0-1.0}], "workflow_type": "single|sequential|parallel", "confidence": 0.0-1.0, "reason": "<short reason>"}`)
	sb.WriteString("\nUse sequential when a later specialist needs an earlier one's result, and list agents in execution order. At most 5 agents.")
	return sb.String()
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
