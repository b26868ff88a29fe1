package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/sigap/internal/observability"
	"github.com/harun/sigap/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultModel          = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 2048
	defaultMaxRetries     = 3
	defaultRetryBaseDelay = time.Second
	cooldownStep          = time.Minute
)

// ProviderGeneratorConfig configures a ProviderGenerator
type ProviderGeneratorConfig struct {
	Profiles       []AuthProfile
	Factory        ProviderCreator
	Model          string
	Temperature    float64
	MaxTokens      int
	MaxRetries     int
	RetryBaseDelay time.Duration
	// NativeTools sends tool schemas to the provider instead of relying on
	// the text protocol alone
	NativeTools bool
	Logger      zerolog.Logger
}

// ProviderGenerator is a Generator backed by LLM providers, tried in
// priority order with cooldown and retry.
type ProviderGenerator struct {
	factory     ProviderCreator
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	baseDelay   time.Duration
	nativeTools bool
	logger      zerolog.Logger

	profiles []AuthProfile
	mu       sync.RWMutex
}

// NewProviderGenerator creates a generator over the given auth profiles
func NewProviderGenerator(cfg ProviderGeneratorConfig) (*ProviderGenerator, error) {
	observability.EnsureRegistered()

	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	if cfg.Factory == nil {
		cfg.Factory = &ProviderFactory{}
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}

	profiles := make([]AuthProfile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)

	return &ProviderGenerator{
		factory:     cfg.Factory,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		baseDelay:   cfg.RetryBaseDelay,
		nativeTools: cfg.NativeTools,
		logger:      cfg.Logger.With().Str("component", "generator").Logger(),
		profiles:    profiles,
	}, nil
}

// Generate renders the prompt, calls the first healthy provider and parses
// the response into a Generation.
func (g *ProviderGenerator) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	ctx, span := tracing.StartSpan(ctx, "sigap.agent", "generator.generate",
		attribute.Int("steps", len(req.Steps)),
		attribute.Int("tools", len(req.Tools)),
	)
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	system, user := BuildPrompt(req)
	request := LLMRequest{
		Messages:     []AgentMessage{{Role: RoleUser, Content: user}},
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
		SystemPrompt: system,
	}
	if g.nativeTools && len(req.Tools) > 0 {
		request.Tools = ToolSpecs(req.Tools)
	}

	response, err := g.executeWithFailover(ctx, request)
	if err != nil {
		spanErr = err
		return Generation{}, err
	}

	gen := ParseOutput(response.Content)
	if len(response.ToolCalls) > 0 {
		tc := response.ToolCalls[0]
		gen.Action = &Action{Tool: tc.Name, Params: tc.Parameters}
		gen.Answer = ""
		if gen.Thought == "" {
			gen.Thought = strings.TrimSpace(response.Content)
		}
	}
	gen.Usage = response.Usage

	return gen, nil
}

// Profiles returns a snapshot of the auth profiles with their cooldown state
func (g *ProviderGenerator) Profiles() []AuthProfile {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]AuthProfile, len(g.profiles))
	copy(out, g.profiles)
	return out
}

func (g *ProviderGenerator) executeWithFailover(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	profiles := g.Profiles()
	logger := tracing.LoggerFromContext(ctx, g.logger)

	sortProfilesByPriority(profiles)

	var lastErr error

	for _, profile := range profiles {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Skip profiles in cooldown
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := g.factory.NewProvider(profile)
		if err != nil {
			lastErr = err
			logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			continue
		}

		req := request
		req.Model = g.model
		if profile.Model != "" {
			req.Model = profile.Model
		}

		start := time.Now()
		response, err := g.callWithRetry(ctx, provider, req)
		observability.RecordGeneratorCall(provider.Provider(), time.Since(start), err == nil)
		if err == nil {
			g.updateProfileSuccess(profile.ID)
			return response, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Auth profile failed")
		g.updateProfileFailure(profile.ID)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("every auth profile is cooling down")
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, lastErr)
}

// callWithRetry calls the provider with exponential backoff on retryable errors
func (g *ProviderGenerator) callWithRetry(ctx context.Context, provider LLMProvider, request LLMRequest) (*LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == g.maxRetries-1 {
			break
		}

		delay := g.baseDelay * time.Duration(1<<attempt)
		g.logger.Info().
			Str("provider", provider.Provider()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", g.maxRetries, lastErr)
}

func (g *ProviderGenerator) updateProfileSuccess(profileID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.profiles {
		if g.profiles[i].ID == profileID {
			g.profiles[i].FailureCount = 0
			g.profiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(g.profiles[i].Provider, false)
			return
		}
	}
}

func (g *ProviderGenerator) updateProfileFailure(profileID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.profiles {
		if g.profiles[i].ID == profileID {
			g.profiles[i].FailureCount++
			until := time.Now().Add(cooldownStep * time.Duration(g.profiles[i].FailureCount)).UnixMilli()
			g.profiles[i].CooldownUntil = &until
			observability.SetProviderCooldown(g.profiles[i].Provider, true)
			return
		}
	}
}

func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}
