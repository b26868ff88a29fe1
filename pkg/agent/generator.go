package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/sigap/pkg/toolexecutor"
)

// ErrGeneratorUnavailable is returned when no model produced a response
var ErrGeneratorUnavailable = errors.New("generator unavailable")

// Action is a tool call proposed by the generator
type Action struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params"`
}

// GenerateRequest is everything the generator sees for one reasoning step
type GenerateRequest struct {
	SystemPrompt string
	Query        string
	Context      []Turn
	Tools        []toolexecutor.ToolDefinition
	Steps        []ReActStep
	// Hint is an extra instruction for this step only
	Hint string
}

// Generation is one reasoning step. A nil Action means Answer is final.
type Generation struct {
	Thought string
	Action  *Action
	Answer  string
	Usage   *TokenUsage
}

// Generator produces the next thought and action
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (Generation, error)

// Generate calls f
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	return f(ctx, req)
}

// DirectAnswer makes a single generator call without tools and returns its
// answer text.
func DirectAnswer(ctx context.Context, g Generator, systemPrompt string, req AgentRequest) (string, error) {
	gen, err := g.Generate(ctx, GenerateRequest{
		SystemPrompt: systemPrompt,
		Query:        req.Query,
		Context:      req.Context,
	})
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(gen.Answer)
	if answer == "" {
		answer = strings.TrimSpace(gen.Thought)
	}
	if answer == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneratorUnavailable)
	}
	return answer, nil
}
