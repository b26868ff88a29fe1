package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/sigap/pkg/agent"
	"github.com/rs/zerolog"
)

// Specialist executes one workflow step
type Specialist interface {
	RunStep(ctx context.Context, in StepInput) StepOutcome
}

// SpecialistFunc adapts a function to Specialist
type SpecialistFunc func(ctx context.Context, in StepInput) StepOutcome

// RunStep calls f
func (f SpecialistFunc) RunStep(ctx context.Context, in StepInput) StepOutcome {
	return f(ctx, in)
}

// AgentSpecialist runs catalog agents: react agents through the ReAct engine
// restricted to their tools, direct agents with one generator call.
type AgentSpecialist struct {
	react     *agent.ReActEngine
	generator agent.Generator
	logger    zerolog.Logger
}

// NewAgentSpecialist creates a specialist runner
func NewAgentSpecialist(react *agent.ReActEngine, generator agent.Generator, logger zerolog.Logger) (*AgentSpecialist, error) {
	if react == nil {
		return nil, fmt.Errorf("react engine is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	return &AgentSpecialist{
		react:     react,
		generator: generator,
		logger:    logger.With().Str("component", "specialist").Logger(),
	}, nil
}

// RunStep produces the agent's contribution
func (s *AgentSpecialist) RunStep(ctx context.Context, in StepInput) StepOutcome {
	if missing := missingRequirements(in.Agent.Requires, in.Request); len(missing) > 0 {
		return StepOutcome{Err: fmt.Errorf("%w: missing required input: %s", ErrAgentFailure, joinLabels(missing))}
	}

	req := in.Request
	req.Query = composeStepQuery(in)

	switch in.Agent.Mode {
	case ModeDirect:
		answer, err := agent.DirectAnswer(ctx, s.generator, in.Agent.SystemPrompt, req)
		if err != nil {
			return StepOutcome{Err: fmt.Errorf("%w: %v", ErrAgentFailure, err)}
		}
		return StepOutcome{Contribution: answer}

	default:
		session := s.react.Run(ctx, req, agent.RunOptions{
			AgentID:      in.Agent.ID,
			SystemPrompt: in.Agent.SystemPrompt,
			Policy:       in.Agent.Policy(),
		})
		if session.State != agent.StateCompleted {
			return StepOutcome{
				Trace: session,
				Err: fmt.Errorf("%w: session ended %s after %d iterations (%s)",
					ErrAgentFailure, session.State, session.IterationCount, strings.ReplaceAll(session.Summary(), "\n", "; ")),
			}
		}
		return StepOutcome{Contribution: session.Answer, Trace: session}
	}
}

// composeStepQuery appends upstream contributions or the failure notice to the user query
func composeStepQuery(in StepInput) string {
	if len(in.Prior) == 0 && in.Notice == "" {
		return in.Request.Query
	}

	var sb strings.Builder
	sb.WriteString(in.Request.Query)

	if len(in.Prior) > 0 {
		sb.WriteString("\n\nHasil langkah sebelumnya:\n")
		for _, step := range in.Prior {
			fmt.Fprintf(&sb, "[%s]: %s\n", step.DisplayName, step.Contribution)
		}
	}

	if in.Notice != "" {
		fmt.Fprintf(&sb, "\n%s\nSampaikan pemberitahuan ini kepada pengguna dan jangan mengarang hasil langkah yang gagal.\n", in.Notice)
	}

	return sb.String()
}
