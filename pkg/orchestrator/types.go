package orchestrator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/toolexecutor"
)

// AgentMode selects how a specialist produces its contribution
type AgentMode string

const (
	ModeReAct  AgentMode = "react"  // Bounded tool loop
	ModeDirect AgentMode = "direct" // Single generator call
)

var agentIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

// AgentConfig describes one specialist in the catalog
type AgentConfig struct {
	ID           string                  `json:"id" yaml:"id"`
	Name         string                  `json:"name" yaml:"name"`
	Description  string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Mode         AgentMode               `json:"mode" yaml:"mode"`
	Keywords     []string                `json:"keywords" yaml:"keywords"`
	SystemPrompt string                  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Tools        toolexecutor.ToolPolicy `json:"tools" yaml:"tools"`
	Requires     []string                `json:"requires,omitempty" yaml:"requires,omitempty"`
}

// Validate validates the agent configuration
func (c AgentConfig) Validate() error {
	if c.ID == "" {
		return errors.New("agent ID is required")
	}

	if !agentIDPattern.MatchString(c.ID) {
		return fmt.Errorf("invalid agent ID %q: use lower-case letters, digits, '-' or '_'", c.ID)
	}

	if c.Name == "" {
		return errors.New("agent name is required")
	}

	if c.Mode != ModeReAct && c.Mode != ModeDirect {
		return fmt.Errorf("invalid agent mode: %s", c.Mode)
	}

	if len(c.Keywords) == 0 {
		return fmt.Errorf("agent %s needs at least one keyword", c.ID)
	}

	if c.Mode == ModeReAct && len(c.Tools.Allow) == 0 {
		return fmt.Errorf("react agent %s must allow at least one tool", c.ID)
	}

	for _, req := range c.Requires {
		if _, ok := requirementDetectors[req]; !ok {
			return fmt.Errorf("agent %s requires unknown input %q (known: %s)",
				c.ID, req, strings.Join(RequirementNames(), ", "))
		}
	}

	return nil
}

// Policy returns the agent's tool policy for the executor
func (c AgentConfig) Policy() *toolexecutor.ToolPolicy {
	policy := c.Tools
	return &policy
}

// WorkflowType is the execution shape of a plan
type WorkflowType string

const (
	WorkflowSingle     WorkflowType = "single"
	WorkflowSequential WorkflowType = "sequential"
	WorkflowParallel   WorkflowType = "parallel"
)

// StepStatus is the lifecycle state of one agent step
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// AgentStep is one specialist's slot in a workflow
type AgentStep struct {
	AgentID         string              `json:"agent_id"`
	DisplayName     string              `json:"display_name"`
	Status          StepStatus          `json:"status"`
	StartedAt       time.Time           `json:"started_at,omitempty"`
	EndedAt         time.Time           `json:"ended_at,omitempty"`
	Contribution    string              `json:"contribution,omitempty"`
	Error           string              `json:"error,omitempty"`
	UpstreamFailure bool                `json:"upstream_failure,omitempty"`
	Notice          string              `json:"notice,omitempty"`
	Trace           *agent.ReActSession `json:"trace,omitempty"`
}

// Duration returns how long the step ran
func (s AgentStep) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// WorkflowPlan is an ordered set of agent steps and, after a run, their outcome
type WorkflowPlan struct {
	ID        string        `json:"id"`
	Type      WorkflowType  `json:"type"`
	Steps     []AgentStep   `json:"steps"`
	Partial   bool          `json:"partial"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	TotalTime time.Duration `json:"total_time"`
	CreatedAt time.Time     `json:"created_at"`
}

// AgentIDs lists the step agents in order
func (p WorkflowPlan) AgentIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, step := range p.Steps {
		ids[i] = step.AgentID
	}
	return ids
}

// StepInput is what a specialist receives for one step
type StepInput struct {
	Request agent.AgentRequest
	Agent   AgentConfig
	// Prior holds completed upstream contributions in sequential plans
	Prior []AgentStep
	// Notice replaces failed upstream contributions
	Notice string
}

// StepOutcome is what a specialist returns
type StepOutcome struct {
	Contribution string
	Trace        *agent.ReActSession
	Err          error
}
