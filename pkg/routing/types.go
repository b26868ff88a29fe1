package routing

import (
	"context"
	"errors"

	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/orchestrator"
)

// Mode is the execution mode chosen for a request
type Mode string

const (
	ModeDirect   Mode = "direct"
	ModeReAct    Mode = "react"
	ModeWorkflow Mode = "workflow"
)

// MaxCandidates bounds the specialists proposed for one workflow
const MaxCandidates = orchestrator.DefaultMaxChainLength

// ErrAmbiguous is returned by classifiers that cannot make a confident decision
var ErrAmbiguous = errors.New("ambiguous classification")

// Candidate is a specialist proposed for a workflow
type Candidate struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// Decision is the routing outcome for one request
type Decision struct {
	Mode         Mode                      `json:"mode"`
	Candidates   []Candidate               `json:"candidates,omitempty"`
	WorkflowType orchestrator.WorkflowType `json:"workflow_type,omitempty"`
	Confidence   float64                   `json:"confidence"`
	Classifier   string                    `json:"classifier"`
	Reason       string                    `json:"reason,omitempty"`
}

// AgentIDs returns the candidate ids in rank order
func (d Decision) AgentIDs() []string {
	ids := make([]string, len(d.Candidates))
	for i, c := range d.Candidates {
		ids[i] = c.AgentID
	}
	return ids
}

// Classifier maps a request to a decision. Implementations return
// ErrAmbiguous when no mode is clearly indicated.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, req agent.AgentRequest) (Decision, error)
}
