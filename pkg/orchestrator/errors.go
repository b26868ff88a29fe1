package orchestrator

import "errors"

var (
	// ErrAgentFailure marks a specialist step that did not produce a contribution
	ErrAgentFailure = errors.New("agent failure")
	// ErrWorkflowTimeout marks a workflow cut short by its wall clock
	ErrWorkflowTimeout = errors.New("workflow timeout")
	// ErrChainTooLong rejects plans with more steps than allowed
	ErrChainTooLong = errors.New("workflow chain too long")
	// ErrEmptyPlan rejects plans without steps
	ErrEmptyPlan = errors.New("workflow plan has no steps")
	// ErrUnknownAgent rejects plans naming an agent outside the catalog
	ErrUnknownAgent = errors.New("unknown agent")
)
