package toolexecutor

import (
	"context"
	"time"
)

// ToolPolicy defines which tools an agent can use
type ToolPolicy struct {
	Allow []string `json:"allow" yaml:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny" yaml:"deny"`   // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		// No policy means allow all
		return true
	}

	// Check deny list first (overrides allow list)
	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	// If no explicit allow, deny by default
	return false
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ErrorKind classifies a failed invocation
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindUnknownTool ErrorKind = "unknown_tool"
	ErrorKindPolicy      ErrorKind = "policy"
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindRepetition  ErrorKind = "repetition"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindCancelled   ErrorKind = "cancelled"
	ErrorKindExecution   ErrorKind = "execution"
)

// ToolInvocation is the immutable record of one tool call. Params are
// sanitized and Result is truncated; for failed calls Result holds the
// observation text describing the failure.
type ToolInvocation struct {
	Tool          string                 `json:"tool"`
	Params        map[string]interface{} `json:"params"`
	Result        string                 `json:"result"`
	Success       bool                   `json:"success"`
	ErrorKind     ErrorKind              `json:"error_kind,omitempty"`
	Truncated     bool                   `json:"truncated,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Timestamp     time.Time              `json:"timestamp"`
	Err           error                  `json:"-"`
}

// ExecutionMillis returns the execution time in milliseconds
func (ti ToolInvocation) ExecutionMillis() int64 {
	return ti.ExecutionTime.Milliseconds()
}

// Observation returns the text fed back into the reasoning loop
func (ti ToolInvocation) Observation() string {
	return ti.Result
}
