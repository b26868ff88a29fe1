// Package audit defines the records the execution core emits for every tool
// invocation, routing decision and workflow, and the Sink that receives them.
//
// Records only ever carry sanitized and truncated data.
package audit

import (
	"context"
	"sync"
	"time"
)

// ToolRecord describes one tool invocation
type ToolRecord struct {
	TraceID       string                 `json:"trace_id,omitempty"`
	SessionID     string                 `json:"session_id"`
	UserID        string                 `json:"user_id,omitempty"`
	AgentID       string                 `json:"agent_id,omitempty"`
	Tool          string                 `json:"tool"`
	Params        map[string]interface{} `json:"params,omitempty"`
	Result        string                 `json:"result"`
	Success       bool                   `json:"success"`
	ErrorKind     string                 `json:"error_kind,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Timestamp     time.Time              `json:"timestamp"`
}

// StepRecord summarizes one agent step of a workflow
type StepRecord struct {
	AgentID  string        `json:"agent_id"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// WorkflowRecord describes one finished workflow
type WorkflowRecord struct {
	TraceID      string        `json:"trace_id,omitempty"`
	WorkflowID   string        `json:"workflow_id"`
	WorkflowType string        `json:"workflow_type"`
	AgentSteps   []StepRecord  `json:"agent_steps"`
	Partial      bool          `json:"partial"`
	TotalTime    time.Duration `json:"total_time"`
	Timestamp    time.Time     `json:"timestamp"`
}

// RouteRecord describes one routing decision
type RouteRecord struct {
	TraceID        string    `json:"trace_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Mode           string    `json:"mode"`
	WorkflowType   string    `json:"workflow_type,omitempty"`
	Agents         []string  `json:"agents,omitempty"`
	Confidence     float64   `json:"confidence"`
	Classifier     string    `json:"classifier"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink receives audit records. Implementations must be safe for concurrent use
// and must not block the caller for long.
type Sink interface {
	RecordTool(ctx context.Context, rec ToolRecord)
	RecordWorkflow(ctx context.Context, rec WorkflowRecord)
	RecordRoute(ctx context.Context, rec RouteRecord)
}

// Nop discards every record
type Nop struct{}

func (Nop) RecordTool(context.Context, ToolRecord)         {}
func (Nop) RecordWorkflow(context.Context, WorkflowRecord) {}
func (Nop) RecordRoute(context.Context, RouteRecord)       {}

// Multi fans records out to several sinks in order
type Multi []Sink

// NewMulti builds a Multi skipping nil sinks
func NewMulti(sinks ...Sink) Multi {
	m := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m Multi) RecordTool(ctx context.Context, rec ToolRecord) {
	for _, s := range m {
		s.RecordTool(ctx, rec)
	}
}

func (m Multi) RecordWorkflow(ctx context.Context, rec WorkflowRecord) {
	for _, s := range m {
		s.RecordWorkflow(ctx, rec)
	}
}

func (m Multi) RecordRoute(ctx context.Context, rec RouteRecord) {
	for _, s := range m {
		s.RecordRoute(ctx, rec)
	}
}

// Recorder keeps records in memory
type Recorder struct {
	mu        sync.Mutex
	tools     []ToolRecord
	workflows []WorkflowRecord
	routes    []RouteRecord
}

func (r *Recorder) RecordTool(_ context.Context, rec ToolRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, rec)
}

func (r *Recorder) RecordWorkflow(_ context.Context, rec WorkflowRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = append(r.workflows, rec)
}

func (r *Recorder) RecordRoute(_ context.Context, rec RouteRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, rec)
}

// Tools returns a copy of the recorded tool records
func (r *Recorder) Tools() []ToolRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolRecord(nil), r.tools...)
}

// Workflows returns a copy of the recorded workflow records
func (r *Recorder) Workflows() []WorkflowRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WorkflowRecord(nil), r.workflows...)
}

// Routes returns a copy of the recorded route records
func (r *Recorder) Routes() []RouteRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RouteRecord(nil), r.routes...)
}
