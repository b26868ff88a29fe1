package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/harun/sigap/pkg/audit"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditLogger writes audit records as JSON lines and mirrors them as span events
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

var _ audit.Sink = (*AuditLogger)(nil)

// NewAuditLogger creates an audit logger writing to w
func NewAuditLogger(w io.Writer) *AuditLogger {
	if w == nil {
		w = os.Stderr
	}
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// OpenAuditLog creates an audit logger backed by a rotated file
func OpenAuditLog(path string, maxSizeMB, maxAgeDays int) *AuditLogger {
	file := &lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSizeMB,
		MaxAge:   maxAgeDays,
		Compress: true,
	}
	a := NewAuditLogger(file)
	a.closer = file
	return a
}

// RecordTool implements audit.Sink
func (a *AuditLogger) RecordTool(ctx context.Context, rec audit.ToolRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	status := "success"
	if !rec.Success {
		status = "failure"
	}
	a.spanEvent(ctx, "tool", "execute:"+rec.Tool, status)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Log().
		Str("type", "tool").
		Str("trace_id", rec.TraceID).
		Str("session_id", rec.SessionID).
		Str("agent_id", rec.AgentID).
		Str("tool", rec.Tool).
		Interface("params", rec.Params).
		Str("result", rec.Result).
		Bool("success", rec.Success).
		Str("error_kind", rec.ErrorKind).
		Int64("execution_ms", rec.ExecutionTime.Milliseconds()).
		Time("at", rec.Timestamp).
		Msg("")
}

// RecordWorkflow implements audit.Sink
func (a *AuditLogger) RecordWorkflow(ctx context.Context, rec audit.WorkflowRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	status := "success"
	if rec.Partial {
		status = "partial"
	}
	a.spanEvent(ctx, "workflow", "workflow:"+rec.WorkflowType, status)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Log().
		Str("type", "workflow").
		Str("trace_id", rec.TraceID).
		Str("workflow_id", rec.WorkflowID).
		Str("workflow_type", rec.WorkflowType).
		Interface("agent_steps", rec.AgentSteps).
		Bool("partial", rec.Partial).
		Int64("total_ms", rec.TotalTime.Milliseconds()).
		Time("at", rec.Timestamp).
		Msg("")
}

// RecordRoute implements audit.Sink
func (a *AuditLogger) RecordRoute(ctx context.Context, rec audit.RouteRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	a.spanEvent(ctx, "route", "route:"+rec.Mode, "success")

	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Log().
		Str("type", "route").
		Str("trace_id", rec.TraceID).
		Str("user_id", rec.UserID).
		Str("conversation_id", rec.ConversationID).
		Str("mode", rec.Mode).
		Str("workflow_type", rec.WorkflowType).
		Strs("agents", rec.Agents).
		Float64("confidence", rec.Confidence).
		Str("classifier", rec.Classifier).
		Str("reason", rec.Reason).
		Time("at", rec.Timestamp).
		Msg("")
}

func (a *AuditLogger) spanEvent(ctx context.Context, kind, action, status string) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}
	span.AddEvent(action, trace.WithAttributes(
		attribute.String("audit.type", kind),
		attribute.String("audit.status", status),
	))
}

// Close closes the underlying file, if any
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
