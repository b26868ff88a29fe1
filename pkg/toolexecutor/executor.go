package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/sigap/internal/logger"
	"github.com/harun/sigap/internal/observability"
	"github.com/harun/sigap/internal/tracing"
	"github.com/harun/sigap/pkg/audit"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTimeout           = 30 * time.Second
	DefaultMaxResultChars    = 500
	DefaultMaxIdenticalCalls = 3

	truncationMarker = "... [truncated]"
)

// Config configures the executor
type Config struct {
	Timeout           time.Duration
	MaxResultChars    int
	MaxIdenticalCalls int
	RepetitionMatch   MatchMode
	Sink              audit.Sink
	Redactor          *logger.Redactor
	Logger            zerolog.Logger
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex

	timeout      time.Duration
	maxChars     int
	maxIdentical int
	matchMode    MatchMode
	sink         audit.Sink
	redactor     *logger.Redactor
	logger       zerolog.Logger
}

// New creates a new ToolExecutor
func New(cfg Config) *ToolExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResultChars <= 0 {
		cfg.MaxResultChars = DefaultMaxResultChars
	}
	if cfg.MaxIdenticalCalls <= 0 {
		cfg.MaxIdenticalCalls = DefaultMaxIdenticalCalls
	}
	if cfg.RepetitionMatch == "" {
		cfg.RepetitionMatch = MatchExact
	}
	if cfg.Sink == nil {
		cfg.Sink = audit.Nop{}
	}
	if cfg.Redactor == nil {
		cfg.Redactor = logger.NewRedactor()
	}

	te := &ToolExecutor{
		tools:        make(map[string]*ToolDefinition),
		schemas:      make(map[string]*gojsonschema.Schema),
		timeout:      cfg.Timeout,
		maxChars:     cfg.MaxResultChars,
		maxIdentical: cfg.MaxIdenticalCalls,
		matchMode:    cfg.RepetitionMatch,
		sink:         cfg.Sink,
		redactor:     cfg.Redactor,
		logger:       cfg.Logger.With().Str("component", "toolexecutor").Logger(),
	}

	te.logger.Debug().
		Dur("timeout", te.timeout).
		Int("max_result_chars", te.maxChars).
		Int("max_identical_calls", te.maxIdentical).
		Str("repetition_match", string(te.matchMode)).
		Msg("Tool executor initialized")

	return te
}

// RegisterTool registers a new tool. Names must be unique.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := te.generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	te.logger.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names in sorted order
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// Definitions returns the definitions visible under policy, sorted by name
func (te *ToolExecutor) Definitions(policy *ToolPolicy) []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for name, def := range te.tools {
		if policy.IsToolAllowed(name) {
			defs = append(defs, *def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// MatchMode returns the repetition comparison in use
func (te *ToolExecutor) MatchMode() MatchMode {
	return te.matchMode
}

type handlerOutcome struct {
	output interface{}
	err    error
}

// Invoke runs one tool call on behalf of session and always returns a
// structured invocation. It never returns before the result, the timeout or
// the caller's cancellation, and it never waits for a cancelled handler.
func (te *ToolExecutor) Invoke(ctx context.Context, session *Session, toolName string, params map[string]interface{}) ToolInvocation {
	start := time.Now()
	if params == nil {
		params = map[string]interface{}{}
	}

	ctx, span := tracing.StartSpan(ctx, "toolexecutor", "tool."+toolName,
		attribute.String("tool.name", toolName),
	)
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	log := tracing.LoggerFromContext(ctx, te.logger).With().Str("tool", toolName).Logger()

	fail := func(kind ErrorKind, retryable bool, err error, observation string) ToolInvocation {
		spanErr = &ToolError{Tool: toolName, Kind: kind, Retryable: retryable, Err: err}
		inv := te.finish(ctx, session, toolName, params, start, "", spanErr)
		inv.ErrorKind = kind
		inv.Result, _ = te.truncate(te.redactor.Redact(observation))
		te.emit(ctx, session, inv)
		log.Warn().
			Str("error_kind", string(kind)).
			Dur("duration", inv.ExecutionTime).
			Err(err).
			Msg("Tool invocation failed")
		return inv
	}

	if session != nil && !session.Policy.IsToolAllowed(toolName) {
		return fail(ErrorKindPolicy, false,
			fmt.Errorf("tool not allowed for agent %s", session.AgentID),
			fmt.Sprintf("Error: tool '%s' is not available to this agent. Use one of the listed tools.", toolName))
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		return fail(ErrorKindUnknownTool, false,
			fmt.Errorf("tool not found: %s", toolName),
			fmt.Sprintf("Error: unknown tool '%s'. Available tools: %s.", toolName, strings.Join(te.ListTools(), ", ")))
	}

	if session != nil {
		count, ok := session.admit(toolName, params, te.matchMode, te.maxIdentical)
		if !ok {
			return fail(ErrorKindRepetition, false,
				fmt.Errorf("identical call already made %d times", count),
				fmt.Sprintf("Repetition detected: '%s' was already called %d times with the same parameters. Choose a different action or give a final answer.", toolName, count))
		}
	}

	if err := te.validateParameters(schema, params); err != nil {
		return fail(ErrorKindValidation, false, err,
			fmt.Sprintf("Error: invalid parameters for '%s': %v", toolName, err))
	}

	log.Debug().Msg("Executing tool")

	callCtx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()
	callCtx = ContextWithSession(callCtx, session)

	// Buffered so the handler goroutine can always finish after we stop waiting
	done := make(chan handlerOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOutcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		output, err := tool.Handler(callCtx, cloneParams(params))
		done <- handlerOutcome{output: output, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return fail(ErrorKindExecution, false, out.err,
				fmt.Sprintf("Error: %s failed: %v", toolName, out.err))
		}

		text := te.redactor.Redact(formatOutput(out.output))
		result, truncated := te.truncate(text)

		inv := te.finish(ctx, session, toolName, params, start, result, nil)
		inv.Truncated = truncated
		te.emit(ctx, session, inv)

		log.Debug().
			Dur("duration", inv.ExecutionTime).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		return inv

	case <-callCtx.Done():
		if ctx.Err() != nil {
			return fail(ErrorKindCancelled, false, ctx.Err(),
				fmt.Sprintf("Error: %s was cancelled before it finished.", toolName))
		}
		return fail(ErrorKindTimeout, true,
			fmt.Errorf("%w after %v", ErrToolTimeout, te.timeout),
			fmt.Sprintf("Error: %s timed out after %v. Try a narrower request or a different tool.", toolName, te.timeout))
	}
}

func (te *ToolExecutor) finish(ctx context.Context, session *Session, toolName string, params map[string]interface{}, start time.Time, result string, err error) ToolInvocation {
	elapsed := time.Since(start)
	if elapsed > te.timeout {
		// The deadline fired; report the budget, not scheduler jitter
		elapsed = te.timeout
	}

	return ToolInvocation{
		Tool:          toolName,
		Params:        te.sanitizeParams(params),
		Result:        result,
		Success:       err == nil,
		ExecutionTime: elapsed,
		Timestamp:     start,
		Err:           err,
	}
}

func (te *ToolExecutor) emit(ctx context.Context, session *Session, inv ToolInvocation) {
	observability.RecordToolExecution(inv.Tool, inv.ExecutionTime, inv.Success, string(inv.ErrorKind))

	rec := audit.ToolRecord{
		TraceID:       tracing.GetTraceID(ctx),
		Tool:          inv.Tool,
		Params:        inv.Params,
		Result:        inv.Result,
		Success:       inv.Success,
		ErrorKind:     string(inv.ErrorKind),
		ExecutionTime: inv.ExecutionTime,
		Timestamp:     inv.Timestamp,
	}
	if session != nil {
		rec.SessionID = session.ID
		rec.UserID = session.UserID
		rec.AgentID = session.AgentID
	}
	te.sink.RecordTool(ctx, rec)
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// generateJSONSchema generates a JSON Schema from tool parameters
func (te *ToolExecutor) generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateParameters validates parameters against a JSON Schema
func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	return nil
}

// truncate caps s at maxChars runes including the marker
func (te *ToolExecutor) truncate(s string) (string, bool) {
	if utf8.RuneCountInString(s) <= te.maxChars {
		return s, false
	}

	keep := te.maxChars - utf8.RuneCountInString(truncationMarker)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return string(runes[:keep]) + truncationMarker, true
}

func (te *ToolExecutor) sanitizeParams(params map[string]interface{}) map[string]interface{} {
	out, _ := te.sanitizeValue(params).(map[string]interface{})
	return out
}

func (te *ToolExecutor) sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		s, _ := te.truncate(te.redactor.Redact(val))
		return s
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = te.sanitizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = te.sanitizeValue(item)
		}
		return out
	default:
		return val
	}
}

func formatOutput(output interface{}) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}

	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}

func cloneParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
