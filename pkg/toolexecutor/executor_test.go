package toolexecutor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/harun/sigap/pkg/audit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, cfg Config) (*ToolExecutor, *audit.Recorder) {
	t.Helper()
	rec := &audit.Recorder{}
	cfg.Sink = rec
	cfg.Logger = zerolog.Nop()
	return New(cfg), rec
}

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo tool",
		Parameters: []ToolParameter{
			{Name: "message", Type: "string", Description: "Message to echo", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["message"], nil
		},
	}
}

func TestToolExecutor_RegisterTool(t *testing.T) {
	te, _ := newTestExecutor(t, Config{})

	require.NoError(t, te.RegisterTool(echoTool()))

	tool := te.GetTool("echo")
	require.NotNil(t, tool)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, []string{"echo"}, te.ListTools())

	err := te.RegisterTool(echoTool())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestToolExecutor_RegisterTool_InvalidDefinition(t *testing.T) {
	te, _ := newTestExecutor(t, Config{})
	noop := func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return nil, nil }

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{name: "empty name", def: ToolDefinition{Description: "Test", Handler: noop}},
		{name: "empty description", def: ToolDefinition{Name: "test", Handler: noop}},
		{name: "nil handler", def: ToolDefinition{Name: "test", Description: "Test"}},
		{name: "bad parameter type", def: ToolDefinition{
			Name: "test", Description: "Test", Handler: noop,
			Parameters: []ToolParameter{{Name: "x", Type: "date", Description: "x"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, te.RegisterTool(tt.def))
		})
	}
}

func TestToolExecutor_Invoke_Success(t *testing.T) {
	te, rec := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(echoTool()))

	session := NewSession("s1", "u1", "", nil)
	inv := te.Invoke(context.Background(), session, "echo", map[string]interface{}{"message": "Hello, World!"})

	assert.True(t, inv.Success)
	assert.Equal(t, "Hello, World!", inv.Result)
	assert.Equal(t, ErrorKindNone, inv.ErrorKind)
	assert.NoError(t, inv.Err)

	records := rec.Tools()
	require.Len(t, records, 1)
	assert.Equal(t, "echo", records[0].Tool)
	assert.Equal(t, "s1", records[0].SessionID)
	assert.Equal(t, "u1", records[0].UserID)
	assert.True(t, records[0].Success)
}

func TestToolExecutor_Invoke_StructuredOutputIsJSON(t *testing.T) {
	te, _ := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "stats",
		Description: "Returns a map",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"total": 3}, nil
		},
	}))

	inv := te.Invoke(context.Background(), nil, "stats", nil)
	require.True(t, inv.Success)
	assert.JSONEq(t, `{"total":3}`, inv.Result)
}

func TestToolExecutor_Invoke_UnknownToolIsNonRetryable(t *testing.T) {
	te, rec := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(echoTool()))

	inv := te.Invoke(context.Background(), NewSession("s1", "", "", nil), "weather", nil)

	assert.False(t, inv.Success)
	assert.Equal(t, ErrorKindUnknownTool, inv.ErrorKind)
	assert.Contains(t, inv.Result, "unknown tool")
	assert.Contains(t, inv.Result, "echo")
	assert.True(t, errors.Is(inv.Err, ErrToolExecution))
	assert.False(t, IsRetryable(inv.Err))
	assert.Len(t, rec.Tools(), 1)
}

func TestToolExecutor_Invoke_ValidationError(t *testing.T) {
	te, _ := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(echoTool()))

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{"missing required", map[string]interface{}{}},
		{"wrong type", map[string]interface{}{"message": 42}},
		{"unexpected field", map[string]interface{}{"message": "x", "extra": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := te.Invoke(context.Background(), nil, "echo", tt.params)
			assert.False(t, inv.Success)
			assert.Equal(t, ErrorKindValidation, inv.ErrorKind)
			assert.Contains(t, inv.Result, "invalid parameters")
		})
	}
}

func TestToolExecutor_Invoke_HandlerError(t *testing.T) {
	te, _ := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "broken",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("index unavailable")
		},
	}))

	inv := te.Invoke(context.Background(), nil, "broken", nil)
	assert.False(t, inv.Success)
	assert.Equal(t, ErrorKindExecution, inv.ErrorKind)
	assert.Contains(t, inv.Result, "index unavailable")
	assert.ErrorIs(t, inv.Err, ErrToolExecution)
}

func TestToolExecutor_Invoke_PanicIsRecovered(t *testing.T) {
	te, _ := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "panicky",
		Description: "Panics",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("boom")
		},
	}))

	var inv ToolInvocation
	require.NotPanics(t, func() {
		inv = te.Invoke(context.Background(), nil, "panicky", nil)
	})
	assert.False(t, inv.Success)
	assert.Contains(t, inv.Result, "boom")
}

func TestToolExecutor_Invoke_TimeoutDoesNotWaitForHandler(t *testing.T) {
	te, rec := newTestExecutor(t, Config{Timeout: 50 * time.Millisecond})

	release := make(chan struct{})
	defer close(release)

	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "stuck",
		Description: "Ignores cancellation",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			<-release
			return "late", nil
		},
	}))

	start := time.Now()
	inv := te.Invoke(context.Background(), nil, "stuck", nil)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.False(t, inv.Success)
	assert.Equal(t, ErrorKindTimeout, inv.ErrorKind)
	assert.Contains(t, inv.Result, "timed out")
	assert.True(t, errors.Is(inv.Err, ErrToolTimeout))
	assert.True(t, IsRetryable(inv.Err))
	assert.LessOrEqual(t, inv.ExecutionTime, 50*time.Millisecond)

	records := rec.Tools()
	require.Len(t, records, 1)
	assert.Equal(t, "timeout", records[0].ErrorKind)
}

func TestToolExecutor_Invoke_CallerCancellation(t *testing.T) {
	te, _ := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "slow",
		Description: "Waits for cancellation",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	inv := te.Invoke(ctx, nil, "slow", nil)
	assert.False(t, inv.Success)
	assert.Contains(t, []ErrorKind{ErrorKindCancelled, ErrorKindExecution}, inv.ErrorKind)
}

func TestToolExecutor_Invoke_TruncatesAndRedacts(t *testing.T) {
	te, rec := newTestExecutor(t, Config{MaxResultChars: 500})
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "verbose",
		Description: "Long output",
		Parameters: []ToolParameter{
			{Name: "note", Type: "string", Description: "note"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "NIK 3174012345678901 " + strings.Repeat("ä", 2000), nil
		},
	}))

	inv := te.Invoke(context.Background(), nil, "verbose", map[string]interface{}{
		"note": "password=hunter2",
	})

	require.True(t, inv.Success)
	assert.True(t, inv.Truncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(inv.Result), 500)
	assert.True(t, strings.HasSuffix(inv.Result, truncationMarker))
	assert.NotContains(t, inv.Result, "3174012345678901")
	assert.NotContains(t, inv.Params["note"], "hunter2")

	records := rec.Tools()
	require.Len(t, records, 1)
	assert.NotContains(t, records[0].Params["note"], "hunter2")
}

func TestToolExecutor_Invoke_RepetitionGuard(t *testing.T) {
	calls := 0
	te, _ := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "count",
		Description: "Counts calls",
		Parameters: []ToolParameter{
			{Name: "q", Type: "string", Description: "query", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			calls++
			return "ok", nil
		},
	}))

	session := NewSession("s1", "", "", nil)
	params := map[string]interface{}{"q": "anggaran 2024"}

	for i := 0; i < 3; i++ {
		inv := te.Invoke(context.Background(), session, "count", params)
		require.True(t, inv.Success, "call %d", i+1)
	}

	inv := te.Invoke(context.Background(), session, "count", params)
	assert.False(t, inv.Success)
	assert.Equal(t, ErrorKindRepetition, inv.ErrorKind)
	assert.Contains(t, inv.Result, "Repetition detected")
	assert.ErrorIs(t, inv.Err, ErrRepeatedCall)
	assert.Equal(t, 3, calls, "the 4th identical call must not execute")

	// Different parameters are a different call
	inv = te.Invoke(context.Background(), session, "count", map[string]interface{}{"q": "anggaran 2025"})
	assert.True(t, inv.Success)

	// A fresh session has its own guard
	inv = te.Invoke(context.Background(), NewSession("s2", "", "", nil), "count", params)
	assert.True(t, inv.Success)
}

func TestToolExecutor_Invoke_RepetitionMatchModes(t *testing.T) {
	handler := func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return "ok", nil }
	def := ToolDefinition{
		Name:        "search",
		Description: "Search",
		Parameters:  []ToolParameter{{Name: "query", Type: "string", Description: "q", Required: true}},
		Handler:     handler,
	}
	variants := []string{"Anggaran 2024", "anggaran  2024", " ANGGARAN 2024 ", "anggaran 2024"}

	t.Run("exact", func(t *testing.T) {
		te, _ := newTestExecutor(t, Config{})
		require.NoError(t, te.RegisterTool(def))
		session := NewSession("s", "", "", nil)
		for _, v := range variants {
			inv := te.Invoke(context.Background(), session, "search", map[string]interface{}{"query": v})
			assert.True(t, inv.Success, v)
		}
	})

	t.Run("normalized", func(t *testing.T) {
		te, _ := newTestExecutor(t, Config{RepetitionMatch: MatchNormalized})
		require.NoError(t, te.RegisterTool(def))
		session := NewSession("s", "", "", nil)
		var last ToolInvocation
		for _, v := range variants {
			last = te.Invoke(context.Background(), session, "search", map[string]interface{}{"query": v})
		}
		assert.Equal(t, ErrorKindRepetition, last.ErrorKind)
	})
}

func TestToolExecutor_Invoke_PolicyBlocksTool(t *testing.T) {
	te, _ := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(echoTool()))

	session := NewSession("s1", "", "hukum", &ToolPolicy{Allow: []string{"legal_lookup"}})
	inv := te.Invoke(context.Background(), session, "echo", map[string]interface{}{"message": "x"})

	assert.False(t, inv.Success)
	assert.Equal(t, ErrorKindPolicy, inv.ErrorKind)
	assert.Empty(t, te.Definitions(session.Policy))
	assert.Len(t, te.Definitions(nil), 1)
}

func TestToolExecutor_Invoke_ConcurrentSessions(t *testing.T) {
	te, rec := newTestExecutor(t, Config{})
	require.NoError(t, te.RegisterTool(echoTool()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := NewSession("s", "", "", nil)
			inv := te.Invoke(context.Background(), session, "echo", map[string]interface{}{"message": "hi"})
			assert.True(t, inv.Success)
		}()
	}
	wg.Wait()
	assert.Len(t, rec.Tools(), 20)
}

func TestToolPolicy_IsToolAllowed(t *testing.T) {
	var nilPolicy *ToolPolicy
	assert.True(t, nilPolicy.IsToolAllowed("anything"))

	p := &ToolPolicy{Allow: []string{"*"}, Deny: []string{"search"}}
	assert.True(t, p.IsToolAllowed("calculator"))
	assert.False(t, p.IsToolAllowed("search"))

	assert.False(t, (&ToolPolicy{}).IsToolAllowed("calculator"))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, SessionFromContext(ctx))
	assert.Nil(t, DocumentScopeFromContext(ctx))

	s := NewSession("s1", "", "", nil)
	ctx = ContextWithSession(ctx, s)
	ctx = ContextWithDocumentScope(ctx, []string{"doc-1"})
	assert.Same(t, s, SessionFromContext(ctx))
	assert.Equal(t, []string{"doc-1"}, DocumentScopeFromContext(ctx))
}
