package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithAgentID(ctx, "anggaran")
	ctx = WithUserID(ctx, "user-7")
	ctx = WithConversationID(ctx, "conv-3")

	tc := FromContext(ctx)
	assert.Equal(t, "trace-1", tc.TraceID)
	assert.Equal(t, "run-1", tc.RunID)
	assert.Equal(t, "anggaran", tc.AgentID)
	assert.Equal(t, "user-7", tc.UserID)
	assert.Equal(t, "conv-3", tc.ConversationID)
}

func TestGetters_EmptyContext(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetUserID(context.TODO()))
}

func TestNewRequestContext(t *testing.T) {
	t.Run("assigns a trace id", func(t *testing.T) {
		ctx := NewRequestContext(context.Background(), "u1", "c1")
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.Equal(t, "u1", GetUserID(ctx))
		assert.Equal(t, "c1", GetConversationID(ctx))
	})

	t.Run("keeps an existing trace id", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "existing")
		ctx = NewRequestContext(ctx, "", "")
		assert.Equal(t, "existing", GetTraceID(ctx))
	})
}

func TestPropagateToAgent(t *testing.T) {
	parent := WithTraceID(context.Background(), "trace-x")
	parent = WithRunID(parent, "parent-run")

	child := PropagateToAgent(parent, "hukum")

	assert.Equal(t, "trace-x", GetTraceID(child))
	assert.Equal(t, "hukum", GetAgentID(child))
	assert.NotEqual(t, "parent-run", GetRunID(child))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-log")
	ctx = WithUserID(ctx, "user-log")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"trace_id":"trace-log"`)
	assert.Contains(t, buf.String(), `"user_id":"user-log"`)
}
