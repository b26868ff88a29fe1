package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestStartSpan_PropagatesTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("sigap-test", "0.0.0"))

	ctx, span := StartSpan(context.Background(), "sigap.test", "test.span", attribute.String("k", "v"))
	traceID := GetTraceID(ctx)
	require.NotEmpty(t, traceID)
	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)
	EndSpan(span, errors.New("boom"))

	// An existing trace id is kept
	ctx = WithTraceID(context.Background(), "given-trace")
	ctx, span = StartSpan(ctx, "sigap.test", "test.child")
	assert.Equal(t, "given-trace", GetTraceID(ctx))
	EndSpan(span, nil)

	assert.NoError(t, ShutdownOpenTelemetry(context.Background()))
}
