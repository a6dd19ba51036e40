package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLoggerWithTraceAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	provider := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	traced := LoggerWithTrace(ctx, logger)
	traced.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
}

func TestLoggerWithTraceWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggerWithTrace(context.Background(), zerolog.New(&buf))
	logger.Info().Msg("hello")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, NewLogger("svc", "debug", false).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger("svc", "nonsense", false).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger("svc", "", false).GetLevel())
}

func TestRegisterRuntimeCollectorsTwice(t *testing.T) {
	require.NotPanics(t, RegisterRuntimeCollectors)
	require.NotPanics(t, RegisterRuntimeCollectors)
}

func TestStartWithoutExporters(t *testing.T) {
	shutdown, err := Start(context.Background(), Config{ServiceName: "svc"}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
