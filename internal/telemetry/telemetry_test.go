package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// restoreGlobals puts the global providers back after New installs its own.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestNew_DisabledTelemetry(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	tel, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := &Config{Enabled: true}

	tel, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.True(t, taskerr.IsCode(err, taskerr.CodeConfigInvalid))
}

func TestNew_EnabledWithExporter(t *testing.T) {
	restoreGlobals(t)

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false

	core, logs := observer.New(zap.InfoLevel)
	exp := tracetest.NewInMemoryExporter()

	tel, err := New(context.Background(), cfg, WithTraceExporter(exp), WithLogger(zap.New(core)))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)
	assert.Equal(t, 1, logs.FilterMessage("telemetry enabled").Len())

	// New installs the provider globally.
	_, span := otel.Tracer("test").Start(context.Background(), "taskmaster.execute_next")
	span.End()

	require.NoError(t, tel.ForceFlush(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "taskmaster.execute_next", spans[0].Name)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.LoggerProvider()
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
		tel.SetLoggerProvider(nil)
	})

	health := tel.Health()
	assert.False(t, health.Healthy)
	assert.True(t, health.Degraded)
}

func TestTelemetry_Shutdown(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Shutdown.Timeout = 100 * time.Millisecond

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.Health().Healthy)
}

func TestTelemetry_LoggerProviderFallsBackToGlobal(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, tel.LoggerProvider())
}

func TestTelemetry_SetDegradedLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tel := &Telemetry{config: NewDefaultConfig(), logger: zap.New(core)}

	tel.setDegraded("tracer provider", assert.AnError)

	assert.True(t, tel.Health().Degraded)
	entries := logs.FilterMessage("telemetry degraded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "tracer provider", entries[0].ContextMap()["component"])
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	tracer := tt.Tracer("test")

	_, span := tracer.Start(context.Background(), "alpha")
	span.SetAttributes(
		attribute.String("string-key", "value"),
		attribute.Int64("int-key", 42),
		attribute.Float64("float-key", 3.14),
		attribute.Bool("bool-key", true),
	)
	span.End()
	_, span = tracer.Start(context.Background(), "beta")
	span.End()

	assert.Len(t, tt.Spans(), 2)
	assert.Nil(t, tt.SpanByName("gamma"))
	tt.AssertSpanExists(t, "alpha")
	tt.AssertSpanExists(t, "beta")
	tt.AssertSpanAttribute(t, "alpha", "string-key", "value")
	tt.AssertSpanAttribute(t, "alpha", "int-key", int64(42))
	tt.AssertSpanAttribute(t, "alpha", "float-key", 3.14)
	tt.AssertSpanAttribute(t, "alpha", "bool-key", true)
}

func TestTestTelemetry_CounterValue(t *testing.T) {
	tt := NewTestTelemetry()

	counter, err := tt.Meter("test").Int64Counter("taskmaster.commands_total")
	require.NoError(t, err)

	ctx := context.Background()
	counter.Add(ctx, 1, metricAttrs("create_session"))
	counter.Add(ctx, 2, metricAttrs("execute_next"))

	assert.Equal(t, int64(3), tt.CounterValue(t, "taskmaster.commands_total"))
	assert.Equal(t, int64(2), tt.CounterValue(t, "taskmaster.commands_total", attribute.String("action", "execute_next")))
	assert.Zero(t, tt.CounterValue(t, "missing"))
}

func TestTestTelemetry_Install(t *testing.T) {
	tt := NewTestTelemetry()
	tt.Install(t)

	_, span := otel.Tracer("global").Start(context.Background(), "via-global")
	span.End()

	tt.AssertSpanExists(t, "via-global")
}

func metricAttrs(action string) metric.AddOption {
	return metric.WithAttributes(attribute.String("action", action))
}
