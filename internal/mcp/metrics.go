package mcp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/orchestrator"
)

const instrumentationName = "github.com/fyrsmithlabs/taskmaster/internal/mcp"

// Metrics holds MCP transport instruments.
type Metrics struct {
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.invocations, err = meter.Int64Counter(
		"taskmaster.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls, by action"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"taskmaster.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"taskmaster.mcp.tool.errors_total",
		metric.WithDescription("MCP tool calls answered with an error envelope, by error kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"taskmaster.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
	return m
}

// begin marks a call in flight and returns the func that records it.
func (m *Metrics) begin(ctx context.Context) func(action orchestrator.Action, resp *orchestrator.Response) {
	if m == nil {
		return func(orchestrator.Action, *orchestrator.Response) {}
	}
	start := time.Now()
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1)
	}
	return func(action orchestrator.Action, resp *orchestrator.Response) {
		if m.activeRequests != nil {
			m.activeRequests.Add(ctx, -1)
		}
		attrs := metric.WithAttributes(attribute.String("action", string(action)))
		if m.invocations != nil {
			m.invocations.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if resp != nil && resp.Error != nil && resp.Status == orchestrator.StatusError && m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("action", string(action)),
				attribute.String("kind", string(resp.Error.Kind)),
			))
		}
	}
}
