package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/review"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
	"github.com/fyrsmithlabs/taskmaster/internal/validation"
)

const instrumentationName = "github.com/fyrsmithlabs/taskmaster/internal/orchestrator"

// Metrics holds dispatcher instruments. A nil *Metrics records nothing.
type Metrics struct {
	commands    metric.Int64Counter
	duration    metric.Float64Histogram
	errors      metric.Int64Counter
	validations metric.Int64Counter
	reviews     metric.Int64Counter
	completed   metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.commands, err = meter.Int64Counter(
		"taskmaster.commands_total",
		metric.WithDescription("Commands dispatched, by action and status"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		logger.Warn("failed to create commands counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"taskmaster.command.duration_seconds",
		metric.WithDescription("Time to dispatch one command, including persistence"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"taskmaster.command.errors_total",
		metric.WithDescription("Rejected commands, by error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.validations, err = meter.Int64Counter(
		"taskmaster.validation.outcomes_total",
		metric.WithDescription("Validation engine outcomes"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		logger.Warn("failed to create validation counter", zap.Error(err))
	}

	m.reviews, err = meter.Int64Counter(
		"taskmaster.review.outcomes_total",
		metric.WithDescription("Adversarial review verdict outcomes"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		logger.Warn("failed to create review counter", zap.Error(err))
	}

	m.completed, err = meter.Int64Counter(
		"taskmaster.tasks.completed_total",
		metric.WithDescription("Tasks that reached completed"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		logger.Warn("failed to create completed counter", zap.Error(err))
	}
	return m
}

func (m *Metrics) recordCommand(ctx context.Context, action Action, status Status, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("status", string(status)),
	)
	if m.commands != nil {
		m.commands.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("action", string(action))))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", string(action)),
			attribute.String("code", string(taskerr.CodeOf(err))),
		))
	}
}

func (m *Metrics) recordValidation(ctx context.Context, outcome validation.Outcome) {
	if m == nil || m.validations == nil {
		return
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *Metrics) recordReview(ctx context.Context, outcome review.Outcome) {
	if m == nil || m.reviews == nil {
		return
	}
	m.reviews.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *Metrics) recordCompleted(ctx context.Context) {
	if m == nil || m.completed == nil {
		return
	}
	m.completed.Add(ctx, 1)
}
