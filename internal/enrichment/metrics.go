package enrichment

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/verdanthealth/careloop/internal/enrichment"

// Metrics holds all enrichment pipeline metrics.
type Metrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	jobsTotal   metric.Int64Counter
	jobDuration metric.Float64Histogram
	queueDepth  metric.Int64UpDownCounter
	breakerOpen metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for the enrichment pipeline.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	// Job completions by kind and outcome
	m.jobsTotal, err = m.meter.Int64Counter(
		"careloop.enrichment.jobs_total",
		metric.WithDescription("Total enrichment job completions labeled by kind (summarize, embed) and outcome (succeeded, retried, permanent, deferred, discarded)."),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.logger.Warn("failed to create jobs counter", zap.Error(err))
	}

	// Job execution duration
	m.jobDuration, err = m.meter.Float64Histogram(
		"careloop.enrichment.job_duration_seconds",
		metric.WithDescription("Duration of one job execution attempt in seconds, labeled by kind. Use histogram_quantile for P50/P95/P99 latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	// Queue depth gauge
	m.queueDepth, err = m.meter.Int64UpDownCounter(
		"careloop.enrichment.queue_depth",
		metric.WithDescription("Current number of active jobs (pending, backing off, or in flight). Compare against the configured max depth to spot backpressure."),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.logger.Warn("failed to create queue depth counter", zap.Error(err))
	}

	// Breaker fast-fails
	m.breakerOpen, err = m.meter.Int64Counter(
		"careloop.enrichment.breaker_open_total",
		metric.WithDescription("Calls rejected fast because a dependency's circuit breaker was open, labeled by kind."),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		m.logger.Warn("failed to create breaker counter", zap.Error(err))
	}
}

// RecordJob records a job execution attempt's outcome and duration.
func (m *Metrics) RecordJob(ctx context.Context, kind Kind, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	)
	if m.jobsTotal != nil {
		m.jobsTotal.Add(ctx, 1, attrs)
	}
	if m.jobDuration != nil {
		m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("kind", string(kind))))
	}
}

// QueueDelta adjusts the queue depth gauge.
func (m *Metrics) QueueDelta(ctx context.Context, delta int64) {
	if m.queueDepth != nil {
		m.queueDepth.Add(ctx, delta)
	}
}

// RecordBreakerOpen counts a fast-failed call.
func (m *Metrics) RecordBreakerOpen(ctx context.Context, kind Kind) {
	if m.breakerOpen != nil {
		m.breakerOpen.Add(ctx, 1, attributeKind(kind))
	}
}

func attributeKind(kind Kind) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", string(kind)))
}
