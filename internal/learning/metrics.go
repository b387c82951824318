package learning

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/verdanthealth/careloop/internal/learning"

// Metrics holds feedback routing metrics.
type Metrics struct {
	meter           metric.Meter
	logger          *zap.Logger
	eventsTotal     metric.Int64Counter
	componentWrites metric.Int64Counter
	outcomeRows     metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the learning engine.
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

	m.eventsTotal, err = m.meter.Int64Counter(
		"careloop.learning.events_total",
		metric.WithDescription("Feedback events accepted at the boundary, labeled by feedback value."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		m.logger.Warn("failed to create events counter", zap.Error(err))
	}

	m.componentWrites, err = m.meter.Int64Counter(
		"careloop.learning.component_writes_total",
		metric.WithDescription("Per-component record attempts, labeled by component and result (ok, failed)."),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		m.logger.Warn("failed to create component writes counter", zap.Error(err))
	}

	m.outcomeRows, err = m.meter.Int64Counter(
		"careloop.learning.outcome_rows_total",
		metric.WithDescription("Outcome rows persisted after sampling."),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		m.logger.Warn("failed to create outcome rows counter", zap.Error(err))
	}
}

// RecordEvent counts an accepted feedback event.
func (m *Metrics) RecordEvent(ctx context.Context, feedback string) {
	if m.eventsTotal != nil {
		m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("feedback", feedback)))
	}
}

// RecordComponentWrite counts one component write attempt.
func (m *Metrics) RecordComponentWrite(ctx context.Context, component string, ok bool) {
	if m.componentWrites == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.componentWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("result", result),
	))
}

// RecordOutcomeRow counts a persisted outcome row.
func (m *Metrics) RecordOutcomeRow(ctx context.Context) {
	if m.outcomeRows != nil {
		m.outcomeRows.Add(ctx, 1)
	}
}
