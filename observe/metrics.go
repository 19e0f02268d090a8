package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RequestMeta identifies a dispatched request for telemetry purposes.
type RequestMeta struct {
	ID       string // Request identifier
	Kind     string // Request kind (consult, completion, embedding)
	Priority string // Queue priority
}

// SpanName returns the deterministic span name for this request.
// Format: dispatch.exec.<kind>
func (m RequestMeta) SpanName() string {
	return "dispatch.exec." + m.Kind
}

// Metrics records dispatch execution metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: recording is fire-and-forget and must not panic or block.
type Metrics interface {
	// RecordDispatch records one resolved request with its duration, the
	// cost units the external service charged, and error status.
	RecordDispatch(ctx context.Context, meta RequestMeta, duration time.Duration, cost float64, err error)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	costCount    metric.Float64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates a Metrics instance backed by the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"dispatch.requests.total",
		metric.WithDescription("Total number of resolved requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"dispatch.requests.errors",
		metric.WithDescription("Total number of requests resolved with an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	costCount, err := meter.Float64Counter(
		"dispatch.cost.units",
		metric.WithDescription("Total cost units charged by the external service"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"dispatch.exec.duration_ms",
		metric.WithDescription("Request execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		costCount:    costCount,
		durationHist: durationHist,
	}, nil
}

// RecordDispatch records metrics for one resolved request.
func (m *metricsImpl) RecordDispatch(ctx context.Context, meta RequestMeta, duration time.Duration, cost float64, err error) {
	opt := metric.WithAttributes(
		attribute.String("request.kind", meta.Kind),
		attribute.String("request.priority", meta.Priority),
	)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	if cost > 0 {
		m.costCount.Add(ctx, cost, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

// NopMetrics returns a Metrics that drops everything.
func NopMetrics() Metrics {
	return &noopMetrics{}
}

func (m *noopMetrics) RecordDispatch(ctx context.Context, meta RequestMeta, duration time.Duration, cost float64, err error) {
}
