package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records agent metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEventTracked records an event accepted into the queue.
	RecordEventTracked(ctx context.Context, name string)

	// RecordEventDropped records an event rejected before queueing
	// ("consent", "rate_limit", "encode", "evicted", ...).
	RecordEventDropped(ctx context.Context, reason string)

	// RecordFlush records one delivery attempt.
	RecordFlush(ctx context.Context, trigger string, batchSize int, duration time.Duration, err error)

	// RecordQueueDepth records the pending queue size after a mutation.
	RecordQueueDepth(ctx context.Context, depth int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsTracked  metric.Int64Counter
	eventsDropped  metric.Int64Counter
	flushAttempts  metric.Int64Counter
	flushErrors    metric.Int64Counter
	flushLatency   metric.Float64Histogram
	flushBatchSize metric.Int64Histogram
	queueDepth     metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("anonintent")

	eventsTracked, err := meter.Int64Counter("anonintent.events.tracked",
		metric.WithDescription("Number of events accepted into the pending queue"),
	)
	if err != nil {
		return nil, err
	}

	eventsDropped, err := meter.Int64Counter("anonintent.events.dropped",
		metric.WithDescription("Number of events dropped before delivery"),
	)
	if err != nil {
		return nil, err
	}

	flushAttempts, err := meter.Int64Counter("anonintent.flush.attempts",
		metric.WithDescription("Number of delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	flushErrors, err := meter.Int64Counter("anonintent.flush.errors",
		metric.WithDescription("Number of failed delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	flushLatency, err := meter.Float64Histogram("anonintent.flush.latency_ms",
		metric.WithDescription("Delivery attempt latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	flushBatchSize, err := meter.Int64Histogram("anonintent.flush.batch_size",
		metric.WithDescription("Events per delivery attempt"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge("anonintent.queue.depth",
		metric.WithDescription("Events waiting for delivery"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		eventsTracked:  eventsTracked,
		eventsDropped:  eventsDropped,
		flushAttempts:  flushAttempts,
		flushErrors:    flushErrors,
		flushLatency:   flushLatency,
		flushBatchSize: flushBatchSize,
		queueDepth:     queueDepth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEventTracked records an accepted event.
func (m *otelMetrics) RecordEventTracked(ctx context.Context, name string) {
	m.eventsTracked.Add(ctx, 1, metric.WithAttributes(attribute.String("event_name", name)))
}

// RecordEventDropped records a dropped event.
func (m *otelMetrics) RecordEventDropped(ctx context.Context, reason string) {
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFlush records a delivery attempt.
func (m *otelMetrics) RecordFlush(ctx context.Context, trigger string, batchSize int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("trigger", trigger),
		attribute.Bool("success", err == nil),
	}

	m.flushAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.flushLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.flushBatchSize.Record(ctx, int64(batchSize), metric.WithAttributes(attrs...))

	if err != nil {
		m.flushErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}
}

// RecordQueueDepth records the current queue size.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}
