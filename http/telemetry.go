package http

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"

	"github.com/gaborage/apicall/logger"
	"github.com/gaborage/apicall/retry"
)

const (
	// Instrumentation scope for the client's tracer and meter
	instrumentationName = "github.com/gaborage/apicall/http"

	metricAttempts   = "apicall.attempts"
	metricRetryDelay = "apicall.retry.delay"

	eventRetry = "retry"

	attrOutcome  = "apicall.outcome"
	attrCallID   = "apicall.call_id"
	attrAttempt  = "apicall.attempt"
	attrAttempts = "apicall.attempts"
	attrRetries  = "apicall.retries"
	attrDelayMS  = "apicall.retry.delay_ms"
)

// Retry delay buckets in milliseconds, spanning the jitter range up to a minute
var retryDelayBuckets = []float64{
	50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000, 64000,
}

// callMetrics holds the instruments of one client. A nil instrument means
// its creation failed and it is skipped.
type callMetrics struct {
	attempts   metric.Int64Counter
	retryDelay metric.Float64Histogram
}

func newCallMetrics(meter metric.Meter, log logger.Logger) *callMetrics {
	m := &callMetrics{}

	var err error
	m.attempts, err = meter.Int64Counter(
		metricAttempts,
		metric.WithDescription("Number of physical HTTP attempts"),
		metric.WithUnit("{attempt}"),
	)
	logMetricError(log, metricAttempts, err)

	m.retryDelay, err = meter.Float64Histogram(
		metricRetryDelay,
		metric.WithDescription("Delay waited before a retry"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(retryDelayBuckets...),
	)
	logMetricError(log, metricRetryDelay, err)

	return m
}

func logMetricError(log logger.Logger, name string, err error) {
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to initialize call metric")
	}
}

func (m *callMetrics) recordAttempt(ctx context.Context, method string, o retry.Outcome) {
	if m.attempts == nil {
		return
	}
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(method),
		attribute.String(attrOutcome, o.Kind.String()),
	}
	if o.StatusCode != 0 {
		attrs = append(attrs, semconv.HTTPResponseStatusCode(o.StatusCode))
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *callMetrics) recordDelay(ctx context.Context, method string, delay time.Duration) {
	if m.retryDelay == nil {
		return
	}
	m.retryDelay.Record(ctx, float64(delay)/float64(time.Millisecond),
		metric.WithAttributes(semconv.HTTPRequestMethodKey.String(method)))
}
