package fetchextra

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// clientMetrics holds the OpenTelemetry instruments. A nil receiver is
// valid and records nothing, so instrument-creation failures degrade to
// silence instead of breaking the client.
type clientMetrics struct {
	attempts  metric.Int64Counter
	retries   metric.Int64Counter
	duration  metric.Float64Histogram
	transfer  metric.Int64Histogram
	exhausted metric.Int64Counter
}

func newClientMetrics(meter metric.Meter) (*clientMetrics, error) {
	var m clientMetrics
	var err error

	attempts, aerr := meter.Int64Counter("fetch.client.attempts",
		metric.WithDescription("Number of request attempts, including retries"),
		metric.WithUnit("{attempt}"))
	err = errors.Join(err, aerr)

	retries, rerr := meter.Int64Counter("fetch.client.retries",
		metric.WithDescription("Number of approved retries"),
		metric.WithUnit("{retry}"))
	err = errors.Join(err, rerr)

	duration, derr := meter.Float64Histogram("fetch.client.operation.duration",
		metric.WithDescription("Duration of logical fetch operations"),
		metric.WithUnit("s"))
	err = errors.Join(err, derr)

	transfer, terr := meter.Int64Histogram("fetch.client.transfer.size",
		metric.WithDescription("Body bytes transferred per operation"),
		metric.WithUnit("By"))
	err = errors.Join(err, terr)

	exhausted, xerr := meter.Int64Counter("fetch.client.failures",
		metric.WithDescription("Operations that settled with an error"),
		metric.WithUnit("{operation}"))
	err = errors.Join(err, xerr)

	if err != nil {
		return nil, err
	}

	m = clientMetrics{
		attempts:  attempts,
		retries:   retries,
		duration:  duration,
		transfer:  transfer,
		exhausted: exhausted,
	}
	return &m, nil
}

func (m *clientMetrics) recordAttempt(ctx context.Context, attempt int) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.Int("fetch.attempt", attempt)))
}

func (m *clientMetrics) recordRetry(ctx context.Context, attempt int) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.Int("fetch.attempt", attempt)))
}

func (m *clientMetrics) recordOperation(ctx context.Context, stats *TransferStats, err error) {
	if m == nil {
		return
	}
	outcome := attribute.String("fetch.outcome", "success")
	if err != nil {
		outcome = attribute.String("fetch.outcome", "error")
		m.exhausted.Add(ctx, 1)
	}
	opts := metric.WithAttributes(outcome, attribute.Int("fetch.attempts", stats.Attempts))
	m.duration.Record(ctx, stats.Duration.Seconds(), opts)
	m.transfer.Record(ctx, stats.Size, opts)
}
