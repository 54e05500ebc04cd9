package fetchextra

import (
	"context"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startSpan opens one span per logical operation. The span outlives the
// returned response: it ends when the completion settles, so body
// transfer and retries are all attributed to it.
func (c *Client) startSpan(ctx context.Context, st *State) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "FETCH "+st.Options.method(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("fetch.id", st.ID),
			attribute.String("http.request.method", st.Options.method()),
			attribute.String("url.full", st.Resource),
		),
	)
}

// recordRetry adds a span event for an approved retry, mirroring it to
// the metrics and the debug sink.
func (op *operation) recordRetry(ctx context.Context, cause error) {
	st := op.state

	if op.span.IsRecording() {
		reason := truncateReason(cause.Error())
		op.span.AddEvent("fetch.retry", trace.WithAttributes(
			attribute.Int("retry.attempt", st.Attempt),
			attribute.String("retry.reason", reason),
		))
		op.span.RecordError(cause)
	}

	op.client.metrics.recordRetry(ctx, st.Attempt)
	op.client.logger.Debug().
		Str("id", st.ID).
		Int("attempt", st.Attempt).
		Err(cause).
		Msg("retrying")
}

// truncateReason bounds a retry reason for use as a span attribute,
// cutting on a rune boundary so the result stays valid UTF-8.
func truncateReason(s string) string {
	const max = 50
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// endSpan closes the operation span with its final statistics.
func endSpan(span trace.Span, stats *TransferStats, err error) {
	span.SetAttributes(
		attribute.Int("fetch.attempts", stats.Attempts),
		attribute.Int64("fetch.bytes", stats.Size),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
