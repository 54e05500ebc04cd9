package fetchextra

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPStatusError reports a response that failed opt-in status validation.
//
// It is never raised automatically: the wrapper does not reject non-2xx
// responses unless Validate.OK is set or a validator returns it explicitly.
type HTTPStatusError struct {
	// StatusCode is the numeric HTTP status (e.g. 503).
	StatusCode int

	// Status is the status text (e.g. "Service Unavailable").
	Status string

	// Method and Resource identify the failing request.
	Method   string
	Resource string

	// Attempts is the attempt count at the time the error was raised.
	Attempts int

	// Stats holds the final transfer statistics. Populated when the
	// operation settles; nil while retries are still possible.
	Stats *TransferStats

	// Response is the headers-only response that failed validation.
	// Its body has been detached and drained.
	Response *Response
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s",
		e.Method, e.Resource, e.StatusCode, e.Status)
}

// TimeoutError reports that one of the four timeout clocks fired.
type TimeoutError struct {
	// Clock names the budget that fired: overall, request, body or stall.
	Clock Clock

	// Method and Resource identify the failing request.
	Method   string
	Resource string

	// RequestPhase and BodyPhase break down where the attempt's time went.
	RequestPhase time.Duration
	BodyPhase    time.Duration

	// Attempts is the attempt count at the time the clock fired.
	Attempts int

	// Stats holds the final transfer statistics once the operation settles.
	Stats *TransferStats
}

func (e *TimeoutError) Error() string {
	var what string
	switch e.Clock {
	case ClockRequest:
		what = "request phase timed out"
	case ClockBody:
		what = "body transfer timed out"
	case ClockStall:
		what = "body transfer stalled"
	default:
		what = "operation timed out"
	}
	return fmt.Sprintf("%s %s: %s (%s clock, request %s, body %s)",
		e.Method, e.Resource, what, e.Clock,
		e.RequestPhase.Round(time.Millisecond), e.BodyPhase.Round(time.Millisecond))
}

// Timeout reports true so the error satisfies the net.Error timeout
// convention used by callers that classify transport failures.
func (e *TimeoutError) Timeout() bool { return true }

// AbortError reports that the caller's context was cancelled, either
// before the operation started or while it was in flight.
type AbortError struct {
	Method   string
	Resource string

	// Stats holds the final transfer statistics once the operation settles.
	Stats *TransferStats

	cause error
}

func (e *AbortError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s %s: aborted: %v", e.Method, e.Resource, e.cause)
	}
	return fmt.Sprintf("%s %s: aborted", e.Method, e.Resource)
}

func (e *AbortError) Unwrap() error { return e.cause }

// attachStats annotates the wrapper's own error kinds with the final
// transfer statistics. Validator and application errors pass through
// untouched; their stats remain reachable via Response.Completed.
func attachStats(err error, stats *TransferStats) {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		se.Stats = stats
		return
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		te.Stats = stats
		return
	}
	var ae *AbortError
	if errors.As(err, &ae) {
		ae.Stats = stats
	}
}

// statusText extracts the reason phrase from an http.Response, falling
// back to the standard text for the code.
func statusText(resp *http.Response) string {
	text := http.StatusText(resp.StatusCode)
	if text == "" {
		text = resp.Status
	}
	return text
}
