package fetchextra

import (
	"context"
	"net/http"
	"time"
)

// Options configures a single logical fetch operation.
//
// The zero value performs a plain GET with no retries, no timeouts and
// no validation. Options are copied into the operation's State at the
// start of the call; between attempts a retry decision may mutate the
// State's copy via an OptionsPatch, and those mutations are visible to
// the next attempt's headers, body and timeout clocks.
type Options struct {
	// Method is the HTTP method. Defaults to GET.
	Method string

	// Headers are applied to every attempt's request.
	Headers http.Header

	// Body is the request payload. Encoding follows the value's type:
	//   - string: raw text (Content-Type: text/plain)
	//   - []byte: raw bytes (Content-Type: application/octet-stream)
	//   - io.Reader: passthrough, read fully before the first attempt
	//     so retries replay the same payload
	//   - url.Values: form encoded
	//   - anything else: JSON encoded
	Body any

	// Retry is the attempt ceiling: a ceiling of N permits exactly N
	// attempts. Zero or one means a single attempt. Ignored when
	// RetryFunc is set.
	Retry int

	// RetryFunc decides whether and how a failed attempt is retried.
	// Takes precedence over Retry.
	RetryFunc RetryFunc

	// Timeout is shorthand for Timeouts.Overall. Ignored when
	// Timeouts.Overall is set.
	Timeout time.Duration

	// Timeouts holds the per-phase budgets.
	Timeouts Timeouts

	// Validate configures opt-in response and body validation.
	Validate *Validate

	// Limiter is an optional async gate invoked before each operation's
	// first dispatch, after the client-level gates. A non-nil error
	// fails the operation without a network call.
	Limiter func(ctx context.Context) error
}

// method returns the effective HTTP method.
func (o *Options) method() string {
	if o == nil || o.Method == "" {
		return http.MethodGet
	}
	return o.Method
}

// effectiveTimeouts resolves the Timeout alias into the clock budgets.
func (o *Options) effectiveTimeouts() Timeouts {
	if o == nil {
		return Timeouts{}
	}
	t := o.Timeouts
	if t.Overall == 0 {
		t.Overall = o.Timeout
	}
	return t
}

// clone copies the options so the State owns a mutable instance that
// retry decisions can patch without touching the caller's struct.
func (o *Options) clone() *Options {
	if o == nil {
		return &Options{}
	}
	c := *o
	c.Headers = o.Headers.Clone()
	return &c
}

// Validate configures the opt-in validation hooks. A nil Validate means
// no validation: non-2xx responses are returned as ordinary responses.
type Validate struct {
	// OK rejects any non-2xx response with an *HTTPStatusError before
	// the body is exposed to the caller.
	OK bool

	// Response runs against the headers-only response, before the body
	// is exposed. The body is detached from the view it receives.
	Response func(r *Response, st *State) error

	// Bytes runs with the materialized body after Bytes().
	Bytes func(b []byte, st *State) error

	// Text runs with the materialized text after Text() or
	// TextConverted().
	Text func(s string, st *State) error

	// JSON runs with the decoded value after JSON().
	JSON func(v any, st *State) error
}

// ValidateOK is the "validate: true" convention: reject on non-2xx.
func ValidateOK() *Validate {
	return &Validate{OK: true}
}

// RetryEvent carries the context of a failed attempt into a RetryFunc.
type RetryEvent struct {
	State *State

	// Err is the attempt's failure: a transport error, *TimeoutError,
	// *HTTPStatusError, or whatever a validator returned.
	Err error

	// Response is the response associated with the failure, when one
	// exists. Nil for request-phase transport failures.
	Response *Response
}

// RetryDecision is a RetryFunc's verdict. Setting Resource or Options
// implies Retry. An error returned by the RetryFunc itself is swallowed:
// the operation stops and the attempt's own error propagates.
type RetryDecision struct {
	Retry bool

	// Resource replaces the operation's target when non-empty.
	Resource string

	// Options is merged shallowly onto the state's current options.
	Options *OptionsPatch
}

// RetryFunc decides the fate of a failed attempt.
type RetryFunc func(ev RetryEvent) (RetryDecision, error)

// OptionsPatch mutates selected options between attempts. Headers merge
// per key (prior headers are preserved, patched keys override); every
// other set field replaces its current value wholesale.
type OptionsPatch struct {
	Method   string
	Headers  http.Header
	Body     any
	Timeout  time.Duration
	Timeouts *Timeouts
	Validate *Validate
}

// applyPatch merges a retry decision's patch onto the options.
func (o *Options) applyPatch(p *OptionsPatch) {
	if p == nil {
		return
	}
	if p.Method != "" {
		o.Method = p.Method
	}
	if len(p.Headers) > 0 {
		if o.Headers == nil {
			o.Headers = make(http.Header, len(p.Headers))
		}
		for k, vs := range p.Headers {
			o.Headers[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
		}
	}
	if p.Body != nil {
		o.Body = p.Body
	}
	if p.Timeout > 0 {
		o.Timeout = p.Timeout
	}
	if p.Timeouts != nil {
		o.Timeouts = *p.Timeouts
	}
	if p.Validate != nil {
		o.Validate = p.Validate
	}
}
