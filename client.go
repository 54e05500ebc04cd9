package fetchextra

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	json "github.com/goccy/go-json"
)

// scope is the instrumentation scope name for OpenTelemetry.
const scope = "github.com/StratoKit/fetch-extra"

// Doer performs one HTTP exchange. *http.Client satisfies it; tests and
// callers with custom transports can inject their own.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client is the operation driver: it composes the timeout clocks, body
// interposition, validation and retry logic on top of an opaque
// transport collaborator.
//
//	client := fetchextra.New()
//	resp, err := client.Fetch(ctx, "https://api.example.com/items", &fetchextra.Options{
//	    Retry:    3,
//	    Timeouts: fetchextra.Timeouts{Request: 2 * time.Second, Stall: 10 * time.Second},
//	    Validate: fetchextra.ValidateOK(),
//	})
type Client struct {
	doer       Doer
	logger     zerolog.Logger
	tracer     trace.Tracer
	metrics    *clientMetrics
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

type config struct {
	httpConfig  Config
	doer        Doer
	logger      zerolog.Logger
	tracerProv  trace.TracerProvider
	meterProv   metric.MeterProvider
	newBackOff  func() backoff.BackOff
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	maxParallel int64
	maxRPS      float64
	burst       int
}

// Option configures a Client.
type Option func(*config)

// WithConfig sets the underlying transport configuration.
func WithConfig(c Config) Option {
	return func(cfg *config) { cfg.httpConfig = c }
}

// WithDoer replaces the underlying transport collaborator entirely.
func WithDoer(d Doer) Option {
	return func(cfg *config) { cfg.doer = d }
}

// WithLogger sets the debug sink. The default is a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// WithDebug enables debug logging to stdout.
func WithDebug() Option {
	return func(cfg *config) {
		cfg.logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) { cfg.tracerProv = tp }
}

// WithMeterProvider sets the OpenTelemetry meter provider. The global
// provider is used by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) { cfg.meterProv = mp }
}

// WithRetryBackOff sets a factory for the inter-attempt backoff. Each
// operation gets its own instance. Without this option retries are
// immediate.
func WithRetryBackOff(factory func() backoff.BackOff) Option {
	return func(cfg *config) { cfg.newBackOff = factory }
}

// WithBreaker routes every attempt through the given circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) Option {
	return func(cfg *config) { cfg.breaker = cb }
}

// WithMaxParallel bounds concurrent in-flight operations. The slot is
// held until the operation's completion settles — covering the full
// body transfer, not just time-to-first-byte.
func WithMaxParallel(n int64) Option {
	return func(cfg *config) { cfg.maxParallel = n }
}

// WithMaxRPS paces operation starts with a token bucket.
func WithMaxRPS(rps float64, burst int) Option {
	return func(cfg *config) {
		cfg.maxRPS = rps
		cfg.burst = burst
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	cfg := &config{
		httpConfig: DefaultConfig(),
		logger:     zerolog.Nop(),
		tracerProv: otel.GetTracerProvider(),
		meterProv:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	doer := cfg.doer
	if doer == nil {
		doer = &http.Client{Transport: cfg.httpConfig.buildTransport()}
	}

	c := &Client{
		doer:       doer,
		logger:     cfg.logger,
		tracer:     cfg.tracerProv.Tracer(scope),
		newBackOff: cfg.newBackOff,
		breaker:    cfg.breaker,
	}

	// Metrics stay nil (and silent) if instrument creation fails.
	meter := cfg.meterProv.Meter(scope)
	c.metrics, _ = newClientMetrics(meter)

	if cfg.maxParallel > 0 {
		c.sem = semaphore.NewWeighted(cfg.maxParallel)
	}
	if cfg.maxRPS > 0 {
		burst := cfg.burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.maxRPS), burst)
	}
	return c
}

// NewOperation returns a Client pre-configured with a concurrency gate
// of maxParallel operations and a pacing gate of maxRPS starts per
// second. Zero disables the respective gate.
func NewOperation(maxParallel int64, maxRPS float64, opts ...Option) *Client {
	gateOpts := make([]Option, 0, len(opts)+2)
	if maxParallel > 0 {
		gateOpts = append(gateOpts, WithMaxParallel(maxParallel))
	}
	if maxRPS > 0 {
		gateOpts = append(gateOpts, WithMaxRPS(maxRPS, 1))
	}
	return New(append(gateOpts, opts...)...)
}

// Fetch runs one logical operation: gate acquisition, the attempt loop,
// and completion tracking. Request-phase failures surface here;
// body-phase and validation failures surface at the materialization
// call or at Completed — never both.
func (c *Client) Fetch(ctx context.Context, resource string, opts *Options) (*Response, error) {
	method := opts.method()
	if err := ctx.Err(); err != nil {
		// Pre-aborted signal: fail without a network call.
		return nil, &AbortError{Method: method, Resource: resource, cause: context.Cause(ctx)}
	}

	st := newState(resource, opts.clone())
	ctx, span := c.startSpan(ctx, st)
	op := &operation{client: c, state: st, span: span}
	c.watchCompletion(st, span)

	if err := c.acquireGates(ctx, st); err != nil {
		st.settle(err)
		return nil, err
	}

	resp, err := op.run(ctx)
	if err != nil {
		st.settle(err)
		return nil, err
	}
	return resp, nil
}

// acquireGates runs the pacing gate, the per-call gate, and the
// concurrency gate, in that order. The concurrency slot is released
// only when the completion settles.
func (c *Client) acquireGates(ctx context.Context, st *State) error {
	method := st.Options.method()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return &AbortError{Method: method, Resource: st.Resource, cause: context.Cause(ctx)}
			}
			return err
		}
	}

	if gate := st.Options.Limiter; gate != nil {
		if err := gate(ctx); err != nil {
			return err
		}
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return &AbortError{Method: method, Resource: st.Resource, cause: context.Cause(ctx)}
		}
		go func() {
			_, _ = st.done.wait(context.Background())
			c.sem.Release(1)
		}()
	}
	return nil
}

// watchCompletion records metrics and ends the span when the operation
// settles, however it settles.
func (c *Client) watchCompletion(st *State, span trace.Span) {
	go func() {
		stats, err := st.done.wait(context.Background())
		c.metrics.recordOperation(context.Background(), stats, err)
		c.logSettled(st, stats, err)
		endSpan(span, stats, err)
	}()
}

// do performs the exchange, through the circuit breaker when one is
// configured.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.breaker != nil {
		return c.breaker.Execute(func() (*http.Response, error) {
			return c.doer.Do(req)
		})
	}
	return c.doer.Do(req)
}

// operation is one logical fetch: the attempt loop plus the retry
// bookkeeping shared between Fetch and the materialization retry path.
type operation struct {
	client *Client
	state  *State
	span   trace.Span
	bo     backoff.BackOff
}

// run performs attempts until one survives its request phase or retries
// are declined. It never settles the completion itself: terminal
// request-phase errors settle in Fetch, body-phase errors settle in the
// interceptor.
func (op *operation) run(ctx context.Context) (*Response, error) {
	for {
		resp, evResp, err := op.attemptOnce(ctx)
		if err == nil {
			return resp, nil
		}

		d := op.client.decideRetry(op.state, err, evResp)
		if !d.Retry {
			return nil, err
		}
		op.applyDecision(d)
		op.recordRetry(ctx, err)
		if werr := op.waitBackoff(ctx); werr != nil {
			return nil, err
		}
	}
}

// retryFrom routes a body-phase or validation failure back into the
// attempt loop. On approval it returns the replacement response; on
// decline it returns the original cause.
func (op *operation) retryFrom(ctx context.Context, cause error, resp *Response) (*Response, error) {
	d := op.client.decideRetry(op.state, cause, resp)
	if !d.Retry {
		return nil, cause
	}
	op.applyDecision(d)
	op.recordRetry(ctx, cause)
	if err := op.waitBackoff(ctx); err != nil {
		return nil, cause
	}
	return op.run(ctx)
}

// attempt is the per-attempt sub-record: its context, cancellation and
// clocks are owned exclusively by one attempt's scope.
type attempt struct {
	op       *operation
	ctx      context.Context
	cancel   context.CancelFunc
	clocks   *clockSet
	method   string
	resource string
}

// attemptOnce performs one full request/response exchange. The second
// return value carries the response to offer the retry decider when the
// error is response-shaped (status validation failures).
func (op *operation) attemptOnce(ctx context.Context) (*Response, *Response, error) {
	st := op.state
	st.beginAttempt()

	attemptCtx, cancel := context.WithCancel(ctx)
	att := &attempt{
		op:       op,
		ctx:      attemptCtx,
		cancel:   cancel,
		method:   st.Options.method(),
		resource: st.Resource,
	}
	att.clocks = newClockSet(st.Options.effectiveTimeouts(), cancel)

	req, err := att.buildRequest()
	if err != nil {
		cancel()
		return nil, nil, err
	}

	op.client.logAttempt(st, att)
	op.client.metrics.recordAttempt(attemptCtx, st.Attempt)

	att.clocks.arm(ClockOverall)
	att.clocks.arm(ClockRequest)

	httpResp, err := op.client.do(req)
	if err != nil {
		terr := att.translateErr(err)
		att.clocks.stopAll()
		cancel()
		return nil, nil, terr
	}
	att.clocks.disarm(ClockRequest)

	if view, verr := att.validateResponse(httpResp); verr != nil {
		att.clocks.stopAll()
		// Drain before cancelling: cancellation tears the connection
		// down, losing it for keep-alive reuse.
		drainBody(httpResp.Body)
		cancel()
		return nil, view, verr
	}

	if isBodyless(httpResp) {
		att.clocks.stopAll()
		cancel()
		if httpResp.Body != nil {
			_ = httpResp.Body.Close()
		}
		httpResp.Body = nil
		resp := &Response{Response: httpResp, att: att, state: st}
		// A materialization call in flight owns completion signaling:
		// its validators have not run against this response yet.
		if !st.consuming.Load() {
			st.settle(nil)
		}
		return resp, nil, nil
	}

	// Body phase: request clocks are down, body clocks come up.
	st.beginBody()
	att.clocks.arm(ClockBody)
	att.clocks.arm(ClockStall)
	httpResp.Body = &trackedBody{
		body:   httpResp.Body,
		state:  st,
		clocks: att.clocks,
		att:    att,
	}
	return &Response{Response: httpResp, att: att, state: st}, nil, nil
}

// buildRequest constructs the attempt's request from the state's
// current resource and options, so retry mutations to headers, body and
// target are visible.
func (att *attempt) buildRequest() (*http.Request, error) {
	opts := att.op.state.Options

	// A reader body would be exhausted by the first attempt; buffer it
	// once so every retry replays the same payload.
	if r, ok := opts.Body.(io.Reader); ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		opts.Body = rawBody(data)
	}

	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(att.ctx, att.method, att.resource, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range opts.Headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// rawBody holds a buffered io.Reader payload. Unlike []byte it carries
// no content type, preserving the reader passthrough semantics.
type rawBody []byte

// encodeBody maps an Options.Body value onto a reader and content type.
func encodeBody(v any) (io.Reader, string, error) {
	switch body := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(body), "text/plain; charset=utf-8", nil
	case []byte:
		return bytes.NewReader(body), "application/octet-stream", nil
	case rawBody:
		return bytes.NewReader(body), "", nil
	case url.Values:
		return strings.NewReader(body.Encode()), "application/x-www-form-urlencoded", nil
	case io.Reader:
		return body, "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// translateErr maps a transport or stream error onto the taxonomy. A
// recorded clock firing wins: the shared abort carries no reason of its
// own, so the clock name recorded at firing time is what disambiguates
// the four timeout kinds from a caller cancellation.
func (att *attempt) translateErr(err error) error {
	st := att.op.state
	if c := att.clocks.firedClock(); c != "" {
		return &TimeoutError{
			Clock:        c,
			Method:       att.method,
			Resource:     att.resource,
			RequestPhase: st.requestPhase(),
			BodyPhase:    st.bodyPhase(),
			Attempts:     st.Attempt,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &AbortError{Method: att.method, Resource: att.resource, cause: err}
	}
	return err
}

// validateResponse runs the headers-only validation before the body is
// exposed. The validator receives a view with the body detached, so it
// cannot consume it.
func (att *attempt) validateResponse(httpResp *http.Response) (*Response, error) {
	st := att.op.state
	v := st.Options.Validate
	if v == nil || (!v.OK && v.Response == nil) {
		return nil, nil
	}

	view := *httpResp
	view.Body = nil
	vresp := &Response{Response: &view, att: att, state: st, bodyRead: true}

	if v.OK && !vresp.IsSuccess() {
		return vresp, &HTTPStatusError{
			StatusCode: httpResp.StatusCode,
			Status:     statusText(httpResp),
			Method:     att.method,
			Resource:   att.resource,
			Attempts:   st.Attempt,
			Response:   vresp,
		}
	}
	if v.Response != nil {
		if err := v.Response(vresp, st); err != nil {
			return vresp, err
		}
	}
	return nil, nil
}

// isBodyless reports responses that must never be wrapped in a body
// stream: statuses that forbid a body, and responses with no body on
// the wire.
func isBodyless(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusSwitchingProtocols,
		http.StatusEarlyHints,
		http.StatusNoContent,
		http.StatusResetContent,
		http.StatusNotModified:
		return true
	}
	return resp.Body == nil || resp.Body == http.NoBody
}
