package fetchextra

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// decideRetry consults the state's retry policy for a failed attempt.
//
// With a plain attempt ceiling the boundary is exact: at attempt == N
// no retry happens, so a ceiling of N permits exactly N attempts. With
// a decision function, a returned error or panic is swallowed and
// treated as "stop" — the attempt's own error propagates, never the
// decision function's.
func (c *Client) decideRetry(st *State, err error, resp *Response) RetryDecision {
	if fn := st.Options.RetryFunc; fn != nil {
		d, derr := runRetryFunc(fn, RetryEvent{State: st, Err: err, Response: resp})
		if derr != nil {
			c.logger.Debug().
				Err(derr).
				Str("id", st.ID).
				Int("attempt", st.Attempt).
				Msg("retry decision failed, not retrying")
			return RetryDecision{}
		}
		// The mutation form implies retry.
		if d.Resource != "" || d.Options != nil {
			d.Retry = true
		}
		return d
	}

	if st.Attempt < st.Options.Retry {
		return RetryDecision{Retry: true}
	}
	return RetryDecision{}
}

// runRetryFunc shields the attempt loop from panics in user decision code.
func runRetryFunc(fn RetryFunc, ev RetryEvent) (d RetryDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = RetryDecision{}
			err = fmt.Errorf("retry decision panicked: %v", r)
		}
	}()
	return fn(ev)
}

// applyDecision merges an approved retry decision into the state. This
// is the one contracted mutation point for Resource and Options.
func (op *operation) applyDecision(d RetryDecision) {
	if d.Resource != "" {
		op.state.Resource = d.Resource
	}
	op.state.Options.applyPatch(d.Options)
}

// waitBackoff sleeps for the configured inter-attempt backoff, if any.
// Returning an error declines the retry; the caller propagates the
// attempt's original error, not this one.
func (op *operation) waitBackoff(ctx context.Context) error {
	if op.client.newBackOff == nil {
		return nil
	}
	if op.bo == nil {
		op.bo = op.client.newBackOff()
		op.bo.Reset()
	}

	d := op.bo.NextBackOff()
	if d == backoff.Stop {
		return fmt.Errorf("retry backoff exhausted after %d attempts", op.state.Attempt)
	}
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// DefaultBackOff returns an exponential inter-attempt backoff with
// jitter, suitable for WithRetryBackOff.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5
	return b
}
