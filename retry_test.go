package fetchextra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideRetry_Ceiling(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		ceiling int
		want    bool
	}{
		{name: "given first attempt under ceiling, then retry", attempt: 1, ceiling: 3, want: true},
		{name: "given attempt at ceiling, then stop", attempt: 3, ceiling: 3, want: false},
		{name: "given no ceiling, then stop", attempt: 1, ceiling: 0, want: false},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newState("https://example.com", &Options{Retry: tt.ceiling})
			st.Attempt = tt.attempt

			d := c.decideRetry(st, errors.New("boom"), nil)
			assert.Equal(t, tt.want, d.Retry)
		})
	}
}

func TestDecideRetry_Func(t *testing.T) {
	c := New()

	t.Run("given decision function, then it overrides the ceiling", func(t *testing.T) {
		st := newState("https://example.com", &Options{
			Retry:     5,
			RetryFunc: func(RetryEvent) (RetryDecision, error) { return RetryDecision{}, nil },
		})
		st.Attempt = 1

		d := c.decideRetry(st, errors.New("boom"), nil)
		assert.False(t, d.Retry)
	})

	t.Run("given mutation without explicit retry, then retry is implied", func(t *testing.T) {
		st := newState("https://example.com", &Options{
			RetryFunc: func(RetryEvent) (RetryDecision, error) {
				return RetryDecision{Resource: "https://fallback.example.com"}, nil
			},
		})
		st.Attempt = 1

		d := c.decideRetry(st, errors.New("boom"), nil)
		assert.True(t, d.Retry)
		assert.Equal(t, "https://fallback.example.com", d.Resource)
	})

	t.Run("given decision error, then retry is declined", func(t *testing.T) {
		st := newState("https://example.com", &Options{
			RetryFunc: func(RetryEvent) (RetryDecision, error) {
				return RetryDecision{Retry: true}, errors.New("policy lookup failed")
			},
		})
		st.Attempt = 1

		d := c.decideRetry(st, errors.New("boom"), nil)
		assert.False(t, d.Retry)
	})

	t.Run("given decision panic, then retry is declined", func(t *testing.T) {
		st := newState("https://example.com", &Options{
			RetryFunc: func(RetryEvent) (RetryDecision, error) { panic("oops") },
		})
		st.Attempt = 1

		d := c.decideRetry(st, errors.New("boom"), nil)
		assert.False(t, d.Retry)
	})

	t.Run("given event, then it carries the failure and the state", func(t *testing.T) {
		cause := errors.New("boom")
		var got RetryEvent
		st := newState("https://example.com", &Options{
			RetryFunc: func(ev RetryEvent) (RetryDecision, error) {
				got = ev
				return RetryDecision{}, nil
			},
		})
		st.Attempt = 2

		c.decideRetry(st, cause, nil)
		require.Same(t, st, got.State)
		assert.ErrorIs(t, got.Err, cause)
	})
}

func TestApplyDecision(t *testing.T) {
	t.Run("given resource and patch, then state mutates for the next attempt", func(t *testing.T) {
		st := newState("https://primary.example.com", (&Options{
			Headers: map[string][]string{"X-Base": {"1"}},
		}).clone())
		op := &operation{client: New(), state: st}

		op.applyDecision(RetryDecision{
			Resource: "https://mirror.example.com",
			Options: &OptionsPatch{
				Headers: map[string][]string{"Authorization": {"Bearer fresh"}},
			},
		})

		assert.Equal(t, "https://mirror.example.com", st.Resource)
		assert.Equal(t, "Bearer fresh", st.Options.Headers.Get("Authorization"))
		assert.Equal(t, "1", st.Options.Headers.Get("X-Base"))
	})
}

func TestWaitBackoff(t *testing.T) {
	t.Run("given no backoff factory, then retries are immediate", func(t *testing.T) {
		op := &operation{client: New(), state: newState("https://example.com", &Options{})}

		start := time.Now()
		require.NoError(t, op.waitBackoff(context.Background()))
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("given exhausted backoff, then the retry is declined", func(t *testing.T) {
		c := New(WithRetryBackOff(func() backoff.BackOff {
			return &stopBackOff{}
		}))
		op := &operation{client: c, state: newState("https://example.com", &Options{})}

		require.Error(t, op.waitBackoff(context.Background()))
	})

	t.Run("given cancelled context, then the wait aborts", func(t *testing.T) {
		c := New(WithRetryBackOff(func() backoff.BackOff {
			return backoff.NewConstantBackOff(time.Hour)
		}))
		op := &operation{client: c, state: newState("https://example.com", &Options{})}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := op.waitBackoff(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("given a factory, then one instance serves the whole operation", func(t *testing.T) {
		calls := 0
		c := New(WithRetryBackOff(func() backoff.BackOff {
			calls++
			return backoff.NewConstantBackOff(0)
		}))
		op := &operation{client: c, state: newState("https://example.com", &Options{})}

		require.NoError(t, op.waitBackoff(context.Background()))
		require.NoError(t, op.waitBackoff(context.Background()))
		assert.Equal(t, 1, calls)
	})
}

func TestDefaultBackOff(t *testing.T) {
	t.Run("given defaults, then intervals grow and stay bounded", func(t *testing.T) {
		b := DefaultBackOff()
		for i := 0; i < 20; i++ {
			d := b.NextBackOff()
			require.NotEqual(t, backoff.Stop, d)
			assert.LessOrEqual(t, d, 15*time.Second)
		}
	})
}

type stopBackOff struct{}

func (*stopBackOff) NextBackOff() time.Duration { return backoff.Stop }
func (*stopBackOff) Reset()                     {}
