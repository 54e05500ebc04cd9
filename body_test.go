package fetchextra

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAttempt(st *State, budgets Timeouts) *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	op := &operation{client: New(), state: st}
	att := &attempt{op: op, ctx: ctx, cancel: cancel, method: "GET", resource: st.Resource}
	att.clocks = newClockSet(budgets, cancel)
	return att
}

func TestTrackedBody_CountsBytesAndSettles(t *testing.T) {
	t.Run("given full read to EOF, then bytes counted and completion resolves", func(t *testing.T) {
		st := newState("https://example.com", &Options{})
		st.beginAttempt()
		st.beginBody()
		att := newTestAttempt(st, Timeouts{})

		tb := &trackedBody{
			body:   io.NopCloser(strings.NewReader("hello world")),
			state:  st,
			clocks: att.clocks,
			att:    att,
		}

		data, err := io.ReadAll(tb)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
		assert.Equal(t, int64(11), st.Bytes())

		stats, err := st.done.wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(11), stats.Size)
	})
}

func TestTrackedBody_ConsumingFlagDefersSettling(t *testing.T) {
	t.Run("given a materialization in flight, then EOF does not settle", func(t *testing.T) {
		st := newState("https://example.com", &Options{})
		st.beginAttempt()
		st.beginBody()
		st.consuming.Store(true)
		att := newTestAttempt(st, Timeouts{})

		tb := &trackedBody{
			body:   io.NopCloser(bytes.NewReader([]byte("x"))),
			state:  st,
			clocks: att.clocks,
			att:    att,
		}

		_, err := io.ReadAll(tb)
		require.NoError(t, err)
		assert.False(t, st.done.settled())
	})
}

func TestTrackedBody_StreamErrorSettlesFailure(t *testing.T) {
	t.Run("given a read error, then completion rejects with it", func(t *testing.T) {
		st := newState("https://example.com", &Options{})
		st.beginAttempt()
		st.beginBody()
		att := newTestAttempt(st, Timeouts{})

		cause := errors.New("connection reset")
		tb := &trackedBody{
			body:   &failingReader{err: cause},
			state:  st,
			clocks: att.clocks,
			att:    att,
		}

		_, err := io.ReadAll(tb)
		require.ErrorIs(t, err, cause)

		_, werr := st.done.wait(context.Background())
		require.ErrorIs(t, werr, cause)
	})
}

func TestTrackedBody_ClockAbortTranslates(t *testing.T) {
	t.Run("given abort with a recorded clock, then error becomes TimeoutError", func(t *testing.T) {
		st := newState("https://example.com", &Options{})
		st.beginAttempt()
		st.beginBody()
		att := newTestAttempt(st, Timeouts{Stall: time.Hour})

		// Simulate the stall clock winning the abort race.
		att.clocks.fire(ClockStall)

		tb := &trackedBody{
			body:   &failingReader{err: context.Canceled},
			state:  st,
			clocks: att.clocks,
			att:    att,
		}

		_, err := io.ReadAll(tb)
		var terr *TimeoutError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, ClockStall, terr.Clock)
	})
}

func TestTrackedBody_CloseWithoutEOFDoesNotSettle(t *testing.T) {
	t.Run("given close before EOF, then completion stays pending", func(t *testing.T) {
		st := newState("https://example.com", &Options{})
		st.beginAttempt()
		st.beginBody()
		att := newTestAttempt(st, Timeouts{})

		tb := &trackedBody{
			body:   io.NopCloser(strings.NewReader("abandoned")),
			state:  st,
			clocks: att.clocks,
			att:    att,
		}

		require.NoError(t, tb.Close())
		assert.False(t, st.done.settled())
	})

	t.Run("given close before EOF, then the stream is drained within the limit", func(t *testing.T) {
		st := newState("https://example.com", &Options{})
		st.beginAttempt()
		st.beginBody()
		att := newTestAttempt(st, Timeouts{})

		src := &countingReader{r: io.LimitReader(neverEnding('a'), 10*drainLimit)}
		tb := &trackedBody{
			body:   src,
			state:  st,
			clocks: att.clocks,
			att:    att,
		}

		require.NoError(t, tb.Close())
		assert.Equal(t, int64(drainLimit), src.read)
		assert.True(t, src.closed)
		// Drained bytes are abandonment, not transfer progress.
		assert.Equal(t, int64(0), st.Bytes())
		assert.False(t, st.done.settled())
	})
}

func TestTrackedBody_FinishOnlyOnce(t *testing.T) {
	t.Run("given EOF then error, then only the first outcome settles", func(t *testing.T) {
		st := newState("https://example.com", &Options{})
		st.beginAttempt()
		st.beginBody()
		att := newTestAttempt(st, Timeouts{})

		tb := &trackedBody{
			body:   io.NopCloser(strings.NewReader("x")),
			state:  st,
			clocks: att.clocks,
			att:    att,
		}
		_, err := io.ReadAll(tb)
		require.NoError(t, err)

		tb.finish(errors.New("late error"))

		_, werr := st.done.wait(context.Background())
		assert.NoError(t, werr)
	})
}

func TestDrainBody(t *testing.T) {
	t.Run("given oversized stream, then drain stops at the limit", func(t *testing.T) {
		src := &countingReader{r: io.LimitReader(neverEnding('a'), 10*drainLimit)}
		drainBody(src)

		assert.LessOrEqual(t, src.read, int64(drainLimit))
		assert.True(t, src.closed)
	})

	t.Run("given nil stream, then drain is a no-op", func(t *testing.T) {
		drainBody(nil)
	})
}

type failingReader struct {
	err error
}

func (r *failingReader) Read(_ []byte) (int, error) { return 0, r.err }
func (r *failingReader) Close() error               { return nil }

type countingReader struct {
	r      io.Reader
	read   int64
	closed bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	return n, err
}

func (c *countingReader) Close() error {
	c.closed = true
	return nil
}

// neverEnding yields an endless stream of one byte.
type neverEnding byte

func (b neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}
