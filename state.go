package fetchextra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TransferStats summarizes a settled operation. Computed exactly once,
// when the operation's completion settles.
type TransferStats struct {
	// Size is the number of body bytes transferred by the final attempt.
	Size int64

	// Duration is the elapsed time of the whole logical operation,
	// including retries.
	Duration time.Duration

	// Speed is the transfer rate in bytes per second, floor-guarded
	// against zero-duration transfers.
	Speed float64

	// Attempts is the number of attempts the operation made.
	Attempts int
}

// State tracks one logical fetch operation. A State is created once per
// call and survives across retries; only the retry decision is allowed
// to mutate Resource and Options, between attempts.
type State struct {
	// ID is a stable operation identifier, assigned once.
	ID string

	// Attempt is the 1-based attempt counter.
	Attempt int

	// Resource is the current target URL.
	Resource string

	// Options is the current request configuration.
	Options *Options

	startTS time.Time // start of the current attempt's request phase
	bodyTS  time.Time // start of the current attempt's body phase
	opStart time.Time // start of the whole operation

	bytes atomic.Int64

	// consuming is set while a materialization call owns completion
	// signaling, so the stream-side signaler backs off.
	consuming atomic.Bool

	done *completion
}

func newState(resource string, opts *Options) *State {
	return &State{
		ID:       uuid.NewString(),
		Resource: resource,
		Options:  opts,
		opStart:  time.Now(),
		done:     newCompletion(),
	}
}

// beginAttempt resets the attempt-scoped fields and increments the counter.
func (s *State) beginAttempt() {
	s.Attempt++
	s.startTS = time.Now()
	s.bodyTS = time.Time{}
	s.bytes.Store(0)
}

// beginBody marks the start of the current attempt's body phase.
func (s *State) beginBody() {
	s.bodyTS = time.Now()
}

// Bytes returns the number of body bytes transferred so far in the
// current attempt.
func (s *State) Bytes() int64 { return s.bytes.Load() }

func (s *State) requestPhase() time.Duration {
	if s.startTS.IsZero() {
		return 0
	}
	if s.bodyTS.IsZero() {
		return time.Since(s.startTS)
	}
	return s.bodyTS.Sub(s.startTS)
}

func (s *State) bodyPhase() time.Duration {
	if s.bodyTS.IsZero() {
		return 0
	}
	return time.Since(s.bodyTS)
}

// statsNow snapshots transfer statistics for the operation as of now.
func (s *State) statsNow() *TransferStats {
	size := s.bytes.Load()
	dur := time.Since(s.opStart)
	secs := dur.Seconds()
	if secs < 0.001 {
		secs = 0.001
	}
	return &TransferStats{
		Size:     size,
		Duration: dur,
		Speed:    float64(size) / secs,
		Attempts: s.Attempt,
	}
}

// settle settles the operation's completion exactly once. A nil error
// resolves with success statistics; otherwise the error is annotated
// with the final statistics and the completion rejects. Later calls are
// no-ops, so the stream-side and interceptor-side signalers can never
// both win.
func (s *State) settle(err error) *TransferStats {
	stats := s.statsNow()
	if err != nil {
		attachStats(err, stats)
	}
	s.done.settle(stats, err)
	return stats
}

// completion is a promise that settles exactly once per logical
// operation. Every waiter observes the same outcome.
type completion struct {
	once  sync.Once
	done  chan struct{}
	stats *TransferStats
	err   error
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

func (c *completion) settle(stats *TransferStats, err error) {
	c.once.Do(func() {
		c.stats = stats
		c.err = err
		close(c.done)
	})
}

func (c *completion) wait(ctx context.Context) (*TransferStats, error) {
	select {
	case <-c.done:
		return c.stats, c.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (c *completion) settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
