package fetchextra

import (
	"io"
	"sync/atomic"
)

// drainLimit bounds how much of an abandoned body is consumed before
// closing, so the underlying connection stays reusable without reading
// arbitrarily large payloads.
const drainLimit = 100 * 1024

// trackedBody wraps a response body stream to:
//  1. Count the bytes transferred without altering them
//  2. Re-arm the stall clock on every chunk
//  3. Translate clock-induced aborts into *TimeoutError
//  4. Settle the operation exactly once from the stream side, unless a
//     materialization call currently owns completion signaling
type trackedBody struct {
	body     io.ReadCloser
	state    *State
	clocks   *clockSet
	att      *attempt
	finished atomic.Bool
}

var _ io.ReadCloser = (*trackedBody)(nil)

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 {
		b.state.bytes.Add(int64(n))
		// Re-arm before the caller can issue the next read, so no
		// chunk can be lost between disarm and rearm.
		b.clocks.arm(ClockStall)
	}

	switch err {
	case nil:
	case io.EOF:
		b.finish(nil)
	default:
		err = b.att.translateErr(err)
		b.finish(err)
	}
	return n, err
}

// Close closes the underlying stream. Closing before EOF is abandonment,
// not completion: it never settles the operation. A bounded drain runs
// first so the connection stays reusable.
func (b *trackedBody) Close() error {
	_, _ = io.CopyN(io.Discard, b.body, drainLimit)
	return b.body.Close()
}

// finish ends the body phase exactly once: disarms the body-phase clocks
// and settles the operation unless the interceptor owns signaling.
func (b *trackedBody) finish(err error) {
	if !b.finished.CompareAndSwap(false, true) {
		return
	}
	b.clocks.disarm(ClockBody)
	b.clocks.disarm(ClockStall)
	b.clocks.disarm(ClockOverall)
	b.att.cancel()

	if b.state.consuming.Load() {
		return
	}
	b.state.settle(err)
}

// drainBody consumes up to drainLimit bytes and closes the stream. This
// is a resource-safety action, not a protocol signal: it never settles
// the operation's completion.
func drainBody(rc io.ReadCloser) {
	if rc == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, rc, drainLimit)
	_ = rc.Close()
}
