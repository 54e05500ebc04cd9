package fetchextra

import (
	"sync"
	"time"
)

// Clock names one of the four timeout phases.
type Clock string

const (
	// ClockOverall spans a whole attempt: request phase plus body phase.
	ClockOverall Clock = "overall"

	// ClockRequest covers connection establishment and response headers.
	ClockRequest Clock = "request"

	// ClockBody covers the total body-transfer duration.
	ClockBody Clock = "body"

	// ClockStall fires on lack of forward byte progress, not on total
	// duration. It is re-armed on every received chunk.
	ClockStall Clock = "stall"
)

// Timeouts holds the per-phase millisecond budgets. A zero budget means
// the corresponding clock is never armed.
type Timeouts struct {
	Overall time.Duration
	Request time.Duration
	Body    time.Duration
	Stall   time.Duration
}

func (t Timeouts) budget(c Clock) time.Duration {
	switch c {
	case ClockOverall:
		return t.Overall
	case ClockRequest:
		return t.Request
	case ClockBody:
		return t.Body
	case ClockStall:
		return t.Stall
	}
	return 0
}

// clockSet multiplexes up to four named timers onto one attempt's
// cancellation. The first clock to fire wins the shared abort and is
// recorded; the abort itself carries no reason, so the recorded name is
// what gets attached to the resulting error.
type clockSet struct {
	mu      sync.Mutex
	budgets Timeouts
	timers  map[Clock]*time.Timer
	fired   Clock
	stopped bool
	abort   func()
}

func newClockSet(budgets Timeouts, abort func()) *clockSet {
	return &clockSet{
		budgets: budgets,
		timers:  make(map[Clock]*time.Timer, 4),
		abort:   abort,
	}
}

// arm starts the named clock with its configured budget. Arming an
// already-armed clock restarts it from now (the stall rearm semantics).
// Clocks without a budget never arm.
func (cs *clockSet) arm(c Clock) {
	d := cs.budgets.budget(c)
	if d <= 0 {
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.stopped {
		return
	}
	if t, ok := cs.timers[c]; ok {
		t.Stop()
	}
	cs.timers[c] = time.AfterFunc(d, func() { cs.fire(c) })
}

// disarm cancels the named clock without recording a firing.
func (cs *clockSet) disarm(c Clock) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if t, ok := cs.timers[c]; ok {
		t.Stop()
		delete(cs.timers, c)
	}
}

// stopAll disarms every clock. Used when the attempt ends for a reason
// other than a timeout.
func (cs *clockSet) stopAll() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.stopped = true
	for c, t := range cs.timers {
		t.Stop()
		delete(cs.timers, c)
	}
}

// firedClock returns the name of the clock that won the abort race, or
// the empty string when no clock has fired.
func (cs *clockSet) firedClock() Clock {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.fired
}

func (cs *clockSet) fire(c Clock) {
	cs.mu.Lock()
	if cs.stopped || cs.fired != "" {
		cs.mu.Unlock()
		return
	}
	cs.fired = c
	cs.mu.Unlock()

	cs.abort()
}
