// Package reactor drives the node's single-threaded event loop: the one
// goroutine that owns tendermint.State, fed by registered stream and timer
// tokens, with a bounded worker pool doing the actual (potentially slow)
// handler work off that thread per spec.md §5.
package reactor

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// timerState is the Wait/Timeout/Cancelled machine spec.md §5 requires:
// firing and cancellation race for the same underlying clock.Timer, so
// both paths must check-and-set this field under the same lock.
type timerState int32

const (
	timerWaiting timerState = iota
	timerFired
	timerCancelled
)

// Timer is a single cancellable, fakeable-clock-backed timeout. The zero
// value is not usable; build one with NewTimer.
type Timer struct {
	mu    sync.Mutex
	state timerState
	inner *clock.Timer
}

// NewTimer schedules fn to run after d elapses on clk, returning a Timer
// whose Cancel is safe to call concurrently with fn firing — at most one
// of "fn runs" or "Cancel returns true" happens, never both.
func NewTimer(clk clock.Clock, d time.Duration, fn func()) *Timer {
	t := &Timer{state: timerWaiting}
	t.inner = clk.AfterFunc(d, func() {
		t.mu.Lock()
		if t.state != timerWaiting {
			t.mu.Unlock()
			return
		}
		t.state = timerFired
		t.mu.Unlock()
		fn()
	})
	return t
}

// Cancel stops the timer before it fires, returning true if it won the
// race against firing (false if the timer had already fired or was
// already cancelled).
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != timerWaiting {
		return false
	}
	t.state = timerCancelled
	t.inner.Stop()
	return true
}

// Fired reports whether the timer's callback has run to completion (or
// is in the process of running).
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == timerFired
}
