package reactor

import (
	"time"

	"github.com/benbjohnson/clock"
)

// DirectScheduler adapts a Timer to p2p.Scheduler's ScheduleOnce(d, fn)
// (cancel func()) shape, so the UDP handshake's per-request timeouts run
// on the same fakeable clock as everything else in the node rather than
// p2p's own real-time-only default.
type DirectScheduler struct {
	clk clock.Clock
}

// NewDirectScheduler builds a scheduler backed by clk.
func NewDirectScheduler(clk clock.Clock) DirectScheduler {
	return DirectScheduler{clk: clk}
}

// ScheduleOnce arms fn to run after d and returns a cancel function.
func (s DirectScheduler) ScheduleOnce(d time.Duration, fn func()) func() {
	t := NewTimer(s.clk, d, fn)
	return func() { t.Cancel() }
}
