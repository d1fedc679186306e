package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// TestTimerFiresOnMockClock confirms the callback runs once the mock
// clock advances past the scheduled duration.
func TestTimerFiresOnMockClock(t *testing.T) {
	mock := clock.NewMock()
	fired := make(chan struct{})
	NewTimer(mock, 5*time.Second, func() { close(fired) })

	mock.Add(4 * time.Second)
	select {
	case <-fired:
		t.Fatalf("timer fired early")
	default:
	}

	mock.Add(2 * time.Second)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("timer never fired")
	}
}

// TestTimerCancelBeforeFireWins confirms Cancel beats a not-yet-fired
// timer and the callback never runs.
func TestTimerCancelBeforeFireWins(t *testing.T) {
	mock := clock.NewMock()
	fired := false
	timer := NewTimer(mock, 5*time.Second, func() { fired = true })

	if !timer.Cancel() {
		t.Fatalf("expected first Cancel to win the race")
	}
	if timer.Cancel() {
		t.Fatalf("expected second Cancel to report it already lost")
	}

	mock.Add(10 * time.Second)
	if fired {
		t.Fatalf("cancelled timer must never fire")
	}
}

// TestTimerFireBeatsLateCancel runs many goroutines racing Cancel against
// the real clock firing, and asserts exactly one of {fired, cancelled}
// ever wins — never both, never neither.
func TestTimerFireBeatsLateCancel(t *testing.T) {
	realClock := clock.New()
	for i := 0; i < 200; i++ {
		var mu sync.Mutex
		fired := false
		timer := NewTimer(realClock, time.Millisecond, func() {
			mu.Lock()
			fired = true
			mu.Unlock()
		})
		time.Sleep(2 * time.Millisecond)
		cancelled := timer.Cancel()

		mu.Lock()
		f := fired
		mu.Unlock()
		if cancelled && f {
			t.Fatalf("both cancel and fire won on iteration %d", i)
		}
		if !cancelled && !f {
			t.Fatalf("neither cancel nor fire won on iteration %d", i)
		}
	}
}
