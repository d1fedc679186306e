package p2p

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ironledger/ironchain/internal/reactor"
)

// TestReactorDirectSchedulerSatisfiesScheduler confirms
// reactor.DirectScheduler can drive an Initiator's handshake timeouts on a
// fakeable clock instead of p2p's own real-time default.
func TestReactorDirectSchedulerSatisfiesScheduler(t *testing.T) {
	mock := clock.NewMock()
	var _ Scheduler = reactor.NewDirectScheduler(mock)

	table := NewRoutingTable()
	in := NewInitiator("self:1", table, dropTransport{})
	in.scheduler = reactor.NewDirectScheduler(mock)

	const addr = "unreachable:1"
	if err := in.Begin(addr); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, ok := table.Get(addr); !ok {
		t.Fatalf("expected candidate entry before timeout")
	}

	mock.Add(DefaultRequestTimeout + time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := table.Get(addr); !ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected candidate to be dropped once the mock clock passes the handshake timeout")
}
