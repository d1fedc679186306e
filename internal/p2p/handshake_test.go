package p2p

import (
	"testing"
	"time"
)

// loopbackTransport delivers every WriteTo call straight into the peer
// Initiator's HandleDatagram, modeling two nodes on an instant, reliable
// link for deterministic handshake tests. fromAddr is the address the
// owning Initiator is known as on that link.
type loopbackTransport struct {
	peer     *Initiator
	fromAddr string
}

func (t *loopbackTransport) WriteTo(addr string, data []byte) error {
	return t.peer.HandleDatagram(t.fromAddr, data)
}

// dropTransport is a black hole: it accepts every datagram and delivers
// none, modeling a peer that never answers.
type dropTransport struct{}

func (dropTransport) WriteTo(string, []byte) error { return nil }

// TestHandshakeReachesEstablishedSessionShared drives spec.md §8 scenario
// 5: two strangers run the UDP handshake and both routing tables land on
// a matching session once the nonce exchange completes.
func TestHandshakeReachesEstablishedSessionShared(t *testing.T) {
	tableA := NewRoutingTable()
	tableB := NewRoutingTable()

	const addrA = "10.0.0.1:9000"
	const addrB = "10.0.0.2:9000"

	initA := NewInitiator(addrA, tableA, nil)
	initB := NewInitiator(addrB, tableB, nil)
	initA.transport = &loopbackTransport{peer: initB, fromAddr: addrA}
	initB.transport = &loopbackTransport{peer: initA, fromAddr: addrB}

	if err := initA.Begin(addrB); err != nil {
		t.Fatalf("begin handshake: %v", err)
	}

	entryA, ok := tableA.Get(addrB)
	if !ok {
		t.Fatalf("expected entry for peer B in table A")
	}
	entryB, ok := tableB.Get(addrA)
	if !ok {
		t.Fatalf("expected entry for peer A in table B")
	}

	if entryA.currentState() != SessionShared {
		t.Fatalf("expected A's view of B to be SessionShared, got %s", entryA.currentState())
	}
	if entryB.currentState() != SessionShared {
		t.Fatalf("expected B's view of A to be SessionShared, got %s", entryB.currentState())
	}

	entryA.mu.RLock()
	sessionA := entryA.Session
	entryA.mu.RUnlock()
	entryB.mu.RLock()
	sessionB := entryB.Session
	entryB.mu.RUnlock()

	if sessionA.Secret != sessionB.Secret {
		t.Fatalf("shared secrets diverged between A and B")
	}
	if sessionA.Nonce != sessionB.Nonce {
		t.Fatalf("session nonces diverged between A and B")
	}
}

// TestHandshakeTimeoutDropsCandidate uses a fake scheduler to fire the
// per-request timeout immediately and confirms the candidate is removed.
func TestHandshakeTimeoutDropsCandidate(t *testing.T) {
	table := NewRoutingTable()
	in := NewInitiator("self:1", table, dropTransport{})

	var fired func()
	in.scheduler = fakeScheduler{capture: &fired}

	const addr = "unreachable:1"
	if err := in.Begin(addr); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, ok := table.Get(addr); !ok {
		t.Fatalf("expected candidate entry to exist before timeout")
	}
	if fired == nil {
		t.Fatalf("expected scheduler to have captured a timeout callback")
	}
	fired()
	if _, ok := table.Get(addr); ok {
		t.Fatalf("expected candidate to be dropped after timeout")
	}
}

type fakeScheduler struct {
	capture *func()
}

func (f fakeScheduler) ScheduleOnce(_ time.Duration, fn func()) func() {
	*f.capture = fn
	return func() {}
}
