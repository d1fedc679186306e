package p2p

import "testing"

func TestPeerEntryTransitionLadderIsMonotonic(t *testing.T) {
	e := newPeerEntry("peer:1")
	ladder := []State{Candidate, KeyPairShared, SecretShared, TemporaryNonceShared, SessionShared, Establishing, Established}
	for i := 1; i < len(ladder); i++ {
		if !e.transition(ladder[i-1], ladder[i]) {
			t.Fatalf("expected transition %s -> %s to succeed", ladder[i-1], ladder[i])
		}
	}
	if e.transition(Established, Candidate) {
		t.Fatalf("expected backward transition to Candidate to be rejected")
	}
}

func TestPeerEntryResetSessionIsTheOnlyBackwardMove(t *testing.T) {
	e := newPeerEntry("peer:1")
	for _, to := range []State{KeyPairShared, SecretShared, TemporaryNonceShared, SessionShared, Establishing} {
		from := e.currentState()
		if !e.transition(from, to) {
			t.Fatalf("setup transition %s -> %s failed", from, to)
		}
	}
	if !e.transition(Establishing, SessionShared) {
		t.Fatalf("expected reset_session (Establishing -> SessionShared) to succeed")
	}
	if e.transition(SessionShared, TemporaryNonceShared) {
		t.Fatalf("expected SessionShared -> TemporaryNonceShared to be rejected (not a valid backward move)")
	}
}

func TestRoutingTableBanRejectsEveryTransitionButUnban(t *testing.T) {
	table := NewRoutingTable()
	table.Ban("bad-peer:1")
	e, ok := table.Get("bad-peer:1")
	if !ok {
		t.Fatalf("expected banned entry to exist")
	}
	if e.transition(Candidate, KeyPairShared) {
		t.Fatalf("expected banned entry to reject a forward transition")
	}
	if err := table.Unban("bad-peer:1"); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if e.currentState() != Candidate {
		t.Fatalf("expected unbanned entry to return to Candidate, got %s", e.currentState())
	}
}

// TestSessionExclusivity checks spec.md §8's testable property: for any
// peer address, at most one of {SessionShared, Establishing, Established}
// holds at a time — the ladder transitions are one-way within that band,
// so no entry can straddle two of them simultaneously.
func TestSessionExclusivity(t *testing.T) {
	e := newPeerEntry("peer:1")
	exclusive := map[State]bool{SessionShared: true, Establishing: true, Established: true}
	count := func() int {
		if exclusive[e.currentState()] {
			return 1
		}
		return 0
	}
	for _, to := range []State{KeyPairShared, SecretShared, TemporaryNonceShared, SessionShared, Establishing, Established} {
		from := e.currentState()
		if !e.transition(from, to) {
			t.Fatalf("transition %s -> %s failed", from, to)
		}
		if n := count(); n > 1 {
			t.Fatalf("entry occupies more than one exclusive state at once")
		}
	}
}

func TestRoutingTableDropRemovesEntry(t *testing.T) {
	table := NewRoutingTable()
	table.GetOrCreate("stale:1")
	table.Drop("stale:1")
	if _, ok := table.Get("stale:1"); ok {
		t.Fatalf("expected dropped entry to be gone")
	}
}
