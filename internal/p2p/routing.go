// Package p2p implements spec.md §4.6's peer transport: a UDP session
// initiator that walks a candidate peer through the routing-table states,
// and a TCP signed/encrypted stream for everything after.
package p2p

import (
	"fmt"
	"sync"

	"github.com/ironledger/ironchain/internal/ironerr"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// State is one position in the per-peer routing-table state machine.
type State int

const (
	Candidate State = iota
	KeyPairShared
	SecretShared
	TemporaryNonceShared
	SessionShared
	Establishing
	Established
	Banned
)

func (s State) String() string {
	switch s {
	case Candidate:
		return "candidate"
	case KeyPairShared:
		return "keypair_shared"
	case SecretShared:
		return "secret_shared"
	case TemporaryNonceShared:
		return "temp_nonce_shared"
	case SessionShared:
		return "session_shared"
	case Establishing:
		return "establishing"
	case Established:
		return "established"
	case Banned:
		return "banned"
	default:
		return "unknown"
	}
}

// rank gives every non-terminal state its position in the monotonic
// ladder; Banned and the explicit reset_session transition are handled
// separately since they are not monotonic.
func (s State) rank() int { return int(s) }

// PeerEntry is one routing-table slot. Its own RWMutex lets unrelated
// peers' state transitions proceed without blocking each other, per
// spec.md §5's outer-before-inner lock order.
type PeerEntry struct {
	mu sync.RWMutex

	Addr  string
	State State

	EphemeralPriv xcrypto.PrivateKey
	PeerPubKey    xcrypto.PublicKey
	Secret        [32]byte
	TempSession   xcrypto.Session
	Session       xcrypto.Session

	NodeID string
}

func newPeerEntry(addr string) *PeerEntry {
	return &PeerEntry{Addr: addr, State: Candidate}
}

// transition moves the entry from `from` to `to` if `from` matches the
// current state and the move is monotonic (or an explicitly-allowed
// exception), returning false otherwise. Banned addresses reject every
// transition except explicit unban.
func (e *PeerEntry) transition(from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State == Banned && to != Candidate {
		return false
	}
	if e.State != from {
		return false
	}
	if to == Banned {
		e.State = Banned
		return true
	}
	if from == Establishing && to == SessionShared {
		// reset_session: the one permitted backward transition.
		e.State = to
		return true
	}
	if to.rank() != from.rank()+1 {
		return false
	}
	e.State = to
	return true
}

func (e *PeerEntry) currentState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.State
}

// RoutingTable is the outer RWMutex over every known peer's entry, per
// spec.md §5: where both locks are held (as in Established), the outer
// lock is always taken before an entry's own lock, never the reverse.
type RoutingTable struct {
	mu    sync.RWMutex
	peers map[string]*PeerEntry
}

// NewRoutingTable builds an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{peers: make(map[string]*PeerEntry)}
}

// GetOrCreate returns the entry for addr, creating it as Candidate if
// absent.
func (t *RoutingTable) GetOrCreate(addr string) *PeerEntry {
	t.mu.RLock()
	e, ok := t.peers[addr]
	t.mu.RUnlock()
	if ok {
		return e
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.peers[addr]; ok {
		return e
	}
	e = newPeerEntry(addr)
	t.peers[addr] = e
	return e
}

// Get returns the entry for addr without creating one.
func (t *RoutingTable) Get(addr string) (*PeerEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.peers[addr]
	return e, ok
}

// Ban transitions addr straight to Banned from whatever state it is in
// (MAC failures ban immediately, per spec.md §7).
func (t *RoutingTable) Ban(addr string) {
	e := t.GetOrCreate(addr)
	e.mu.Lock()
	e.State = Banned
	e.mu.Unlock()
}

// Unban returns a Banned address to Candidate, the only transition a
// Banned entry accepts.
func (t *RoutingTable) Unban(addr string) error {
	e, ok := t.Get(addr)
	if !ok {
		return fmt.Errorf("p2p: unknown peer %s", addr)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State != Banned {
		return fmt.Errorf("p2p: %w: %s is not banned", ironerr.ErrPeerBanned, addr)
	}
	e.State = Candidate
	return nil
}

// Drop removes addr's entry entirely — used when a handshake request
// times out, per spec.md §4.6's "on expiry the candidate is dropped."
func (t *RoutingTable) Drop(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, addr)
}

// Established lists every peer currently in the Established state.
func (t *RoutingTable) Established() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.peers))
	for addr, e := range t.peers {
		if e.currentState() == Established {
			out = append(out, addr)
		}
	}
	return out
}
