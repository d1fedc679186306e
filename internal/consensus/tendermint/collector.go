package tendermint

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/ironledger/ironchain/internal/ironerr"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

type stepKey struct {
	height uint64
	view   uint64
	step   Step
}

type stepVotes struct {
	byIndex map[uint32]Vote
	known   *bitset.BitSet
	// counts per block hash; nil votes (HasBlock=false) are tallied only in
	// nilCount, never in counts, so an all-zero block hash can't collide
	// with a real nil tally.
	counts   map[xcrypto.H256]int
	nilCount int
}

// Collector maintains, per (height, view, step), every validator's signed
// vote plus per-block aggregate counts and a known-signer BitSet, per
// spec.md §3/§4.5.
type Collector struct {
	mu   sync.Mutex
	vs   *ValidatorSet
	data map[stepKey]*stepVotes
}

// NewCollector builds a collector over a fixed validator set.
func NewCollector(vs *ValidatorSet) *Collector {
	return &Collector{vs: vs, data: make(map[stepKey]*stepVotes)}
}

func (c *Collector) bucket(k stepKey) *stepVotes {
	sv, ok := c.data[k]
	if !ok {
		sv = &stepVotes{
			byIndex: make(map[uint32]Vote),
			known:   bitset.New(uint(c.vs.Len())),
			counts:  make(map[xcrypto.H256]int),
		}
		c.data[k] = sv
	}
	return sv
}

// AddVote validates and records a vote, returning (isDoubleVote, error).
// A double-vote (second distinct vote from an already-seen signer) is not
// recorded and returns (true, ironerr.ErrDoubleVote); State.HandleVote
// reports that case to its caller without treating it as a failure, and
// the signer is not penalised.
func (c *Collector) AddVote(v Vote) (bool, error) {
	pub, ok := c.vs.ByIndex(v.SignerIndex)
	if !ok {
		return false, ironerr.ErrBadSignerIndex
	}
	if !v.Verify(pub) {
		return false, ironerr.ErrBadSignature
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	k := stepKey{height: v.Step.Height, view: v.Step.View, step: v.Step.Kind}
	sv := c.bucket(k)

	if existing, seen := sv.byIndex[v.SignerIndex]; seen {
		if existing.HasBlock == v.HasBlock && existing.BlockHash == v.BlockHash {
			return false, nil // idempotent resubmission
		}
		return true, ironerr.ErrDoubleVote
	}

	sv.byIndex[v.SignerIndex] = v
	sv.known.Set(uint(v.SignerIndex))
	if v.HasBlock {
		sv.counts[v.BlockHash]++
	} else {
		sv.nilCount++
	}
	return false, nil
}

// CountFor returns how many votes a specific block has at (height, view,
// step).
func (c *Collector) CountFor(height, view uint64, step Step, block xcrypto.H256) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, ok := c.data[stepKey{height, view, step}]
	if !ok {
		return 0
	}
	return sv.counts[block]
}

// NilCount returns how many votes for "nil" exist at (height, view, step).
func (c *Collector) NilCount(height, view uint64, step Step) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, ok := c.data[stepKey{height, view, step}]
	if !ok {
		return 0
	}
	return sv.nilCount
}

// MajorityBlock reports the block (if any) with +2/3 of votes at
// (height, view, step).
func (c *Collector) MajorityBlock(height, view uint64, step Step) (xcrypto.H256, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, ok := c.data[stepKey{height, view, step}]
	if !ok {
		return xcrypto.H256{}, false
	}
	quorum := c.vs.Quorum()
	for h, n := range sv.counts {
		if n >= quorum {
			return h, true
		}
	}
	return xcrypto.H256{}, false
}

// HasNilMajority reports whether +2/3 of validators voted nil at
// (height, view, step).
func (c *Collector) HasNilMajority(height, view uint64, step Step) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, ok := c.data[stepKey{height, view, step}]
	if !ok {
		return false
	}
	return sv.nilCount >= c.vs.Quorum()
}

// KnownVotes returns a copy of the known-signer BitSet for
// (height, view, step), used for the compact StepState gossip message.
func (c *Collector) KnownVotes(height, view uint64, step Step) *bitset.BitSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, ok := c.data[stepKey{height, view, step}]
	if !ok {
		return bitset.New(uint(c.vs.Len()))
	}
	return sv.known.Clone()
}

// Votes returns every collected vote at (height, view, step), for
// Commit-message assembly.
func (c *Collector) Votes(height, view uint64, step Step) []Vote {
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, ok := c.data[stepKey{height, view, step}]
	if !ok {
		return nil
	}
	out := make([]Vote, 0, len(sv.byIndex))
	for _, v := range sv.byIndex {
		out = append(out, v)
	}
	return out
}

// Prune discards every bucket for heights below the given floor,
// bounding the collector's memory as the chain advances.
func (c *Collector) Prune(belowHeight uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if k.height < belowHeight {
			delete(c.data, k)
		}
	}
}
