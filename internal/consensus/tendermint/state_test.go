package tendermint

import (
	"testing"

	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

func mkValidatorSet(t *testing.T, n int) (*ValidatorSet, []xcrypto.PrivateKey) {
	t.Helper()
	keys := make([]xcrypto.PrivateKey, n)
	pubs := make([]xcrypto.PublicKey, n)
	for i := range keys {
		k, err := xcrypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key %d: %v", i, err)
		}
		keys[i] = k
		pubs[i] = k.Public()
	}
	return NewValidatorSet(pubs), keys
}

// TestCollectorPrecommitTriggersCommitAtThreeOfFour mirrors the spec's
// scenario: validator set of size 4, quorum = 3; the third precommit for
// the same block at (h=10,v=0) reaches quorum, and a fourth, later vote
// from the same set is accepted idempotently without double-counting.
func TestCollectorPrecommitTriggersCommitAtThreeOfFour(t *testing.T) {
	vs, keys := mkValidatorSet(t, 4)
	c := NewCollector(vs)

	var block xcrypto.H256
	block[0] = 0xAB

	step := VoteStep{Height: 10, View: 0, Kind: StepPrecommit}
	for i := uint32(0); i < 3; i++ {
		v, err := Sign(keys[i], step, block, true, i)
		if err != nil {
			t.Fatalf("sign vote %d: %v", i, err)
		}
		if _, err := c.AddVote(v); err != nil {
			t.Fatalf("add vote %d: %v", i, err)
		}
		if i < 2 {
			if _, ok := c.MajorityBlock(10, 0, StepPrecommit); ok {
				t.Fatalf("premature majority after %d votes", i+1)
			}
		}
	}
	got, ok := c.MajorityBlock(10, 0, StepPrecommit)
	if !ok || got != block {
		t.Fatalf("expected majority for block after 3rd vote")
	}

	v3, err := Sign(keys[3], step, block, true, 3)
	if err != nil {
		t.Fatalf("sign vote 3: %v", err)
	}
	if double, err := c.AddVote(v3); err != nil || double {
		t.Fatalf("4th vote should be accepted cleanly, got double=%v err=%v", double, err)
	}
	if n := c.CountFor(10, 0, StepPrecommit, block); n != 4 {
		t.Fatalf("expected count 4, got %d", n)
	}

	// Resubmitting validator 3's identical vote is idempotent.
	if double, err := c.AddVote(v3); err != nil || double {
		t.Fatalf("resubmission should be idempotent, got double=%v err=%v", double, err)
	}

	// A distinct second vote from validator 0 is a reported double-vote.
	other, _ := Sign(keys[0], step, xcrypto.H256{0xFF}, true, 0)
	double, err := c.AddVote(other)
	if !double {
		t.Fatalf("expected double-vote detection")
	}
	if err == nil {
		t.Fatalf("expected double-vote error")
	}
}

func buildTestBlock(height uint64) *types.Block {
	h := &types.Header{Height: height}
	return &types.Block{Header: h}
}

// TestStateFullRoundCommits drives Propose->Prevote->Precommit->Commit
// across 4 validators and asserts validator 0's Commit callback fires for
// height 10.
func TestStateFullRoundCommits(t *testing.T) {
	vs, keys := mkValidatorSet(t, 4)
	collector := NewCollector(vs)

	committed := false
	var committedHeight uint64

	states := make([]*State, 4)
	for i := range states {
		idx := uint32(i)
		states[i] = NewState(vs, collector, idx, keys[i], DefaultConfig(), Callbacks{
			BuildProposal: func(height, view uint64) (*types.Block, error) {
				return buildTestBlock(height), nil
			},
			Commit: func(height uint64, block *types.Block, votes []Vote) {
				if idx == 0 {
					committed = true
					committedHeight = height
				}
			},
		}, 10)
	}

	for i, s := range states {
		if err := s.EnterPropose(10, 0); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
	}

	// Every validator that built a proposal shares it with the others.
	for _, s := range states {
		for view, p := range s.proposals {
			_ = view
			for _, other := range states {
				other.HandleProposal(p)
			}
		}
	}

	for i, s := range states {
		if err := s.EnterPrevote(10, 0); err != nil {
			t.Fatalf("prevote %d: %v", i, err)
		}
	}
	// Exchange prevotes across all states' collectors (shared collector
	// here, so votes are already visible to every state).
	for i, s := range states {
		if err := s.EnterPrecommit(10, 0); err != nil {
			t.Fatalf("precommit %d: %v", i, err)
		}
	}

	for i, s := range states {
		if ok := s.EnterCommit(10); ok {
			if i == 0 && !committed {
				t.Fatalf("expected commit callback invoked for state 0")
			}
		}
	}
	if !committed || committedHeight != 10 {
		t.Fatalf("expected height 10 committed, got committed=%v height=%d", committed, committedHeight)
	}
}

// TestStateLockPersistsAcrossViewWithoutContraryMajority verifies a
// validator that locked on a block at view 0 keeps prevoting that block
// at view 1 absent a +2/3 prevote for a different block.
func TestStateLockPersistsAcrossViewWithoutContraryMajority(t *testing.T) {
	vs, keys := mkValidatorSet(t, 4)
	collector := NewCollector(vs)
	s := NewState(vs, collector, 0, keys[0], DefaultConfig(), Callbacks{
		BuildProposal: func(height, view uint64) (*types.Block, error) {
			return buildTestBlock(height), nil
		},
	}, 5)

	var block xcrypto.H256
	block[0] = 0x11
	step := VoteStep{Height: 5, View: 0, Kind: StepPrevote}
	for i := uint32(0); i < 3; i++ {
		v, _ := Sign(keys[i], step, block, true, i)
		if _, err := collector.AddVote(v); err != nil {
			t.Fatalf("seed prevote %d: %v", i, err)
		}
	}

	if err := s.EnterPrecommit(5, 0); err != nil {
		t.Fatalf("precommit view 0: %v", err)
	}
	if !s.hasLock || s.lockHash != block {
		t.Fatalf("expected lock on block after +2/3 prevote")
	}

	if err := s.EnterPrevote(5, 1); err != nil {
		t.Fatalf("prevote view 1: %v", err)
	}
	if !s.hasLock || s.lockHash != block {
		t.Fatalf("lock should persist into next view absent contrary majority")
	}
}
