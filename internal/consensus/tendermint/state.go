package tendermint

import (
	"math/big"
	"time"

	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// Proposal is a received or locally-built proposal for a given view.
type Proposal struct {
	Priority  PriorityInfo
	View      uint64
	BlockHash xcrypto.H256
	Block     *types.Block
}

// Config holds the per-step base timeouts and the linear-growth delta of
// spec.md §4.5: T_step(v) = T0_step + v * T_step_delta.
type Config struct {
	ProposeT0   time.Duration
	PrevoteT0   time.Duration
	PrecommitT0 time.Duration
	StepDelta   time.Duration
}

// DefaultConfig matches common Tendermint-derived defaults.
func DefaultConfig() Config {
	return Config{
		ProposeT0:   3 * time.Second,
		PrevoteT0:   1 * time.Second,
		PrecommitT0: 1 * time.Second,
		StepDelta:   500 * time.Millisecond,
	}
}

func (c Config) timeout(step Step, view uint64) time.Duration {
	grow := time.Duration(view) * c.StepDelta
	switch step {
	case StepPropose:
		return c.ProposeT0 + grow
	case StepPrevote:
		return c.PrevoteT0 + grow
	case StepPrecommit:
		return c.PrecommitT0 + grow
	default:
		return c.ProposeT0 + grow
	}
}

// Callbacks connect the state machine to the outside world: block
// building, network broadcast, timer scheduling, and commit handoff. All
// are invoked synchronously from inside the State method that triggers
// them, on the caller's goroutine, per spec.md §5's "exactly one thread
// owns the Tendermint state machine" — callbacks must not call back into
// State synchronously.
type Callbacks struct {
	BuildProposal    func(height, view uint64) (*types.Block, error)
	BroadcastVote    func(v Vote)
	BroadcastProposal func(p Proposal, sig xcrypto.Signature)
	ScheduleTimer    func(step Step, height, view uint64, d time.Duration)
	ScheduleEmptyProposalTimer func(height, view uint64, d time.Duration)
	Commit           func(height uint64, block *types.Block, votes []Vote)
}

// State is the single-threaded Tendermint driver of spec.md §3/§4.5. Every
// method assumes the caller serializes calls (the reactor's consensus
// worker, per spec.md §5); State does not lock internally.
type State struct {
	vs        *ValidatorSet
	collector *Collector
	selfIndex uint32
	selfKey   xcrypto.PrivateKey
	cfg       Config
	cb        Callbacks

	height uint64
	view   uint64
	step   Step

	hasLock  bool
	lockView uint64
	lockHash xcrypto.H256

	hasLastLockView bool
	lastLockView    uint64

	proposals map[uint64]Proposal // by view, reset every new height
}

// NewState builds a Tendermint driver starting at startHeight, view 0,
// step Propose.
func NewState(vs *ValidatorSet, collector *Collector, selfIndex uint32, selfKey xcrypto.PrivateKey, cfg Config, cb Callbacks, startHeight uint64) *State {
	return &State{
		vs: vs, collector: collector, selfIndex: selfIndex, selfKey: selfKey,
		cfg: cfg, cb: cb, height: startHeight, step: StepPropose,
		proposals: make(map[uint64]Proposal),
	}
}

func (s *State) Height() uint64 { return s.height }
func (s *State) View() uint64   { return s.view }
func (s *State) Step() Step     { return s.step }

// Proposal returns the proposal recorded for view (at the current
// height), if any — used to answer RequestProposal and to build the
// proposal_summary field of an outgoing StepState.
func (s *State) Proposal(view uint64) (Proposal, bool) {
	p, ok := s.proposals[view]
	return p, ok
}

// Lock reports the view of the currently-held lock, if any.
func (s *State) Lock() (view uint64, ok bool) {
	return s.lockView, s.hasLock
}

// sortitionThreshold is the priority ceiling below which a validator
// considers itself elected proposer: maxPriority / |validators|, giving
// an expected single winner per view. Since each validator's priority
// depends on its own private key, no one else can precompute the winner
// in advance; this core's elected-proposer check (rather than a
// pre-agreed index) is how it resolves that.
func (s *State) sortitionThreshold() *big.Int {
	maxPriority := new(big.Int).Lsh(big.NewInt(1), 256)
	n := big.NewInt(int64(s.vs.Len()))
	return new(big.Int).Div(maxPriority, n)
}

// EnterPropose begins Propose(height, view): if self is elected
// proposer (per sortitionThreshold), build and broadcast a proposal; set
// the propose timeout and an empty-proposal timer at half that duration.
func (s *State) EnterPropose(height, view uint64) error {
	if height != s.height {
		s.proposals = make(map[uint64]Proposal)
	}
	s.height, s.view, s.step = height, view, StepPropose

	info, err := ComputePriority(s.selfKey, s.selfIndex, height, view)
	if err != nil {
		return err
	}
	if info.Priority.Cmp(s.sortitionThreshold()) < 0 {
		block, err := s.cb.BuildProposal(height, view)
		if err != nil {
			return err
		}
		hash, err := block.Header.HashWithoutSeal()
		if err != nil {
			return err
		}
		p := Proposal{Priority: info, View: view, BlockHash: hash, Block: block}
		s.proposals[view] = p
		if s.cb.BroadcastProposal != nil {
			s.cb.BroadcastProposal(p, info.Signature)
		}
	}

	d := s.cfg.timeout(StepPropose, view)
	if s.cb.ScheduleTimer != nil {
		s.cb.ScheduleTimer(StepPropose, height, view, d)
	}
	if s.cb.ScheduleEmptyProposalTimer != nil {
		s.cb.ScheduleEmptyProposalTimer(height, view, d/2)
	}
	return nil
}

// HandleProposal records an externally-received proposal for its view,
// keeping it only if it is the lowest-priority valid proposal seen so far
// for that view (spec.md §4.5's sortition resolution).
func (s *State) HandleProposal(p Proposal) bool {
	if p.Priority.SignerIndex >= uint32(s.vs.Len()) {
		return false
	}
	if !p.Priority.Verify(s.vs, s.height, p.View) {
		return false
	}
	if existing, ok := s.proposals[p.View]; ok {
		if p.Priority.Priority.Cmp(existing.Priority.Priority) >= 0 {
			return false
		}
	}
	s.proposals[p.View] = p
	return true
}

// EnterPrevote begins Prevote(height, view): prevote the locked block if
// we hold a lock, else the received proposal's block, else nil.
func (s *State) EnterPrevote(height, view uint64) error {
	s.height, s.view, s.step = height, view, StepPrevote

	var vote Vote
	switch {
	case s.hasLock:
		vote = Vote{Step: VoteStep{height, view, StepPrevote}, BlockHash: s.lockHash, HasBlock: true, SignerIndex: s.selfIndex}
	default:
		if p, ok := s.proposals[view]; ok {
			vote = Vote{Step: VoteStep{height, view, StepPrevote}, BlockHash: p.BlockHash, HasBlock: true, SignerIndex: s.selfIndex}
		} else {
			vote = Vote{Step: VoteStep{height, view, StepPrevote}, HasBlock: false, SignerIndex: s.selfIndex}
		}
	}
	return s.signAndCast(&vote)
}

// EnterPrecommit begins Precommit(height, view): lock on a +2/3-prevoted
// block if one exists, else unlock on a +2/3 nil majority, else
// precommit nil without changing the lock.
func (s *State) EnterPrecommit(height, view uint64) error {
	s.height, s.view, s.step = height, view, StepPrecommit

	var vote Vote
	if block, ok := s.collector.MajorityBlock(height, view, StepPrevote); ok {
		if s.hasLock {
			s.hasLastLockView, s.lastLockView = true, s.lockView
		}
		s.hasLock, s.lockView, s.lockHash = true, view, block
		vote = Vote{Step: VoteStep{height, view, StepPrecommit}, BlockHash: block, HasBlock: true, SignerIndex: s.selfIndex}
	} else if s.collector.HasNilMajority(height, view, StepPrevote) {
		s.hasLock = false
		vote = Vote{Step: VoteStep{height, view, StepPrecommit}, HasBlock: false, SignerIndex: s.selfIndex}
	} else {
		vote = Vote{Step: VoteStep{height, view, StepPrecommit}, HasBlock: false, SignerIndex: s.selfIndex}
	}
	return s.signAndCast(&vote)
}

// EnterCommit finalizes height once +2/3 precommits exist for a specific
// block at some view, handing the block and its backing votes to Commit,
// then advances to height+1, Propose, view 0.
func (s *State) EnterCommit(height uint64) bool {
	for view := uint64(0); view <= s.view; view++ {
		block, ok := s.collector.MajorityBlock(height, view, StepPrecommit)
		if !ok {
			continue
		}
		votes := s.collector.Votes(height, view, StepPrecommit)
		var committedBlock *types.Block
		if p, ok := s.proposals[view]; ok && p.BlockHash == block {
			committedBlock = p.Block
		}
		if s.cb.Commit != nil {
			s.cb.Commit(height, committedBlock, votes)
		}
		s.collector.Prune(height)
		s.height, s.view, s.step = height+1, 0, StepPropose
		s.hasLock = false
		return true
	}
	return false
}

// checkUnlock releases a held lock if +2/3 of validators prevoted a
// different block at some view after the lock's view, up to and including
// the current view (spec.md §4.5's unlocking rule, applied as later prevotes
// arrive across views).
func (s *State) checkUnlock(height uint64) {
	if !s.hasLock {
		return
	}
	for v := s.lockView + 1; v <= s.view; v++ {
		if block, ok := s.collector.MajorityBlock(height, v, StepPrevote); ok && block != s.lockHash {
			s.hasLock = false
			return
		}
	}
}

func (s *State) signAndCast(vote *Vote) error {
	sig, err := s.selfKey.Sign(vote.Digest())
	if err != nil {
		return err
	}
	vote.Signature = sig
	if _, err := s.collector.AddVote(*vote); err != nil {
		return err
	}
	if s.cb.BroadcastVote != nil {
		s.cb.BroadcastVote(*vote)
	}
	return nil
}

// HandleVote feeds an externally-received vote into the collector and
// checks whether it should release a stale lock.
func (s *State) HandleVote(v Vote) (doubleVote bool, err error) {
	doubleVote, err = s.collector.AddVote(v)
	if err != nil && !doubleVote {
		return doubleVote, err
	}
	if v.Step.Kind == StepPrevote {
		s.checkUnlock(v.Step.Height)
	}
	return doubleVote, nil
}
