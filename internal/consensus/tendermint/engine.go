package tendermint

import (
	"fmt"
	"math/big"

	"github.com/bits-and-blooms/bitset"
	"github.com/ironledger/ironchain/internal/consensus"
	"github.com/ironledger/ironchain/internal/ironerr"
	"github.com/ironledger/ironchain/internal/state"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// HeaderSource resolves a header by hash — the slice of
// chainstore.HeaderChain the engine needs to walk parent links.
type HeaderSource interface {
	HeaderByHash(h xcrypto.H256) (*types.Header, bool)
}

// BlockSource resolves a full canonical block by height, used to answer
// RequestCommit: a typical implementation composes
// chainstore.HeaderChain's CanonicalHashAt/HeaderByHash with
// chainstore.BodyStore.Body.
type BlockSource interface {
	BlockAtHeight(height uint64) (*types.Block, bool)
}

// Engine adapts a running Tendermint State to the consensus.Engine
// capability set, so block building, the verification queue, the
// importer, and the network layer can all drive it through one interface.
type Engine struct {
	vs      *ValidatorSet
	headers HeaderSource
	blocks  BlockSource
	state   *State
	net     consensus.NetworkService

	// onCommitMessage, if set, receives every inbound Commit catch-up
	// message after decode — the reactor wires this to chain import so
	// a lagging node can adopt a peer's finalized block directly.
	onCommitMessage func(Commit)
}

// New builds a tendermint.Engine over an already-constructed State and a
// header source used to resolve commit depth (the grandparent rule).
func New(vs *ValidatorSet, headers HeaderSource, st *State) *Engine {
	return &Engine{vs: vs, headers: headers, state: st}
}

// RegisterBlockSource wires the block store this engine answers
// RequestCommit from.
func (e *Engine) RegisterBlockSource(blocks BlockSource) { e.blocks = blocks }

// OnCommitMessage registers the handler invoked for every inbound
// Commit catch-up message.
func (e *Engine) OnCommitMessage(fn func(Commit)) { e.onCommitMessage = fn }

func (e *Engine) Name() string { return "tendermint" }

func (e *Engine) BlockReward(height uint64) *big.Int { return big.NewInt(0) }

func (e *Engine) ScoreToTarget(score *big.Int) *big.Int { return new(big.Int).Set(score) }

// RecommendedConfirmation is zero: a Tendermint-committed block is final
// the moment +2/3 precommits exist, per spec.md §4.5.
func (e *Engine) RecommendedConfirmation() uint64 { return 0 }

func (e *Engine) SealFields(header *types.Header) int { return 1 }

// PopulateFromParent scores every block by height, since finality (not a
// fork-choice score race) is what decides the canonical chain here.
func (e *Engine) PopulateFromParent(header, parent *types.Header) {
	header.Score = new(big.Int).SetUint64(parent.Height + 1)
}

func (e *Engine) OnNewBlock(isEpochBegin bool) error { return nil }

func (e *Engine) OnCloseBlock(db *state.DB, header *types.Header) error { return nil }

// GenerateSeal packages the precommit votes the local State collected for
// this block into a PBFTSeal: the view it committed at, the encoded
// votes, and a compact bitset of which validators backed it.
func (e *Engine) GenerateSeal(blockBytesHash, parentHash [32]byte) (consensus.GeneratedSeal, error) {
	height := e.state.Height()
	var votes []Vote
	var view uint64
	for v := uint64(0); v <= e.state.View(); v++ {
		if _, ok := e.state.collector.MajorityBlock(height, v, StepPrecommit); ok {
			votes = e.state.collector.Votes(height, v, StepPrecommit)
			view = v
			break
		}
	}
	if votes == nil {
		return consensus.GeneratedSeal{}, fmt.Errorf("tendermint: no committed precommit set for height %d", height)
	}

	encoded := make([][]byte, 0, len(votes))
	known := bitset.New(uint(e.vs.Len()))
	for _, v := range votes {
		b, err := v.Encode()
		if err != nil {
			return consensus.GeneratedSeal{}, fmt.Errorf("tendermint: encode vote: %w", err)
		}
		encoded = append(encoded, b)
		known.Set(uint(v.SignerIndex))
	}

	seal := &PBFTSeal{PrevView: e.state.lastLockView, CurView: view, Precommits: encoded, PrecommitBitset: known}
	return consensus.GeneratedSeal{Kind: consensus.SealPBFT, PBFT: seal}, nil
}

func (e *Engine) VerifyBlockBasic(block *types.Block) error     { return nil }
func (e *Engine) VerifyBlockUnordered(block *types.Block) error { return nil }

func (e *Engine) VerifyBlockFamily(header, parent *types.Header) error {
	if header.Height != parent.Height+1 {
		return fmt.Errorf("tendermint: %w", ironerr.ErrBadScore)
	}
	if header.Timestamp < parent.Timestamp {
		return fmt.Errorf("tendermint: %w", ironerr.ErrNonMonotonicTS)
	}
	return nil
}

// VerifyBlockExternal and VerifyLocalSeal both check the PBFTSeal's
// precommit set reaches quorum and every signature verifies against the
// validator at its claimed index.
func (e *Engine) VerifyBlockExternal(header *types.Header) error { return e.verifySeal(header) }
func (e *Engine) VerifyLocalSeal(header *types.Header) error     { return e.verifySeal(header) }

func (e *Engine) verifySeal(header *types.Header) error {
	if len(header.SealFields) != 1 {
		return fmt.Errorf("tendermint: %w", ironerr.ErrBadSealArity)
	}
	votes, err := decodePrecommits(header.SealFields[0])
	if err != nil {
		return fmt.Errorf("tendermint: %w", ironerr.ErrBadSignature)
	}
	quorum := e.vs.Quorum()
	if len(votes) < quorum {
		return fmt.Errorf("tendermint: %w", ironerr.ErrQuorumNotReached)
	}
	hash, err := header.HashWithoutSeal()
	if err != nil {
		return err
	}
	seenBlock := false
	seen := make(map[uint32]bool, len(votes))
	for _, v := range votes {
		if seen[v.SignerIndex] {
			continue
		}
		seen[v.SignerIndex] = true
		pub, ok := e.vs.ByIndex(v.SignerIndex)
		if !ok || !v.Verify(pub) {
			return fmt.Errorf("tendermint: %w", ironerr.ErrBadSignature)
		}
		if v.Step.Height != header.Height || !v.HasBlock || v.BlockHash != hash {
			continue
		}
		seenBlock = true
	}
	if !seenBlock || len(seen) < quorum {
		return fmt.Errorf("tendermint: %w", ironerr.ErrQuorumNotReached)
	}
	return nil
}

func decodePrecommits(field []byte) ([]Vote, error) {
	// SealFields carries one field per seal arity; the PBFT seal packs
	// its votes length-prefixed inside that single field via RLP list
	// decoding, matching PBFTSeal.Precommits' [][]byte shape.
	var raws [][]byte
	if err := rlpDecodeVoteList(field, &raws); err != nil {
		return nil, err
	}
	votes := make([]Vote, 0, len(raws))
	for _, r := range raws {
		v, err := DecodeVote(r)
		if err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, nil
}

func (e *Engine) VerifyHeaderBasic(header *types.Header) error     { return nil }
func (e *Engine) VerifyHeaderUnordered(header *types.Header) error { return nil }

// CanChangeCanonChain always returns false: on an equal-score tie the
// incumbent best proposal is kept and the newcomer never replaces it,
// since Tendermint's finality means true equal-height forks should never
// both reach quorum.
func (e *Engine) CanChangeCanonChain(newHash, parentHash, grandparentHash, prevBestHash xcrypto.H256) bool {
	return false
}

// GetBestBlockFromBestProposalHeader returns the grandparent of the
// latest proposal header: spec.md §4.5's Tendermint commit-depth rule.
// It reports false if either the parent or the grandparent is unknown.
func (e *Engine) GetBestBlockFromBestProposalHeader(header *types.Header) (xcrypto.H256, bool) {
	parent, ok := e.headers.HeaderByHash(header.ParentHash)
	if !ok {
		return xcrypto.H256{}, false
	}
	grandparent, ok := e.headers.HeaderByHash(parent.ParentHash)
	if !ok {
		return xcrypto.H256{}, false
	}
	h, err := grandparent.HashWithSeal()
	if err != nil {
		return xcrypto.H256{}, false
	}
	return h, true
}

func (e *Engine) HandleMessage(peer string, data []byte) error {
	msg, err := decodeEnvelope(data)
	if err != nil {
		return fmt.Errorf("tendermint: decode message from %s: %w", peer, err)
	}
	switch msg.Kind {
	case envelopeConsensusMessage:
		votes, err := decodeConsensusMessage(msg.Payload)
		if err != nil {
			return err
		}
		for _, v := range votes {
			if _, err := e.state.HandleVote(v); err != nil {
				return err
			}
		}
		return nil
	case envelopeProposal:
		p, err := decodeProposalPayload(e.vs, msg.Payload)
		if err != nil {
			return err
		}
		e.state.HandleProposal(p)
		return nil
	case envelopeStepState:
		ss, err := decodeStepStatePayload(msg.Payload)
		if err != nil {
			return err
		}
		return e.handlePeerStepState(peer, ss)
	case envelopeRequestMessage:
		rm, err := decodeRequestMessagePayload(msg.Payload)
		if err != nil {
			return err
		}
		return e.handleRequestMessage(peer, rm)
	case envelopeCommit:
		c, err := decodeCommitPayload(msg.Payload)
		if err != nil {
			return err
		}
		if e.onCommitMessage != nil {
			e.onCommitMessage(c)
		}
		return nil
	case envelopeRequestProposal:
		rp, err := decodeRequestProposalPayload(msg.Payload)
		if err != nil {
			return err
		}
		return e.handleRequestProposal(peer, rp)
	case envelopeRequestCommit:
		rc, err := decodeRequestCommitPayload(msg.Payload)
		if err != nil {
			return err
		}
		return e.handleRequestCommit(peer, rc)
	default:
		return fmt.Errorf("tendermint: unknown envelope kind %d from %s", msg.Kind, peer)
	}
}

// BuildStepState assembles the local StepState gossip frame for the
// engine's current height/view/step.
func (e *Engine) BuildStepState() StepState {
	height, view, step := e.state.Height(), e.state.View(), e.state.Step()
	ss := StepState{
		Step:       VoteStep{Height: height, View: view, Kind: step},
		KnownVotes: e.state.collector.KnownVotes(height, view, step),
	}
	if p, ok := e.state.Proposal(view); ok {
		ss.HasProposal = true
		ss.ProposalSummary = p.BlockHash
	}
	if lockView, ok := e.state.Lock(); ok {
		ss.HasLockView = true
		ss.LockView = lockView
	}
	return ss
}

// BroadcastStepState gossips the engine's current StepState over the
// registered network extension. Per spec.md §6 this runs on a roughly
// 5-second period; driving that cadence is the caller's responsibility
// (the reactor loop), matching how State's own Callbacks.ScheduleTimer
// leaves timer-driving to its caller rather than owning a goroutine.
func (e *Engine) BroadcastStepState() error {
	if e.net == nil {
		return nil
	}
	payload, err := EncodeStepState(e.BuildStepState())
	if err != nil {
		return err
	}
	return e.net.Broadcast("tendermint", payload)
}

// handlePeerStepState diffs a peer's advertised state against our own
// and requests whatever we are missing: a later height triggers
// RequestCommit, a later view at the same height triggers
// RequestProposal, and a same-step known-votes gap triggers
// RequestMessage for exactly the missing signer indices.
func (e *Engine) handlePeerStepState(peer string, ss StepState) error {
	if e.net == nil {
		return nil
	}
	ourHeight := e.state.Height()

	if ss.Step.Height > ourHeight {
		payload, err := EncodeRequestCommit(RequestCommit{Height: ourHeight})
		if err != nil {
			return err
		}
		return e.net.SendTo("tendermint", peer, payload)
	}

	if ss.Step.Height == ourHeight && ss.Step.View > e.state.View() {
		payload, err := EncodeRequestProposal(RequestProposal{Round: Round{Height: ourHeight, View: ss.Step.View}})
		if err != nil {
			return err
		}
		return e.net.SendTo("tendermint", peer, payload)
	}

	if ss.Step.Height != ourHeight || ss.KnownVotes == nil {
		return nil
	}
	ours := e.state.collector.KnownVotes(ourHeight, ss.Step.View, ss.Step.Kind)
	missing := ss.KnownVotes.Difference(ours)
	if missing.None() {
		return nil
	}
	payload, err := EncodeRequestMessage(RequestMessage{Step: ss.Step, RequestedVotes: missing})
	if err != nil {
		return err
	}
	return e.net.SendTo("tendermint", peer, payload)
}

// handleRequestMessage answers a peer's RequestMessage with whichever
// of our collected votes at Step it asked for via RequestedVotes.
func (e *Engine) handleRequestMessage(peer string, r RequestMessage) error {
	if e.net == nil {
		return nil
	}
	all := e.state.collector.Votes(r.Step.Height, r.Step.View, r.Step.Kind)
	matched := make([]Vote, 0, len(all))
	for _, v := range all {
		if r.RequestedVotes == nil || r.RequestedVotes.Test(uint(v.SignerIndex)) {
			matched = append(matched, v)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	payload, err := EncodeConsensusMessage(matched)
	if err != nil {
		return err
	}
	return e.net.SendTo("tendermint", peer, payload)
}

// handleRequestProposal answers a peer's RequestProposal with our
// recorded proposal for that round, if we have one and it is for our
// current height.
func (e *Engine) handleRequestProposal(peer string, r RequestProposal) error {
	if e.net == nil || r.Round.Height != e.state.Height() {
		return nil
	}
	p, ok := e.state.Proposal(r.Round.View)
	if !ok || p.Block == nil {
		return nil
	}
	blockBytes, err := p.Block.EncodeWire()
	if err != nil {
		return fmt.Errorf("tendermint: encode requested proposal block: %w", err)
	}
	payload, err := EncodeProposalEnvelope(p, blockBytes)
	if err != nil {
		return err
	}
	return e.net.SendTo("tendermint", peer, payload)
}

// handleRequestCommit answers a peer's RequestCommit with the
// finalized block at that height and the precommit votes recorded in
// its seal, read back from BlockSource.
func (e *Engine) handleRequestCommit(peer string, r RequestCommit) error {
	if e.net == nil || e.blocks == nil {
		return nil
	}
	block, ok := e.blocks.BlockAtHeight(r.Height)
	if !ok || len(block.Header.SealFields) == 0 {
		return nil
	}
	votes, err := decodePrecommits(block.Header.SealFields[0])
	if err != nil {
		return fmt.Errorf("tendermint: decode committed precommits for height %d: %w", r.Height, err)
	}
	payload, err := EncodeCommitMessage(block, votes)
	if err != nil {
		return err
	}
	return e.net.SendTo("tendermint", peer, payload)
}

func (e *Engine) RegisterNetworkExtension(net consensus.NetworkService) {
	e.net = net
	if net == nil {
		return
	}
	net.RegisterExtension("tendermint", e.HandleMessage)
}
