package tendermint

import (
	"fmt"
	"math/big"

	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/klauspost/compress/s2"

	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

type envelopeKind uint8

const (
	envelopeConsensusMessage envelopeKind = iota
	envelopeProposal
	envelopeStepState
	envelopeRequestMessage
	envelopeCommit
	envelopeRequestProposal
	envelopeRequestCommit
)

// envelope is the outer wrapper HandleMessage decodes, letting a single
// registered network extension ("tendermint") carry every message of
// spec.md §6's catalogue.
type envelope struct {
	Kind    uint8
	Payload []byte
}

func decodeEnvelope(b []byte) (envelope, error) {
	var e envelope
	if err := rlp.DecodeBytes(b, &e); err != nil {
		return envelope{}, fmt.Errorf("tendermint: decode envelope: %w", err)
	}
	return e, nil
}

func (k envelopeKind) encode(payload []byte) ([]byte, error) {
	return rlp.EncodeToBytes(&envelope{Kind: uint8(k), Payload: payload})
}

// wireConsensusMessage is ConsensusMessage's RLP shape: one or more
// already-encoded votes travelling together in a single frame.
type wireConsensusMessage struct {
	Votes [][]byte
}

// EncodeConsensusMessage wraps one or more signed votes for broadcast
// over the registered network extension in a single frame, per
// spec.md §6's ConsensusMessage(votes: [bytes]).
func EncodeConsensusMessage(votes []Vote) ([]byte, error) {
	encoded := make([][]byte, 0, len(votes))
	for _, v := range votes {
		b, err := v.Encode()
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, b)
	}
	payload, err := rlp.EncodeToBytes(&wireConsensusMessage{Votes: encoded})
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode consensus message: %w", err)
	}
	return envelopeConsensusMessage.encode(payload)
}

// EncodeVoteEnvelope is the common single-vote case of
// EncodeConsensusMessage, used when casting one freshly-signed vote.
func EncodeVoteEnvelope(v Vote) ([]byte, error) {
	return EncodeConsensusMessage([]Vote{v})
}

func decodeConsensusMessage(payload []byte) ([]Vote, error) {
	var wm wireConsensusMessage
	if err := rlp.DecodeBytes(payload, &wm); err != nil {
		return nil, fmt.Errorf("tendermint: decode consensus message: %w", err)
	}
	votes := make([]Vote, 0, len(wm.Votes))
	for _, b := range wm.Votes {
		v, err := DecodeVote(b)
		if err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, nil
}

// wireProposal is the RLP shape of a gossiped Proposal. PublicKey travels
// as its compressed byte form, matching types.SignedTransaction's own
// convention for carrying secp256k1 keys over the wire.
type wireProposal struct {
	SignerIndex uint32
	PublicKey   []byte
	Signature   xcrypto.Signature
	Priority    []byte
	View        uint64
	BlockHash   xcrypto.H256
	// BlockBytes carries the proposal's block_bytes s2-compressed (snappy
	// format family), decompressed before the block is decoded and before
	// any seal/vote verification runs on it.
	BlockBytes []byte
}

// EncodeProposalEnvelope wraps p for broadcast; block must already be
// wire-encoded via (*types.Block).EncodeWire. The encoded bytes are
// s2-compressed before going out on the wire.
func EncodeProposalEnvelope(p Proposal, blockBytes []byte) ([]byte, error) {
	wp := wireProposal{
		SignerIndex: p.Priority.SignerIndex,
		PublicKey:   p.Priority.PublicKey.Bytes(),
		Signature:   p.Priority.Signature,
		Priority:    p.Priority.Priority.Bytes(),
		View:        p.View,
		BlockHash:   p.BlockHash,
		BlockBytes:  s2.Encode(nil, blockBytes),
	}
	b, err := rlp.EncodeToBytes(&wp)
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode proposal: %w", err)
	}
	return envelopeProposal.encode(b)
}

func decodeProposalPayload(vs *ValidatorSet, payload []byte) (Proposal, error) {
	var wp wireProposal
	if err := rlp.DecodeBytes(payload, &wp); err != nil {
		return Proposal{}, fmt.Errorf("tendermint: decode proposal: %w", err)
	}
	pub, err := xcrypto.PublicKeyFromBytes(wp.PublicKey)
	if err != nil {
		return Proposal{}, fmt.Errorf("tendermint: decode proposal public key: %w", err)
	}
	expected, ok := vs.ByIndex(wp.SignerIndex)
	if !ok {
		return Proposal{}, fmt.Errorf("tendermint: proposal signer index %d out of range", wp.SignerIndex)
	}
	if !expected.Equal(pub) {
		return Proposal{}, fmt.Errorf("tendermint: proposal public key does not match validator set entry for signer index %d", wp.SignerIndex)
	}
	info := PriorityInfo{
		SignerIndex: wp.SignerIndex,
		PublicKey:   pub,
		Signature:   wp.Signature,
		Priority:    new(big.Int).SetBytes(wp.Priority),
	}
	prop := Proposal{Priority: info, View: wp.View, BlockHash: wp.BlockHash}
	if len(wp.BlockBytes) > 0 {
		blockBytes, err := s2.Decode(nil, wp.BlockBytes)
		if err != nil {
			return Proposal{}, fmt.Errorf("tendermint: decompress proposal block: %w", err)
		}
		block, err := types.DecodeBlockWire(blockBytes)
		if err != nil {
			return Proposal{}, fmt.Errorf("tendermint: decode proposal block: %w", err)
		}
		prop.Block = block
	}
	return prop, nil
}

// rlpDecodeVoteList decodes a [][]byte RLP list, as produced when packing
// PBFTSeal.Precommits into a single seal field.
func rlpDecodeVoteList(b []byte, out *[][]byte) error {
	return rlp.DecodeBytes(b, out)
}

// wireVoteStep is VoteStep's RLP shape, shared by every catch-up message
// that names a (height, view, step_kind) triple.
type wireVoteStep struct {
	Height uint64
	View   uint64
	Kind   uint8
}

func (s VoteStep) wire() wireVoteStep {
	return wireVoteStep{Height: s.Height, View: s.View, Kind: uint8(s.Kind)}
}

func (w wireVoteStep) step() VoteStep {
	return VoteStep{Height: w.Height, View: w.View, Kind: Step(w.Kind)}
}

// marshalBitset flattens a BitSet to its binary form for RLP transport;
// bitset.BitSet has no RLP encoding of its own, so it rides as an opaque
// byte string produced by its encoding.BinaryMarshaler implementation.
func marshalBitset(b *bitset.BitSet) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	return b.MarshalBinary()
}

func unmarshalBitset(b []byte) (*bitset.BitSet, error) {
	bs := &bitset.BitSet{}
	if len(b) == 0 {
		return bs, nil
	}
	if err := bs.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("tendermint: decode bitset: %w", err)
	}
	return bs, nil
}

// wireStepState is StepState's RLP shape.
type wireStepState struct {
	Step               wireVoteStep
	HasProposalSummary bool
	ProposalSummary    xcrypto.H256
	HasLockView        bool
	LockView           uint64
	KnownVotes         []byte
}

// StepState is a peer's periodic local-status gossip, per spec.md §6:
// "periodic gossip of local state for peer catch-up (every ~5 s)".
// KnownVotes is a nil-safe compact record of which validator indices
// have already cast a vote for Step, letting a peer that diffs its own
// known set against this one ask only for what it is missing.
type StepState struct {
	Step            VoteStep
	HasProposal     bool
	ProposalSummary xcrypto.H256
	HasLockView     bool
	LockView        uint64
	KnownVotes      *bitset.BitSet
}

// EncodeStepState wraps s for periodic broadcast over the registered
// network extension.
func EncodeStepState(s StepState) ([]byte, error) {
	known, err := marshalBitset(s.KnownVotes)
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode step state known votes: %w", err)
	}
	ws := wireStepState{
		Step:               s.Step.wire(),
		HasProposalSummary: s.HasProposal,
		ProposalSummary:    s.ProposalSummary,
		HasLockView:        s.HasLockView,
		LockView:           s.LockView,
		KnownVotes:         known,
	}
	payload, err := rlp.EncodeToBytes(&ws)
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode step state: %w", err)
	}
	return envelopeStepState.encode(payload)
}

func decodeStepStatePayload(payload []byte) (StepState, error) {
	var ws wireStepState
	if err := rlp.DecodeBytes(payload, &ws); err != nil {
		return StepState{}, fmt.Errorf("tendermint: decode step state: %w", err)
	}
	known, err := unmarshalBitset(ws.KnownVotes)
	if err != nil {
		return StepState{}, err
	}
	return StepState{
		Step:            ws.Step.step(),
		HasProposal:     ws.HasProposalSummary,
		ProposalSummary: ws.ProposalSummary,
		HasLockView:     ws.HasLockView,
		LockView:        ws.LockView,
		KnownVotes:      known,
	}, nil
}

// wireRequestMessage is RequestMessage's RLP shape.
type wireRequestMessage struct {
	Step           wireVoteStep
	RequestedVotes []byte
}

// RequestMessage asks a peer to resend the votes named by
// RequestedVotes (a bitset of signer indices) at Step, per spec.md §6.
type RequestMessage struct {
	Step           VoteStep
	RequestedVotes *bitset.BitSet
}

// EncodeRequestMessage wraps r for send over the registered network
// extension, typically to the peer whose StepState advertised votes we
// lack.
func EncodeRequestMessage(r RequestMessage) ([]byte, error) {
	requested, err := marshalBitset(r.RequestedVotes)
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode request message votes: %w", err)
	}
	wr := wireRequestMessage{Step: r.Step.wire(), RequestedVotes: requested}
	payload, err := rlp.EncodeToBytes(&wr)
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode request message: %w", err)
	}
	return envelopeRequestMessage.encode(payload)
}

func decodeRequestMessagePayload(payload []byte) (RequestMessage, error) {
	var wr wireRequestMessage
	if err := rlp.DecodeBytes(payload, &wr); err != nil {
		return RequestMessage{}, fmt.Errorf("tendermint: decode request message: %w", err)
	}
	requested, err := unmarshalBitset(wr.RequestedVotes)
	if err != nil {
		return RequestMessage{}, err
	}
	return RequestMessage{Step: wr.Step.step(), RequestedVotes: requested}, nil
}

// wireCommit is Commit's RLP shape: the finalized block, s2-compressed
// like a proposal's block_bytes, plus its backing precommit votes.
type wireCommit struct {
	BlockBytes []byte
	Votes      [][]byte
}

// Commit carries a finalized block and the precommit votes behind it,
// for a lagging peer to adopt directly instead of replaying the round
// that committed it, per spec.md §6.
type Commit struct {
	Block *types.Block
	Votes []Vote
}

// EncodeCommitMessage wraps block and its backing votes for send to a
// peer that asked for this height via RequestCommit.
func EncodeCommitMessage(block *types.Block, votes []Vote) ([]byte, error) {
	blockBytes, err := block.EncodeWire()
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode commit block: %w", err)
	}
	encoded := make([][]byte, 0, len(votes))
	for _, v := range votes {
		b, err := v.Encode()
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, b)
	}
	wc := wireCommit{BlockBytes: s2.Encode(nil, blockBytes), Votes: encoded}
	payload, err := rlp.EncodeToBytes(&wc)
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode commit message: %w", err)
	}
	return envelopeCommit.encode(payload)
}

func decodeCommitPayload(payload []byte) (Commit, error) {
	var wc wireCommit
	if err := rlp.DecodeBytes(payload, &wc); err != nil {
		return Commit{}, fmt.Errorf("tendermint: decode commit message: %w", err)
	}
	blockBytes, err := s2.Decode(nil, wc.BlockBytes)
	if err != nil {
		return Commit{}, fmt.Errorf("tendermint: decompress commit block: %w", err)
	}
	block, err := types.DecodeBlockWire(blockBytes)
	if err != nil {
		return Commit{}, fmt.Errorf("tendermint: decode commit block: %w", err)
	}
	votes := make([]Vote, 0, len(wc.Votes))
	for _, b := range wc.Votes {
		v, err := DecodeVote(b)
		if err != nil {
			return Commit{}, err
		}
		votes = append(votes, v)
	}
	return Commit{Block: block, Votes: votes}, nil
}

// Round identifies a height/view pair. spec.md §6 names RequestProposal's
// single field "round"; the glossary defines a view as "a round of the
// Tendermint state machine", so a round is carried here as the
// (height, view) pair that names one.
type Round struct {
	Height uint64
	View   uint64
}

type wireRequestProposal struct {
	Height uint64
	View   uint64
}

// RequestProposal asks a peer to resend its proposal for Round, used
// when a local view advances past one this node never saw a proposal
// for.
type RequestProposal struct {
	Round Round
}

func EncodeRequestProposal(r RequestProposal) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(&wireRequestProposal{Height: r.Round.Height, View: r.Round.View})
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode request proposal: %w", err)
	}
	return envelopeRequestProposal.encode(payload)
}

func decodeRequestProposalPayload(payload []byte) (RequestProposal, error) {
	var wr wireRequestProposal
	if err := rlp.DecodeBytes(payload, &wr); err != nil {
		return RequestProposal{}, fmt.Errorf("tendermint: decode request proposal: %w", err)
	}
	return RequestProposal{Round: Round{Height: wr.Height, View: wr.View}}, nil
}

type wireRequestCommit struct {
	Height uint64
}

// RequestCommit asks a peer for the Commit message (block plus backing
// votes) of a height this node has not yet finalized locally.
type RequestCommit struct {
	Height uint64
}

func EncodeRequestCommit(r RequestCommit) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(&wireRequestCommit{Height: r.Height})
	if err != nil {
		return nil, fmt.Errorf("tendermint: encode request commit: %w", err)
	}
	return envelopeRequestCommit.encode(payload)
}

func decodeRequestCommitPayload(payload []byte) (RequestCommit, error) {
	var wr wireRequestCommit
	if err := rlp.DecodeBytes(payload, &wr); err != nil {
		return RequestCommit{}, fmt.Errorf("tendermint: decode request commit: %w", err)
	}
	return RequestCommit{Height: wr.Height}, nil
}
