package tendermint

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ironledger/ironchain/internal/xcrypto"
)

// TestProposalEnvelopeRoundTripsCompressedBlock drives a proposal through
// EncodeProposalEnvelope/decodeEnvelope/decodeProposalPayload and checks the
// s2-compressed block_bytes decode back into an identical block.
func TestProposalEnvelopeRoundTripsCompressedBlock(t *testing.T) {
	vs, keys := mkValidatorSet(t, 4)

	block := buildTestBlock(7)
	blockBytes, err := block.EncodeWire()
	if err != nil {
		t.Fatalf("encode block: %v", err)
	}

	priv := keys[0]
	info := PriorityInfo{
		SignerIndex: 0,
		PublicKey:   priv.Public(),
		Signature:   xcrypto.Signature{},
		Priority:    big.NewInt(42),
	}
	blockHash, err := block.Header.HashWithoutSeal()
	if err != nil {
		t.Fatalf("hash block header: %v", err)
	}
	proposal := Proposal{Priority: info, View: 3, BlockHash: blockHash}

	envBytes, err := EncodeProposalEnvelope(proposal, blockBytes)
	if err != nil {
		t.Fatalf("encode proposal envelope: %v", err)
	}

	env, err := decodeEnvelope(envBytes)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelopeKind(env.Kind) != envelopeProposal {
		t.Fatalf("expected envelopeProposal kind, got %d", env.Kind)
	}

	got, err := decodeProposalPayload(vs, env.Payload)
	if err != nil {
		t.Fatalf("decode proposal payload: %v", err)
	}
	if got.View != proposal.View || got.BlockHash != proposal.BlockHash {
		t.Fatalf("decoded proposal metadata mismatch")
	}
	if got.Block == nil {
		t.Fatalf("expected decoded proposal to carry its block")
	}
	if got.Block.Header.Height != block.Header.Height {
		t.Fatalf("decoded block height mismatch: got %d want %d", got.Block.Header.Height, block.Header.Height)
	}
	gotBytes, err := got.Block.EncodeWire()
	if err != nil {
		t.Fatalf("re-encode decoded block: %v", err)
	}
	if !bytes.Equal(gotBytes, blockBytes) {
		t.Fatalf("decompressed block bytes differ from the original wire encoding")
	}
}

// TestVoteEnvelopeRoundTrips checks the simpler vote envelope path used
// for gossiping precommits/prevotes between validators.
func TestVoteEnvelopeRoundTrips(t *testing.T) {
	_, keys := mkValidatorSet(t, 1)
	var block xcrypto.H256
	block[0] = 0x01
	step := VoteStep{Height: 5, View: 0, Kind: StepPrevote}
	v, err := Sign(keys[0], step, block, true, 0)
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}

	envBytes, err := EncodeVoteEnvelope(v)
	if err != nil {
		t.Fatalf("encode vote envelope: %v", err)
	}
	env, err := decodeEnvelope(envBytes)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelopeKind(env.Kind) != envelopeConsensusMessage {
		t.Fatalf("expected envelopeConsensusMessage kind, got %d", env.Kind)
	}

	votes, err := decodeConsensusMessage(env.Payload)
	if err != nil {
		t.Fatalf("decode consensus message: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("expected 1 vote, got %d", len(votes))
	}
	got := votes[0]
	if got.Step != v.Step || got.BlockHash != v.BlockHash {
		t.Fatalf("decoded vote mismatch")
	}
}

// TestConsensusMessageEnvelopeCarriesMultipleVotes checks that a single
// frame can carry more than one vote, per spec.md §6's
// ConsensusMessage(votes: [bytes]).
func TestConsensusMessageEnvelopeCarriesMultipleVotes(t *testing.T) {
	_, keys := mkValidatorSet(t, 4)
	var block xcrypto.H256
	block[0] = 0x02
	step := VoteStep{Height: 9, View: 1, Kind: StepPrecommit}

	var votes []Vote
	for i, priv := range keys {
		v, err := Sign(priv, step, block, true, uint32(i))
		if err != nil {
			t.Fatalf("sign vote %d: %v", i, err)
		}
		votes = append(votes, v)
	}

	envBytes, err := EncodeConsensusMessage(votes)
	if err != nil {
		t.Fatalf("encode consensus message: %v", err)
	}
	env, err := decodeEnvelope(envBytes)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	got, err := decodeConsensusMessage(env.Payload)
	if err != nil {
		t.Fatalf("decode consensus message: %v", err)
	}
	if len(got) != len(votes) {
		t.Fatalf("expected %d votes, got %d", len(votes), len(got))
	}
	for i := range votes {
		if got[i].SignerIndex != votes[i].SignerIndex || got[i].BlockHash != votes[i].BlockHash {
			t.Fatalf("vote %d round-trip mismatch", i)
		}
	}
}

// TestStepStateEnvelopeRoundTrips checks StepState's known_votes bitset
// and optional proposal/lock fields survive encode/decode.
func TestStepStateEnvelopeRoundTrips(t *testing.T) {
	vs, _ := mkValidatorSet(t, 4)
	collector := NewCollector(vs)
	known := collector.KnownVotes(10, 0, StepPrevote)
	known.Set(1)
	known.Set(2)

	var summary xcrypto.H256
	summary[3] = 0x09
	ss := StepState{
		Step:            VoteStep{Height: 10, View: 0, Kind: StepPrevote},
		HasProposal:     true,
		ProposalSummary: summary,
		HasLockView:     true,
		LockView:        0,
		KnownVotes:      known,
	}

	envBytes, err := EncodeStepState(ss)
	if err != nil {
		t.Fatalf("encode step state: %v", err)
	}
	env, err := decodeEnvelope(envBytes)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelopeKind(env.Kind) != envelopeStepState {
		t.Fatalf("expected envelopeStepState kind, got %d", env.Kind)
	}
	got, err := decodeStepStatePayload(env.Payload)
	if err != nil {
		t.Fatalf("decode step state: %v", err)
	}
	if got.Step != ss.Step || got.HasProposal != ss.HasProposal || got.ProposalSummary != ss.ProposalSummary {
		t.Fatalf("step state metadata mismatch")
	}
	if !got.HasLockView || got.LockView != ss.LockView {
		t.Fatalf("step state lock view mismatch")
	}
	if !got.KnownVotes.Test(1) || !got.KnownVotes.Test(2) || got.KnownVotes.Test(0) {
		t.Fatalf("decoded known votes bitset mismatch")
	}
}

// TestRequestMessageEnvelopeRoundTrips checks RequestMessage's
// requested_votes bitset survives encode/decode.
func TestRequestMessageEnvelopeRoundTrips(t *testing.T) {
	vs, _ := mkValidatorSet(t, 4)
	collector := NewCollector(vs)
	requested := collector.KnownVotes(5, 2, StepPrecommit)
	requested.Set(3)

	rm := RequestMessage{Step: VoteStep{Height: 5, View: 2, Kind: StepPrecommit}, RequestedVotes: requested}
	envBytes, err := EncodeRequestMessage(rm)
	if err != nil {
		t.Fatalf("encode request message: %v", err)
	}
	env, err := decodeEnvelope(envBytes)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelopeKind(env.Kind) != envelopeRequestMessage {
		t.Fatalf("expected envelopeRequestMessage kind, got %d", env.Kind)
	}
	got, err := decodeRequestMessagePayload(env.Payload)
	if err != nil {
		t.Fatalf("decode request message: %v", err)
	}
	if got.Step != rm.Step || !got.RequestedVotes.Test(3) {
		t.Fatalf("request message round-trip mismatch")
	}
}

// TestCommitEnvelopeRoundTripsCompressedBlock checks Commit's block and
// backing votes both survive encode/decode.
func TestCommitEnvelopeRoundTripsCompressedBlock(t *testing.T) {
	_, keys := mkValidatorSet(t, 4)
	block := buildTestBlock(11)
	step := VoteStep{Height: 11, View: 0, Kind: StepPrecommit}
	hash, err := block.Header.HashWithoutSeal()
	if err != nil {
		t.Fatalf("hash header: %v", err)
	}

	var votes []Vote
	for i, priv := range keys[:3] {
		v, err := Sign(priv, step, hash, true, uint32(i))
		if err != nil {
			t.Fatalf("sign vote %d: %v", i, err)
		}
		votes = append(votes, v)
	}

	envBytes, err := EncodeCommitMessage(block, votes)
	if err != nil {
		t.Fatalf("encode commit message: %v", err)
	}
	env, err := decodeEnvelope(envBytes)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelopeKind(env.Kind) != envelopeCommit {
		t.Fatalf("expected envelopeCommit kind, got %d", env.Kind)
	}
	got, err := decodeCommitPayload(env.Payload)
	if err != nil {
		t.Fatalf("decode commit message: %v", err)
	}
	if got.Block.Header.Height != block.Header.Height {
		t.Fatalf("decoded commit block height mismatch")
	}
	if len(got.Votes) != len(votes) {
		t.Fatalf("expected %d votes, got %d", len(votes), len(got.Votes))
	}
}

// TestRequestProposalEnvelopeRoundTrips and
// TestRequestCommitEnvelopeRoundTrips check the two scalar catch-up
// requests survive encode/decode.
func TestRequestProposalEnvelopeRoundTrips(t *testing.T) {
	rp := RequestProposal{Round: Round{Height: 20, View: 3}}
	envBytes, err := EncodeRequestProposal(rp)
	if err != nil {
		t.Fatalf("encode request proposal: %v", err)
	}
	env, err := decodeEnvelope(envBytes)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelopeKind(env.Kind) != envelopeRequestProposal {
		t.Fatalf("expected envelopeRequestProposal kind, got %d", env.Kind)
	}
	got, err := decodeRequestProposalPayload(env.Payload)
	if err != nil {
		t.Fatalf("decode request proposal: %v", err)
	}
	if got.Round != rp.Round {
		t.Fatalf("request proposal round-trip mismatch")
	}
}

func TestRequestCommitEnvelopeRoundTrips(t *testing.T) {
	rc := RequestCommit{Height: 42}
	envBytes, err := EncodeRequestCommit(rc)
	if err != nil {
		t.Fatalf("encode request commit: %v", err)
	}
	env, err := decodeEnvelope(envBytes)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelopeKind(env.Kind) != envelopeRequestCommit {
		t.Fatalf("expected envelopeRequestCommit kind, got %d", env.Kind)
	}
	got, err := decodeRequestCommitPayload(env.Payload)
	if err != nil {
		t.Fatalf("decode request commit: %v", err)
	}
	if got.Height != rc.Height {
		t.Fatalf("request commit round-trip mismatch")
	}
}
