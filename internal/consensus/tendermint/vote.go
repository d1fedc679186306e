// Package tendermint implements spec.md §4.5's three-phase PBFT variant:
// the height/view/step state machine, proposer sortition by verifiable
// priority, the vote collector, and locking/unlocking rules.
package tendermint

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// Step is one of the three voting steps plus the terminal Commit step.
type Step int

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	case StepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// VoteStep identifies the height/view/step a vote or timer belongs to.
type VoteStep struct {
	Height uint64
	View   uint64
	Kind   Step
}

// Vote is one validator's signed opinion at a VoteStep, per spec.md §6:
// "the signature covers the digest of (step, block_hash)". A nil
// BlockHash (HasBlock=false) represents a vote for "nil".
type Vote struct {
	Step        VoteStep
	BlockHash   xcrypto.H256
	HasBlock    bool
	SignerIndex uint32
	Signature   xcrypto.Signature
}

// wireVote is Vote's RLP shape; Signature and BlockHash are fixed-size
// arrays so no extra framing is needed, but HasBlock needs an explicit
// flag since RLP has no null.
type wireVote struct {
	Height      uint64
	View        uint64
	Kind        uint8
	BlockHash   xcrypto.H256
	HasBlock    bool
	SignerIndex uint32
	Signature   xcrypto.Signature
}

// Digest returns the signed digest H(step || block_hash-or-absence).
func (v Vote) Digest() xcrypto.H256 {
	buf := make([]byte, 0, 8+8+1+33)
	buf = appendUint64(buf, v.Step.Height)
	buf = appendUint64(buf, v.Step.View)
	buf = append(buf, byte(v.Step.Kind))
	if v.HasBlock {
		buf = append(buf, 1)
		buf = append(buf, v.BlockHash.Bytes()...)
	} else {
		buf = append(buf, 0)
	}
	return xcrypto.Hash(buf)
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// Sign produces a signed Vote over step/blockHash using priv, tagged with
// signerIndex (the signer's position in the validator set for this
// height).
func Sign(priv xcrypto.PrivateKey, step VoteStep, blockHash xcrypto.H256, hasBlock bool, signerIndex uint32) (Vote, error) {
	v := Vote{Step: step, BlockHash: blockHash, HasBlock: hasBlock, SignerIndex: signerIndex}
	sig, err := priv.Sign(v.Digest())
	if err != nil {
		return Vote{}, fmt.Errorf("tendermint: sign vote: %w", err)
	}
	v.Signature = sig
	return v, nil
}

// Verify checks the vote's signature against pub.
func (v Vote) Verify(pub xcrypto.PublicKey) bool {
	return v.Signature.Verify(pub, v.Digest())
}

// Encode/Decode marshal a Vote for the wire, per spec.md §6.
func (v Vote) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(&wireVote{
		Height: v.Step.Height, View: v.Step.View, Kind: uint8(v.Step.Kind),
		BlockHash: v.BlockHash, HasBlock: v.HasBlock,
		SignerIndex: v.SignerIndex, Signature: v.Signature,
	})
}

func DecodeVote(b []byte) (Vote, error) {
	var w wireVote
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return Vote{}, fmt.Errorf("tendermint: decode vote: %w", err)
	}
	return Vote{
		Step:        VoteStep{Height: w.Height, View: w.View, Kind: Step(w.Kind)},
		BlockHash:   w.BlockHash,
		HasBlock:    w.HasBlock,
		SignerIndex: w.SignerIndex,
		Signature:   w.Signature,
	}, nil
}
