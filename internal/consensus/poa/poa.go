// Package poa implements spec.md §4.5's "Simple PoA" engine: a rotating
// authority set where the in-turn signer for a height is picked by
// round-robin, and every block is Schnorr-signed by its author.
package poa

import (
	"fmt"
	"math/big"

	"github.com/ironledger/ironchain/internal/consensus"
	"github.com/ironledger/ironchain/internal/ironerr"
	"github.com/ironledger/ironchain/internal/state"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// Engine is the Simple PoA engine.
type Engine struct {
	signer      xcrypto.PrivateKey
	authorities []xcrypto.PublicKey
}

// New builds a PoA engine over a fixed, ordered authority set; signer is
// this node's own key if it participates in block production.
func New(signer xcrypto.PrivateKey, authorities []xcrypto.PublicKey) *Engine {
	return &Engine{signer: signer, authorities: authorities}
}

func (e *Engine) Name() string { return "poa" }

func (e *Engine) BlockReward(height uint64) *big.Int { return big.NewInt(0) }

func (e *Engine) ScoreToTarget(score *big.Int) *big.Int { return new(big.Int).Set(score) }

func (e *Engine) RecommendedConfirmation() uint64 { return uint64(len(e.authorities)/2 + 1) }

func (e *Engine) SealFields(header *types.Header) int { return 1 }

// inTurn returns the authority index expected to author height.
func (e *Engine) inTurn(height uint64) int {
	if len(e.authorities) == 0 {
		return -1
	}
	return int(height % uint64(len(e.authorities)))
}

func (e *Engine) PopulateFromParent(header, parent *types.Header) {
	header.Score = new(big.Int).Add(parent.Score, big.NewInt(1))
}

func (e *Engine) OnNewBlock(isEpochBegin bool) error { return nil }

func (e *Engine) OnCloseBlock(db *state.DB, header *types.Header) error { return nil }

func (e *Engine) GenerateSeal(blockBytesHash, parentHash [32]byte) (consensus.GeneratedSeal, error) {
	sig, err := e.signer.Sign(blockBytesHash)
	if err != nil {
		return consensus.GeneratedSeal{}, fmt.Errorf("poa: sign: %w", err)
	}
	return consensus.GeneratedSeal{Kind: consensus.SealPoASig, PoASig: sig.Bytes()}, nil
}

func (e *Engine) VerifyBlockBasic(block *types.Block) error     { return nil }
func (e *Engine) VerifyBlockUnordered(block *types.Block) error { return nil }

func (e *Engine) VerifyBlockFamily(header, parent *types.Header) error {
	if header.Height != parent.Height+1 {
		return fmt.Errorf("poa: %w", ironerr.ErrBadScore)
	}
	if header.Timestamp < parent.Timestamp {
		return fmt.Errorf("poa: %w", ironerr.ErrNonMonotonicTS)
	}
	return nil
}

func (e *Engine) VerifyBlockExternal(header *types.Header) error { return e.verifySeal(header) }
func (e *Engine) VerifyLocalSeal(header *types.Header) error     { return e.verifySeal(header) }

func (e *Engine) verifySeal(header *types.Header) error {
	idx := e.inTurn(header.Height)
	if idx < 0 {
		return fmt.Errorf("poa: empty authority set")
	}
	if len(header.SealFields) != 1 || len(header.SealFields[0]) != 64 {
		return fmt.Errorf("poa: %w", ironerr.ErrBadSealArity)
	}
	sig, err := xcrypto.SignatureFromBytes(header.SealFields[0])
	if err != nil {
		return fmt.Errorf("poa: %w", ironerr.ErrBadSignature)
	}
	h, err := header.HashWithoutSeal()
	if err != nil {
		return err
	}
	if !sig.Verify(e.authorities[idx], h) {
		return fmt.Errorf("poa: %w: not signed by in-turn authority %d", ironerr.ErrBadSignature, idx)
	}
	return nil
}

func (e *Engine) VerifyHeaderBasic(header *types.Header) error     { return nil }
func (e *Engine) VerifyHeaderUnordered(header *types.Header) error { return nil }

func (e *Engine) CanChangeCanonChain(newHash, parentHash, grandparentHash, prevBestHash xcrypto.H256) bool {
	return false
}

func (e *Engine) GetBestBlockFromBestProposalHeader(header *types.Header) (xcrypto.H256, bool) {
	h, err := header.HashWithSeal()
	if err != nil {
		return xcrypto.H256{}, false
	}
	return h, true
}

func (e *Engine) HandleMessage(peer string, data []byte) error { return nil }

func (e *Engine) RegisterNetworkExtension(net consensus.NetworkService) {}
