// Package solo implements spec.md §4.5's "Solo" engine: a single-signer
// rubber stamp used for local development and single-node test networks.
package solo

import (
	"fmt"
	"math/big"

	"github.com/ironledger/ironchain/internal/consensus"
	"github.com/ironledger/ironchain/internal/ironerr"
	"github.com/ironledger/ironchain/internal/state"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// Engine is the Solo engine: it accepts any block sealed by its own key
// and never arbitrates between forks beyond total_score.
type Engine struct {
	signer xcrypto.PrivateKey
}

// New builds a Solo engine signing with signer.
func New(signer xcrypto.PrivateKey) *Engine {
	return &Engine{signer: signer}
}

func (e *Engine) Name() string { return "solo" }

func (e *Engine) BlockReward(height uint64) *big.Int { return big.NewInt(0) }

func (e *Engine) ScoreToTarget(score *big.Int) *big.Int { return new(big.Int).Set(score) }

func (e *Engine) RecommendedConfirmation() uint64 { return 0 }

func (e *Engine) SealFields(header *types.Header) int { return 1 }

func (e *Engine) PopulateFromParent(header, parent *types.Header) {
	header.Score = new(big.Int).Add(parent.Score, big.NewInt(1))
}

func (e *Engine) OnNewBlock(isEpochBegin bool) error { return nil }

func (e *Engine) OnCloseBlock(db *state.DB, header *types.Header) error { return nil }

func (e *Engine) GenerateSeal(blockBytesHash, parentHash [32]byte) (consensus.GeneratedSeal, error) {
	sig, err := e.signer.Sign(blockBytesHash)
	if err != nil {
		return consensus.GeneratedSeal{}, fmt.Errorf("solo: sign: %w", err)
	}
	return consensus.GeneratedSeal{Kind: consensus.SealSolo, PoASig: sig.Bytes()}, nil
}

func (e *Engine) VerifyBlockBasic(block *types.Block) error { return nil }
func (e *Engine) VerifyBlockUnordered(block *types.Block) error { return nil }
func (e *Engine) VerifyBlockFamily(header, parent *types.Header) error {
	if header.Height != parent.Height+1 {
		return fmt.Errorf("solo: %w", ironerr.ErrBadScore)
	}
	if header.Timestamp < parent.Timestamp {
		return fmt.Errorf("solo: %w", ironerr.ErrNonMonotonicTS)
	}
	return nil
}

func (e *Engine) VerifyBlockExternal(header *types.Header) error {
	return e.verifySeal(header)
}

func (e *Engine) VerifyLocalSeal(header *types.Header) error {
	return e.verifySeal(header)
}

func (e *Engine) verifySeal(header *types.Header) error {
	if len(header.SealFields) != 1 || len(header.SealFields[0]) != 64 {
		return fmt.Errorf("solo: %w", ironerr.ErrBadSealArity)
	}
	sig, err := xcrypto.SignatureFromBytes(header.SealFields[0])
	if err != nil {
		return fmt.Errorf("solo: %w", ironerr.ErrBadSignature)
	}
	h, err := header.HashWithoutSeal()
	if err != nil {
		return err
	}
	if !sig.Verify(e.signer.Public(), h) {
		return fmt.Errorf("solo: %w", ironerr.ErrBadSignature)
	}
	return nil
}

func (e *Engine) VerifyHeaderBasic(header *types.Header) error     { return nil }
func (e *Engine) VerifyHeaderUnordered(header *types.Header) error { return nil }

func (e *Engine) CanChangeCanonChain(newHash, parentHash, grandparentHash, prevBestHash xcrypto.H256) bool {
	return false // ties never favor the newcomer for a single-signer chain
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
