package verifyqueue

import (
	"fmt"

	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// VerifiedBlock is a block that has passed stage-1/2 validation
// (verify_block_basic, and verify_block_unordered when checkSeal is set).
type VerifiedBlock struct {
	Hash  xcrypto.H256
	Block *types.Block
}

// sizeOfBlock estimates a block's memory footprint from its transaction
// payload sizes, the dominant cost for the queue's memory cap.
func sizeOfBlock(b *types.Block) int {
	n := 0
	for _, tx := range b.Transactions {
		n += len(tx.Payload) + len(tx.PublicKey) + 64
	}
	return n + 256
}

func parentOfBlock(b *types.Block) xcrypto.H256 {
	return b.Header.ParentHash
}

// NewBlockQueue builds the block queue of spec.md §4.4.
func NewBlockQueue(engine VerifierEngine, signal chan string, cfg Config) *Queue[*types.Block, VerifiedBlock] {
	create := func(b *types.Block) (VerifiedBlock, error) {
		hash, err := b.Header.HashWithSeal()
		if err != nil {
			return VerifiedBlock{}, fmt.Errorf("verifyqueue: hash block: %w", err)
		}
		if err := engine.VerifyBlockBasic(b); err != nil {
			return VerifiedBlock{}, err
		}
		return VerifiedBlock{Hash: hash, Block: b}, nil
	}
	verify := func(v VerifiedBlock, checkSeal bool) error {
		if checkSeal {
			return engine.VerifyBlockUnordered(v.Block)
		}
		return nil
	}
	return NewQueue[*types.Block, VerifiedBlock]("block", signal, create, verify, sizeOfBlock, parentOfBlock, cfg)
}

// ImportBlock enqueues a raw block, keying it by its own sealed hash.
func ImportBlock(q *Queue[*types.Block, VerifiedBlock], b *types.Block) error {
	hash, err := b.Header.HashWithSeal()
	if err != nil {
		return err
	}
	return q.Import(hash, b)
}
