package verifyqueue

import (
	"github.com/ironledger/ironchain/internal/blockbuild"
	"github.com/ironledger/ironchain/internal/chainstore"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// VerifierEngine is the subset of spec.md §4.5's capability set consumed
// by the queues and the importer: the five verification hooks plus commit
// arbitration. blockbuild.Engine (the lifecycle hooks) is embedded since
// the importer re-executes a block through the same OpenBlock machinery.
type VerifierEngine interface {
	blockbuild.Engine
	chainstore.CanonArbiter

	VerifyBlockBasic(block *types.Block) error
	VerifyBlockUnordered(block *types.Block) error
	VerifyBlockFamily(header, parent *types.Header) error
	VerifyBlockExternal(header *types.Header) error
	VerifyLocalSeal(header *types.Header) error

	VerifyHeaderBasic(header *types.Header) error
	VerifyHeaderUnordered(header *types.Header) error

	// GetBestBlockFromBestProposalHeader returns the hash this engine
	// considers committed given the current best proposal header
	// (Tendermint: the grandparent of the latest proposal).
	GetBestBlockFromBestProposalHeader(header *types.Header) (xcrypto.H256, bool)
}
