// Package blockbuild implements the Open/Closed/Locked/Sealed block
// lifecycle of spec.md §4.3: a linear progression that executes a block's
// transactions against a fresh state cache, computes its skewed roots, and
// produces the sealed, wire-ready form.
package blockbuild

import (
	"github.com/ironledger/ironchain/internal/state"
	"github.com/ironledger/ironchain/internal/types"
)

// Engine is the subset of the consensus engine's capability set that the
// block lifecycle calls directly (spec.md §4.5's "Lifecycle hooks called
// by C4"). Concrete engines (solo, poa, tendermint) implement this
// alongside their consensus-specific methods.
type Engine interface {
	// PopulateFromParent lets the engine stamp engine-specific header
	// fields (e.g. difficulty/score bookkeeping) before execution begins.
	PopulateFromParent(header *types.Header, parent *types.Header)
	// OnNewBlock runs once OpenBlock's header is populated.
	OnNewBlock(isEpochBegin bool) error
	// OnCloseBlock runs against the block's state cache just before the
	// state root is computed; engines may credit block rewards here.
	OnCloseBlock(db *state.DB, header *types.Header) error
	// SealFields is the arity Seal must supply.
	SealFields(header *types.Header) int
}
