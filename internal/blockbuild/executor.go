package blockbuild

import (
	"github.com/ironledger/ironchain/internal/state"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// Execute applies tx against db. Per spec.md §1's non-goals (no
// incentive/economic policy), the core carries no VM or fee logic: a
// transaction is simply a signed write of its payload at the key derived
// from its own tracker hash, giving every concrete engine/application a
// content-addressed slot to build richer semantics on top of without this
// package needing to know what a "balance" or "contract" is.
func Execute(db *state.DB, tx *types.SignedTransaction) (*types.Receipt, error) {
	h, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	tracker := tx.Tracker()
	db.Set(tracker.Bytes(), tx.Payload)
	return &types.Receipt{TxHash: h, Tracker: &tracker}, nil
}
