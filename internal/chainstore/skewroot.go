package chainstore

import "github.com/ironledger/ironchain/internal/xcrypto"

// SkewedRoot folds parentRoot with the hash of each item in order, per
// spec.md §3 / GLOSSARY: a root committing to the full chain-prefix of
// items, not merely this block's own list. The same construction computes
// both transactions_root and receipts_root.
//
// Adapted from the teacher's balanced binary core/merkle_tree_operations.go
// (BuildMerkleTree), generalized here from a per-block binary tree into the
// spec's parent-seeded linear fold.
func SkewedRoot(parentRoot xcrypto.H256, itemHashes []xcrypto.H256) xcrypto.H256 {
	acc := parentRoot
	for _, h := range itemHashes {
		acc = xcrypto.HashPair(acc, h)
	}
	return acc
}
