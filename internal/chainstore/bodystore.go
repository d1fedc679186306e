package chainstore

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ironledger/ironchain/internal/kv"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

func txKey(h xcrypto.H256) []byte      { return append([]byte("tx:"), h.Bytes()...) }
func trackerKey(h xcrypto.H256) []byte { return append([]byte("tr:"), h.Bytes()...) }

// BodyStore persists transaction lists by block hash plus the inverted
// tx_hash/tracker indices of spec.md §4.2.
type BodyStore struct {
	db kv.Store
	mu sync.Mutex
}

// NewBodyStore opens a body store over db.
func NewBodyStore(db kv.Store) *BodyStore {
	return &BodyStore{db: db}
}

// PutBody stores blockHash's transaction list.
func (bs *BodyStore) PutBody(b kv.Batch, blockHash xcrypto.H256, txs []*types.SignedTransaction) error {
	enc, err := rlp.EncodeToBytes(txs)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	b.Put(kv.ColBodies, blockHash.Bytes(), enc)
	return nil
}

// Body loads blockHash's transaction list.
func (bs *BodyStore) Body(blockHash xcrypto.H256) ([]*types.SignedTransaction, bool) {
	raw, ok := bs.db.Get(kv.ColBodies, blockHash.Bytes())
	if !ok {
		return nil, false
	}
	var txs []*types.SignedTransaction
	if err := rlp.DecodeBytes(raw, &txs); err != nil {
		return nil, false
	}
	return txs, true
}

// AddIndices adds tx_hash->address and tracker->addresses entries for every
// transaction in a block being enacted onto the canonical chain.
func (bs *BodyStore) AddIndices(b kv.Batch, blockHash xcrypto.H256, txs []*types.SignedTransaction) error {
	for i, tx := range txs {
		h, err := tx.Hash()
		if err != nil {
			return err
		}
		addr := types.TransactionAddress{BlockHash: blockHash, Index: uint32(i)}
		enc, err := rlp.EncodeToBytes(&addr)
		if err != nil {
			return err
		}
		b.Put(kv.ColExtra, txKey(h), enc)

		tracker := tx.Tracker()
		set := bs.loadTrackerSet(tracker)
		set.Add(addr)
		tenc, err := rlp.EncodeToBytes(set)
		if err != nil {
			return err
		}
		b.Put(kv.ColExtra, trackerKey(tracker), tenc)
	}
	return nil
}

// SubtractIndices removes tx_hash->address and tracker->addresses entries
// for a block being retracted from the canonical chain. Subtraction must
// happen before any corresponding addition in the same reorg (spec.md
// §4.2), so a transaction re-enacted on the new branch is not net-removed;
// callers are responsible for that ordering.
func (bs *BodyStore) SubtractIndices(b kv.Batch, blockHash xcrypto.H256, txs []*types.SignedTransaction) error {
	for i, tx := range txs {
		h, err := tx.Hash()
		if err != nil {
			return err
		}
		addr := types.TransactionAddress{BlockHash: blockHash, Index: uint32(i)}
		if existing, ok := bs.db.Get(kv.ColExtra, txKey(h)); ok {
			var cur types.TransactionAddress
			if err := rlp.DecodeBytes(existing, &cur); err == nil && cur == addr {
				b.Delete(kv.ColExtra, txKey(h))
			}
		}

		tracker := tx.Tracker()
		set := bs.loadTrackerSet(tracker)
		set.Remove(addr)
		if set.Empty() {
			b.Delete(kv.ColExtra, trackerKey(tracker))
			continue
		}
		tenc, err := rlp.EncodeToBytes(set)
		if err != nil {
			return err
		}
		b.Put(kv.ColExtra, trackerKey(tracker), tenc)
	}
	return nil
}

func (bs *BodyStore) loadTrackerSet(tracker xcrypto.H256) *types.TransactionAddresses {
	set := &types.TransactionAddresses{}
	if raw, ok := bs.db.Get(kv.ColExtra, trackerKey(tracker)); ok {
		_ = rlp.DecodeBytes(raw, set)
	}
	return set
}

// TransactionAddress looks up a transaction's home block by hash.
func (bs *BodyStore) TransactionAddress(txHash xcrypto.H256) (types.TransactionAddress, bool) {
	raw, ok := bs.db.Get(kv.ColExtra, txKey(txHash))
	if !ok {
		return types.TransactionAddress{}, false
	}
	var addr types.TransactionAddress
	if err := rlp.DecodeBytes(raw, &addr); err != nil {
		return types.TransactionAddress{}, false
	}
	return addr, true
}

// TrackerAddresses looks up every known address for a tracker.
func (bs *BodyStore) TrackerAddresses(tracker xcrypto.H256) []types.TransactionAddress {
	return bs.loadTrackerSet(tracker).Addrs
}
