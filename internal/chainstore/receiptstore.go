package chainstore

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ironledger/ironchain/internal/kv"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// ReceiptStore persists receipts by tx hash. It carries no reorg
// bookkeeping of its own (spec.md §4.2): a receipt is content-addressed by
// the transaction hash that produced it and is simply overwritten if that
// transaction is re-executed on another branch.
type ReceiptStore struct {
	db kv.Store
}

// NewReceiptStore opens a receipt store over db.
func NewReceiptStore(db kv.Store) *ReceiptStore {
	return &ReceiptStore{db: db}
}

// PutReceipt stores r, keyed by its own TxHash.
func (rs *ReceiptStore) PutReceipt(b kv.Batch, r *types.Receipt) error {
	enc, err := rlp.EncodeToBytes(r)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	b.Put(kv.ColReceipts, r.TxHash.Bytes(), enc)
	return nil
}

// Receipt loads the receipt for txHash.
func (rs *ReceiptStore) Receipt(txHash xcrypto.H256) (*types.Receipt, bool) {
	raw, ok := rs.db.Get(kv.ColReceipts, txHash.Bytes())
	if !ok {
		return nil, false
	}
	var r types.Receipt
	if err := rlp.DecodeBytes(raw, &r); err != nil {
		return nil, false
	}
	return &r, true
}
