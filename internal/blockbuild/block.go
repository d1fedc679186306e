package blockbuild

import (
	"fmt"

	"github.com/ironledger/ironchain/internal/chainstore"
	"github.com/ironledger/ironchain/internal/ironerr"
	"github.com/ironledger/ironchain/internal/state"
	"github.com/ironledger/ironchain/internal/trie"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// OpenBlock is a block under construction: transactions may still be
// pushed. Per spec.md §4.3.
type OpenBlock struct {
	engine   Engine
	db       *state.DB
	header   *types.Header
	txs      []*types.SignedTransaction
	receipts []*types.Receipt
	seen     map[xcrypto.H256]struct{}

	// orderTransferEnabled mirrors spec.md §6's single environment flag:
	// with it unset (the stricter default), a tracker collision is
	// refused; set, a later transaction may take over an earlier one's
	// tracker (e.g. a new signer assuming the same logical order).
	orderTransferEnabled bool
	trackers             map[xcrypto.H256]xcrypto.H256 // tracker -> owning tx hash
}

// SetOrderTransferEnabled toggles the order-transfer mechanism for this
// block; callers wire this from config.Config.Features.OrderTransfer.
// Unset, the block refuses a transaction whose Tracker() is already claimed
// by an already-pushed transaction with a different hash.
func (ob *OpenBlock) SetOrderTransferEnabled(v bool) { ob.orderTransferEnabled = v }

// NewOpenBlock loads parent's state root into a fresh state cache, stamps
// the header's parent-derived fields, and runs the engine's new-block
// hooks.
func NewOpenBlock(engine Engine, t *trie.Trie, canonical *state.CanonicalCache, parent *types.Header, author types.Address, timestamp uint64, extraData xcrypto.H256, isEpochBegin bool) (*OpenBlock, error) {
	parentHash, err := parent.HashWithSeal()
	if err != nil {
		return nil, fmt.Errorf("blockbuild: hash parent: %w", err)
	}
	if timestamp < parent.Timestamp {
		return nil, fmt.Errorf("blockbuild: %w: timestamp %d before parent %d", ironerr.ErrNonMonotonicTS, timestamp, parent.Timestamp)
	}
	db := state.New(t, canonical, parentHash)
	header := &types.Header{
		ParentHash: parentHash,
		Author:     author,
		Height:     parent.Height + 1,
		Timestamp:  timestamp,
		ExtraData:  extraData,
	}
	engine.PopulateFromParent(header, parent)
	if err := engine.OnNewBlock(isEpochBegin); err != nil {
		return nil, fmt.Errorf("blockbuild: on_new_block: %w", err)
	}
	return &OpenBlock{
		engine:   engine,
		db:       db,
		header:   header,
		seen:     make(map[xcrypto.H256]struct{}),
		trackers: make(map[xcrypto.H256]xcrypto.H256),
	}, nil
}

// OpenBlockFromHeader reopens an already-formed header (one received over
// the network, with every field but the roots already set) for replay: it
// skips PopulateFromParent, since the header's fields are not ours to
// overwrite, but still runs OnNewBlock so epoch-boundary bookkeeping stays
// consistent with locally-built blocks.
func OpenBlockFromHeader(engine Engine, t *trie.Trie, canonical *state.CanonicalCache, header *types.Header, isEpochBegin bool) (*OpenBlock, error) {
	db := state.New(t, canonical, header.ParentHash)
	if err := engine.OnNewBlock(isEpochBegin); err != nil {
		return nil, fmt.Errorf("blockbuild: on_new_block: %w", err)
	}
	return &OpenBlock{
		engine:   engine,
		db:       db,
		header:   header,
		seen:     make(map[xcrypto.H256]struct{}),
		trackers: make(map[xcrypto.H256]xcrypto.H256),
	}, nil
}

// PushTransaction executes tx against the block's state cache and appends
// it (and its receipt) to the block, refusing a transaction whose hash is
// already present in this block.
func (ob *OpenBlock) PushTransaction(tx *types.SignedTransaction) (*types.Receipt, error) {
	h, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	if _, dup := ob.seen[h]; dup {
		return nil, fmt.Errorf("blockbuild: %w: tx %s already in block", ironerr.ErrTxAlreadyInBlock, h)
	}
	tracker := tx.Tracker()
	if owner, collide := ob.trackers[tracker]; collide && owner != h && !ob.orderTransferEnabled {
		return nil, fmt.Errorf("blockbuild: %w: tracker %s already claimed by tx %s", ironerr.ErrOrderTransferDisabled, tracker, owner)
	}
	receipt, err := Execute(ob.db, tx)
	if err != nil {
		return nil, fmt.Errorf("blockbuild: execute: %w", err)
	}
	ob.seen[h] = struct{}{}
	ob.trackers[tracker] = h
	ob.txs = append(ob.txs, tx)
	ob.receipts = append(ob.receipts, receipt)
	return receipt, nil
}

// Header returns the in-progress header (parent/author/height/timestamp
// populated, roots not yet set).
func (ob *OpenBlock) Header() *types.Header { return ob.header }

// ClosedBlock is an OpenBlock that has run its post-block hook; it may
// still be reopened, discarding whatever on_close_block staged.
type ClosedBlock struct {
	engine   Engine
	db       *state.DB
	header   *types.Header
	txs      []*types.SignedTransaction
	receipts []*types.Receipt
	seen     map[xcrypto.H256]struct{}

	orderTransferEnabled bool
	trackers             map[xcrypto.H256]xcrypto.H256

	preCloseHeader *types.Header
}

// Close runs the engine's on_close_block hook (which may credit rewards
// by writing into the state cache) and snapshots enough of the prior
// state to support Reopen.
func (ob *OpenBlock) Close() (*ClosedBlock, error) {
	preClose := *ob.header
	if err := ob.engine.OnCloseBlock(ob.db, ob.header); err != nil {
		return nil, fmt.Errorf("blockbuild: on_close_block: %w", err)
	}
	return &ClosedBlock{
		engine:               ob.engine,
		db:                   ob.db,
		header:               ob.header,
		txs:                  ob.txs,
		receipts:             ob.receipts,
		seen:                 ob.seen,
		orderTransferEnabled: ob.orderTransferEnabled,
		trackers:             ob.trackers,
		preCloseHeader:       &preClose,
	}, nil
}

// Reopen reverts header to the pre-close snapshot and returns the block to
// the Open state. on_close_block's state writes are not undone here; the
// caller is expected to have taken a checkpoint before Close if it needs
// that level of rollback (spec.md §4.3's reopen contract covers the
// header only).
func (cb *ClosedBlock) Reopen() *OpenBlock {
	header := *cb.preCloseHeader
	return &OpenBlock{
		engine:               cb.engine,
		db:                   cb.db,
		header:               &header,
		txs:                  cb.txs,
		receipts:             cb.receipts,
		seen:                 cb.seen,
		orderTransferEnabled: cb.orderTransferEnabled,
		trackers:             cb.trackers,
	}
}

// LockedBlock has a committed state root and skewed tx/receipt roots;
// only sealing remains.
type LockedBlock struct {
	header   *types.Header
	txs      []*types.SignedTransaction
	receipts []*types.Receipt
	db       *state.DB
}

// lockRoots commits the state trie and computes the skewed tx/receipt
// roots seeded by the parent's corresponding roots.
func (cb *ClosedBlock) lockRoots(parentTxRoot, parentReceiptRoot xcrypto.H256) (*LockedBlock, error) {
	stateRoot, err := cb.db.Commit()
	if err != nil {
		return nil, fmt.Errorf("blockbuild: commit state: %w", err)
	}
	txHashes := make([]xcrypto.H256, len(cb.txs))
	for i, tx := range cb.txs {
		h, err := tx.Hash()
		if err != nil {
			return nil, err
		}
		txHashes[i] = h
	}
	receiptHashes := make([]xcrypto.H256, len(cb.receipts))
	for i, r := range cb.receipts {
		h, err := xcrypto.HashRLP(r)
		if err != nil {
			return nil, err
		}
		receiptHashes[i] = h
	}
	cb.header.StateRoot = stateRoot
	cb.header.TransactionsRoot = chainstore.SkewedRoot(parentTxRoot, txHashes)
	cb.header.ReceiptsRoot = chainstore.SkewedRoot(parentReceiptRoot, receiptHashes)
	return &LockedBlock{header: cb.header, txs: cb.txs, receipts: cb.receipts, db: cb.db}, nil
}

// Lock produces a LockedBlock, computing roots from scratch.
func (cb *ClosedBlock) Lock(parentTxRoot, parentReceiptRoot xcrypto.H256) (*LockedBlock, error) {
	return cb.lockRoots(parentTxRoot, parentReceiptRoot)
}

// LockAndAssert is close_and_lock: it additionally requires the computed
// roots match header's pre-set roots, used on replay from the network
// where the header arrived with roots already claimed.
func (cb *ClosedBlock) LockAndAssert(parentTxRoot, parentReceiptRoot xcrypto.H256, wantState, wantTxRoot, wantReceiptRoot xcrypto.H256) (*LockedBlock, error) {
	lb, err := cb.lockRoots(parentTxRoot, parentReceiptRoot)
	if err != nil {
		return nil, err
	}
	if lb.header.StateRoot != wantState {
		return nil, fmt.Errorf("blockbuild: %w: state_root mismatch", ironerr.ErrRootMismatch)
	}
	if lb.header.TransactionsRoot != wantTxRoot {
		return nil, fmt.Errorf("blockbuild: %w: transactions_root mismatch", ironerr.ErrRootMismatch)
	}
	if lb.header.ReceiptsRoot != wantReceiptRoot {
		return nil, fmt.Errorf("blockbuild: %w: receipts_root mismatch", ironerr.ErrRootMismatch)
	}
	return lb, nil
}

// Header returns the fully-rooted header, seal fields not yet set.
func (lb *LockedBlock) Header() *types.Header { return lb.header }

// Transactions returns the block's ordered transaction list.
func (lb *LockedBlock) Transactions() []*types.SignedTransaction { return lb.txs }

// Receipts returns the block's ordered receipt list.
func (lb *LockedBlock) Receipts() []*types.Receipt { return lb.receipts }

// StateDB exposes the underlying state handle so the importer can finalize
// it into the canonical cache after commit.
func (lb *LockedBlock) StateDB() *state.DB { return lb.db }

// SealedBlock is a LockedBlock with seal fields assigned; its encoding is
// the canonical block wire form.
type SealedBlock struct {
	Block *types.Block
}

// Seal assigns sealFields, requiring their count match engine.SealFields.
func (lb *LockedBlock) Seal(engine Engine, sealFields [][]byte) (*SealedBlock, error) {
	want := engine.SealFields(lb.header)
	if len(sealFields) != want {
		return nil, fmt.Errorf("blockbuild: %w: engine wants %d seal fields, got %d", ironerr.ErrBadSealArity, want, len(sealFields))
	}
	lb.header.SealFields = sealFields
	return &SealedBlock{Block: &types.Block{Header: lb.header, Transactions: lb.txs}}, nil
}
