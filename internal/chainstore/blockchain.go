package chainstore

import (
	"sync"

	"github.com/ironledger/ironchain/internal/kv"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// CanonArbiter is consulted when two candidate tips carry equal
// total_score; spec.md §3's `can_change_canon_chain` hook.
type CanonArbiter interface {
	CanChangeCanonChain(newHash, parentHash, grandparentHash, prevBestHash xcrypto.H256) bool
}

// BlockChain is the top-level store of spec.md §4.2: it owns the header
// chain, body store, and receipt store, and maintains the two chain tips
// (best_block and best_proposal_block) that may temporarily diverge.
type BlockChain struct {
	db        kv.Store
	importMu  sync.Mutex // the single import lock of spec.md §5
	headers   *HeaderChain
	bodies    *BodyStore
	receipts  *ReceiptStore

	bestProposalBlockHash xcrypto.H256
	bestBlockHash         xcrypto.H256

	pendingBestProposalBlockHash *xcrypto.H256
	pendingBestBlockHash         *xcrypto.H256
	pendingBatch                 kv.Batch
}

// ChainInfo summarizes the visible chain tip, per spec.md §8 scenario 1.
type ChainInfo struct {
	BestBlockHash  xcrypto.H256
	BestBlockNumber uint64
	StateRoot      xcrypto.H256
}

// Open opens (or initializes, given genesis) a BlockChain over db.
func Open(db kv.Store, genesis *types.Header) (*BlockChain, error) {
	hc, err := NewHeaderChain(db, genesis)
	if err != nil {
		return nil, err
	}
	bc := &BlockChain{
		db:       db,
		headers:  hc,
		bodies:   NewBodyStore(db),
		receipts: NewReceiptStore(db),
	}
	if raw, ok := db.Get(kv.ColExtra, []byte(keyBestBlock)); ok {
		copy(bc.bestBlockHash[:], raw)
	} else {
		bc.bestBlockHash = hc.BestHeaderHash()
	}
	if raw, ok := db.Get(kv.ColExtra, []byte(keyBestProposal)); ok {
		copy(bc.bestProposalBlockHash[:], raw)
	} else {
		bc.bestProposalBlockHash = hc.BestHeaderHash()
	}
	return bc, nil
}

func (bc *BlockChain) Headers() *HeaderChain   { return bc.headers }
func (bc *BlockChain) Bodies() *BodyStore       { return bc.bodies }
func (bc *BlockChain) Receipts() *ReceiptStore  { return bc.receipts }

// Lock/Unlock expose the single import lock so callers (the importer) can
// serialize a full verify-execute-insert-commit sequence.
func (bc *BlockChain) Lock()   { bc.importMu.Lock() }
func (bc *BlockChain) Unlock() { bc.importMu.Unlock() }

// BestBlockHash returns the visible last-committed block (Tendermint's
// committed height), per spec.md §4.2.
func (bc *BlockChain) BestBlockHash() xcrypto.H256 { return bc.bestBlockHash }

// BestProposalBlockHash returns the visible highest-scored known block
// that may yet be committed.
func (bc *BlockChain) BestProposalBlockHash() xcrypto.H256 { return bc.bestProposalBlockHash }

// ChainInfo reports the current committed tip.
func (bc *BlockChain) ChainInfo() ChainInfo {
	h, _ := bc.headers.HeaderByHash(bc.bestBlockHash)
	info := ChainInfo{BestBlockHash: bc.bestBlockHash}
	if h != nil {
		info.StateRoot = h.StateRoot
	}
	if d, ok := bc.headers.DetailsByHash(bc.bestBlockHash); ok {
		info.BestBlockNumber = d.Height
	}
	return info
}

// InsertBlock stores a new block's header, body, and receipts, and — if its
// total_score beats the current best proposal (or ties and the arbiter
// agrees) — stages it as the new best_proposal_block, computing the
// transaction-index route per spec.md §4.2 (subtract retracted, then add
// enacted, in that order). It does not move best_block; that is the
// consensus engine's prerogative via CommitBlock, once its commit rule is
// satisfied.
func (bc *BlockChain) InsertBlock(header *types.Header, txs []*types.SignedTransaction, receipts []*types.Receipt, arbiter CanonArbiter) (Route, error) {
	hash, becameHighest, err := bc.headers.InsertHeader(header)
	if err != nil {
		return Route{}, err
	}

	b := bc.db.NewBatch()
	if err := bc.bodies.PutBody(b, hash, txs); err != nil {
		return Route{}, err
	}
	for _, r := range receipts {
		if err := bc.receipts.PutReceipt(b, r); err != nil {
			return Route{}, err
		}
	}

	newDetails, _ := bc.headers.DetailsByHash(hash)
	proposalDetails, _ := bc.headers.DetailsByHash(bc.bestProposalBlockHash)

	becomesProposal := becameHighest
	if !becomesProposal && proposalDetails != nil && newDetails.TotalScore.Cmp(proposalDetails.TotalScore) == 0 && arbiter != nil {
		grandparent := xcrypto.H256{}
		if pd, ok := bc.headers.DetailsByHash(header.ParentHash); ok {
			grandparent = pd.ParentHash
		}
		becomesProposal = arbiter.CanChangeCanonChain(hash, header.ParentHash, grandparent, bc.bestProposalBlockHash)
	}

	var route Route
	if becomesProposal {
		route, err = bc.headers.TreeRoute(bc.bestProposalBlockHash, hash)
		if err != nil {
			return Route{}, err
		}
		for _, retractedHash := range route.Retracted {
			rtxs, _ := bc.bodies.Body(retractedHash)
			if err := bc.bodies.SubtractIndices(b, retractedHash, rtxs); err != nil {
				return Route{}, err
			}
		}
		for _, enactedHash := range route.Enacted {
			etxs := txs
			if enactedHash != hash {
				etxs, _ = bc.bodies.Body(enactedHash)
			}
			if err := bc.bodies.AddIndices(b, enactedHash, etxs); err != nil {
				return Route{}, err
			}
		}
		bc.pendingBestProposalBlockHash = &hash
	}

	bc.pendingBatch = mergeBatch(bc.pendingBatch, b)
	return route, nil
}

// CommitBlock marks hash as the new best_block (the consensus engine's
// committed height), staging the tip pointer for Commit.
func (bc *BlockChain) CommitBlock(hash xcrypto.H256) {
	bc.pendingBestBlockHash = &hash
}

// Commit applies every batched mutation and promotes every pending tip
// pointer into the visible state. Until Commit is called, concurrent
// readers observe the pre-batch state.
func (bc *BlockChain) Commit() error {
	if bc.pendingBatch != nil {
		if bc.pendingBestProposalBlockHash != nil {
			bc.pendingBatch.Put(kv.ColExtra, []byte(keyBestProposal), bc.pendingBestProposalBlockHash.Bytes())
		}
		if bc.pendingBestBlockHash != nil {
			bc.pendingBatch.Put(kv.ColExtra, []byte(keyBestBlock), bc.pendingBestBlockHash.Bytes())
		}
		if err := bc.db.Write(bc.pendingBatch); err != nil {
			return err
		}
		bc.pendingBatch = nil
	}
	if err := bc.headers.Commit(); err != nil {
		return err
	}
	if bc.pendingBestProposalBlockHash != nil {
		bc.bestProposalBlockHash = *bc.pendingBestProposalBlockHash
		bc.pendingBestProposalBlockHash = nil
	}
	if bc.pendingBestBlockHash != nil {
		bc.bestBlockHash = *bc.pendingBestBlockHash
		bc.pendingBestBlockHash = nil
	}
	return nil
}

// TransactionAddress resolves tx by hash, returning an address only if the
// transaction is indexed (i.e. on the canonical chain).
func (bc *BlockChain) TransactionAddress(txHash xcrypto.H256) (types.TransactionAddress, bool) {
	return bc.bodies.TransactionAddress(txHash)
}

// mergeBatch concatenates two in-memory batches into one logical unit by
// replaying the second atop the first's recorded puts/deletes. Since
// kv.Batch has no native merge operation, this relies on the MemStore batch
// concrete type; other Store implementations should provide their own
// pass-through batches that support this pattern natively.
func mergeBatch(a, b kv.Batch) kv.Batch {
	if a == nil {
		return b
	}
	if merger, ok := a.(interface{ Merge(kv.Batch) kv.Batch }); ok {
		return merger.Merge(b)
	}
	return b
}
