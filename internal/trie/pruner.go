package trie

import (
	"sync"

	"github.com/ironledger/ironchain/internal/kv"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// PruneMode selects how a Pruner reclaims stale trie nodes.
type PruneMode int

const (
	// Archive retains every historical node forever.
	Archive PruneMode = iota
	// Pruning journals inserts/removes per block and defers physical
	// deletion until the owning block is canonical at sufficient depth.
	Pruning
)

// blockJournal records the node hashes inserted and removed while
// executing one block, keyed by the block's own hash.
type blockJournal struct {
	height   uint64
	inserted []xcrypto.H256
	removed  []xcrypto.H256
}

// Pruner defers physical node deletion until a block is canonical and deep
// enough that it can no longer be reorganized away, per spec.md §4.1.
type Pruner struct {
	mode  PruneMode
	db    kv.Store
	depth uint64

	mu       sync.Mutex
	journals map[xcrypto.H256]*blockJournal
	order    []xcrypto.H256 // insertion order, oldest first
}

// NewPruner builds a pruner over db. depth is the number of canonical
// blocks a journal entry must be buried under before its removed nodes are
// physically deleted.
func NewPruner(mode PruneMode, db kv.Store, depth uint64) *Pruner {
	return &Pruner{mode: mode, db: db, depth: depth, journals: make(map[xcrypto.H256]*blockJournal)}
}

// RecordBlock journals the nodes inserted/removed while building blockHash
// at height. In Archive mode this is a no-op.
func (p *Pruner) RecordBlock(blockHash xcrypto.H256, height uint64, inserted, removed []xcrypto.H256) {
	if p.mode == Archive {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.journals[blockHash] = &blockJournal{height: height, inserted: inserted, removed: removed}
	p.order = append(p.order, blockHash)
}

// MarkCanonical is called whenever the chain tip advances to tipHeight; any
// journal entry at least depth blocks behind the tip has its removed nodes
// physically deleted and is then forgotten.
func (p *Pruner) MarkCanonical(tipHeight uint64) {
	if p.mode == Archive {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := p.order[:0]
	for _, h := range p.order {
		j, ok := p.journals[h]
		if !ok {
			continue
		}
		if tipHeight >= j.height+p.depth {
			b := p.db.NewBatch()
			for _, n := range j.removed {
				b.Delete(kv.ColState, n.Bytes())
			}
			_ = p.db.Write(b)
			delete(p.journals, h)
			continue
		}
		remaining = append(remaining, h)
	}
	p.order = remaining
}

// Forget drops the journal for a block hash without deleting anything,
// used when a branch is discarded during reorg resolution rather than
// becoming canonical.
func (p *Pruner) Forget(blockHash xcrypto.H256) {
	if p.mode == Archive {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.journals, blockHash)
}
