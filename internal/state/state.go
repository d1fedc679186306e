// Package state wraps the trie write-back cache with the canonical-state
// layer of spec.md §4.1: a cache shared across clones, staged during block
// execution and merged or discarded on commit, with a bounded history of
// recently committed blocks used to detect staleness across reorgs.
package state

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ironledger/ironchain/internal/trie"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// HistoryDepth is the bounded number of recent committed blocks (K) kept
// for reorg-safety filtering, per spec.md §4.1.
const HistoryDepth = 12

// BlockChanges records which keys one committed block modified, so a
// cached read can be checked against every block between the query point
// and the canonical junction.
type BlockChanges struct {
	Height   uint64
	Hash     xcrypto.H256
	Parent   xcrypto.H256
	Modified map[string]struct{}
	IsCanon  bool
}

// CanonicalCache is the second, canonical-state cache described in
// spec.md §4.1, shared across every DB clone taken from the same chain.
type CanonicalCache struct {
	mu      sync.RWMutex
	values  map[string][]byte
	present map[string]bool
	hot     *lru.Cache[string, []byte]
	history []BlockChanges
}

// NewCanonicalCache builds an empty canonical cache with a companion LRU
// of the given capacity for hot-account acceleration.
func NewCanonicalCache(hotCapacity int) *CanonicalCache {
	hot, _ := lru.New[string, []byte](hotCapacity)
	return &CanonicalCache{
		values:  make(map[string][]byte),
		present: make(map[string]bool),
		hot:     hot,
	}
}

// Get returns a canonical value only if it is trusted for a read rooted at
// parentHash: no block between parentHash and the canonical junction may
// have modified the key.
func (c *CanonicalCache) Get(parentHash xcrypto.H256, key string) ([]byte, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.isFresh(parentHash, key) {
		return nil, false, false
	}
	if v, ok := c.hot.Get(key); ok {
		return v, true, true
	}
	if _, ok := c.values[key]; !ok {
		return nil, false, false
	}
	return c.values[key], c.present[key], true
}

// isFresh walks the bounded history from parentHash back toward the
// canonical junction, returning false the moment an intervening block is
// found to have modified key.
func (c *CanonicalCache) isFresh(parentHash xcrypto.H256, key string) bool {
	cur := parentHash
	for _, bc := range c.history {
		if bc.Hash != cur {
			continue
		}
		if !bc.IsCanon {
			if _, touched := bc.Modified[key]; touched {
				return false
			}
		}
		cur = bc.Parent
	}
	return true
}

// SyncCache merges or discards the staged changes of one import, per
// spec.md §4.1's `sync_cache(enacted, retracted, is_best)`.
//
// staged holds the key/value pairs accumulated while executing the block
// identified by (hash, height, parent); when isBest is true (the import
// extended the canonical chain) they are merged into the canonical maps and
// the companion LRU; otherwise they are discarded and only recorded as a
// retracted entry in history so future freshness checks still see them as
// having touched those keys.
func (c *CanonicalCache) SyncCache(hash, parent xcrypto.H256, height uint64, staged map[string][]byte, deleted map[string]struct{}, isBest bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	modified := make(map[string]struct{}, len(staged)+len(deleted))
	for k := range staged {
		modified[k] = struct{}{}
	}
	for k := range deleted {
		modified[k] = struct{}{}
	}

	if isBest {
		for k, v := range staged {
			c.values[k] = v
			c.present[k] = true
			c.hot.Add(k, v)
		}
		for k := range deleted {
			c.values[k] = nil
			c.present[k] = false
			c.hot.Remove(k)
		}
	}

	c.history = append(c.history, BlockChanges{
		Height:   height,
		Hash:     hash,
		Parent:   parent,
		Modified: modified,
		IsCanon:  isBest,
	})
	if len(c.history) > HistoryDepth {
		c.history = c.history[len(c.history)-HistoryDepth:]
	}
}

// DB is a per-clone handle onto a trie, backed by a local write-back cache
// and a shared canonical cache consulted on reads that miss locally.
type DB struct {
	Local     *trie.Cache
	Canonical *CanonicalCache
	ParentHash xcrypto.H256
	staged    map[string][]byte
	deleted   map[string]struct{}
}

// New opens a per-block state handle over t, rooted at parentHash for
// canonical-cache freshness checks.
func New(t *trie.Trie, canonical *CanonicalCache, parentHash xcrypto.H256) *DB {
	return &DB{
		Local:      trie.NewCache(t),
		Canonical:  canonical,
		ParentHash: parentHash,
		staged:     make(map[string][]byte),
		deleted:    make(map[string]struct{}),
	}
}

// Get consults the local cache, then the canonical cache (if fresh), then
// falls through to the trie itself via the local cache's own miss path.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	if e, ok := db.Local.Peek(key); ok {
		return e.Value, e.Present, nil
	}
	if v, present, trusted := db.Canonical.Get(db.ParentHash, string(key)); trusted {
		return v, present, nil
	}
	return db.Local.Get(key)
}

// Set stages a write both locally and for later sync_cache promotion.
func (db *DB) Set(key, value []byte) {
	db.Local.Set(key, value)
	db.staged[string(key)] = value
	delete(db.deleted, string(key))
}

// Delete stages a removal.
func (db *DB) Delete(key []byte) {
	db.Local.Delete(key)
	db.deleted[string(key)] = struct{}{}
	delete(db.staged, string(key))
}

// Commit flushes the local cache into the trie and returns the new root.
func (db *DB) Commit() (xcrypto.H256, error) {
	return db.Local.Commit()
}

// Finalize pushes this block's staged changes into the canonical cache
// (merging them in if isBest, discarding them otherwise) and records the
// bookkeeping history entry.
func (db *DB) Finalize(hash xcrypto.H256, height uint64, isBest bool) {
	db.Canonical.SyncCache(hash, db.ParentHash, height, db.staged, db.deleted, isBest)
}
