package trie

import (
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// EntryState tracks the lifecycle of a cached value, per spec.md §4.1.
type EntryState uint8

const (
	CleanFresh EntryState = iota
	Dirty
	Committed
)

// Entry is one cached key's value and lifecycle state. A nil Value with
// Present=false models "known absent" so reverts can restore absence.
type Entry struct {
	Value   []byte
	Present bool
	State   EntryState
}

// journalRecord captures an entry's value immediately before its first
// mutation following a checkpoint, so revert_to_checkpoint can restore it.
type journalRecord struct {
	key   string
	prior Entry
	had   bool // whether the key existed in the cache before this checkpoint
}

// Cache is the write-back cache sitting above a Trie: reads populate a
// per-key map, mutations mark entries Dirty, and commit() flushes every
// Dirty entry into the trie. Checkpoints support nested revert.
type Cache struct {
	trie    *Trie
	entries map[string]*Entry
	// journals[i] holds the records for checkpoint depth i; the first
	// mutation of a key after a checkpoint push records its pre-mutation
	// value into the top journal exactly once.
	journals [][]journalRecord
	touched  []map[string]bool // per-journal-depth set of keys already recorded
}

// NewCache wraps t in a write-back cache.
func NewCache(t *Trie) *Cache {
	return &Cache{trie: t, entries: make(map[string]*Entry)}
}

// Peek returns the cache's own entry for key, if any, without falling back
// to the underlying trie.
func (c *Cache) Peek(key []byte) (Entry, bool) {
	e, ok := c.entries[string(key)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Get returns the current value for key, consulting the cache first and
// falling back to the underlying trie (populating the cache as CleanFresh).
func (c *Cache) Get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if e, ok := c.entries[k]; ok {
		return e.Value, e.Present, nil
	}
	v, ok, err := c.trie.Get(key)
	if err != nil {
		return nil, false, err
	}
	c.entries[k] = &Entry{Value: v, Present: ok, State: CleanFresh}
	return v, ok, nil
}

// Set writes value at key, marking the entry Dirty.
func (c *Cache) Set(key, value []byte) {
	c.recordForJournal(key)
	c.entries[string(key)] = &Entry{Value: value, Present: true, State: Dirty}
}

// Delete marks key as absent, Dirty.
func (c *Cache) Delete(key []byte) {
	c.recordForJournal(key)
	c.entries[string(key)] = &Entry{Present: false, State: Dirty}
}

// recordForJournal snapshots key's entry into the top checkpoint journal
// the first time it is mutated since that checkpoint was pushed.
func (c *Cache) recordForJournal(key []byte) {
	if len(c.journals) == 0 {
		return
	}
	k := string(key)
	top := len(c.journals) - 1
	if c.touched[top][k] {
		return
	}
	c.touched[top][k] = true
	prior, had := c.entries[k]
	rec := journalRecord{key: k}
	if had {
		rec.prior = *prior
		rec.had = true
	}
	c.journals[top] = append(c.journals[top], rec)
}

// Checkpoint pushes a new journal frame; nested checkpoints are supported.
func (c *Cache) Checkpoint() {
	c.journals = append(c.journals, nil)
	c.touched = append(c.touched, make(map[string]bool))
}

// DiscardCheckpoint merges the top journal into the one below it (or drops
// it entirely if it was the outermost), keeping the mutations but forgetting
// the ability to revert just this frame.
func (c *Cache) DiscardCheckpoint() {
	n := len(c.journals)
	if n == 0 {
		return
	}
	top := c.journals[n-1]
	topTouched := c.touched[n-1]
	c.journals = c.journals[:n-1]
	c.touched = c.touched[:n-1]
	if len(c.journals) == 0 {
		return
	}
	below := len(c.journals) - 1
	for _, rec := range top {
		if c.touched[below][rec.key] {
			continue
		}
		c.touched[below][rec.key] = true
		c.journals[below] = append(c.journals[below], rec)
	}
	_ = topTouched
}

// RevertToCheckpoint restores every entry recorded in the top journal frame
// to its pre-checkpoint value (or absence) and pops the frame.
func (c *Cache) RevertToCheckpoint() {
	n := len(c.journals)
	if n == 0 {
		return
	}
	top := c.journals[n-1]
	for i := len(top) - 1; i >= 0; i-- {
		rec := top[i]
		if rec.had {
			cp := rec.prior
			c.entries[rec.key] = &cp
		} else {
			delete(c.entries, rec.key)
		}
	}
	c.journals = c.journals[:n-1]
	c.touched = c.touched[:n-1]
}

// Commit writes every Dirty entry into the underlying trie, transitioning
// it to Committed. The cache remains usable afterward. Returns the new
// trie root.
func (c *Cache) Commit() (xcrypto.H256, error) {
	for k, e := range c.entries {
		if e.State != Dirty {
			continue
		}
		if e.Present {
			if _, err := c.trie.Insert([]byte(k), e.Value); err != nil {
				return xcrypto.H256{}, err
			}
		} else {
			if _, err := c.trie.Remove([]byte(k)); err != nil {
				return xcrypto.H256{}, err
			}
		}
		e.State = Committed
	}
	return c.trie.Root(), nil
}
