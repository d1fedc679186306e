// Package trie implements the authenticated radix trie of spec.md §4.1: a
// mapping from arbitrary-length byte keys (hashed to a fixed 256-bit path)
// to byte values, with Leaf and path-prefixed Branch nodes addressed by the
// hash of their structural encoding.
package trie

import (
	"fmt"

	"github.com/ironledger/ironchain/internal/kv"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// Trie is an authenticated radix trie backed by a columnar KV store.
type Trie struct {
	db   kv.Store
	root xcrypto.H256 // zero value means empty trie
}

// New creates an empty trie over db.
func New(db kv.Store) *Trie {
	return &Trie{db: db}
}

// FromExisting opens a trie at a previously committed root. It fails if the
// root node is not present in the backing store.
func FromExisting(db kv.Store, root xcrypto.H256) (*Trie, error) {
	if root.IsZero() || root == EmptyRoot {
		return &Trie{db: db}, nil
	}
	if _, ok := db.Get(kv.ColState, root.Bytes()); !ok {
		return nil, fmt.Errorf("trie: root %s not present in store", root)
	}
	return &Trie{db: db, root: root}, nil
}

// Root returns the current root hash; the empty trie's root is EmptyRoot.
func (t *Trie) Root() xcrypto.H256 {
	if t.root.IsZero() {
		return EmptyRoot
	}
	return t.root
}

// IsEmpty reports whether the trie holds no values.
func (t *Trie) IsEmpty() bool {
	return t.root.IsZero()
}

func (t *Trie) loadNode(h xcrypto.H256) (*node, error) {
	enc, ok := t.db.Get(kv.ColState, h.Bytes())
	if !ok {
		return nil, fmt.Errorf("trie: node %s missing from store", h)
	}
	return decodeNode(enc)
}

func (t *Trie) storeNode(n *node) (xcrypto.H256, error) {
	h, enc, err := n.hash()
	if err != nil {
		return xcrypto.H256{}, err
	}
	b := t.db.NewBatch()
	b.Put(kv.ColState, h.Bytes(), enc)
	if err := t.db.Write(b); err != nil {
		return xcrypto.H256{}, fmt.Errorf("store trie node: %w", err)
	}
	return h, nil
}

// Get looks up key, returning its value if present.
func (t *Trie) Get(key []byte) ([]byte, bool, error) {
	if t.root.IsZero() {
		return nil, false, nil
	}
	return t.get(t.root, keyToNibbles(key))
}

func (t *Trie) get(h xcrypto.H256, path nibbles) ([]byte, bool, error) {
	n, err := t.loadNode(h)
	if err != nil {
		return nil, false, err
	}
	if n.isLeaf() {
		if nibblesEqual(nibbles(n.Path), path) {
			return n.Value, true, nil
		}
		return nil, false, nil
	}
	prefix := nibbles(n.Path)
	if len(path) < len(prefix) || !nibblesEqual(path[:len(prefix)], prefix) {
		return nil, false, nil
	}
	rest := path[len(prefix):]
	if len(rest) == 0 {
		return nil, false, nil
	}
	idx := rest[0]
	childHash := n.Children[idx]
	if len(childHash) == 0 {
		return nil, false, nil
	}
	var ch xcrypto.H256
	copy(ch[:], childHash)
	return t.get(ch, rest[1:])
}

func nibblesEqual(a, b nibbles) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Insert writes value at key, returning the previous value if any.
func (t *Trie) Insert(key, value []byte) ([]byte, error) {
	path := keyToNibbles(key)
	if t.root.IsZero() {
		n := leafNode(path, value)
		h, err := t.storeNode(n)
		if err != nil {
			return nil, err
		}
		t.root = h
		return nil, nil
	}
	newRoot, prev, err := t.insert(t.root, path, value)
	if err != nil {
		return nil, err
	}
	t.root = newRoot
	return prev, nil
}

func (t *Trie) insert(h xcrypto.H256, path nibbles, value []byte) (xcrypto.H256, []byte, error) {
	n, err := t.loadNode(h)
	if err != nil {
		return xcrypto.H256{}, nil, err
	}
	if n.isLeaf() {
		existing := nibbles(n.Path)
		if nibblesEqual(existing, path) {
			prev := n.Value
			newHash, err := t.storeNode(leafNode(path, value))
			return newHash, prev, err
		}
		cp := commonPrefixLen(existing, path)
		var children [16][]byte
		leafHash, err := t.storeNode(leafNode(existing[cp+1:], n.Value))
		if err != nil {
			return xcrypto.H256{}, nil, err
		}
		children[existing[cp]] = leafHash.Bytes()
		newLeafHash, err := t.storeNode(leafNode(path[cp+1:], value))
		if err != nil {
			return xcrypto.H256{}, nil, err
		}
		children[path[cp]] = newLeafHash.Bytes()
		branchHash, err := t.storeNode(branchNode(existing[:cp], children))
		return branchHash, nil, err
	}

	prefix := nibbles(n.Path)
	cp := commonPrefixLen(prefix, path)
	if cp == len(prefix) {
		rest := path[len(prefix):]
		if len(rest) == 0 {
			return xcrypto.H256{}, nil, fmt.Errorf("trie: path exhausted at branch")
		}
		idx := rest[0]
		var childHash xcrypto.H256
		var prev []byte
		var err error
		if existing := n.Children[idx]; len(existing) != 0 {
			copy(childHash[:], existing)
			childHash, prev, err = t.insert(childHash, rest[1:], value)
		} else {
			childHash, err = t.storeNode(leafNode(rest[1:], value))
		}
		if err != nil {
			return xcrypto.H256{}, nil, err
		}
		n.Children[idx] = childHash.Bytes()
		newHash, err := t.storeNode(n)
		return newHash, prev, err
	}

	// Split the branch: a new branch carries the common prefix; the old
	// branch (with its prefix truncated) and the new leaf become its
	// children.
	var children [16][]byte
	oldBranchHash, err := t.storeNode(branchNode(prefix[cp+1:], n.Children))
	if err != nil {
		return xcrypto.H256{}, nil, err
	}
	children[prefix[cp]] = oldBranchHash.Bytes()
	newLeafHash, err := t.storeNode(leafNode(path[cp+1:], value))
	if err != nil {
		return xcrypto.H256{}, nil, err
	}
	children[path[cp]] = newLeafHash.Bytes()
	newHash, err := t.storeNode(branchNode(prefix[:cp], children))
	return newHash, nil, err
}

// Remove deletes key, returning its previous value if present. Branch
// compaction preserves the invariant that no branch has fewer than two
// children.
func (t *Trie) Remove(key []byte) ([]byte, error) {
	if t.root.IsZero() {
		return nil, nil
	}
	newRoot, prev, found, err := t.remove(t.root, keyToNibbles(key))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if newRoot == nil {
		t.root = xcrypto.H256{}
	} else {
		t.root = *newRoot
	}
	return prev, nil
}

// remove returns (newNodeHash-or-nil, previousValue, found, error).
func (t *Trie) remove(h xcrypto.H256, path nibbles) (*xcrypto.H256, []byte, bool, error) {
	n, err := t.loadNode(h)
	if err != nil {
		return nil, nil, false, err
	}
	if n.isLeaf() {
		if nibblesEqual(nibbles(n.Path), path) {
			return nil, n.Value, true, nil
		}
		return &h, nil, false, nil
	}

	prefix := nibbles(n.Path)
	if len(path) <= len(prefix) || !nibblesEqual(path[:len(prefix)], prefix) {
		return &h, nil, false, nil
	}
	rest := path[len(prefix):]
	idx := rest[0]
	childEnc := n.Children[idx]
	if len(childEnc) == 0 {
		return &h, nil, false, nil
	}
	var childHash xcrypto.H256
	copy(childHash[:], childEnc)

	newChild, prev, found, err := t.remove(childHash, rest[1:])
	if err != nil {
		return nil, nil, false, err
	}
	if !found {
		return &h, nil, false, nil
	}
	if newChild == nil {
		n.Children[idx] = nil
	} else {
		n.Children[idx] = newChild.Bytes()
	}

	remaining := make([]int, 0, 16)
	for i, c := range n.Children {
		if len(c) != 0 {
			remaining = append(remaining, i)
		}
	}

	switch len(remaining) {
	case 0:
		return nil, prev, true, nil
	case 1:
		only := remaining[0]
		var onlyHash xcrypto.H256
		copy(onlyHash[:], n.Children[only])
		childNode, err := t.loadNode(onlyHash)
		if err != nil {
			return nil, nil, false, err
		}
		mergedPath := append(append(append(nibbles{}, prefix...), byte(only)), childNode.Path...)
		var merged *node
		if childNode.isLeaf() {
			merged = leafNode(mergedPath, childNode.Value)
		} else {
			merged = branchNode(mergedPath, childNode.Children)
		}
		newHash, err := t.storeNode(merged)
		if err != nil {
			return nil, nil, false, err
		}
		return &newHash, prev, true, nil
	default:
		newHash, err := t.storeNode(n)
		if err != nil {
			return nil, nil, false, err
		}
		return &newHash, prev, true, nil
	}
}
