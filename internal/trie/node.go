package trie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// nibbles holds a sequence of 4-bit path elements, one per byte for
// simplicity; values are always in [0, 15].
type nibbles []byte

// keyToNibbles hashes an arbitrary-length key to its fixed 256-bit path and
// expands it into 64 nibbles.
func keyToNibbles(key []byte) nibbles {
	h := xcrypto.Hash(key)
	return bytesToNibbles(h[:])
}

func bytesToNibbles(b []byte) nibbles {
	n := make(nibbles, len(b)*2)
	for i, c := range b {
		n[i*2] = c >> 4
		n[i*2+1] = c & 0x0f
	}
	return n
}

func commonPrefixLen(a, b nibbles) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// nodeKind distinguishes the two node shapes spec.md §3 describes.
type nodeKind uint8

const (
	kindLeaf nodeKind = iota
	kindBranch
)

// node is the structural encoding of a trie node. Exactly one of (Value) or
// (Children) is meaningful depending on Kind. The path length is implicit
// in len(Path) and is therefore part of the deterministic encoding.
type node struct {
	Kind     uint8
	Path     []byte
	Value    []byte
	Children [16][]byte
}

func leafNode(path nibbles, value []byte) *node {
	return &node{Kind: uint8(kindLeaf), Path: []byte(path), Value: value}
}

func branchNode(path nibbles, children [16][]byte) *node {
	return &node{Kind: uint8(kindBranch), Path: []byte(path), Children: children}
}

func (n *node) isLeaf() bool { return nodeKind(n.Kind) == kindLeaf }

// encode returns the canonical structural encoding of n; its hash is the
// node's identity in the backing store.
func (n *node) encode() ([]byte, error) {
	return rlp.EncodeToBytes(n)
}

func decodeNode(b []byte) (*node, error) {
	var n node
	if err := rlp.DecodeBytes(b, &n); err != nil {
		return nil, fmt.Errorf("decode trie node: %w", err)
	}
	return &n, nil
}

func (n *node) hash() (xcrypto.H256, []byte, error) {
	enc, err := n.encode()
	if err != nil {
		return xcrypto.H256{}, nil, err
	}
	return xcrypto.Hash(enc), enc, nil
}

// EmptyRoot is the well-known root of the empty trie: the hash of a
// zero-length input, equal to xcrypto.EmptyHash.
var EmptyRoot = xcrypto.Hash(nil)
