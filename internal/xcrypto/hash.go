// Package xcrypto provides the content hashing, structural codec, key
// agreement, signature, and authenticated encryption primitives shared by
// every other subsystem.
package xcrypto

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/rlp"
)

// H256 is a 256-bit content digest: the identity of headers, blocks,
// transactions, trie nodes, and votes.
type H256 [32]byte

// EmptyHash is the digest of a zero-length input, used as the parent hash of
// genesis and as a sentinel "no value" marker in a few wire messages.
var EmptyHash = Hash(nil)

// Hash returns the SHA-256 digest of b.
func Hash(b []byte) H256 {
	return sha256.Sum256(b)
}

// HashPair folds two digests the way the skewed Merkle construction does:
// H(acc || h).
func HashPair(acc, h H256) H256 {
	buf := make([]byte, 0, 64)
	buf = append(buf, acc[:]...)
	buf = append(buf, h[:]...)
	return Hash(buf)
}

// IsZero reports whether h is the all-zero hash (used as "no parent"/"no
// value" in several places distinct from EmptyHash).
func (h H256) IsZero() bool {
	return h == H256{}
}

func (h H256) Bytes() []byte { return h[:] }

func (h H256) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// HashRLP computes H(canonical_encoding(v)) for any RLP-encodable value,
// the structural-encoding contract used throughout the core (headers,
// blocks, trie nodes, votes).
func HashRLP(v interface{}) (H256, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return H256{}, err
	}
	return Hash(b), nil
}
