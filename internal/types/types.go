// Package types holds the wire/domain data model shared by every core
// subsystem: headers, blocks, transactions, receipts, and the small
// indexing structs spec.md §3 names.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

type H256 = xcrypto.H256
type Address [20]byte

func (a Address) Bytes() []byte { return a[:] }

// Header is the block header of spec.md §3. SealFields is consensus
// dependent; its length is engine.SealFields(header).
type Header struct {
	ParentHash       H256
	Author           Address
	Height           uint64
	Timestamp        uint64
	Score            *big.Int
	TransactionsRoot H256
	StateRoot        H256
	ReceiptsRoot     H256
	ExtraData        H256
	SealFields       [][]byte
}

// headerWithoutSeal is encoded identically to Header but always with a nil
// seal list, giving the "without seal" canonical form used as the header's
// identity outside consensus voting contexts.
type headerWithoutSeal struct {
	ParentHash       H256
	Author           Address
	Height           uint64
	Timestamp        uint64
	Score            *big.Int
	TransactionsRoot H256
	StateRoot        H256
	ReceiptsRoot     H256
	ExtraData        H256
}

// HashWithoutSeal is the header's identity per spec.md §3: the hash of its
// canonical encoding without seal fields.
func (h *Header) HashWithoutSeal() (H256, error) {
	return xcrypto.HashRLP(&headerWithoutSeal{
		ParentHash: h.ParentHash, Author: h.Author, Height: h.Height,
		Timestamp: h.Timestamp, Score: h.Score, TransactionsRoot: h.TransactionsRoot,
		StateRoot: h.StateRoot, ReceiptsRoot: h.ReceiptsRoot, ExtraData: h.ExtraData,
	})
}

// HashWithSeal is the hash of the committed, wire-circulating form.
func (h *Header) HashWithSeal() (H256, error) {
	return xcrypto.HashRLP(wireHeaderOf(h))
}

// EncodeWithSeal returns the canonical wire encoding: [parent_hash, author,
// state_root, transactions_root, receipts_root, score, height, timestamp,
// extra_data, seal_fields...] per spec.md §6. Field order in the wire list
// differs from the Go struct's field order for historical-format fidelity,
// so we encode explicitly rather than relying on struct field order.
func (h *Header) EncodeWithSeal() ([]byte, error) {
	w := &wireHeader{
		ParentHash: h.ParentHash, Author: h.Author, StateRoot: h.StateRoot,
		TransactionsRoot: h.TransactionsRoot, ReceiptsRoot: h.ReceiptsRoot,
		Score: h.Score, Height: h.Height, Timestamp: h.Timestamp,
		ExtraData: h.ExtraData, SealFields: h.SealFields,
	}
	return rlp.EncodeToBytes(w)
}

type wireHeader struct {
	ParentHash       H256
	Author           Address
	StateRoot        H256
	TransactionsRoot H256
	ReceiptsRoot     H256
	Score            *big.Int
	Height           uint64
	Timestamp        uint64
	ExtraData        H256
	SealFields       [][]byte
}

// DecodeHeaderWithSeal parses the canonical wire form, rejecting trailing
// bytes (handled by rlp.DecodeBytes, which errors on leftover input).
func DecodeHeaderWithSeal(b []byte) (*Header, error) {
	var w wireHeader
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return nil, err
	}
	return &Header{
		ParentHash: w.ParentHash, Author: w.Author, StateRoot: w.StateRoot,
		TransactionsRoot: w.TransactionsRoot, ReceiptsRoot: w.ReceiptsRoot,
		Score: w.Score, Height: w.Height, Timestamp: w.Timestamp,
		ExtraData: w.ExtraData, SealFields: w.SealFields,
	}, nil
}

// SignedTransaction is a payload together with its signer's public key and
// signature.
type SignedTransaction struct {
	Payload   []byte
	PublicKey []byte // compressed secp256k1 public key
	Signature [64]byte
}

// Hash is H(payload || signature), the transaction's identity.
func (tx *SignedTransaction) Hash() (H256, error) {
	buf := make([]byte, 0, len(tx.Payload)+64)
	buf = append(buf, tx.Payload...)
	buf = append(buf, tx.Signature[:]...)
	return xcrypto.Hash(buf), nil
}

// Tracker is an optional payload-only digest used as a secondary index so
// that resubmissions with different signers resolve to the same logical
// operation.
func (tx *SignedTransaction) Tracker() H256 {
	return xcrypto.Hash(tx.Payload)
}

// Block is a header plus its ordered transaction list.
type Block struct {
	Header       *Header
	Transactions []*SignedTransaction
}

// EncodeWire returns the canonical block wire form: a 2-element list
// [header, transactions], per spec.md §6.
func (b *Block) EncodeWire() ([]byte, error) {
	return rlp.EncodeToBytes([]interface{}{wireHeaderOf(b.Header), b.Transactions})
}

func wireHeaderOf(h *Header) *wireHeader {
	return &wireHeader{
		ParentHash: h.ParentHash, Author: h.Author, StateRoot: h.StateRoot,
		TransactionsRoot: h.TransactionsRoot, ReceiptsRoot: h.ReceiptsRoot,
		Score: h.Score, Height: h.Height, Timestamp: h.Timestamp,
		ExtraData: h.ExtraData, SealFields: h.SealFields,
	}
}

// DecodeBlockWire parses the 2-element wire list, rejecting any trailing
// bytes or list-length mismatch (rlp.DecodeBytes enforces both for a
// fixed-arity Go struct/slice target).
func DecodeBlockWire(b []byte) (*Block, error) {
	var wire struct {
		Header       wireHeader
		Transactions []*SignedTransaction
	}
	if err := rlp.DecodeBytes(b, &wire); err != nil {
		return nil, err
	}
	return &Block{
		Header: &Header{
			ParentHash: wire.Header.ParentHash, Author: wire.Header.Author,
			StateRoot: wire.Header.StateRoot, TransactionsRoot: wire.Header.TransactionsRoot,
			ReceiptsRoot: wire.Header.ReceiptsRoot, Score: wire.Header.Score,
			Height: wire.Header.Height, Timestamp: wire.Header.Timestamp,
			ExtraData: wire.Header.ExtraData, SealFields: wire.Header.SealFields,
		},
		Transactions: wire.Transactions,
	}, nil
}

// Receipt (Invoice) is a transaction's outcome.
type Receipt struct {
	TxHash  H256
	Tracker *H256
	Error   string
}

// BlockDetails is the per-header bookkeeping spec.md §3 stores indexed by
// hash.
type BlockDetails struct {
	Height     uint64
	TotalScore *big.Int
	ParentHash H256
}

// TransactionAddress points to a transaction's home block.
type TransactionAddress struct {
	BlockHash H256
	Index     uint32
}

// TransactionAddresses is the multiset-like collection a tracker maps to,
// supporting additive/subtractive reorg updates.
type TransactionAddresses struct {
	Addrs []TransactionAddress
}

func (s *TransactionAddresses) Add(a TransactionAddress) {
	s.Addrs = append(s.Addrs, a)
}

func (s *TransactionAddresses) Remove(a TransactionAddress) {
	out := s.Addrs[:0]
	removed := false
	for _, existing := range s.Addrs {
		if !removed && existing == a {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	s.Addrs = out
}

func (s *TransactionAddresses) Empty() bool { return len(s.Addrs) == 0 }
