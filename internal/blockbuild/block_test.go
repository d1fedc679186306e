package blockbuild

import (
	"math/big"
	"testing"

	"github.com/ironledger/ironchain/internal/kv"
	"github.com/ironledger/ironchain/internal/state"
	"github.com/ironledger/ironchain/internal/trie"
	"github.com/ironledger/ironchain/internal/types"
)

type noopEngine struct {
	sealFields int
}

func (noopEngine) PopulateFromParent(header, parent *types.Header) {
	header.Score = new(big.Int).Add(parent.Score, big.NewInt(1))
}
func (noopEngine) OnNewBlock(isEpochBegin bool) error { return nil }
func (noopEngine) OnCloseBlock(db *state.DB, header *types.Header) error {
	return nil
}
func (e noopEngine) SealFields(header *types.Header) int { return e.sealFields }

func TestOpenBlockPushAndLock(t *testing.T) {
	db := kv.NewMemStore()
	tr := trie.New(db)
	canonical := state.NewCanonicalCache(16)
	genesis := &types.Header{Height: 0, Score: big.NewInt(0)}

	engine := noopEngine{sealFields: 1}
	ob, err := NewOpenBlock(engine, tr, canonical, genesis, types.Address{1}, 100, [32]byte{}, false)
	if err != nil {
		t.Fatalf("new open block: %v", err)
	}

	tx := &types.SignedTransaction{Payload: []byte("hello")}
	if _, err := ob.PushTransaction(tx); err != nil {
		t.Fatalf("push tx: %v", err)
	}
	if _, err := ob.PushTransaction(tx); err == nil {
		t.Fatalf("expected duplicate tx rejection")
	}

	cb, err := ob.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	lb, err := cb.Lock(tr.Root(), tr.Root())
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if lb.Header().StateRoot.IsZero() {
		t.Fatalf("expected non-zero state root")
	}

	sealed, err := lb.Seal(engine, [][]byte{{0x01}})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(sealed.Block.Header.SealFields) != 1 {
		t.Fatalf("expected 1 seal field")
	}
	if _, err := lb.Seal(engine, nil); err == nil {
		t.Fatalf("expected seal arity mismatch")
	}
}

func TestOpenBlockRejectsNonMonotonicTimestamp(t *testing.T) {
	db := kv.NewMemStore()
	tr := trie.New(db)
	canonical := state.NewCanonicalCache(16)
	genesis := &types.Header{Height: 0, Score: big.NewInt(0), Timestamp: 100}
	engine := noopEngine{sealFields: 0}
	if _, err := NewOpenBlock(engine, tr, canonical, genesis, types.Address{}, 50, [32]byte{}, false); err == nil {
		t.Fatalf("expected non-monotonic timestamp rejection")
	}
}

func TestOrderTransferGatesTrackerCollision(t *testing.T) {
	db := kv.NewMemStore()
	tr := trie.New(db)
	canonical := state.NewCanonicalCache(16)
	genesis := &types.Header{Height: 0, Score: big.NewInt(0)}
	engine := noopEngine{sealFields: 0}

	ob, err := NewOpenBlock(engine, tr, canonical, genesis, types.Address{1}, 100, [32]byte{}, false)
	if err != nil {
		t.Fatalf("new open block: %v", err)
	}
	original := &types.SignedTransaction{Payload: []byte("order-1"), Signature: [64]byte{0x01}}
	resubmitted := &types.SignedTransaction{Payload: []byte("order-1"), Signature: [64]byte{0x02}}

	if _, err := ob.PushTransaction(original); err != nil {
		t.Fatalf("push original: %v", err)
	}
	if _, err := ob.PushTransaction(resubmitted); err == nil {
		t.Fatalf("expected tracker collision to be rejected with order-transfer disabled")
	}

	ob2, err := NewOpenBlock(engine, tr, canonical, genesis, types.Address{1}, 100, [32]byte{}, false)
	if err != nil {
		t.Fatalf("new open block 2: %v", err)
	}
	ob2.SetOrderTransferEnabled(true)
	if _, err := ob2.PushTransaction(original); err != nil {
		t.Fatalf("push original into ob2: %v", err)
	}
	if _, err := ob2.PushTransaction(resubmitted); err != nil {
		t.Fatalf("expected tracker collision to be allowed with order-transfer enabled: %v", err)
	}
}

func TestReopenRestoresPreCloseHeader(t *testing.T) {
	db := kv.NewMemStore()
	tr := trie.New(db)
	canonical := state.NewCanonicalCache(16)
	genesis := &types.Header{Height: 0, Score: big.NewInt(0)}
	engine := noopEngine{sealFields: 0}
	ob, err := NewOpenBlock(engine, tr, canonical, genesis, types.Address{}, 10, [32]byte{}, false)
	if err != nil {
		t.Fatalf("new open block: %v", err)
	}
	cb, err := ob.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened := cb.Reopen()
	if reopened.Header().Height != genesis.Height+1 {
		t.Fatalf("expected reopened header height to survive")
	}
}
