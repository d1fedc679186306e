package chainstore

import (
	"math/big"
	"testing"

	"github.com/ironledger/ironchain/internal/kv"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

func mkGenesis() *types.Header {
	return &types.Header{Height: 0, Score: big.NewInt(0)}
}

func child(t *testing.T, parent xcrypto.H256, score int64, extra byte) *types.Header {
	t.Helper()
	return &types.Header{
		ParentHash: parent,
		Height:     0, // filled in by caller via DetailsByHash-derived height is irrelevant to header itself
		Score:      big.NewInt(score),
		ExtraData:  xcrypto.Hash([]byte{extra}),
	}
}

func mkTx(payload byte) *types.SignedTransaction {
	return &types.SignedTransaction{Payload: []byte{payload}}
}

func TestBlockChainGenesisOnly(t *testing.T) {
	db := kv.NewMemStore()
	genesis := mkGenesis()
	bc, err := Open(db, genesis)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	gh, _ := genesis.HashWithSeal()
	if bc.BestProposalBlockHash() != gh {
		t.Fatalf("expected genesis as best proposal")
	}
	if bc.BestBlockHash() != gh {
		t.Fatalf("expected genesis as best block")
	}
	info := bc.ChainInfo()
	if info.BestBlockNumber != 0 {
		t.Fatalf("expected height 0, got %d", info.BestBlockNumber)
	}
}

func TestBlockChainLinearExtension(t *testing.T) {
	db := kv.NewMemStore()
	genesis := mkGenesis()
	bc, err := Open(db, genesis)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	gh, _ := genesis.HashWithSeal()

	h1 := child(t, gh, 1, 1)
	tx1 := mkTx(1)
	if _, err := bc.InsertBlock(h1, []*types.SignedTransaction{tx1}, nil, nil); err != nil {
		t.Fatalf("insert h1: %v", err)
	}
	hash1, _ := h1.HashWithSeal()

	h2 := child(t, hash1, 1, 2)
	tx2 := mkTx(2)
	if _, err := bc.InsertBlock(h2, []*types.SignedTransaction{tx2}, nil, nil); err != nil {
		t.Fatalf("insert h2: %v", err)
	}
	hash2, _ := h2.HashWithSeal()

	bc.CommitBlock(hash2)
	if err := bc.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if bc.BestProposalBlockHash() != hash2 {
		t.Fatalf("expected hash2 as best proposal")
	}
	if bc.BestBlockHash() != hash2 {
		t.Fatalf("expected hash2 as best block")
	}

	txh1, _ := tx1.Hash()
	addr, ok := bc.TransactionAddress(txh1)
	if !ok || addr.BlockHash != hash1 {
		t.Fatalf("expected tx1 indexed under hash1, got %v ok=%v", addr, ok)
	}
	txh2, _ := tx2.Hash()
	addr2, ok := bc.TransactionAddress(txh2)
	if !ok || addr2.BlockHash != hash2 {
		t.Fatalf("expected tx2 indexed under hash2, got %v ok=%v", addr2, ok)
	}

	info := bc.ChainInfo()
	if info.BestBlockNumber != 2 {
		t.Fatalf("expected height 2, got %d", info.BestBlockNumber)
	}
	canon, ok := bc.Headers().CanonicalHashAt(1)
	if !ok || canon != hash1 {
		t.Fatalf("expected hash1 canonical at height 1")
	}
}

func TestBlockChainReorgSwapsIndices(t *testing.T) {
	db := kv.NewMemStore()
	genesis := mkGenesis()
	bc, err := Open(db, genesis)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	gh, _ := genesis.HashWithSeal()

	// Branch A: genesis -> a1 (score 1)
	a1 := child(t, gh, 1, 0xA1)
	txA := mkTx(0xAA)
	if _, err := bc.InsertBlock(a1, []*types.SignedTransaction{txA}, nil, nil); err != nil {
		t.Fatalf("insert a1: %v", err)
	}
	hashA1, _ := a1.HashWithSeal()
	if err := bc.Commit(); err != nil {
		t.Fatalf("commit a1: %v", err)
	}
	if bc.BestProposalBlockHash() != hashA1 {
		t.Fatalf("expected a1 as best proposal")
	}

	// Branch B: genesis -> b1 (score 5) -- heavier, should retract a1.
	b1 := child(t, gh, 5, 0xB1)
	txB := mkTx(0xBB)
	route, err := bc.InsertBlock(b1, []*types.SignedTransaction{txB}, nil, nil)
	if err != nil {
		t.Fatalf("insert b1: %v", err)
	}
	hashB1, _ := b1.HashWithSeal()
	if err := bc.Commit(); err != nil {
		t.Fatalf("commit b1: %v", err)
	}
	if bc.BestProposalBlockHash() != hashB1 {
		t.Fatalf("expected b1 as new best proposal")
	}
	if len(route.Retracted) != 1 || route.Retracted[0] != hashA1 {
		t.Fatalf("expected a1 retracted, got %v", route.Retracted)
	}
	if len(route.Enacted) != 1 || route.Enacted[0] != hashB1 {
		t.Fatalf("expected b1 enacted, got %v", route.Enacted)
	}

	txhA, _ := txA.Hash()
	if _, ok := bc.TransactionAddress(txhA); ok {
		t.Fatalf("expected txA index removed after retraction")
	}
	txhB, _ := txB.Hash()
	addrB, ok := bc.TransactionAddress(txhB)
	if !ok || addrB.BlockHash != hashB1 {
		t.Fatalf("expected txB indexed under hashB1")
	}
}
