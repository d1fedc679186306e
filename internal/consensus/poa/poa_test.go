package poa

import (
	"math/big"
	"testing"

	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

func TestPoARoundRobinSealVerification(t *testing.T) {
	keys := make([]xcrypto.PrivateKey, 3)
	pubs := make([]xcrypto.PublicKey, 3)
	for i := range keys {
		k, err := xcrypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key %d: %v", i, err)
		}
		keys[i] = k
		pubs[i] = k.Public()
	}

	for height := uint64(0); height < 6; height++ {
		idx := int(height % 3)
		e := New(keys[idx], pubs)
		header := &types.Header{Height: height, Score: big.NewInt(int64(height))}
		digest, err := header.HashWithoutSeal()
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		seal, err := e.GenerateSeal(digest, [32]byte{})
		if err != nil {
			t.Fatalf("generate seal: %v", err)
		}
		header.SealFields = [][]byte{seal.PoASig}
		if err := e.VerifyLocalSeal(header); err != nil {
			t.Fatalf("height %d: verify by in-turn authority failed: %v", height, err)
		}

		offKey := keys[(idx+1)%3]
		offEngine := New(offKey, pubs)
		offDigest, err := header.HashWithoutSeal()
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		offSeal, err := offEngine.GenerateSeal(offDigest, [32]byte{})
		if err != nil {
			t.Fatalf("generate seal: %v", err)
		}
		badHeader := &types.Header{Height: height, Score: big.NewInt(int64(height)), SealFields: [][]byte{offSeal.PoASig}}
		if err := offEngine.VerifyLocalSeal(badHeader); err == nil {
			t.Fatalf("height %d: expected rejection of off-turn signer", height)
		}
	}
}
