package solo

import (
	"math/big"
	"testing"

	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

func TestSoloSealRoundTrip(t *testing.T) {
	priv, err := xcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	e := New(priv)
	header := &types.Header{Height: 1, Score: big.NewInt(1)}
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
		t.Fatalf("verify seal: %v", err)
	}

	other, _ := xcrypto.GenerateKey()
	impostor := New(other)
	if err := impostor.VerifyLocalSeal(header); err == nil {
		t.Fatalf("expected verification failure against wrong signer")
	}
}
