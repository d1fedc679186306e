package verifyqueue

import (
	"fmt"

	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// VerifiedHeader is a header that has passed stage-1/2 validation.
type VerifiedHeader struct {
	Hash   xcrypto.H256
	Header *types.Header
}

func sizeOfHeader(*types.Header) int { return 512 }

func parentOfHeader(h *types.Header) xcrypto.H256 { return h.ParentHash }

// NewHeaderQueue builds the header queue of spec.md §4.4, used for
// lightweight header-only sync ahead of full block bodies.
func NewHeaderQueue(engine VerifierEngine, signal chan string, cfg Config) *Queue[*types.Header, VerifiedHeader] {
	create := func(h *types.Header) (VerifiedHeader, error) {
		hash, err := h.HashWithSeal()
		if err != nil {
			return VerifiedHeader{}, fmt.Errorf("verifyqueue: hash header: %w", err)
		}
		if err := engine.VerifyHeaderBasic(h); err != nil {
			return VerifiedHeader{}, err
		}
		return VerifiedHeader{Hash: hash, Header: h}, nil
	}
	verify := func(v VerifiedHeader, checkSeal bool) error {
		if checkSeal {
			return engine.VerifyHeaderUnordered(v.Header)
		}
		return nil
	}
	return NewQueue[*types.Header, VerifiedHeader]("header", signal, create, verify, sizeOfHeader, parentOfHeader, cfg)
}

// ImportHeader enqueues a raw header, keying it by its own sealed hash.
func ImportHeader(q *Queue[*types.Header, VerifiedHeader], h *types.Header) error {
	hash, err := h.HashWithSeal()
	if err != nil {
		return err
	}
	return q.Import(hash, h)
}
