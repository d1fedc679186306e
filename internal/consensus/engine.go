// Package consensus declares the engine capability set of spec.md §4.5:
// the pluggable surface every concrete engine (solo, poa, tendermint)
// implements, consumed by block building (C4), the verification queue and
// importer (C5), and the peer transport (C7/C8).
package consensus

import (
	"fmt"
	"math/big"

	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ironledger/ironchain/internal/verifyqueue"
)

// SealKind discriminates the variant GenerateSeal returns.
type SealKind int

const (
	SealNone SealKind = iota
	SealSolo
	SealPoASig
	SealPBFT
)

// PBFTSeal is the PBFT variant of generate_seal's result: the view the
// block committed at, the precommit votes backing it, and a compact
// bitset of which validator indices they came from.
type PBFTSeal struct {
	PrevView        uint64
	CurView         uint64
	Precommits      [][]byte // encoded Vote values
	PrecommitBitset *bitset.BitSet
}

// GeneratedSeal is the engine's answer to "how should this block be
// sealed" — at most one of the typed fields is populated, selected by
// Kind.
type GeneratedSeal struct {
	Kind   SealKind
	PoASig []byte
	PBFT   *PBFTSeal
}

// ToSealFields flattens a GeneratedSeal into the [][]byte LockedBlock.Seal
// expects, matching each engine's SealFields() arity: Solo/PoA produce one
// raw signature field; PBFT packs its precommit list behind RLP into one
// field too, since the bitset and view numbers travel inside PBFTSeal
// itself rather than the header's seal-field count.
func (g GeneratedSeal) ToSealFields() ([][]byte, error) {
	switch g.Kind {
	case SealSolo, SealPoASig:
		return [][]byte{g.PoASig}, nil
	case SealPBFT:
		if g.PBFT == nil {
			return nil, fmt.Errorf("consensus: SealPBFT with nil PBFTSeal")
		}
		encoded, err := rlp.EncodeToBytes(g.PBFT.Precommits)
		if err != nil {
			return nil, fmt.Errorf("consensus: encode PBFT precommits: %w", err)
		}
		return [][]byte{encoded}, nil
	default:
		return nil, fmt.Errorf("consensus: unknown seal kind %d", g.Kind)
	}
}

// EngineConfig carries the process-start flags an engine (and the block
// builder it drives) needs at construction, so they are read once from
// internal/config and threaded through rather than consulted again at
// each point of use.
type EngineConfig struct {
	// OrderTransferEnabled mirrors IRONCHAIN_ORDER_TRANSFER: unset, a
	// block refuses a transaction that claims another's tracker under a
	// distinct hash; set, the later transaction may take it over.
	OrderTransferEnabled bool
}

// NetworkService is the narrow surface an engine needs from the peer
// transport to register its consensus extension, per spec.md §4.5's
// `register_network_extension_to_service`.
type NetworkService interface {
	RegisterExtension(name string, handler func(peer string, data []byte) error)
	Broadcast(extension string, data []byte) error
	SendTo(extension, peer string, data []byte) error
}

// Engine is the full capability set of spec.md §4.5. It embeds
// verifyqueue.VerifierEngine (itself embedding blockbuild.Engine and
// chainstore.CanonArbiter) so a single concrete type serves every layer
// that needs engine cooperation.
type Engine interface {
	verifyqueue.VerifierEngine

	Name() string
	BlockReward(height uint64) *big.Int
	ScoreToTarget(score *big.Int) *big.Int
	RecommendedConfirmation() uint64

	GenerateSeal(blockBytesHash [32]byte, parentHash [32]byte) (GeneratedSeal, error)
	HandleMessage(peer string, data []byte) error
	RegisterNetworkExtension(net NetworkService)
}
