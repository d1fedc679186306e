package chainstore

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ironledger/ironchain/internal/kv"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

const (
	keyBestHeader    = "best-header"
	keyHighestHeader = "highest-header"
	keyBestBlock     = "best-block"
	keyBestProposal  = "best-proposal-block"
)

func detailsKey(h xcrypto.H256) []byte { return append([]byte("bd:"), h.Bytes()...) }
func heightKey(height uint64) []byte {
	b := make([]byte, 8+3)
	copy(b, "h2h:")
	binary.BigEndian.PutUint64(b[3:], height)
	return b
}

// HeaderChain persists the header DAG and the scored canonical pointer of
// spec.md §4.2.
type HeaderChain struct {
	db kv.Store
	mu sync.RWMutex

	// in-memory DAG index: every known header/details, regardless of
	// whether it is on the canonical chain. Written immediately (headers
	// are content-addressed and immutable, so there is no "pending" form
	// of a header itself).
	headers map[xcrypto.H256]*types.Header
	details map[xcrypto.H256]*types.BlockDetails

	bestHeaderHash    xcrypto.H256
	highestHeaderHash xcrypto.H256

	pendingBestHeaderHash    *xcrypto.H256
	pendingHighestHeaderHash *xcrypto.H256
	pendingCanonical         map[uint64]xcrypto.H256
}

// NewHeaderChain opens a header chain over db, seeding it with genesis if
// the store is empty.
func NewHeaderChain(db kv.Store, genesis *types.Header) (*HeaderChain, error) {
	hc := &HeaderChain{
		db:               db,
		headers:          make(map[xcrypto.H256]*types.Header),
		details:          make(map[xcrypto.H256]*types.BlockDetails),
		pendingCanonical: make(map[uint64]xcrypto.H256),
	}
	if raw, ok := db.Get(kv.ColExtra, []byte(keyBestHeader)); ok {
		copy(hc.bestHeaderHash[:], raw)
		copy(hc.highestHeaderHash[:], raw)
		if raw2, ok := db.Get(kv.ColExtra, []byte(keyHighestHeader)); ok {
			copy(hc.highestHeaderHash[:], raw2)
		}
		return hc, nil
	}
	if genesis == nil {
		return nil, fmt.Errorf("chainstore: empty store requires a genesis header")
	}
	gh, err := genesis.HashWithSeal()
	if err != nil {
		return nil, fmt.Errorf("hash genesis: %w", err)
	}
	hc.headers[gh] = genesis
	hc.details[gh] = &types.BlockDetails{Height: genesis.Height, TotalScore: new(big.Int).Set(genesis.Score), ParentHash: genesis.ParentHash}
	hc.bestHeaderHash = gh
	hc.highestHeaderHash = gh

	b := db.NewBatch()
	if err := hc.writeHeaderLocked(b, gh, genesis, hc.details[gh]); err != nil {
		return nil, err
	}
	b.Put(kv.ColExtra, []byte(keyBestHeader), gh.Bytes())
	b.Put(kv.ColExtra, []byte(keyHighestHeader), gh.Bytes())
	b.Put(kv.ColExtra, heightKey(genesis.Height), gh.Bytes())
	if err := db.Write(b); err != nil {
		return nil, fmt.Errorf("write genesis: %w", err)
	}
	return hc, nil
}

func (hc *HeaderChain) writeHeaderLocked(b kv.Batch, hash xcrypto.H256, h *types.Header, d *types.BlockDetails) error {
	enc, err := h.EncodeWithSeal()
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	b.Put(kv.ColHeaders, hash.Bytes(), enc)
	denc, err := rlp.EncodeToBytes(d)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	b.Put(kv.ColExtra, detailsKey(hash), denc)
	return nil
}

// InsertHeader computes the new header's BlockDetails and, if it beats the
// current highest header by total_score, recomputes the canonical
// height->hash mapping along the route from the former best to the new tip
// and stages the new tip pointers for Commit.
func (hc *HeaderChain) InsertHeader(h *types.Header) (xcrypto.H256, bool, error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hash, err := h.HashWithSeal()
	if err != nil {
		return xcrypto.H256{}, false, err
	}
	if _, ok := hc.headers[hash]; ok {
		return hash, false, nil
	}
	parentDetails, ok := hc.details[h.ParentHash]
	if !ok {
		return xcrypto.H256{}, false, fmt.Errorf("chainstore: %w", errParentUnknown)
	}
	d := &types.BlockDetails{
		Height:     parentDetails.Height + 1,
		TotalScore: new(big.Int).Add(parentDetails.TotalScore, h.Score),
		ParentHash: h.ParentHash,
	}
	hc.headers[hash] = h
	hc.details[hash] = d

	b := hc.db.NewBatch()
	if err := hc.writeHeaderLocked(b, hash, h, d); err != nil {
		return xcrypto.H256{}, false, err
	}
	if err := hc.db.Write(b); err != nil {
		return xcrypto.H256{}, false, fmt.Errorf("write header: %w", err)
	}

	becameHighest := d.TotalScore.Cmp(hc.currentHighestDetails().TotalScore) > 0
	if becameHighest {
		route, err := hc.treeRouteLocked(hc.highestHeaderHash, hash)
		if err != nil {
			return xcrypto.H256{}, false, err
		}
		for _, enactedHash := range route.Enacted {
			hc.pendingCanonical[hc.details[enactedHash].Height] = enactedHash
		}
		hc.pendingHighestHeaderHash = &hash
	}
	return hash, becameHighest, nil
}

func (hc *HeaderChain) currentHighestDetails() *types.BlockDetails {
	return hc.details[hc.highestHeaderHash]
}

// Commit promotes every pending tip pointer and canonical-height mapping
// computed since the last Commit into the visible state.
func (hc *HeaderChain) Commit() error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if len(hc.pendingCanonical) == 0 && hc.pendingHighestHeaderHash == nil && hc.pendingBestHeaderHash == nil {
		return nil
	}
	b := hc.db.NewBatch()
	for height, h := range hc.pendingCanonical {
		b.Put(kv.ColExtra, heightKey(height), h.Bytes())
	}
	if hc.pendingHighestHeaderHash != nil {
		b.Put(kv.ColExtra, []byte(keyHighestHeader), hc.pendingHighestHeaderHash.Bytes())
	}
	if hc.pendingBestHeaderHash != nil {
		b.Put(kv.ColExtra, []byte(keyBestHeader), hc.pendingBestHeaderHash.Bytes())
	}
	if err := hc.db.Write(b); err != nil {
		return fmt.Errorf("commit header chain: %w", err)
	}
	if hc.pendingHighestHeaderHash != nil {
		hc.highestHeaderHash = *hc.pendingHighestHeaderHash
		hc.pendingHighestHeaderHash = nil
	}
	if hc.pendingBestHeaderHash != nil {
		hc.bestHeaderHash = *hc.pendingBestHeaderHash
		hc.pendingBestHeaderHash = nil
	}
	hc.pendingCanonical = make(map[uint64]xcrypto.H256)
	return nil
}

// HeaderByHash returns a known header regardless of canonical status.
func (hc *HeaderChain) HeaderByHash(h xcrypto.H256) (*types.Header, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	v, ok := hc.headers[h]
	return v, ok
}

// DetailsByHash returns a known header's BlockDetails.
func (hc *HeaderChain) DetailsByHash(h xcrypto.H256) (*types.BlockDetails, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	v, ok := hc.details[h]
	return v, ok
}

// CanonicalHashAt returns the visible (committed) canonical hash at height.
func (hc *HeaderChain) CanonicalHashAt(height uint64) (xcrypto.H256, bool) {
	raw, ok := hc.db.Get(kv.ColExtra, heightKey(height))
	if !ok {
		return xcrypto.H256{}, false
	}
	var h xcrypto.H256
	copy(h[:], raw)
	return h, true
}

// HighestHeaderHash returns the visible highest-scored known header.
func (hc *HeaderChain) HighestHeaderHash() xcrypto.H256 {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.highestHeaderHash
}

// BestHeaderHash returns the visible best-header pointer.
func (hc *HeaderChain) BestHeaderHash() xcrypto.H256 {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.bestHeaderHash
}

// Route is the output of TreeRoute: walk both branches up to their common
// ancestor.
type Route struct {
	Retracted []xcrypto.H256
	Ancestor  xcrypto.H256
	Enacted   []xcrypto.H256
}

// TreeRoute walks both `from` and `to` up to their common ancestor.
func (hc *HeaderChain) TreeRoute(from, to xcrypto.H256) (Route, error) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.treeRouteLocked(from, to)
}

func (hc *HeaderChain) treeRouteLocked(from, to xcrypto.H256) (Route, error) {
	fromHeight, err := hc.heightOfLocked(from)
	if err != nil {
		return Route{}, err
	}
	toHeight, err := hc.heightOfLocked(to)
	if err != nil {
		return Route{}, err
	}

	var retracted, enacted []xcrypto.H256
	a, b := from, to
	for fromHeight > toHeight {
		retracted = append(retracted, a)
		d := hc.details[a]
		a = d.ParentHash
		fromHeight--
	}
	for toHeight > fromHeight {
		enacted = append(enacted, b)
		d := hc.details[b]
		b = d.ParentHash
		toHeight--
	}
	for a != b {
		retracted = append(retracted, a)
		enacted = append(enacted, b)
		a = hc.details[a].ParentHash
		b = hc.details[b].ParentHash
	}
	// enacted was built walking from `to` down to the ancestor; reverse it
	// so it reads ancestor-to-tip.
	for i, j := 0, len(enacted)-1; i < j; i, j = i+1, j-1 {
		enacted[i], enacted[j] = enacted[j], enacted[i]
	}
	return Route{Retracted: retracted, Ancestor: a, Enacted: enacted}, nil
}

func (hc *HeaderChain) heightOfLocked(h xcrypto.H256) (uint64, error) {
	d, ok := hc.details[h]
	if !ok {
		return 0, fmt.Errorf("chainstore: tree_route: unknown hash %s", h)
	}
	return d.Height, nil
}

var errParentUnknown = fmt.Errorf("parent header not present in store")
