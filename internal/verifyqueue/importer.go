package verifyqueue

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ironledger/ironchain/internal/blockbuild"
	"github.com/ironledger/ironchain/internal/chainstore"
	"github.com/ironledger/ironchain/internal/state"
	"github.com/ironledger/ironchain/internal/trie"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

// ImportRoute mirrors chainstore.Route, renamed at this layer to match
// spec.md §4.4's vocabulary for the fan-out summary.
type ImportRoute = chainstore.Route

// ImportSummary folds every ImportRoute from one drain into a single
// enacted/retracted partition: a block enacted by one import and
// retracted by a later one in the same drain appears only as retracted.
type ImportSummary struct {
	Enacted   []xcrypto.H256
	Retracted []xcrypto.H256
}

// Subscriber receives the fan-out summary after a successful drain.
type Subscriber func(ImportSummary)

// Importer owns the import lock, the block queue, and the chain store it
// commits into, per spec.md §4.4's "importer" paragraph.
type Importer struct {
	Chain     *chainstore.BlockChain
	Queue     *Queue[*types.Block, VerifiedBlock]
	Engine    VerifierEngine
	Trie      *trie.Trie
	Canonical *state.CanonicalCache
	Log       *logrus.Logger

	// OrderTransferEnabled is set once from config.Config.Features.OrderTransfer
	// at node-wiring time and applied to every block this importer opens;
	// it is never re-read from config at the point of use.
	OrderTransferEnabled bool

	subscribers []Subscriber
}

// NewImporter wires an importer atop an already-open chain store.
func NewImporter(chain *chainstore.BlockChain, queue *Queue[*types.Block, VerifiedBlock], engine VerifierEngine, t *trie.Trie, canonical *state.CanonicalCache, log *logrus.Logger) *Importer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Importer{Chain: chain, Queue: queue, Engine: engine, Trie: t, Canonical: canonical, Log: log}
}

// Subscribe registers a subscriber for the enacted/retracted fan-out.
func (im *Importer) Subscribe(s Subscriber) { im.subscribers = append(im.subscribers, s) }

// DrainAndImport drains up to 1000 verified blocks and imports each in
// turn, per spec.md §4.4's five-step sequence. It returns the folded
// enacted/retracted summary for whatever it managed to commit.
func (im *Importer) DrainAndImport() ImportSummary {
	im.Chain.Lock()
	defer im.Chain.Unlock()

	items := im.Queue.DrainVerified(1000)
	enacted := make(map[xcrypto.H256]struct{})
	retracted := make(map[xcrypto.H256]struct{})

	for _, vb := range items {
		route, becameBest, err := im.importOne(vb)
		if err != nil {
			im.Log.WithError(err).WithField("hash", vb.Hash.String()).Warn("verifyqueue: dropping block")
			im.Queue.MarkBad(vb.Hash)
			continue
		}
		for _, h := range route.Retracted {
			delete(enacted, h)
			retracted[h] = struct{}{}
		}
		for _, h := range route.Enacted {
			delete(retracted, h)
			enacted[h] = struct{}{}
		}
		if becameBest {
			im.reseedCanonical(vb)
		}
	}

	if err := im.Chain.Commit(); err != nil {
		im.Log.WithError(err).Error("verifyqueue: commit failed")
	}

	summary := ImportSummary{}
	for h := range enacted {
		summary.Enacted = append(summary.Enacted, h)
	}
	for h := range retracted {
		summary.Retracted = append(summary.Retracted, h)
	}
	for _, s := range im.subscribers {
		s(summary)
	}
	return summary
}

// importOne runs stage-3 through stage-5 verification, executes the block,
// and stages its commit into im.Chain. becameBest reports whether the
// engine now considers this block (or a descendant proposal built on it)
// the committed best_block.
func (im *Importer) importOne(vb VerifiedBlock) (ImportRoute, bool, error) {
	header := vb.Block.Header
	parent, ok := im.Chain.Headers().HeaderByHash(header.ParentHash)
	if !ok {
		return ImportRoute{}, false, fmt.Errorf("verifyqueue: parent %s not in store", header.ParentHash)
	}

	if err := im.Engine.VerifyBlockFamily(header, parent); err != nil {
		return ImportRoute{}, false, fmt.Errorf("stage-3 family check: %w", err)
	}
	if err := im.Engine.VerifyBlockExternal(header); err != nil {
		return ImportRoute{}, false, fmt.Errorf("stage-4 external check: %w", err)
	}

	ob, err := blockbuild.OpenBlockFromHeader(im.Engine, im.Trie, im.Canonical, header, false)
	if err != nil {
		return ImportRoute{}, false, fmt.Errorf("open block: %w", err)
	}
	ob.SetOrderTransferEnabled(im.OrderTransferEnabled)
	for _, tx := range vb.Block.Transactions {
		if _, err := ob.PushTransaction(tx); err != nil {
			return ImportRoute{}, false, fmt.Errorf("execute tx: %w", err)
		}
	}
	cb, err := ob.Close()
	if err != nil {
		return ImportRoute{}, false, fmt.Errorf("close block: %w", err)
	}
	lb, err := cb.LockAndAssert(parent.TransactionsRoot, parent.ReceiptsRoot, header.StateRoot, header.TransactionsRoot, header.ReceiptsRoot)
	if err != nil {
		return ImportRoute{}, false, fmt.Errorf("stage-5 root check: %w", err)
	}

	route, err := im.Chain.InsertBlock(header, lb.Transactions(), lb.Receipts(), im.Engine)
	if err != nil {
		return ImportRoute{}, false, fmt.Errorf("insert block: %w", err)
	}

	becameBest := im.Chain.BestProposalBlockHash() == vb.Hash
	if committed, ok := im.Engine.GetBestBlockFromBestProposalHeader(header); ok {
		im.Chain.CommitBlock(committed)
		becameBest = becameBest || committed == vb.Hash
	}
	lb.StateDB().Finalize(vb.Hash, header.Height, becameBest)
	return route, becameBest, nil
}

func (im *Importer) reseedCanonical(vb VerifiedBlock) {
	im.Log.WithField("hash", vb.Hash.String()).Debug("verifyqueue: reseeded canonical cache from new best block")
}
