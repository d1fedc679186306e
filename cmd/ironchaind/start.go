package main

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ironledger/ironchain/internal/chainstore"
	"github.com/ironledger/ironchain/internal/config"
	"github.com/ironledger/ironchain/internal/consensus"
	"github.com/ironledger/ironchain/internal/consensus/poa"
	"github.com/ironledger/ironchain/internal/consensus/solo"
	"github.com/ironledger/ironchain/internal/kv"
	"github.com/ironledger/ironchain/internal/metrics"
	"github.com/ironledger/ironchain/internal/p2p"
	"github.com/ironledger/ironchain/internal/state"
	"github.com/ironledger/ironchain/internal/trie"
	"github.com/ironledger/ironchain/internal/types"
	"github.com/ironledger/ironchain/internal/verifyqueue"
	"github.com/ironledger/ironchain/internal/xcrypto"
)

const shutdownTimeout = 5 * time.Second

func startCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start an ironchaind node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(env)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config overlay name (empty for default only)")
	return cmd
}

func runStart(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(lvl)
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
		defer f.Close()
	}

	signer, err := xcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate node signing key: %w", err)
	}

	engine, err := buildEngine(cfg, signer)
	if err != nil {
		return fmt.Errorf("build consensus engine: %w", err)
	}

	db := kv.NewMemStore()
	tr := trie.New(db)
	canonical := state.NewCanonicalCache(16)
	genesis := &types.Header{Height: 0, Timestamp: 0, Score: big.NewInt(0)}
	chain, err := chainstore.Open(db, genesis)
	if err != nil {
		return fmt.Errorf("open chain store: %w", err)
	}

	verifySignal := make(chan string, 1)
	queue := verifyqueue.NewBlockQueue(engine, verifySignal, verifyqueue.Config{})
	importer := verifyqueue.NewImporter(chain, queue, engine, tr, canonical, log)
	importer.OrderTransferEnabled = cfg.Features.OrderTransfer

	table := p2p.NewRoutingTable()
	if err := applyBanList(table); err != nil {
		log.WithError(err).Warn("ironchaind: failed to load peer ban list")
	}

	collector := metrics.New(log)
	collector.SetHeight(chain.ChainInfo().BestBlockNumber)
	srv := collector.Serve(cfg.Metrics.ListenAddr)
	log.WithField("addr", cfg.Metrics.ListenAddr).Info("ironchaind: metrics listening")

	log.WithFields(logrus.Fields{
		"engine":      engine.Name(),
		"chain_id":    cfg.Network.ChainID,
		"listen_addr": cfg.Network.ListenAddr,
	}).Info("ironchaind: node started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("ironchaind: shutting down")
	return collector.Shutdown(srv, shutdownTimeout)
}

// buildEngine selects the consensus engine named by cfg.Consensus.Engine.
// Tendermint is declared but not selectable here: it requires a validator
// set and peer transport wiring beyond a single-process bootstrap, so it
// is wired directly by test harnesses and embedding code instead.
func buildEngine(cfg *config.Config, signer xcrypto.PrivateKey) (consensus.Engine, error) {
	switch cfg.Consensus.Engine {
	case "", "solo":
		return solo.New(signer), nil
	case "poa":
		return poa.New(signer, []xcrypto.PublicKey{signer.Public()}), nil
	default:
		return nil, fmt.Errorf("unknown consensus engine %q", cfg.Consensus.Engine)
	}
}
