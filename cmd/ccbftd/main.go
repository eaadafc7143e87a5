// Command ccbftd runs a single ccBFT consensus node: it wires together the
// chain, mempool, validator set, safety monitor, and consensus engine, and
// exposes the façade operations over REST.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rechain/ccbft/internal/api"
	"github.com/rechain/ccbft/internal/chain"
	"github.com/rechain/ccbft/internal/consensus"
	"github.com/rechain/ccbft/internal/cryptox"
	"github.com/rechain/ccbft/internal/genesis"
	"github.com/rechain/ccbft/internal/safety"
	"github.com/rechain/ccbft/internal/snapshot"
	"github.com/rechain/ccbft/internal/transport"
	"github.com/rechain/ccbft/internal/txpool"
	"github.com/rechain/ccbft/pkg/config"
)

var log = logrus.WithFields(logrus.Fields{"process": "ccbftd"})

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON config file (optional)")
	genesisPath := flag.String("genesis", "./genesis.json", "path to the genesis validator-set document")
	initGenesis := flag.Bool("init-genesis", false, "write a single-validator genesis document for this node's key and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	configureLogging(cfg.Logging)

	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.New().String()
	}
	log = log.WithField("node_id", cfg.Node.ID)

	self, err := loadOrCreateValidatorKey(cfg.Validator.KeyPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load validator key")
	}

	if *initGenesis {
		if err := genesis.WriteSingleValidator(*genesisPath, self.PublicKey(), cfg.Validator.Stake); err != nil {
			log.WithError(err).Fatal("failed to write genesis document")
		}
		log.WithField("path", *genesisPath).Info("wrote single-validator genesis document")
		return
	}

	genesisDoc, err := genesis.Load(*genesisPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load genesis document")
	}
	validators, err := genesisDoc.ValidatorSet()
	if err != nil {
		log.WithError(err).Fatal("failed to build validator set from genesis document")
	}

	c, checkpointer, err := loadOrInitChain(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize chain")
	}

	mempool := txpool.New(cfg.Mempool.MaxCount, cfg.Mempool.MaxBytes)
	monitor := safety.New(toSafetyConfig(cfg.Safety), validators)
	hub := transport.NewHub(256)
	link := hub.Join(cfg.Node.ID)

	engine := consensus.New(toConsensusConfig(cfg.Consensus), c, mempool, validators, monitor, link, self)
	if checkpointer != nil {
		engine.SetCommitHook(func(b *chain.Block) {
			if err := checkpointer.SaveBlock(context.Background(), b); err != nil {
				log.WithError(err).WithField("height", b.Header.Height).Warn("checkpoint block failed")
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(engine)
		go func() {
			if err := server.Start(cfg.API.Address); err != nil {
				log.WithError(err).Warn("api server stopped")
			}
		}()
		log.WithField("addr", cfg.API.Address).Info("api server listening")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	engine.Stop()
	hub.Leave(cfg.Node.ID)
	if server != nil {
		if err := server.Stop(); err != nil {
			log.WithError(err).Warn("error stopping api server")
		}
	}
}

func configureLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func loadOrCreateValidatorKey(path string) (*cryptox.Keypair, error) {
	if raw, err := os.ReadFile(path); err == nil {
		return cryptox.KeypairFromSeed(raw)
	}

	kp, err := cryptox.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate validator key: %w", err)
	}
	if err := os.WriteFile(path, kp.Seed(), 0o600); err != nil {
		return nil, fmt.Errorf("persist validator key: %w", err)
	}
	return kp, nil
}

// loadOrInitChain builds the starting chain and, when snapshotting is
// enabled, the checkpointer the caller should keep saving committed blocks
// to. The checkpointer is nil when snapshotting is disabled.
func loadOrInitChain(cfg config.StorageConfig) (*chain.Chain, *snapshot.Checkpointer, error) {
	if !cfg.SnapshotEnabled {
		genesisBlock := chain.NewGenesis(cryptox.ZeroHash, time.Now().UnixMilli(), nil)
		c, err := chain.New(genesisBlock)
		return c, nil, err
	}

	store, err := snapshot.NewBadgerStore(cfg.SnapshotPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot store: %w", err)
	}
	cp := snapshot.NewCheckpointer(store)

	if restored, ok, err := cp.LoadChain(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("restore chain from snapshot: %w", err)
	} else if ok {
		log.WithField("height", restored.HeadHeight()).Info("resumed chain from snapshot")
		return restored, cp, nil
	}

	genesisBlock := chain.NewGenesis(cryptox.ZeroHash, time.Now().UnixMilli(), nil)
	c, err := chain.New(genesisBlock)
	if err != nil {
		return nil, nil, err
	}
	if err := cp.SaveBlock(context.Background(), genesisBlock); err != nil {
		return nil, nil, fmt.Errorf("checkpoint genesis: %w", err)
	}
	return c, cp, nil
}

func toConsensusConfig(cfg config.ConsensusConfig) consensus.Config {
	return consensus.Config{
		ProposalTimeout:                cfg.ProposalTimeout,
		PreVoteTimeout:                 cfg.PreVoteTimeout,
		PreCommitTimeout:               cfg.PreCommitTimeout,
		ViewChangeTimeout:              cfg.ViewChangeTimeout,
		MaxParallelBlocks:              cfg.MaxParallelBlocks,
		FastPathEnabled:                cfg.FastPathEnabled,
		FastPathThreshold:              cfg.FastPathThreshold,
		AdaptiveTimeouts:               cfg.AdaptiveTimeouts,
		PipeliningEnabled:              cfg.PipeliningEnabled,
		AggregateSignatures:            cfg.AggregateSignatures,
		MaxViewChangesBeforeEscalation: cfg.MaxViewChangesBeforeEscalation,
		MaxTxsPerBlock:                 cfg.MaxTxsPerBlock,
		MaxBlockBytes:                  cfg.MaxBlockBytes,
		GasLimitPerBlock:               cfg.GasLimitPerBlock,
		TickInterval:                   cfg.TickInterval,
	}
}

func toSafetyConfig(cfg config.SafetyConfig) safety.Config {
	return safety.Config{
		SilenceThreshold:             cfg.SilenceThreshold,
		InvalidProposalJailThreshold: cfg.InvalidProposalJailThreshold,
		PacketLossThreshold:          cfg.PacketLossThreshold,
		RTTThreshold:                 cfg.RTTThreshold,
		HealthDecayRate:              cfg.HealthDecayRate,
		MaxFaults:                    cfg.MaxFaults,
		MaxAlerts:                    cfg.MaxAlerts,
		NetworkWindow:                cfg.NetworkWindow,
	}
}
