// Command node runs an annealchain validator: consensus scorer, PoH
// sequencer, leader schedule, Gulf Stream forwarding, Turbine propagation
// and the block pipeline, wired over one embedded core.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/annealchain/annealchain/config"
	"github.com/annealchain/annealchain/consensus"
	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
	"github.com/annealchain/annealchain/events"
	"github.com/annealchain/annealchain/gulfstream"
	"github.com/annealchain/annealchain/indexer"
	"github.com/annealchain/annealchain/metrics"
	"github.com/annealchain/annealchain/network"
	"github.com/annealchain/annealchain/peers"
	"github.com/annealchain/annealchain/pipeline"
	"github.com/annealchain/annealchain/poh"
	"github.com/annealchain/annealchain/schedule"
	"github.com/annealchain/annealchain/state"
	"github.com/annealchain/annealchain/storage"
	"github.com/annealchain/annealchain/turbine"
	"github.com/annealchain/annealchain/wallet"
)

var (
	cfgPath string
	keyPath string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "node",
		Short: "annealchain validator node",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.json", "path to config file")
	root.PersistentFlags().StringVar(&keyPath, "key", "validator.key", "path to keystore file")

	root.AddCommand(genkeyCmd(), runCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// password reads the keystore password from the environment; CLI flags
// would leak it via ps.
func password(log *logrus.Logger) string {
	pw := os.Getenv("ANNEAL_PASSWORD")
	if pw == "" {
		log.Warn("ANNEAL_PASSWORD not set; keystore will use an empty password")
	}
	return pw
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("ANNEAL_LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

func genkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "generate a new validator key and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(keyPath, password(log), w.PrivKey()); err != nil {
				return err
			}
			fmt.Printf("Generated key. Public key (validator identity): %s\n", w.PubKey())
			fmt.Printf("Saved to: %s\n", keyPath)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the validator node",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			priv, err := wallet.LoadKey(keyPath, password(log))
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			return run(cfg, priv, log)
		},
	}
}

func run(cfg *config.Config, priv crypto.PrivateKey, log *logrus.Logger) error {
	self := priv.Public().Hex()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	chain := core.NewBlockchain(storage.NewLevelBlockStore(db))
	if err := chain.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	accounts := state.NewAccounts()
	snapshots := storage.NewSnapshotStore(db)
	emitter := events.NewEmitter(log)
	met := metrics.New(prometheus.DefaultRegisterer)
	mempool := core.NewMempool()

	// Genesis on a fresh chain; otherwise restore the ledger from the
	// newest persisted snapshot.
	if chain.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, accounts, priv)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := chain.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		if err := snapshots.Save(0, accounts.Snapshot()); err != nil {
			return fmt.Errorf("genesis snapshot: %w", err)
		}
		log.WithField("hash", genesis.Hash).Info("genesis block committed")
	} else {
		snap, height, err := snapshots.Latest(chain.Height())
		if err != nil {
			return fmt.Errorf("no ledger snapshot for height %d: %w", chain.Height(), err)
		}
		accounts.Restore(snap)
		log.WithField("height", height).Info("ledger restored from snapshot")
	}

	exec := state.NewExecutor(accounts, cfg.Genesis.FaucetPubKey, log)

	scorer := consensus.NewScorer(cfg.ScorerConfig(), log)
	scorer.Register(self)

	sched := schedule.NewManager(cfg.ScheduleParams(), scorer, cfg.Annealer(), log)
	if err := sched.Sync(consensus.VRFOutput(chain.Tip().Hash)); err != nil {
		return fmt.Errorf("initial schedule: %w", err)
	}

	seq := poh.NewSequencer(chain.Tip().PoHAnchor(), cfg.PoH.TicksPerSecond, log)
	seq.Start()
	defer seq.Stop()

	book := peers.NewMemoryBook(0)
	book.Upsert(peers.Contact{
		PublicKey: self,
		IP:        cfg.IP,
		TPUPort:   cfg.TPUPort,
		TVUPort:   cfg.TVUPort,
	})

	validator := pipeline.NewValidator(chain, exec, sched, scorer, mempool, emitter, met, log)

	shredder := turbine.NewShredder(cfg.Turbine.ShredSize)
	tvu := turbine.NewTVUListener(cfg.IP, cfg.TVUPort, self, book, shredder, validator.Receive, met, log)
	if err := tvu.Start(); err != nil {
		return err
	}
	defer tvu.Stop()
	reformTree(tvu, sched, scorer, book, cfg.Turbine.Fanout)

	tpu := gulfstream.NewTPUListener(cfg.IP, cfg.TPUPort, mempool, met, log)
	if err := tpu.Start(); err != nil {
		return err
	}
	defer tpu.Stop()

	fwd, err := gulfstream.NewForwarder(gulfstream.ForwarderConfig{
		BundleTimeout:  time.Duration(cfg.GulfStream.BundleTimeoutMs) * time.Millisecond,
		MaxBundleBytes: cfg.GulfStream.MaxBundleBytes,
	}, self, book, sched, met, log)
	if err != nil {
		return err
	}
	fwd.Start()
	defer fwd.Stop()

	producer := pipeline.NewProducer(priv, chain, mempool, exec, seq, sched, scorer, emitter, tvu, met, log)

	syncNode := network.NewNode(self, fmt.Sprintf("%s:%d", cfg.IP, cfg.SyncPort), log)
	network.NewSyncer(syncNode, chain, validator, log)
	if err := syncNode.Start(); err != nil {
		return err
	}
	defer syncNode.Stop()

	indexer.New(db, emitter, log)

	// Persist a ledger snapshot after every committed block.
	emitter.Subscribe(events.EventBlockCommit, func(ev events.Event) {
		if err := snapshots.Save(ev.BlockHeight, accounts.Snapshot()); err != nil {
			log.Warnf("snapshot %d: %v", ev.BlockHeight, err)
		}
	})
	emitter.Subscribe(events.EventBlockProduced, func(ev events.Event) {
		if err := snapshots.Save(ev.BlockHeight, accounts.Snapshot()); err != nil {
			log.Warnf("snapshot %d: %v", ev.BlockHeight, err)
		}
	})

	stop := make(chan struct{})
	go producer.Run(stop)

	// Re-form the fanout tree and sweep inactive nodes once per epoch.
	go func() {
		ticker := time.NewTicker(sched.Params().SlotDuration * time.Duration(sched.Params().SlotsPerEpoch))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				scorer.EvictInactive()
				book.EvictStale()
				reformTree(tvu, sched, scorer, book, cfg.Turbine.Fanout)
			}
		}
	}()

	log.WithFields(logrus.Fields{
		"pubkey":  self,
		"tpu":     cfg.TPUPort,
		"tvu":     cfg.TVUPort,
		"network": cfg.Genesis.NetworkID,
	}).Info("node started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	close(stop)
	log.Info("shutting down")
	return nil
}

// reformTree rebuilds the Turbine fanout from the current leader and
// suitability scores.
func reformTree(tvu *turbine.TVUListener, sched *schedule.Manager, scorer *consensus.Scorer, book *peers.MemoryBook, fanout int) {
	leader, err := sched.CurrentLeader()
	if err != nil {
		return
	}
	contacts := book.ActivePeers()
	validators := make([]string, 0, len(contacts))
	for _, c := range contacts {
		validators = append(validators, c.PublicKey)
	}
	tvu.SetTree(turbine.BuildTree(leader, validators, scorer.SuitabilityScores(), fanout))
}
