// Package pipeline drives block production on the leader's slot and full
// validation on every receiving node.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/consensus"
	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
	"github.com/annealchain/annealchain/events"
	"github.com/annealchain/annealchain/metrics"
	"github.com/annealchain/annealchain/poh"
	"github.com/annealchain/annealchain/schedule"
	"github.com/annealchain/annealchain/state"
)

// ErrNotLeader is returned when this node is not scheduled for the current
// slot.
var ErrNotLeader = errors.New("not the scheduled leader for this slot")

// Broadcaster hands a signed block to the propagation layer.
type Broadcaster interface {
	Broadcast(*core.Block) error
}

// Producer assembles, signs and broadcasts blocks during this node's slots.
type Producer struct {
	priv        crypto.PrivateKey
	self        string
	chain       *core.Blockchain
	mempool     *core.Mempool
	exec        *state.Executor
	seq         *poh.Sequencer
	sched       *schedule.Manager
	scorer      *consensus.Scorer
	emitter     *events.Emitter
	broadcaster Broadcaster

	lastEpoch uint64
	lastSlot  uint64
	produced  bool // whether lastEpoch/lastSlot has been produced

	met    *metrics.Metrics
	log    *logrus.Entry
	stopCh chan struct{}
	done   chan struct{}
}

// NewProducer wires a producer. broadcaster may be nil in tests.
func NewProducer(priv crypto.PrivateKey, chain *core.Blockchain, mempool *core.Mempool, exec *state.Executor, seq *poh.Sequencer, sched *schedule.Manager, scorer *consensus.Scorer, emitter *events.Emitter, broadcaster Broadcaster, met *metrics.Metrics, log *logrus.Logger) *Producer {
	return &Producer{
		priv:        priv,
		self:        priv.Public().Hex(),
		chain:       chain,
		mempool:     mempool,
		exec:        exec,
		seq:         seq,
		sched:       sched,
		scorer:      scorer,
		emitter:     emitter,
		broadcaster: broadcaster,
		met:         met,
		log:         log.WithField("component", "producer"),
	}
}

// ProduceBlock builds, executes, signs, commits and broadcasts one block
// for the current slot. The leader packs every available transaction: the
// pool is drained, not sampled.
func (p *Producer) ProduceBlock() (*core.Block, error) {
	parent := p.chain.Tip()
	if parent == nil {
		return nil, errors.New("no genesis block")
	}
	leader, err := p.sched.CurrentLeader()
	if err != nil {
		return nil, err
	}
	if leader != p.self {
		return nil, ErrNotLeader
	}

	// Pull everything: local submissions and TPU arrivals share the pool,
	// already deduplicated by id in arrival order.
	txs := p.mempool.Drain()

	// Anchor a fresh PoH segment to the parent and seal the pack order.
	p.seq.Reset(parent.PoHAnchor())
	for _, tx := range txs {
		p.seq.Sequence(tx.ID)
	}
	if len(txs) == 0 {
		p.seq.TickOnce()
	}
	entries := p.seq.Entries()

	result := p.exec.ExecuteBatch(txs)

	block := core.NewBlock(parent, p.self, txs)
	block.PoH = entries
	block.StateRoot = p.exec.Accounts().StateRoot()
	block.ExecMeta = result.Meta()
	if err := block.Sign(p.priv); err != nil {
		return nil, fmt.Errorf("sign block: %w", err)
	}

	if err := p.chain.AddBlock(block); err != nil {
		return nil, fmt.Errorf("add own block: %w", err)
	}

	succeeded := 0
	for _, r := range result.Results {
		if r.OK {
			succeeded++
		}
	}
	p.scorer.RecordProposal(p.self, true, succeeded)
	p.met.BlocksProduced.Inc()
	p.met.MempoolSize.Set(float64(p.mempool.Size()))
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockProduced,
		BlockHash:   block.Hash,
		BlockHeight: block.Height,
		Data:        map[string]any{"txs": len(txs), "batches": len(result.BatchSizes)},
	})
	p.log.WithFields(logrus.Fields{
		"height": block.Height,
		"txs":    len(txs),
		"hash":   block.Hash[:16],
	}).Info("block produced")

	if p.broadcaster != nil {
		if err := p.broadcaster.Broadcast(block); err != nil {
			p.log.Warnf("block broadcast failed: %v", err)
		}
	}
	return block, nil
}

// Run drives the slot loop until stop is closed: it keeps the schedule
// synced to the chain tip and produces at most one block per slot when this
// node is the scheduled leader.
func (p *Producer) Run(stop <-chan struct{}) {
	interval := p.sched.Params().SlotDuration / 4
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Producer) tick() {
	tip := p.chain.Tip()
	if tip == nil {
		return
	}
	if err := p.sched.Sync(consensus.VRFOutput(tip.Hash)); err != nil {
		p.log.Warnf("schedule sync failed: %v", err)
		return
	}
	epoch, slot, err := p.sched.CurrentSlot()
	if err != nil {
		return
	}
	if p.produced && epoch == p.lastEpoch && slot == p.lastSlot {
		return
	}
	leader, err := p.sched.CurrentLeader()
	if err != nil || leader != p.self {
		return
	}
	p.emitter.Emit(events.Event{
		Type: events.EventLeaderSlot,
		Data: map[string]any{"epoch": epoch, "slot": slot},
	})
	if _, err := p.ProduceBlock(); err != nil && !errors.Is(err, ErrNotLeader) {
		p.log.Warnf("slot %d production failed: %v", slot, err)
		return
	}
	p.lastEpoch, p.lastSlot, p.produced = epoch, slot, true
}
