package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/consensus"
	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/events"
	"github.com/annealchain/annealchain/metrics"
	"github.com/annealchain/annealchain/schedule"
	"github.com/annealchain/annealchain/state"
)

// DefaultVerifyBudget bounds full block verification including replay.
const DefaultVerifyBudget = 2 * time.Second

// DefaultTimestampSkew bounds how far a block timestamp may drift from the
// local clock.
const DefaultTimestampSkew = 30 * time.Second

// Validator verifies received blocks and extends the chain. Reception is
// serialized on one consumer so append order is preserved.
type Validator struct {
	mu      sync.Mutex
	chain   *core.Blockchain
	exec    *state.Executor
	sched   *schedule.Manager
	scorer  *consensus.Scorer
	mempool *core.Mempool
	emitter *events.Emitter

	// preTipSnap is the ledger state before the tip block was applied,
	// kept so a losing tip can be rolled back on a fork switch.
	preTipSnap *state.Snapshot

	budget time.Duration
	skew   time.Duration
	clock  func() time.Time

	met *metrics.Metrics
	log *logrus.Entry
}

// NewValidator wires a validator.
func NewValidator(chain *core.Blockchain, exec *state.Executor, sched *schedule.Manager, scorer *consensus.Scorer, mempool *core.Mempool, emitter *events.Emitter, met *metrics.Metrics, log *logrus.Logger) *Validator {
	return &Validator{
		chain:   chain,
		exec:    exec,
		sched:   sched,
		scorer:  scorer,
		mempool: mempool,
		emitter: emitter,
		budget:  DefaultVerifyBudget,
		skew:    DefaultTimestampSkew,
		clock:   time.Now,
		met:     met,
		log:     log.WithField("component", "validator"),
	}
}

// SetClock injects a deterministic clock for tests.
func (v *Validator) SetClock(clock func() time.Time) { v.clock = clock }

// Receive runs the full reception pipeline on block: structural checks,
// scheduled-leader check, proposer signature, PoH continuity, re-execution
// against a snapshot, then commit. A failing block is discarded and the
// advertised proposer's failure counter is incremented.
func (v *Validator) Receive(block *core.Block) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	// An already committed block echoed back is a no-op, not a failure.
	if tip := v.chain.Tip(); tip != nil && tip.Hash == block.Hash {
		return nil
	}
	if existing, err := v.chain.GetBlock(block.Hash); err == nil && existing != nil {
		return nil
	}

	err := v.receive(block)
	if err != nil {
		v.scorer.RecordProposal(block.Proposer, false, 0)
		v.met.BlocksRejected.Inc()
		v.emitter.Emit(events.Event{
			Type:        events.EventBlockRejected,
			BlockHash:   block.Hash,
			BlockHeight: block.Height,
			Data:        map[string]any{"reason": err.Error()},
		})
		v.log.WithField("height", block.Height).Warnf("block rejected: %v", err)
	}
	return err
}

func (v *Validator) receive(block *core.Block) error {
	started := v.clock()
	parent := v.chain.Tip()
	if parent == nil {
		return errors.New("no genesis block to extend")
	}
	// Sibling of the tip: run the fork path instead of extension.
	if block.Height == parent.Height && block.PrevHash == parent.PrevHash {
		return v.receiveFork(block)
	}

	// 1. Structural checks.
	if block.Height != parent.Height+1 {
		return fmt.Errorf("height %d does not extend tip %d", block.Height, parent.Height)
	}
	if block.PrevHash != parent.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.PrevHash, parent.Hash)
	}
	now := v.clock().UnixNano()
	if block.Timestamp > now+v.skew.Nanoseconds() {
		return errors.New("block timestamp too far in future")
	}
	if block.Timestamp < parent.Timestamp {
		return errors.New("block timestamp precedes parent")
	}
	leader, err := v.sched.LeaderAt(block.Timestamp)
	if err == nil && leader != block.Proposer {
		return fmt.Errorf("proposer %s is not the scheduled leader", block.Proposer[:16])
	}

	// 2. Proposer signature over the canonical payload.
	if err := block.VerifySignature(); err != nil {
		return err
	}

	// 3. PoH continuity from the parent's anchor.
	if err := block.VerifyPoHContinuity(parent); err != nil {
		return err
	}

	// 4. Re-execute on the current ledger (parent state); roll back on any
	// divergence.
	snap := v.exec.Accounts().Snapshot()
	result := v.exec.ExecuteBatch(block.Transactions)
	if root := v.exec.Accounts().StateRoot(); root != block.StateRoot {
		v.exec.Accounts().Restore(snap)
		return fmt.Errorf("state root mismatch: got %s want %s", root, block.StateRoot)
	}
	if v.clock().Sub(started) > v.budget {
		v.exec.Accounts().Restore(snap)
		return fmt.Errorf("verification exceeded %s budget", v.budget)
	}

	// 5. Commit.
	if err := v.chain.AddBlock(block); err != nil {
		v.exec.Accounts().Restore(snap)
		return fmt.Errorf("append block: %w", err)
	}
	v.preTipSnap = snap
	v.finishCommit(block, result)
	return nil
}

// receiveFork validates a competing sibling of the tip and switches to it
// when it wins the lower-block-id tie-break.
func (v *Validator) receiveFork(block *core.Block) error {
	tip := v.chain.Tip()
	if block.Hash >= tip.Hash {
		return core.ErrForkLost
	}
	if leader, err := v.sched.LeaderAt(block.Timestamp); err == nil && leader != block.Proposer {
		return fmt.Errorf("proposer %.16s is not the scheduled leader", block.Proposer)
	}
	if err := block.VerifySignature(); err != nil {
		return err
	}
	forkParent, err := v.chain.GetBlock(block.PrevHash)
	if err != nil {
		return fmt.Errorf("fork parent unknown: %w", err)
	}
	if err := block.VerifyPoHContinuity(forkParent); err != nil {
		return err
	}
	if v.preTipSnap == nil {
		return errors.New("no rollback snapshot for fork switch")
	}

	// Roll back the losing tip, replay the winner.
	current := v.exec.Accounts().Snapshot()
	v.exec.Accounts().Restore(v.preTipSnap)
	preFork := v.exec.Accounts().Snapshot()
	result := v.exec.ExecuteBatch(block.Transactions)
	if root := v.exec.Accounts().StateRoot(); root != block.StateRoot {
		v.exec.Accounts().Restore(current)
		return fmt.Errorf("fork state root mismatch: got %s want %s", root, block.StateRoot)
	}
	if err := v.chain.ResolveFork(block); err != nil {
		v.exec.Accounts().Restore(current)
		return err
	}
	v.preTipSnap = preFork
	v.finishCommit(block, result)
	v.log.WithField("height", block.Height).Info("switched to lower-id fork")
	return nil
}

func (v *Validator) finishCommit(block *core.Block, result *state.BatchResult) {
	succeeded := 0
	for _, r := range result.Results {
		if r.OK {
			succeeded++
		}
	}
	v.scorer.RecordProposal(block.Proposer, true, succeeded)
	v.met.BlocksAccepted.Inc()

	ids := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		ids[i] = tx.ID
	}
	v.mempool.Remove(ids)
	v.met.MempoolSize.Set(float64(v.mempool.Size()))

	byID := make(map[string]*core.Transaction, len(block.Transactions))
	for _, tx := range block.Transactions {
		byID[tx.ID] = tx
	}
	for _, r := range result.Results {
		typ := events.EventTxExecuted
		data := map[string]any{}
		if tx := byID[r.TxID]; tx != nil {
			data["sender"] = tx.Sender
			data["receiver"] = tx.Receiver
		}
		if !r.OK {
			typ = events.EventTxFailed
			data["reason"] = r.Reason
		}
		v.emitter.Emit(events.Event{
			Type:        typ,
			TxID:        r.TxID,
			BlockHash:   block.Hash,
			BlockHeight: block.Height,
			Data:        data,
		})
	}
	v.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHash:   block.Hash,
		BlockHeight: block.Height,
		Data:        map[string]any{"txs": len(block.Transactions)},
	})
}
