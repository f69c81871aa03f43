package state

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/core"
)

// DefaultWorkers caps the executor pool; batches rarely benefit from more.
const DefaultWorkers = 32

// BatchResult reports the outcome of one ExecuteBatch call. Results are in
// input order; BatchSizes records the conflict-free partition.
type BatchResult struct {
	Results       []core.TxResult
	BatchSizes    []int
	ElapsedMicros int64
}

// Meta converts the result into the block's execution metadata.
func (r *BatchResult) Meta() core.ExecMeta {
	return core.ExecMeta{
		BatchSizes:    r.BatchSizes,
		ElapsedMicros: r.ElapsedMicros,
		Results:       r.Results,
	}
}

// Executor partitions transactions into conflict-free groups and runs each
// group in parallel against the ledger. Two transactions conflict iff their
// account sets ({sender, receiver}) intersect; the partition preserves the
// input order of every conflicting pair, so execution is a refinement of
// arrival order.
type Executor struct {
	accounts *Accounts
	faucet   string // pubkey allowed to emit EXCHANGE transactions
	workers  int
	log      *logrus.Entry
}

// NewExecutor creates an Executor over accounts. faucet is the only sender
// EXCHANGE transactions are accepted from; pass "" to reject them all.
func NewExecutor(accounts *Accounts, faucet string, log *logrus.Logger) *Executor {
	workers := runtime.GOMAXPROCS(0)
	if workers > DefaultWorkers {
		workers = DefaultWorkers
	}
	return &Executor{
		accounts: accounts,
		faucet:   faucet,
		workers:  workers,
		log:      log.WithField("component", "executor"),
	}
}

// Accounts exposes the underlying ledger.
func (e *Executor) Accounts() *Accounts { return e.accounts }

// planGroups assigns each transaction a group index via greedy level
// scheduling on the conflict graph: a transaction lands one level past the
// last group that touched any of its accounts. Transactions in the same
// group therefore touch disjoint accounts.
func planGroups(txs []*core.Transaction) [][]int {
	lastGroup := make(map[string]int) // account -> last group index that used it
	var groups [][]int
	for i, tx := range txs {
		level := 0
		if g, ok := lastGroup[tx.Sender]; ok && g+1 > level {
			level = g + 1
		}
		if g, ok := lastGroup[tx.Receiver]; ok && g+1 > level {
			level = g + 1
		}
		for len(groups) <= level {
			groups = append(groups, nil)
		}
		groups[level] = append(groups[level], i)
		lastGroup[tx.Sender] = level
		lastGroup[tx.Receiver] = level
	}
	return groups
}

// ExecuteBatch runs txs with conflict-free parallelism. A failing
// transaction is skipped without state change and reported per-tx; it never
// aborts the batch. Signature-invalid transactions are rejected before
// execution.
func (e *Executor) ExecuteBatch(txs []*core.Transaction) *BatchResult {
	start := time.Now()
	results := make([]core.TxResult, len(txs))

	// Pre-execution rejection: bad signatures never touch state.
	runnable := make([]bool, len(txs))
	for i, tx := range txs {
		results[i] = core.TxResult{TxID: tx.ID, OK: true}
		if err := tx.Verify(); err != nil {
			results[i].OK = false
			results[i].Reason = "invalid signature"
			continue
		}
		runnable[i] = true
	}

	groups := planGroups(txs)
	sizes := make([]int, 0, len(groups))
	sem := make(chan struct{}, e.workers)
	for _, group := range groups {
		sizes = append(sizes, len(group))
		var wg sync.WaitGroup
		for _, idx := range group {
			if !runnable[idx] {
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := e.apply(txs[i]); err != nil {
					results[i].OK = false
					results[i].Reason = err.Error()
				}
			}(idx)
		}
		wg.Wait()
	}

	elapsed := time.Since(start).Microseconds()
	e.log.WithFields(logrus.Fields{
		"txs":     len(txs),
		"groups":  len(groups),
		"elapsed": elapsed,
	}).Debug("batch executed")

	return &BatchResult{Results: results, BatchSizes: sizes, ElapsedMicros: elapsed}
}

// apply runs a single signature-valid transaction against the ledger.
func (e *Executor) apply(tx *core.Transaction) error {
	if tx.Type == core.TxExchange && tx.Sender != e.faucet {
		return errUnauthorizedExchange
	}
	return e.accounts.Transfer(tx.Sender, tx.Receiver, tx.Amount)
}
