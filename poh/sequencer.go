// Package poh implements the Proof-of-History sequencer: a continuous
// SHA-256 hash chain that acts as a cryptographic clock and seals
// transaction order by mixing transaction ids into the chain.
package poh

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/core"
)

const (
	// DefaultTicksPerSecond is the target rate of the hash clock.
	DefaultTicksPerSecond = 5000
	// defaultMaxEntries bounds in-memory retention; sealed entries are
	// safe to trim because verification is forward-chain only.
	defaultMaxEntries = 10_000
	// trimFraction of the retention bound is dropped when it is hit.
	trimFraction = 5
)

// Stats are the sequencer's performance counters.
type Stats struct {
	TotalTicks            uint64
	TransactionsSequenced uint64
	EntriesCreated        uint64
	AvgTickInterval       float64 // EMA, seconds
	Running               bool
}

// Sequencer drives the hash chain. The tick loop runs on its own goroutine
// and never blocks on I/O; Ingest only appends to a queue under the lock.
type Sequencer struct {
	mu          sync.Mutex
	currentHash string
	tick        uint64
	entries     []core.PoHEntry
	pending     []string

	ticksPerSecond int
	maxEntries     int
	running        bool
	stopCh         chan struct{}
	done           chan struct{}

	stats Stats
	log   *logrus.Entry
}

// NewSequencer creates a Sequencer anchored at seed.
func NewSequencer(seed string, ticksPerSecond int, log *logrus.Logger) *Sequencer {
	if ticksPerSecond <= 0 {
		ticksPerSecond = DefaultTicksPerSecond
	}
	return &Sequencer{
		currentHash:    seed,
		ticksPerSecond: ticksPerSecond,
		maxEntries:     defaultMaxEntries,
		log:            log.WithField("component", "poh"),
	}
}

// Start begins continuous ticking at the configured rate. It is a no-op if
// the sequencer is already running.
func (s *Sequencer) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop()
	s.log.WithField("ticks_per_second", s.ticksPerSecond).Info("poh generation started")
}

// Stop halts the tick loop and waits for it to exit.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info("poh generation stopped")
}

func (s *Sequencer) loop() {
	defer close(s.done)
	interval := time.Second / time.Duration(s.ticksPerSecond)
	last := time.Now()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		start := time.Now()

		s.mu.Lock()
		if len(s.pending) > 0 {
			txID := s.pending[0]
			s.pending = s.pending[1:]
			s.sequenceLocked(txID)
		} else {
			s.tickLocked()
		}
		actual := time.Since(last).Seconds()
		s.stats.AvgTickInterval = s.stats.AvgTickInterval*0.9 + actual*0.1
		s.mu.Unlock()
		last = time.Now()

		if sleep := interval - time.Since(start); sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

// Ingest queues a transaction id; the next tick incorporates it and emits
// an entry tagged with that id.
func (s *Sequencer) Ingest(txID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, txID)
}

// Sequence synchronously mixes txID into the chain and returns the entry.
// Leaders use this while assembling a block so the sealed order is exactly
// the pack order.
func (s *Sequencer) Sequence(txID string) core.PoHEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequenceLocked(txID)
}

// TickOnce advances the clock by one empty tick and returns the entry.
func (s *Sequencer) TickOnce() core.PoHEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickLocked()
}

func (s *Sequencer) tickLocked() core.PoHEntry {
	s.currentHash = core.NextPoHHash(s.currentHash, "")
	s.tick++
	s.stats.TotalTicks++
	return s.appendLocked(core.PoHEntry{
		Hash:      s.currentHash,
		Tick:      s.tick,
		Timestamp: time.Now().UnixNano(),
	})
}

func (s *Sequencer) sequenceLocked(txID string) core.PoHEntry {
	s.currentHash = core.NextPoHHash(s.currentHash, txID)
	s.tick++
	s.stats.TotalTicks++
	s.stats.TransactionsSequenced++
	return s.appendLocked(core.PoHEntry{
		Hash:      s.currentHash,
		Tick:      s.tick,
		TxID:      txID,
		Timestamp: time.Now().UnixNano(),
	})
}

func (s *Sequencer) appendLocked(e core.PoHEntry) core.PoHEntry {
	s.entries = append(s.entries, e)
	s.stats.EntriesCreated++
	if len(s.entries) > s.maxEntries {
		remove := s.maxEntries / trimFraction
		s.entries = append([]core.PoHEntry(nil), s.entries[remove:]...)
	}
	return e
}

// Reset anchors a new segment at seed: the chain continues from seed, the
// tick counter restarts, and retained entries are cleared. Block creation
// uses this to chain the block's PoH to the parent's last hash.
func (s *Sequencer) Reset(seed string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentHash = seed
	s.tick = 0
	s.entries = nil
	s.pending = nil
}

// EntriesSince returns entries with tick in (lo, hi].
func (s *Sequencer) EntriesSince(lo, hi uint64) []core.PoHEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.PoHEntry, 0)
	for _, e := range s.entries {
		if e.Tick > lo && e.Tick <= hi {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns every retained entry of the current segment.
func (s *Sequencer) Entries() []core.PoHEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.PoHEntry(nil), s.entries...)
}

// CurrentHash returns the chain head.
func (s *Sequencer) CurrentHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentHash
}

// CurrentTick returns the tick counter.
func (s *Sequencer) CurrentTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Verify recomputes the hash chain over entries.
func Verify(entries []core.PoHEntry) bool {
	return core.VerifyPoH("", entries)
}

// Stats returns a copy of the performance counters.
func (s *Sequencer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Running = s.running
	return st
}
