// Package schedule maps slots to leaders. Each epoch's table is generated
// deterministically from the consensus scores and a VRF seed, and the next
// epoch is always pre-computed a full epoch in advance so transactions can
// be forwarded to leaders long before their slots start.
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/consensus"
)

// ErrNoSchedule is returned before the first epoch has been generated.
var ErrNoSchedule = errors.New("no schedule generated yet")

// Params fix the epoch geometry. They are constants for the lifetime of a
// network.
type Params struct {
	SlotDuration  time.Duration
	SlotsPerEpoch uint64
}

// DefaultParams bind the protocol defaults: 400 ms slots, 32 slots/epoch.
func DefaultParams() Params {
	return Params{SlotDuration: 400 * time.Millisecond, SlotsPerEpoch: 32}
}

// ScoreSource yields per-node effective scores for a selection seed.
// *consensus.Scorer implements it; tests substitute fixed maps.
type ScoreSource interface {
	EffectiveScores(seed string) map[string]float64
}

// SlotInfo describes one upcoming slot.
type SlotInfo struct {
	Slot   uint64
	Leader string
	Start  time.Time
}

// Schedule is one epoch's immutable slot→leader table.
type Schedule struct {
	Epoch uint64
	Seed  string
	Start time.Time
	Slots []string
}

// Leader returns the pubkey for a slot index within the epoch.
func (s *Schedule) Leader(slot uint64) (string, error) {
	if slot >= uint64(len(s.Slots)) {
		return "", fmt.Errorf("slot %d outside epoch %d", slot, s.Epoch)
	}
	return s.Slots[slot], nil
}

// Generate builds an epoch table: each slot derives its own seed from
// (epoch, slot, vrf) and runs the annealing selector over the shortlist of
// effective scores. Identical inputs produce identical tables.
func Generate(params Params, epoch uint64, vrfOutput string, start time.Time, scores ScoreSource, annealer consensus.Annealer, shortlist int) (*Schedule, error) {
	slots := make([]string, params.SlotsPerEpoch)
	for slot := uint64(0); slot < params.SlotsPerEpoch; slot++ {
		seed := consensus.SlotSeed(epoch, slot, vrfOutput)
		cands := consensus.Shortlist(scores.EffectiveScores(seed), nil, shortlist)
		leader, err := annealer.SelectLeader(cands, seed)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", slot, err)
		}
		slots[slot] = leader
	}
	return &Schedule{Epoch: epoch, Seed: vrfOutput, Start: start, Slots: slots}, nil
}

// Manager keeps the current and next epoch schedules and answers the slot
// clock. Read-mostly: epoch swaps replace the pointers atomically under the
// write lock.
type Manager struct {
	mu        sync.RWMutex
	params    Params
	scores    ScoreSource
	annealer  consensus.Annealer
	shortlist int
	current   *Schedule
	next      *Schedule
	clock     func() time.Time
	log       *logrus.Entry
}

// NewManager creates a Manager; call Sync to generate the initial epochs.
func NewManager(params Params, scores ScoreSource, annealer consensus.Annealer, log *logrus.Logger) *Manager {
	return &Manager{
		params:    params,
		scores:    scores,
		annealer:  annealer,
		shortlist: consensus.ShortlistSize,
		clock:     time.Now,
		log:       log.WithField("component", "schedule"),
	}
}

// SetClock injects a deterministic clock for tests.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// Params returns the epoch geometry.
func (m *Manager) Params() Params { return m.params }

func (m *Manager) epochLen() time.Duration {
	return m.params.SlotDuration * time.Duration(m.params.SlotsPerEpoch)
}

// Sync maintains the "next schedule ready" invariant. On first call it
// generates epoch 0 starting now plus its successor; afterwards it promotes
// the next epoch when the clock passes the boundary and regenerates a fresh
// next from vrfOutput. Call it at least once per slot.
func (m *Manager) Sync(vrfOutput string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()

	if m.current == nil {
		cur, err := Generate(m.params, 0, vrfOutput, now, m.scores, m.annealer, m.shortlist)
		if err != nil {
			return fmt.Errorf("generate epoch 0: %w", err)
		}
		nxt, err := Generate(m.params, 1, vrfOutput, now.Add(m.epochLen()), m.scores, m.annealer, m.shortlist)
		if err != nil {
			return fmt.Errorf("generate epoch 1: %w", err)
		}
		m.current, m.next = cur, nxt
		m.log.WithField("slots", len(cur.Slots)).Info("initial schedules generated")
		return nil
	}

	for !now.Before(m.current.Start.Add(m.epochLen())) {
		promoted := m.next
		epoch := promoted.Epoch + 1
		nxt, err := Generate(m.params, epoch, vrfOutput, promoted.Start.Add(m.epochLen()), m.scores, m.annealer, m.shortlist)
		if err != nil {
			return fmt.Errorf("generate epoch %d: %w", epoch, err)
		}
		m.current, m.next = promoted, nxt
		m.log.WithField("epoch", promoted.Epoch).Info("epoch rotated")
	}
	return nil
}

// NextReady reports whether the advance-computed schedule exists.
func (m *Manager) NextReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.next != nil
}

// Current returns the active epoch schedule.
func (m *Manager) Current() (*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoSchedule
	}
	return m.current, nil
}

// CurrentSlot returns (epoch, slot index) for the clock's now.
func (m *Manager) CurrentSlot() (uint64, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentSlotLocked()
}

func (m *Manager) currentSlotLocked() (uint64, uint64, error) {
	if m.current == nil {
		return 0, 0, ErrNoSchedule
	}
	now := m.clock()
	if now.Before(m.current.Start) {
		return m.current.Epoch, 0, nil
	}
	slot := uint64(now.Sub(m.current.Start) / m.params.SlotDuration)
	if slot >= m.params.SlotsPerEpoch {
		// Boundary passed but Sync has not rotated yet; clamp to the
		// last slot rather than inventing an unscheduled one.
		slot = m.params.SlotsPerEpoch - 1
	}
	return m.current.Epoch, slot, nil
}

// CurrentLeader returns the pubkey scheduled for the current slot.
func (m *Manager) CurrentLeader() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return "", ErrNoSchedule
	}
	_, slot, err := m.currentSlotLocked()
	if err != nil {
		return "", err
	}
	return m.current.Leader(slot)
}

// LeaderAt returns the pubkey scheduled for the slot containing the given
// unix-nano timestamp, consulting the current and next epochs.
func (m *Manager) LeaderAt(timestamp int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return "", ErrNoSchedule
	}
	t := time.Unix(0, timestamp)
	for _, sched := range []*Schedule{m.current, m.next} {
		if sched == nil {
			continue
		}
		end := sched.Start.Add(m.epochLen())
		if t.Before(sched.Start) || !t.Before(end) {
			continue
		}
		slot := uint64(t.Sub(sched.Start) / m.params.SlotDuration)
		return sched.Leader(slot)
	}
	return "", fmt.Errorf("timestamp outside held epochs")
}

// LeaderForSlot returns the scheduled pubkey for an (epoch, slot) pair in
// the current or next epoch.
func (m *Manager) LeaderForSlot(epoch, slot uint64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.current != nil && m.current.Epoch == epoch:
		return m.current.Leader(slot)
	case m.next != nil && m.next.Epoch == epoch:
		return m.next.Leader(slot)
	}
	return "", fmt.Errorf("epoch %d not held", epoch)
}

// UpcomingLeaders returns the next k slots as (slot, leader, start) triples,
// crossing into the pre-computed next epoch when needed.
func (m *Manager) UpcomingLeaders(k int) ([]SlotInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoSchedule
	}
	_, slot, err := m.currentSlotLocked()
	if err != nil {
		return nil, err
	}

	out := make([]SlotInfo, 0, k)
	sched, idx := m.current, slot+1
	for len(out) < k {
		if idx >= uint64(len(sched.Slots)) {
			if sched != m.current || m.next == nil {
				break
			}
			sched, idx = m.next, 0
			continue
		}
		out = append(out, SlotInfo{
			Slot:   idx,
			Leader: sched.Slots[idx],
			Start:  sched.Start.Add(time.Duration(idx) * m.params.SlotDuration),
		})
		idx++
	}
	return out, nil
}

// GulfStreamTargets returns the forwarding fanout: the current leader plus
// the next three distinct upcoming leaders (at most four total).
func (m *Manager) GulfStreamTargets() ([]string, error) {
	current, err := m.CurrentLeader()
	if err != nil {
		return nil, err
	}
	upcoming, err := m.UpcomingLeaders(int(m.params.SlotsPerEpoch))
	if err != nil {
		return nil, err
	}
	targets := []string{current}
	seen := map[string]bool{current: true}
	for _, info := range upcoming {
		if len(targets) == 4 {
			break
		}
		if seen[info.Leader] {
			continue
		}
		seen[info.Leader] = true
		targets = append(targets, info.Leader)
	}
	return targets, nil
}
