package consensus

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/crypto"
)

// Weights are the suitability-score coefficients. Latency enters the score
// negatively.
type Weights struct {
	Uptime     float64
	Proposal   float64
	Throughput float64
	Latency    float64
}

// DefaultWeights per the protocol: (w_u, w_p, w_t, w_l).
var DefaultWeights = Weights{Uptime: 0.3, Proposal: 0.25, Throughput: 0.25, Latency: 0.2}

// ScorerConfig tunes the probe verification discipline and scoring.
type ScorerConfig struct {
	Weights        Weights
	RandomWeight   float64       // VRF-seeded randomness share of the effective score
	WitnessQuorum  int           // minimum witnesses per probe proof
	SkewBound      time.Duration // allowed timestamp skew
	NonceWindow    time.Duration // replay-defense window
	CacheTTL       time.Duration // suitability cache lifetime
	ProbeWindow    int           // probes per uptime window
	ThroughputSpan time.Duration // window for throughput measurement
	Inactivity     time.Duration // eviction threshold
	LatencyAlpha   float64       // EMA coefficient
}

// DefaultScorerConfig returns the documented defaults.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights:        DefaultWeights,
		RandomWeight:   0.15,
		WitnessQuorum:  2,
		SkewBound:      30 * time.Second,
		NonceWindow:    5 * time.Minute,
		CacheTTL:       time.Minute,
		ProbeWindow:    100,
		ThroughputSpan: time.Minute,
		Inactivity:     time.Hour,
		LatencyAlpha:   0.2,
	}
}

// NodeRecord tracks one validator's observed behaviour. All updates flow
// from verified probe proofs and block-proposal outcomes.
type NodeRecord struct {
	PublicKey       string
	Uptime          float64 // fraction in [0,1]
	Latency         float64 // seconds, EMA
	ProposalSuccess uint64
	ProposalFailure uint64
	LastSeen        time.Time
	Cluster         int

	windowTxCount uint64    // successfully proposed txs in the current span
	windowStart   time.Time // start of the throughput span
	throughput    float64   // last computed tx/s
}

// Throughput returns the last computed transactions-per-second figure.
func (n *NodeRecord) Throughput() float64 { return n.throughput }

// ProposalSuccessRate returns successes over total proposals (zero when the
// node never proposed).
func (n *NodeRecord) ProposalSuccessRate() float64 {
	total := n.ProposalSuccess + n.ProposalFailure
	if total == 0 {
		return 0
	}
	return float64(n.ProposalSuccess) / float64(total)
}

// Scorer maintains the live node registry and suitability scores.
type Scorer struct {
	mu     sync.RWMutex
	cfg    ScorerConfig
	nodes  map[string]*NodeRecord
	nonces *NonceGuard

	cache   map[string]float64
	cacheAt time.Time

	clock func() time.Time
	log   *logrus.Entry
}

// NewScorer creates a Scorer with cfg.
func NewScorer(cfg ScorerConfig, log *logrus.Logger) *Scorer {
	return &Scorer{
		cfg:    cfg,
		nodes:  make(map[string]*NodeRecord),
		nonces: NewNonceGuard(cfg.NonceWindow),
		clock:  time.Now,
		log:    log.WithField("component", "scorer"),
	}
}

// SetClock injects a deterministic clock for tests.
func (s *Scorer) SetClock(clock func() time.Time) { s.clock = clock }

// Register creates a record for pubkey on first sight.
func (s *Scorer) Register(pubkey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[pubkey]; ok {
		return
	}
	now := s.clock()
	s.nodes[pubkey] = &NodeRecord{PublicKey: pubkey, LastSeen: now, windowStart: now}
	s.cache = nil
}

// Node returns a copy of the record for pubkey.
func (s *Scorer) Node(pubkey string) (NodeRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[pubkey]
	if !ok {
		return NodeRecord{}, false
	}
	return *n, true
}

// ActiveNodes returns the registered pubkeys sorted lexicographically.
func (s *Scorer) ActiveNodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.nodes))
	for k := range s.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyProbe verifies proof and, on success, updates the target's metrics:
// uptime accrues 1/ProbeWindow (capped at 1) and latency moves by EMA.
// A proof that fails verification updates nothing.
func (s *Scorer) ApplyProbe(proof *ProbeProof) error {
	now := s.clock()
	if err := VerifyProof(proof, s.cfg.WitnessQuorum, s.cfg.SkewBound, now); err != nil {
		return err
	}
	if err := s.nonces.Check(proof.Request.Nonce, now); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.nodes[proof.Request.Target]
	if !ok {
		return fmt.Errorf("probe target %s not registered", proof.Request.Target)
	}
	target.Uptime += 1.0 / float64(s.cfg.ProbeWindow)
	if target.Uptime > 1 {
		target.Uptime = 1
	}
	a := s.cfg.LatencyAlpha
	if target.Latency == 0 {
		target.Latency = proof.LatencySeconds
	} else {
		target.Latency = (1-a)*target.Latency + a*proof.LatencySeconds
	}
	target.LastSeen = now
	if src, ok := s.nodes[proof.Request.Source]; ok {
		src.LastSeen = now
	}
	s.cache = nil
	return nil
}

// RecordProposal updates the proposal counters after a block from pubkey
// was accepted or rejected; accepted blocks also feed the throughput window
// with their transaction count.
func (s *Scorer) RecordProposal(pubkey string, success bool, txCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[pubkey]
	if !ok {
		return
	}
	now := s.clock()
	if success {
		n.ProposalSuccess++
		n.windowTxCount += uint64(txCount)
	} else {
		n.ProposalFailure++
	}
	if span := now.Sub(n.windowStart); span >= s.cfg.ThroughputSpan {
		n.throughput = float64(n.windowTxCount) / span.Seconds()
		n.windowTxCount = 0
		n.windowStart = now
	}
	n.LastSeen = now
	s.cache = nil
}

// EvictInactive drops nodes unseen for the inactivity threshold and returns
// how many were removed.
func (s *Scorer) EvictInactive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	removed := 0
	for k, n := range s.nodes {
		if now.Sub(n.LastSeen) > s.cfg.Inactivity {
			delete(s.nodes, k)
			removed++
		}
	}
	if removed > 0 {
		s.cache = nil
		s.log.WithField("evicted", removed).Info("evicted inactive nodes")
	}
	return removed
}

// SuitabilityScores returns the weighted, min-max-normalized score for
// every active node. Results are cached for the configured TTL to bound
// cost at scale.
func (s *Scorer) SuitabilityScores() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if s.cache != nil && now.Sub(s.cacheAt) < s.cfg.CacheTTL {
		out := make(map[string]float64, len(s.cache))
		for k, v := range s.cache {
			out[k] = v
		}
		return out
	}

	type metrics struct{ uptime, proposal, throughput, latency float64 }
	raw := make(map[string]metrics, len(s.nodes))
	var uptimes, proposals, throughputs, latencies []float64
	for k, n := range s.nodes {
		m := metrics{
			uptime:     n.Uptime,
			proposal:   n.ProposalSuccessRate(),
			throughput: n.throughput,
			latency:    n.Latency,
		}
		raw[k] = m
		uptimes = append(uptimes, m.uptime)
		proposals = append(proposals, m.proposal)
		throughputs = append(throughputs, m.throughput)
		latencies = append(latencies, m.latency)
	}

	scores := make(map[string]float64, len(raw))
	w := s.cfg.Weights
	for k, m := range raw {
		scores[k] = w.Uptime*normalize(m.uptime, uptimes) +
			w.Proposal*normalize(m.proposal, proposals) +
			w.Throughput*normalize(m.throughput, throughputs) -
			w.Latency*normalize(m.latency, latencies)
	}
	s.cache = scores
	s.cacheAt = now

	out := make(map[string]float64, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return out
}

// EffectiveScores blends suitability with a VRF-seeded pseudo-random term
// so that a high score never becomes a deterministic lock on leadership.
func (s *Scorer) EffectiveScores(seed string) map[string]float64 {
	base := s.SuitabilityScores()
	rw := s.cfg.RandomWeight
	out := make(map[string]float64, len(base))
	for pub, score := range base {
		out[pub] = (1-rw)*score + rw*seededUnit(seed, pub)
	}
	return out
}

// normalize min-max scales v against population; a flat population maps to
// zero so no metric dominates by accident.
func normalize(v float64, population []float64) float64 {
	if len(population) == 0 {
		return 0
	}
	lo, hi := population[0], population[0]
	for _, p := range population[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi == lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}

// seededUnit maps (seed, pubkey) to a uniform value in [0,1).
func seededUnit(seed, pubkey string) float64 {
	digest := crypto.HashBytes([]byte(seed + pubkey))
	u := binary.BigEndian.Uint64(digest[:8])
	return float64(u>>11) / float64(1<<53)
}
