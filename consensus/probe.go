// Package consensus implements the quantum-annealing-inspired leader
// election: cryptographically witnessed latency probes feed per-node
// suitability scores, and a simulated-annealing QUBO solver picks one
// representative per selection round.
package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
)

var (
	// ErrStaleNonce rejects a probe whose nonce was already accepted
	// inside the sliding window.
	ErrStaleNonce = errors.New("probe nonce already seen")
	// ErrQuorumNotMet rejects a proof with fewer witnesses than required.
	ErrQuorumNotMet = errors.New("witness quorum not met")
	// ErrClockSkew rejects timestamps outside the allowed skew bound.
	ErrClockSkew = errors.New("timestamp skew too large")
)

// ProbeRequest opens a probe round from Source to Target.
type ProbeRequest struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type probeRequestBody struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

func (r *ProbeRequest) body() ([]byte, error) {
	return core.Encode(probeRequestBody{Source: r.Source, Target: r.Target, Nonce: r.Nonce, Timestamp: r.Timestamp})
}

// Hash returns the canonical hash of the request body; receipts commit to it.
func (r *ProbeRequest) Hash() string {
	data, err := r.body()
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign signs the request with the source key.
func (r *ProbeRequest) Sign(priv crypto.PrivateKey) error {
	data, err := r.body()
	if err != nil {
		return err
	}
	r.Signature = crypto.Sign(priv, data)
	return nil
}

// Verify checks the source signature.
func (r *ProbeRequest) Verify() error {
	pub, err := crypto.PubKeyFromHex(r.Source)
	if err != nil {
		return fmt.Errorf("invalid source pubkey: %w", err)
	}
	data, err := r.body()
	if err != nil {
		return err
	}
	return crypto.Verify(pub, data, r.Signature)
}

// TargetReceipt is the target's signed acknowledgement of a request.
type TargetReceipt struct {
	RequestHash string `json:"request_hash"`
	Timestamp   int64  `json:"timestamp"`
	Signature   string `json:"signature"`
}

type receiptBody struct {
	RequestHash string `json:"request_hash"`
	Timestamp   int64  `json:"timestamp"`
}

func (t *TargetReceipt) body() ([]byte, error) {
	return core.Encode(receiptBody{RequestHash: t.RequestHash, Timestamp: t.Timestamp})
}

// Sign signs the receipt with the target key.
func (t *TargetReceipt) Sign(priv crypto.PrivateKey) error {
	data, err := t.body()
	if err != nil {
		return err
	}
	t.Signature = crypto.Sign(priv, data)
	return nil
}

// Verify checks the receipt signature under targetPub.
func (t *TargetReceipt) Verify(targetPub string) error {
	pub, err := crypto.PubKeyFromHex(targetPub)
	if err != nil {
		return fmt.Errorf("invalid target pubkey: %w", err)
	}
	data, err := t.body()
	if err != nil {
		return err
	}
	return crypto.Verify(pub, data, t.Signature)
}

// WitnessReceipt is one witness's signed observation of the round.
type WitnessReceipt struct {
	Witness     string `json:"witness"`
	RequestHash string `json:"request_hash"`
	Timestamp   int64  `json:"timestamp"`
	Signature   string `json:"signature"`
}

type witnessBody struct {
	Witness     string `json:"witness"`
	RequestHash string `json:"request_hash"`
	Timestamp   int64  `json:"timestamp"`
}

func (w *WitnessReceipt) body() ([]byte, error) {
	return core.Encode(witnessBody{Witness: w.Witness, RequestHash: w.RequestHash, Timestamp: w.Timestamp})
}

// Sign signs the receipt with the witness key.
func (w *WitnessReceipt) Sign(priv crypto.PrivateKey) error {
	data, err := w.body()
	if err != nil {
		return err
	}
	w.Signature = crypto.Sign(priv, data)
	return nil
}

// Verify checks the witness signature.
func (w *WitnessReceipt) Verify() error {
	pub, err := crypto.PubKeyFromHex(w.Witness)
	if err != nil {
		return fmt.Errorf("invalid witness pubkey: %w", err)
	}
	data, err := w.body()
	if err != nil {
		return err
	}
	return crypto.Verify(pub, data, w.Signature)
}

// ProbeProof is the assembled, independently verifiable record of one
// latency measurement.
type ProbeProof struct {
	Request        ProbeRequest     `json:"request"`
	Receipt        TargetReceipt    `json:"receipt"`
	Witnesses      []WitnessReceipt `json:"witnesses"`
	LatencySeconds float64          `json:"latency_seconds"`
}

// VerifyProof checks every signature, the receipt/witness commitment to the
// request hash, witness quorum and distinctness, and timestamp monotonicity
// within skew. Nonce freshness is the caller's job (see NonceGuard): it is
// stateful and must be checked exactly once per accepted proof.
func VerifyProof(p *ProbeProof, quorum int, skew time.Duration, now time.Time) error {
	if err := p.Request.Verify(); err != nil {
		return fmt.Errorf("probe request: %w", err)
	}
	reqHash := p.Request.Hash()
	if p.Receipt.RequestHash != reqHash {
		return errors.New("receipt does not commit to request")
	}
	if err := p.Receipt.Verify(p.Request.Target); err != nil {
		return fmt.Errorf("target receipt: %w", err)
	}
	if len(p.Witnesses) < quorum {
		return fmt.Errorf("%w: have %d need %d", ErrQuorumNotMet, len(p.Witnesses), quorum)
	}
	seen := make(map[string]bool, len(p.Witnesses))
	for i := range p.Witnesses {
		w := &p.Witnesses[i]
		if w.RequestHash != reqHash {
			return fmt.Errorf("witness %s does not commit to request", w.Witness)
		}
		if seen[w.Witness] {
			return fmt.Errorf("duplicate witness %s", w.Witness)
		}
		seen[w.Witness] = true
		if err := w.Verify(); err != nil {
			return fmt.Errorf("witness receipt: %w", err)
		}
	}

	skewNanos := skew.Nanoseconds()
	nowNanos := now.UnixNano()
	stamps := []int64{p.Request.Timestamp, p.Receipt.Timestamp}
	for _, w := range p.Witnesses {
		stamps = append(stamps, w.Timestamp)
	}
	for _, ts := range stamps {
		if ts > nowNanos+skewNanos || ts < nowNanos-skewNanos {
			return ErrClockSkew
		}
	}
	if p.Receipt.Timestamp < p.Request.Timestamp-skewNanos {
		return fmt.Errorf("%w: receipt precedes request", ErrClockSkew)
	}
	if p.LatencySeconds < 0 {
		return errors.New("negative measured latency")
	}
	return nil
}

// NonceGuard is the sliding-window replay defense: each accepted nonce is
// recorded with an expiry and repeats inside the window are rejected.
type NonceGuard struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time // nonce -> expiry
}

// NewNonceGuard creates a guard with the given window.
func NewNonceGuard(window time.Duration) *NonceGuard {
	return &NonceGuard{window: window, seen: make(map[string]time.Time)}
}

// Check records nonce and returns ErrStaleNonce when it was already
// accepted inside the window. Expired entries are swept lazily.
func (g *NonceGuard) Check(nonce string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for n, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, n)
		}
	}
	if _, ok := g.seen[nonce]; ok {
		return ErrStaleNonce
	}
	g.seen[nonce] = now.Add(g.window)
	return nil
}

// ProbeKeys bundles the private keys needed to run a local probe round.
// Production rounds exchange the three datagram types instead; this
// in-process path is used during bootstrap and in tests.
type ProbeKeys struct {
	Source    crypto.PrivateKey
	Target    crypto.PrivateKey
	Witnesses []crypto.PrivateKey
}

// ExecuteProbe runs a complete round locally: request, receipt, witness
// receipts, and measured round-trip latency.
func ExecuteProbe(keys ProbeKeys) (*ProbeProof, error) {
	started := time.Now()
	req := ProbeRequest{
		Source:    keys.Source.Public().Hex(),
		Target:    keys.Target.Public().Hex(),
		Nonce:     uuid.NewString(),
		Timestamp: started.UnixNano(),
	}
	if err := req.Sign(keys.Source); err != nil {
		return nil, err
	}

	receipt := TargetReceipt{RequestHash: req.Hash(), Timestamp: time.Now().UnixNano()}
	if err := receipt.Sign(keys.Target); err != nil {
		return nil, err
	}
	rtt := time.Since(started).Seconds()

	witnesses := make([]WitnessReceipt, 0, len(keys.Witnesses))
	for _, wk := range keys.Witnesses {
		w := WitnessReceipt{
			Witness:     wk.Public().Hex(),
			RequestHash: req.Hash(),
			Timestamp:   time.Now().UnixNano(),
		}
		if err := w.Sign(wk); err != nil {
			return nil, err
		}
		witnesses = append(witnesses, w)
	}

	return &ProbeProof{
		Request:        req,
		Receipt:        receipt,
		Witnesses:      witnesses,
		LatencySeconds: rtt,
	}, nil
}
