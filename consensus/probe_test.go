package consensus

import (
	"errors"
	"testing"
	"time"

	"github.com/annealchain/annealchain/crypto"
)

func keys(t *testing.T, witnesses int) ProbeKeys {
	t.Helper()
	gen := func() crypto.PrivateKey {
		priv, _, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		return priv
	}
	pk := ProbeKeys{Source: gen(), Target: gen()}
	for i := 0; i < witnesses; i++ {
		pk.Witnesses = append(pk.Witnesses, gen())
	}
	return pk
}

// TestProbeProofVerifies: a full local round passes verification.
func TestProbeProofVerifies(t *testing.T) {
	proof, err := ExecuteProbe(keys(t, 2))
	if err != nil {
		t.Fatalf("ExecuteProbe: %v", err)
	}
	if err := VerifyProof(proof, 2, 30*time.Second, time.Now()); err != nil {
		t.Errorf("valid proof rejected: %v", err)
	}
}

// TestProbeQuorumBoundary: exactly the quorum verifies, one fewer does not.
func TestProbeQuorumBoundary(t *testing.T) {
	proof, err := ExecuteProbe(keys(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyProof(proof, 2, 30*time.Second, time.Now()); err != nil {
		t.Errorf("quorum-sized witness set rejected: %v", err)
	}

	short, err := ExecuteProbe(keys(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyProof(short, 2, 30*time.Second, time.Now()); !errors.Is(err, ErrQuorumNotMet) {
		t.Errorf("one-under-quorum: got %v want ErrQuorumNotMet", err)
	}
}

// TestProbeRejectsForgedReceipt: a receipt signed by the wrong key fails.
func TestProbeRejectsForgedReceipt(t *testing.T) {
	pk := keys(t, 2)
	proof, err := ExecuteProbe(pk)
	if err != nil {
		t.Fatal(err)
	}
	// Re-sign the receipt with the source key instead of the target's.
	forged := proof.Receipt
	if err := forged.Sign(pk.Source); err != nil {
		t.Fatal(err)
	}
	proof.Receipt = forged
	if err := VerifyProof(proof, 2, 30*time.Second, time.Now()); err == nil {
		t.Error("forged receipt accepted")
	}
}

// TestProbeRejectsDuplicateWitness: the quorum must be distinct keys.
func TestProbeRejectsDuplicateWitness(t *testing.T) {
	pk := keys(t, 1)
	pk.Witnesses = append(pk.Witnesses, pk.Witnesses[0])
	proof, err := ExecuteProbe(pk)
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyProof(proof, 2, 30*time.Second, time.Now()); err == nil {
		t.Error("duplicate witness accepted")
	}
}

// TestProbeRejectsSkew: stale timestamps fall outside the bound.
func TestProbeRejectsSkew(t *testing.T) {
	proof, err := ExecuteProbe(keys(t, 2))
	if err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(5 * time.Minute)
	if err := VerifyProof(proof, 2, 30*time.Second, future); !errors.Is(err, ErrClockSkew) {
		t.Errorf("skewed proof: got %v want ErrClockSkew", err)
	}
}

// TestNonceGuardWindow: a nonce repeats only after the window expires.
func TestNonceGuardWindow(t *testing.T) {
	g := NewNonceGuard(time.Minute)
	now := time.Now()
	if err := g.Check("n1", now); err != nil {
		t.Fatalf("fresh nonce rejected: %v", err)
	}
	if err := g.Check("n1", now.Add(time.Second)); !errors.Is(err, ErrStaleNonce) {
		t.Errorf("replay inside window: got %v want ErrStaleNonce", err)
	}
	if err := g.Check("n1", now.Add(2*time.Minute)); err != nil {
		t.Errorf("nonce after window rejected: %v", err)
	}
}
