package core

import "testing"

func chainEntries(anchor string, txIDs []string) []PoHEntry {
	entries := make([]PoHEntry, 0, len(txIDs))
	prev := anchor
	for i, id := range txIDs {
		prev = NextPoHHash(prev, id)
		entries = append(entries, PoHEntry{Hash: prev, Tick: uint64(i + 1), TxID: id})
	}
	return entries
}

// TestVerifyPoHChainRule checks the chain rule over mixed tick kinds.
func TestVerifyPoHChainRule(t *testing.T) {
	entries := chainEntries("seed", []string{"", "tx1", "", "tx2"})
	if !VerifyPoH("seed", entries) {
		t.Fatal("valid chain rejected")
	}
	if !VerifyPoH("", entries) {
		t.Fatal("internal continuity should hold without anchor")
	}
	if VerifyPoH("other-seed", entries) {
		t.Error("wrong anchor accepted")
	}
}

// TestVerifyPoHDetectsTamper flips one link.
func TestVerifyPoHDetectsTamper(t *testing.T) {
	entries := chainEntries("seed", []string{"", "tx1", ""})
	entries[1].TxID = "tx-forged"
	if VerifyPoH("seed", entries) {
		t.Error("tampered tx id accepted")
	}

	entries = chainEntries("seed", []string{"", "", ""})
	entries[2].Hash = entries[1].Hash
	if VerifyPoH("seed", entries) {
		t.Error("tampered hash accepted")
	}
}

// TestVerifyPoHEmpty: an empty sequence is trivially valid.
func TestVerifyPoHEmpty(t *testing.T) {
	if !VerifyPoH("anything", nil) {
		t.Error("empty sequence should verify")
	}
}
