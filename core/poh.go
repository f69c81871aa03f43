package core

import "github.com/annealchain/annealchain/crypto"

// PoHEntry is a single step of the Proof-of-History hash chain. A tick with
// an empty TxID only advances the clock; a tick with a TxID seals that
// transaction's position in the global order. Timestamp is advisory and does
// not enter the chain rule.
type PoHEntry struct {
	Hash      string `json:"hash"`
	Tick      uint64 `json:"tick"`
	TxID      string `json:"tx_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NextPoHHash applies the chain rule: H(prev) for an empty tick,
// H(prev ‖ txID) when a transaction is mixed in.
func NextPoHHash(prev, txID string) string {
	if txID == "" {
		return crypto.HashStrings(prev)
	}
	return crypto.HashStrings(prev, txID)
}

// VerifyPoH recomputes the hash chain over entries and reports whether every
// link matches the chain rule. The first entry is checked against anchor;
// pass an empty anchor to verify internal continuity only.
func VerifyPoH(anchor string, entries []PoHEntry) bool {
	if len(entries) == 0 {
		return true
	}
	prev := anchor
	for i, e := range entries {
		if i == 0 && anchor == "" {
			prev = e.Hash
			continue
		}
		if e.Hash != NextPoHHash(prev, e.TxID) {
			return false
		}
		prev = e.Hash
	}
	return true
}
