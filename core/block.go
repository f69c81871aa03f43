package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/annealchain/annealchain/crypto"
)

// TxResult records the outcome of one transaction inside a block. Failed
// transactions stay in the block (their ordering is already sealed by PoH);
// Reason carries the deterministic failure cause.
type TxResult struct {
	TxID   string `json:"tx_id"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ExecMeta describes how the block's transactions were partitioned for
// conflict-free parallel execution.
type ExecMeta struct {
	BatchSizes    []int      `json:"batch_sizes"`
	ElapsedMicros int64      `json:"elapsed_micros"`
	Results       []TxResult `json:"results"`
}

// Block is one link of the chain. Hash is the block id: the hash of the
// canonical payload (every field except Hash and Signature). Signature is
// the proposer's signature over that payload.
type Block struct {
	Height       uint64         `json:"height"`
	PrevHash     string         `json:"prev_hash"`
	Proposer     string         `json:"proposer"`
	Timestamp    int64          `json:"timestamp"`
	Transactions []*Transaction `json:"transactions"`
	PoH          []PoHEntry     `json:"poh"`
	StateRoot    string         `json:"state_root"`
	ExecMeta     ExecMeta       `json:"exec_meta"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// blockPayload is the canonical signing/hashing view of a block.
type blockPayload struct {
	Height       uint64         `json:"height"`
	PrevHash     string         `json:"prev_hash"`
	Proposer     string         `json:"proposer"`
	Timestamp    int64          `json:"timestamp"`
	Transactions []*Transaction `json:"transactions"`
	PoH          []PoHEntry     `json:"poh"`
	StateRoot    string         `json:"state_root"`
	ExecMeta     ExecMeta       `json:"exec_meta"`
}

func (b *Block) payloadBytes() ([]byte, error) {
	return Encode(blockPayload{
		Height:       b.Height,
		PrevHash:     b.PrevHash,
		Proposer:     b.Proposer,
		Timestamp:    b.Timestamp,
		Transactions: b.Transactions,
		PoH:          b.PoH,
		StateRoot:    b.StateRoot,
		ExecMeta:     b.ExecMeta,
	})
}

// ComputeHash returns the block id: the hash of the canonical payload.
func (b *Block) ComputeHash() string {
	data, err := b.payloadBytes()
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the canonical payload with the proposer's key.
func (b *Block) Sign(priv crypto.PrivateKey) error {
	b.Hash = b.ComputeHash()
	data, err := b.payloadBytes()
	if err != nil {
		return err
	}
	b.Signature = crypto.Sign(priv, data)
	return nil
}

// VerifySignature checks that Hash matches the recomputed payload hash and
// that the proposer's signature over the payload is valid.
func (b *Block) VerifySignature() error {
	if computed := b.ComputeHash(); b.Hash != computed {
		return fmt.Errorf("block hash mismatch: stored %s computed %s", b.Hash, computed)
	}
	pub, err := crypto.PubKeyFromHex(b.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	data, err := b.payloadBytes()
	if err != nil {
		return err
	}
	if err := crypto.Verify(pub, data, b.Signature); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	return nil
}

// PoHAnchor returns the hash the next block's PoH segment must chain from:
// the last PoH entry hash, or the block id for a block with no entries.
func (b *Block) PoHAnchor() string {
	if n := len(b.PoH); n > 0 {
		return b.PoH[n-1].Hash
	}
	return b.Hash
}

// VerifyPoHContinuity checks the block's PoH segment against the parent's
// anchor and the internal chain rule, and that every transaction in the
// block is tagged by at least one PoH entry.
func (b *Block) VerifyPoHContinuity(parent *Block) error {
	anchor := ""
	if parent != nil {
		anchor = parent.PoHAnchor()
	}
	if !VerifyPoH(anchor, b.PoH) {
		return errors.New("poh chain broken")
	}
	sealed := make(map[string]bool)
	for _, e := range b.PoH {
		if e.TxID != "" {
			sealed[e.TxID] = true
		}
	}
	for _, tx := range b.Transactions {
		if !sealed[tx.ID] {
			return fmt.Errorf("transaction %s not sealed by poh", tx.ID)
		}
	}
	return nil
}

// NewBlock creates an unsigned block extending parent.
func NewBlock(parent *Block, proposer string, txs []*Transaction) *Block {
	var height uint64
	prevHash := ""
	if parent != nil {
		height = parent.Height + 1
		prevHash = parent.Hash
	}
	return &Block{
		Height:       height,
		PrevHash:     prevHash,
		Proposer:     proposer,
		Timestamp:    time.Now().UnixNano(),
		Transactions: txs,
	}
}
