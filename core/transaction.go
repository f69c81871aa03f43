package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/annealchain/annealchain/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	// TxTransfer moves funds between two accounts.
	TxTransfer TxType = "TRANSFER"
	// TxExchange credits funds from the configured faucet key during
	// network bootstrap.
	TxExchange TxType = "EXCHANGE"
)

// Transaction is the atomic unit of work on the chain.
// Sender and Receiver hold compressed P-256 public keys in hex (66 chars).
// ID is the hash of the canonical body; Signature covers the canonical body
// including ID and is produced by the sender's key.
type Transaction struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Amount    uint64 `json:"amount"`
	Type      TxType `json:"type"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
	Signature string `json:"signature"`
}

// txBody holds the fields the transaction id is computed over.
type txBody struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Amount    uint64 `json:"amount"`
	Type      TxType `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// txSigned holds the fields covered by the signature: the body plus the id.
type txSigned struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Amount    uint64 `json:"amount"`
	Type      TxType `json:"type"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

// Hash returns the deterministic transaction id (hash of the canonical body,
// sans ID and Signature).
func (tx *Transaction) Hash() string {
	body := txBody{
		Sender:    tx.Sender,
		Receiver:  tx.Receiver,
		Amount:    tx.Amount,
		Type:      tx.Type,
		Timestamp: tx.Timestamp,
	}
	data, err := Encode(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

func (tx *Transaction) signedBytes() ([]byte, error) {
	return Encode(txSigned{
		Sender:    tx.Sender,
		Receiver:  tx.Receiver,
		Amount:    tx.Amount,
		Type:      tx.Type,
		Timestamp: tx.Timestamp,
		ID:        tx.ID,
	})
}

// Sign sets ID from the canonical body and signs with the sender's key.
func (tx *Transaction) Sign(priv crypto.PrivateKey) error {
	tx.ID = tx.Hash()
	data, err := tx.signedBytes()
	if err != nil {
		return err
	}
	tx.Signature = crypto.Sign(priv, data)
	return nil
}

// Verify checks that ID matches the canonical body and that Signature
// verifies under the sender's public key.
func (tx *Transaction) Verify() error {
	if tx.Sender == "" {
		return errors.New("missing sender field")
	}
	pub, err := crypto.PubKeyFromHex(tx.Sender)
	if err != nil {
		return fmt.Errorf("invalid sender (must be P-256 pubkey hex): %w", err)
	}
	if _, err := crypto.PubKeyFromHex(tx.Receiver); err != nil {
		return fmt.Errorf("invalid receiver: %w", err)
	}
	if tx.Type != TxTransfer && tx.Type != TxExchange {
		return fmt.Errorf("unknown transaction type %q", tx.Type)
	}
	if tx.ID != tx.Hash() {
		return errors.New("transaction id does not match body")
	}
	data, err := tx.signedBytes()
	if err != nil {
		return err
	}
	return crypto.Verify(pub, data, tx.Signature)
}

// NewTransaction creates and signs a transaction with the current timestamp.
func NewTransaction(priv crypto.PrivateKey, receiver string, amount uint64, typ TxType) (*Transaction, error) {
	tx := &Transaction{
		Sender:    priv.Public().Hex(),
		Receiver:  receiver,
		Amount:    amount,
		Type:      typ,
		Timestamp: time.Now().UnixNano(),
	}
	if err := tx.Sign(priv); err != nil {
		return nil, err
	}
	return tx, nil
}
