package wallet

import (
	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
)

// Wallet wraps a key pair and builds signed transactions.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// Generate creates a wallet with a fresh key pair.
func Generate() (*Wallet, error) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Wallet{priv: priv, pub: pub}, nil
}

// FromPrivateKey wraps an existing key.
func FromPrivateKey(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// PubKey returns the hex-encoded public key.
func (w *Wallet) PubKey() string { return w.pub.Hex() }

// PrivKey returns the private key.
func (w *Wallet) PrivKey() crypto.PrivateKey { return w.priv }

// Transfer builds and signs a TRANSFER to receiver.
func (w *Wallet) Transfer(receiver string, amount uint64) (*core.Transaction, error) {
	return core.NewTransaction(w.priv, receiver, amount, core.TxTransfer)
}

// Exchange builds and signs an EXCHANGE (faucet credit) to receiver.
// Only meaningful when this wallet holds the configured faucet key.
func (w *Wallet) Exchange(receiver string, amount uint64) (*core.Transaction, error) {
	return core.NewTransaction(w.priv, receiver, amount, core.TxExchange)
}
