// Package state holds the account ledger and the conflict-free parallel
// transaction executor.
package state

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
)

// ErrInsufficientFunds is returned when a debit would take a balance
// negative. The failing transaction leaves state unchanged.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrZeroAmount is returned for transfers of zero.
var ErrZeroAmount = errors.New("amount must be positive")

// errUnauthorizedExchange rejects EXCHANGE transactions from any sender
// other than the configured faucet key.
var errUnauthorizedExchange = errors.New("exchange sender is not the faucet")

// Account is one ledger record. LastModified is administrative only and is
// excluded from the state root.
type Account struct {
	PublicKey    string `json:"public_key"`
	Balance      uint64 `json:"balance"`
	Nonce        uint64 `json:"nonce"`
	LastModified int64  `json:"last_modified"`

	mu sync.Mutex
}

// accountRoot is the canonical per-account view the state root hashes.
type accountRoot struct {
	PublicKey string `json:"public_key"`
	Balance   uint64 `json:"balance"`
	Nonce     uint64 `json:"nonce"`
}

// Accounts is the thread-safe account map. Reads may run concurrently;
// writers take the per-account locks of every touched account in pubkey
// order before mutating, which prevents deadlock between concurrent
// transfers.
type Accounts struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewAccounts creates an empty ledger.
func NewAccounts() *Accounts {
	return &Accounts{accounts: make(map[string]*Account)}
}

// getOrCreate returns the record for pubkey, creating a zero-balance one if
// absent.
func (a *Accounts) getOrCreate(pubkey string) *Account {
	a.mu.RLock()
	acc, ok := a.accounts[pubkey]
	a.mu.RUnlock()
	if ok {
		return acc
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if acc, ok = a.accounts[pubkey]; ok {
		return acc
	}
	acc = &Account{PublicKey: pubkey, LastModified: time.Now().UnixNano()}
	a.accounts[pubkey] = acc
	return acc
}

// GetBalance returns the balance for pubkey, creating a zero-balance record
// if absent.
func (a *Accounts) GetBalance(pubkey string) uint64 {
	acc := a.getOrCreate(pubkey)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.Balance
}

// Nonce returns the transaction counter for pubkey.
func (a *Accounts) Nonce(pubkey string) uint64 {
	acc := a.getOrCreate(pubkey)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.Nonce
}

// Credit adds amount to pubkey's balance. Used only for genesis allocation.
func (a *Accounts) Credit(pubkey string, amount uint64) {
	acc := a.getOrCreate(pubkey)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.Balance += amount
	acc.LastModified = time.Now().UnixNano()
}

// Transfer atomically debits from and credits to. It fails without state
// change when amount is zero or the sender balance is insufficient.
// Self-sends are permitted and leave the balance unchanged.
func (a *Accounts) Transfer(from, to string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	src := a.getOrCreate(from)
	if from == to {
		src.mu.Lock()
		defer src.mu.Unlock()
		if src.Balance < amount {
			return ErrInsufficientFunds
		}
		src.Nonce++
		src.LastModified = time.Now().UnixNano()
		return nil
	}
	dst := a.getOrCreate(to)

	// Lock in pubkey order so concurrent transfers cannot deadlock.
	first, second := src, dst
	if from > to {
		first, second = dst, src
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if src.Balance < amount {
		return ErrInsufficientFunds
	}
	now := time.Now().UnixNano()
	src.Balance -= amount
	src.Nonce++
	src.LastModified = now
	dst.Balance += amount
	dst.LastModified = now
	return nil
}

// TotalSupply sums every balance. Conserved by Transfer.
func (a *Accounts) TotalSupply() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var total uint64
	for _, acc := range a.accounts {
		acc.mu.Lock()
		total += acc.Balance
		acc.mu.Unlock()
	}
	return total
}

// StateRoot returns a deterministic hash over all accounts sorted by
// pubkey. LastModified never enters the root.
func (a *Accounts) StateRoot() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.accounts))
	for k := range a.accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	view := make([]accountRoot, 0, len(keys))
	for _, k := range keys {
		acc := a.accounts[k]
		acc.mu.Lock()
		view = append(view, accountRoot{PublicKey: acc.PublicKey, Balance: acc.Balance, Nonce: acc.Nonce})
		acc.mu.Unlock()
	}
	data, err := core.Encode(view)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// SnapshotAccount is one frozen ledger record inside a Snapshot.
type SnapshotAccount struct {
	PublicKey    string `json:"public_key"`
	Balance      uint64 `json:"balance"`
	Nonce        uint64 `json:"nonce"`
	LastModified int64  `json:"last_modified"`
}

// Snapshot captures a deep copy of the ledger for block replay.
type Snapshot struct {
	Accounts []SnapshotAccount `json:"accounts"`
}

// Snapshot returns a point-in-time copy of every account, sorted by pubkey.
func (a *Accounts) Snapshot() *Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := &Snapshot{Accounts: make([]SnapshotAccount, 0, len(a.accounts))}
	for _, acc := range a.accounts {
		acc.mu.Lock()
		snap.Accounts = append(snap.Accounts, SnapshotAccount{
			PublicKey:    acc.PublicKey,
			Balance:      acc.Balance,
			Nonce:        acc.Nonce,
			LastModified: acc.LastModified,
		})
		acc.mu.Unlock()
	}
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return snap.Accounts[i].PublicKey < snap.Accounts[j].PublicKey
	})
	return snap
}

// Restore replaces the ledger contents with the snapshot.
func (a *Accounts) Restore(snap *Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts = make(map[string]*Account, len(snap.Accounts))
	for _, acc := range snap.Accounts {
		a.accounts[acc.PublicKey] = &Account{
			PublicKey:    acc.PublicKey,
			Balance:      acc.Balance,
			Nonce:        acc.Nonce,
			LastModified: acc.LastModified,
		}
	}
}

// Len returns the number of known accounts.
func (a *Accounts) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.accounts)
}
