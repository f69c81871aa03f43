package core

import (
	"errors"
	"testing"
)

func pooledTx(t *testing.T) *Transaction {
	t.Helper()
	alice := newKey(t)
	bob := newKey(t)
	tx, err := NewTransaction(alice, bob.Public().Hex(), 1, TxTransfer)
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

// TestMempoolAddAndDedup: the second submission of the same id is a no-op.
func TestMempoolAddAndDedup(t *testing.T) {
	m := NewMempool()
	tx := pooledTx(t)
	if err := m.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Add(tx); !errors.Is(err, ErrDuplicateTx) {
		t.Errorf("duplicate add: got %v want ErrDuplicateTx", err)
	}
	if m.Size() != 1 {
		t.Errorf("size: got %d want 1", m.Size())
	}
}

// TestMempoolRejectsInvalidSignature: tampered txs never enter the pool.
func TestMempoolRejectsInvalidSignature(t *testing.T) {
	m := NewMempool()
	tx := pooledTx(t)
	tx.Amount++
	if err := m.Add(tx); err == nil {
		t.Error("tampered tx accepted")
	}
}

// TestMempoolDrainOrder: Drain returns everything in insertion order and
// empties the pool.
func TestMempoolDrainOrder(t *testing.T) {
	m := NewMempool()
	var want []string
	for i := 0; i < 5; i++ {
		tx := pooledTx(t)
		if err := m.Add(tx); err != nil {
			t.Fatal(err)
		}
		want = append(want, tx.ID)
	}
	drained := m.Drain()
	if len(drained) != len(want) {
		t.Fatalf("drained %d txs, want %d", len(drained), len(want))
	}
	for i, tx := range drained {
		if tx.ID != want[i] {
			t.Errorf("position %d: got %s want %s", i, tx.ID, want[i])
		}
	}
	if m.Size() != 0 {
		t.Error("pool should be empty after Drain")
	}
}

// TestMempoolRemove deletes committed ids and keeps the rest ordered.
func TestMempoolRemove(t *testing.T) {
	m := NewMempool()
	a, b, c := pooledTx(t), pooledTx(t), pooledTx(t)
	for _, tx := range []*Transaction{a, b, c} {
		if err := m.Add(tx); err != nil {
			t.Fatal(err)
		}
	}
	m.Remove([]string{a.ID, c.ID})
	pending := m.Pending(10)
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Errorf("remove left wrong contents: %v", pending)
	}
}
