package gulfstream

import (
	"testing"
	"time"

	"github.com/annealchain/annealchain/consensus"
	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
	"github.com/annealchain/annealchain/internal/testutil"
	"github.com/annealchain/annealchain/metrics"
	"github.com/annealchain/annealchain/peers"
	"github.com/annealchain/annealchain/schedule"
)

// singleLeader is a ScoreSource with one node, so every slot elects it.
type singleLeader string

func (s singleLeader) EffectiveScores(seed string) map[string]float64 {
	return map[string]float64{string(s): 1.0}
}

func signedTx(t *testing.T) *core.Transaction {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	recv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := core.NewTransaction(priv, recv.Public().Hex(), 10, core.TxTransfer)
	if err != nil {
		t.Fatal(err)
	}
	return tx
}

func leaderSchedule(t *testing.T, leader string) *schedule.Manager {
	t.Helper()
	params := schedule.Params{SlotDuration: time.Second, SlotsPerEpoch: 8}
	m := schedule.NewManager(params, singleLeader(leader), consensus.DefaultAnnealer(), testutil.NewLogger())
	if err := m.Sync("vrf"); err != nil {
		t.Fatal(err)
	}
	return m
}

// TestBundleCodecRoundTrip: TPU datagrams decode back intact.
func TestBundleCodecRoundTrip(t *testing.T) {
	tx := signedTx(t)
	bundle := Bundle{
		BundleID:     "b-1",
		SenderPubKey: "sender",
		Timestamp:    42,
		Transactions: []*core.Transaction{tx},
	}
	data, err := core.Encode(bundle)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Bundle
	if err := core.Decode(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.BundleID != "b-1" || len(decoded.Transactions) != 1 {
		t.Fatal("bundle round-trip lost fields")
	}
	if err := decoded.Transactions[0].Verify(); err != nil {
		t.Errorf("tx signature lost in transit: %v", err)
	}
}

// TestForwardToTPUListener pushes a transaction through a real UDP socket
// into the target's mempool.
func TestForwardToTPUListener(t *testing.T) {
	log := testutil.NewLogger()
	met := metrics.NewUnregistered()

	leaderPool := core.NewMempool()
	listener := NewTPUListener("127.0.0.1", 0, leaderPool, met, log)
	if err := listener.Start(); err != nil {
		t.Fatal(err)
	}
	defer listener.Stop()

	leader := "leader-pubkey"
	book := peers.NewMemoryBook(0)
	book.Upsert(peers.Contact{PublicKey: leader, IP: "127.0.0.1", TPUPort: listener.Port()})

	fwd, err := NewForwarder(DefaultForwarderConfig(), "self", book, leaderSchedule(t, leader), met, log)
	if err != nil {
		t.Fatal(err)
	}
	defer fwd.Stop()

	tx := signedTx(t)
	if err := fwd.Submit(tx); err != nil {
		t.Fatal(err)
	}
	fwd.FlushAll()

	deadline := time.Now().Add(2 * time.Second)
	for leaderPool.Size() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := leaderPool.Get(tx.ID); !ok {
		t.Fatal("forwarded transaction never reached the leader's pool")
	}

	stats := fwd.Stats()
	if stats.BundlesSent == 0 || stats.TxSent == 0 {
		t.Errorf("forwarder stats not updated: %+v", stats)
	}
	if stats.ToCurrentLeader == 0 {
		t.Error("current-leader counter not updated")
	}
}

// TestTPUListenerDedup: the same transaction id is ingested once.
func TestTPUListenerDedup(t *testing.T) {
	log := testutil.NewLogger()
	pool := core.NewMempool()
	l := NewTPUListener("127.0.0.1", 0, pool, metrics.NewUnregistered(), log)

	tx := signedTx(t)
	packet, err := core.Encode(Bundle{BundleID: "b", SenderPubKey: "s", Timestamp: 1, Transactions: []*core.Transaction{tx}})
	if err != nil {
		t.Fatal(err)
	}
	l.handlePacket(packet)
	l.handlePacket(packet)

	if pool.Size() != 1 {
		t.Errorf("pool size: got %d want 1", pool.Size())
	}
	stats := l.Stats()
	if stats.TransactionsReceived != 1 {
		t.Errorf("received: got %d want 1", stats.TransactionsReceived)
	}
	if stats.DuplicatesDropped != 1 {
		t.Errorf("duplicates: got %d want 1", stats.DuplicatesDropped)
	}
}

// TestTPUListenerRejectsGarbage counts invalid packets without crashing.
func TestTPUListenerRejectsGarbage(t *testing.T) {
	pool := core.NewMempool()
	l := NewTPUListener("127.0.0.1", 0, pool, metrics.NewUnregistered(), testutil.NewLogger())
	l.handlePacket([]byte("not json"))

	tampered := signedTx(t)
	tampered.Amount++
	packet, err := core.Encode(Bundle{BundleID: "b", SenderPubKey: "s", Timestamp: 1, Transactions: []*core.Transaction{tampered}})
	if err != nil {
		t.Fatal(err)
	}
	l.handlePacket(packet)

	if pool.Size() != 0 {
		t.Error("garbage reached the pool")
	}
	if l.Stats().InvalidPackets != 2 {
		t.Errorf("invalid packets: got %d want 2", l.Stats().InvalidPackets)
	}
}

// TestForwarderBundlesBySize: hitting the byte budget flushes immediately.
func TestForwarderBundlesBySize(t *testing.T) {
	log := testutil.NewLogger()
	met := metrics.NewUnregistered()
	pool := core.NewMempool()
	listener := NewTPUListener("127.0.0.1", 0, pool, met, log)
	if err := listener.Start(); err != nil {
		t.Fatal(err)
	}
	defer listener.Stop()

	leader := "leader"
	book := peers.NewMemoryBook(0)
	book.Upsert(peers.Contact{PublicKey: leader, IP: "127.0.0.1", TPUPort: listener.Port()})

	cfg := ForwarderConfig{BundleTimeout: time.Hour, MaxBundleBytes: 1} // every tx flushes
	fwd, err := NewForwarder(cfg, "self", book, leaderSchedule(t, leader), met, log)
	if err != nil {
		t.Fatal(err)
	}
	defer fwd.Stop()

	for i := 0; i < 3; i++ {
		if err := fwd.Submit(signedTx(t)); err != nil {
			t.Fatal(err)
		}
	}
	if got := fwd.Stats().BundlesSent; got != 3 {
		t.Errorf("bundles sent: got %d want 3 (size-triggered)", got)
	}
}
