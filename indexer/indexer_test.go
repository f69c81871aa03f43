package indexer

import (
	"testing"

	"github.com/annealchain/annealchain/events"
	"github.com/annealchain/annealchain/internal/testutil"
)

// TestIndexerTracksExecutedTxs: executed txs land in the account and block
// indexes exactly once.
func TestIndexerTracksExecutedTxs(t *testing.T) {
	log := testutil.NewLogger()
	db := testutil.NewMemDB()
	emitter := events.NewEmitter(log)
	idx := New(db, emitter, log)

	ev := events.Event{
		Type:      events.EventTxExecuted,
		TxID:      "tx-1",
		BlockHash: "block-a",
		Data:      map[string]any{"sender": "alice", "receiver": "bob"},
	}
	emitter.Emit(ev)
	emitter.Emit(ev) // duplicate delivery must not duplicate index entries

	for _, account := range []string{"alice", "bob"} {
		ids, err := idx.TxsByAccount(account)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 || ids[0] != "tx-1" {
			t.Errorf("%s index: %v", account, ids)
		}
	}
	blockHash, err := idx.BlockOfTx("tx-1")
	if err != nil || blockHash != "block-a" {
		t.Errorf("block index: got (%s, %v)", blockHash, err)
	}

	// Failed transactions are not indexed.
	emitter.Emit(events.Event{
		Type: events.EventTxFailed, TxID: "tx-2", BlockHash: "block-a",
		Data: map[string]any{"sender": "alice"},
	})
	ids, _ := idx.TxsByAccount("alice")
	if len(ids) != 1 {
		t.Errorf("failed tx was indexed: %v", ids)
	}
}

// TestIndexerUnknownLookups: an unknown account yields an empty list with no
// error; an unknown transaction yields an error.
func TestIndexerUnknownLookups(t *testing.T) {
	log := testutil.NewLogger()
	idx := New(testutil.NewMemDB(), events.NewEmitter(log), log)
	ids, err := idx.TxsByAccount("nobody")
	if err != nil || len(ids) != 0 {
		t.Errorf("unknown account: got (%v, %v)", ids, err)
	}
	if _, err := idx.BlockOfTx("nothing"); err == nil {
		t.Error("unknown tx should return an error")
	}
}
