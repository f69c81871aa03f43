package storage

import (
	"errors"
	"testing"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
	"github.com/annealchain/annealchain/state"
)

func signedBlock(t *testing.T, height uint64, prev string) *core.Block {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	block := &core.Block{Height: height, PrevHash: prev, Proposer: priv.Public().Hex(), Timestamp: 1, StateRoot: "root"}
	if err := block.Sign(priv); err != nil {
		t.Fatal(err)
	}
	return block
}

// TestLevelBlockStoreRoundTrip persists and reloads blocks, heights, tip.
func TestLevelBlockStoreRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir() + "/chain")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewLevelBlockStore(db)

	genesis := signedBlock(t, 0, "00")
	child := signedBlock(t, 1, genesis.Hash)
	if err := store.CommitBlock(genesis); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitBlock(child); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetBlock(child.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != child.Hash || got.Height != 1 {
		t.Error("block round-trip lost fields")
	}
	if err := got.VerifySignature(); err != nil {
		t.Errorf("persisted block signature: %v", err)
	}

	byHeight, err := store.GetBlockByHeight(0)
	if err != nil || byHeight.Hash != genesis.Hash {
		t.Errorf("height index: %v", err)
	}
	tip, err := store.GetTip()
	if err != nil || tip != child.Hash {
		t.Errorf("tip: got %s", tip)
	}

	if _, err := store.GetBlock("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing block: got %v want ErrNotFound", err)
	}
}

// TestChainReloadsFromDisk: a second Blockchain over the same DB sees the
// committed tip.
func TestChainReloadsFromDisk(t *testing.T) {
	dir := t.TempDir() + "/chain"
	db, err := NewLevelDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	store := NewLevelBlockStore(db)
	bc := core.NewBlockchain(store)
	if err := bc.Init(); err != nil {
		t.Fatal(err)
	}
	genesis := signedBlock(t, 0, "00")
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2, err := NewLevelDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	bc2 := core.NewBlockchain(NewLevelBlockStore(db2))
	if err := bc2.Init(); err != nil {
		t.Fatal(err)
	}
	if bc2.Tip() == nil || bc2.Tip().Hash != genesis.Hash {
		t.Error("tip not reloaded from disk")
	}
}

// TestSnapshotStore saves, loads and prunes ledger snapshots.
func TestSnapshotStore(t *testing.T) {
	db, err := NewLevelDB(t.TempDir() + "/snaps")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	snaps := NewSnapshotStore(db)

	accounts := state.NewAccounts()
	accounts.Credit("alice", 700)
	root := accounts.StateRoot()

	if err := snaps.Save(5, accounts.Snapshot()); err != nil {
		t.Fatal(err)
	}
	loaded, err := snaps.Load(5)
	if err != nil {
		t.Fatal(err)
	}
	restored := state.NewAccounts()
	restored.Restore(loaded)
	if restored.StateRoot() != root {
		t.Error("snapshot round-trip changed the root")
	}

	latest, height, err := snaps.Latest(7)
	if err != nil || height != 5 {
		t.Errorf("latest: got (%d, %v) want height 5", height, err)
	}
	if latest == nil || len(latest.Accounts) != 1 {
		t.Error("latest snapshot contents wrong")
	}

	// Saving far ahead prunes the old entry.
	accounts.Credit("bob", 1)
	if err := snaps.Save(5+keepSnapshots, accounts.Snapshot()); err != nil {
		t.Fatal(err)
	}
	if _, err := snaps.Load(5); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("pruned snapshot still loadable: %v", err)
	}
}
