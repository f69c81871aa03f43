package peers

import (
	"testing"
	"time"
)

// TestUpsertLookup: contacts round-trip and newer wallclocks win.
func TestUpsertLookup(t *testing.T) {
	b := NewMemoryBook(time.Hour)
	b.Upsert(Contact{PublicKey: "p1", IP: "10.0.0.1", TPUPort: 9001, TVUPort: 9002, Wallclock: 100})

	c, ok := b.Lookup("p1")
	if !ok || c.IP != "10.0.0.1" || c.TPUPort != 9001 {
		t.Fatalf("lookup: %+v ok=%v", c, ok)
	}

	// Older update is discarded.
	b.Upsert(Contact{PublicKey: "p1", IP: "10.0.0.9", Wallclock: 50})
	if c, _ = b.Lookup("p1"); c.IP != "10.0.0.1" {
		t.Error("stale gossip rolled the entry back")
	}

	// Newer update wins.
	b.Upsert(Contact{PublicKey: "p1", IP: "10.0.0.2", Wallclock: 200})
	if c, _ = b.Lookup("p1"); c.IP != "10.0.0.2" {
		t.Error("newer update lost")
	}
}

// TestStalenessEviction drops silent contacts after the threshold.
func TestStalenessEviction(t *testing.T) {
	b := NewMemoryBook(time.Hour)
	now := time.Unix(10_000, 0)
	b.SetClock(func() time.Time { return now })

	b.Upsert(Contact{PublicKey: "old"})
	now = now.Add(2 * time.Hour)
	b.Upsert(Contact{PublicKey: "fresh"})

	if got := len(b.ActivePeers()); got != 1 {
		t.Errorf("active peers: got %d want 1", got)
	}
	if removed := b.EvictStale(); removed != 1 {
		t.Errorf("evicted: got %d want 1", removed)
	}
	if _, ok := b.Lookup("old"); ok {
		t.Error("stale contact survived eviction")
	}
	if _, ok := b.Lookup("fresh"); !ok {
		t.Error("fresh contact evicted")
	}
}
