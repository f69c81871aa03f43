package turbine

import (
	"sync"
	"testing"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/internal/testutil"
	"github.com/annealchain/annealchain/metrics"
	"github.com/annealchain/annealchain/peers"
)

// TestBufferAccumulation: completion triggers exactly once, stragglers are
// dropped.
func TestBufferAccumulation(t *testing.T) {
	s := NewShredder(64)
	block := testBlock(t, 2)
	shreds, err := s.Encode(block)
	if err != nil {
		t.Fatal(err)
	}
	numData := shreds[0].DataShreds

	buf := NewBuffer(4)
	complete := 0
	for _, sh := range shreds {
		if buf.Add(sh) {
			complete++
			got := buf.Take(sh.BlockID)
			if len(got) < numData {
				t.Fatalf("took %d shreds, want >= %d", len(got), numData)
			}
		}
	}
	if complete != 1 {
		t.Fatalf("completion fired %d times, want 1", complete)
	}
	// A straggler for a finished block is ignored.
	if buf.Add(shreds[0]) {
		t.Error("straggler re-completed a finished block")
	}
}

// TestBufferEviction: at capacity the oldest incomplete block is evicted.
func TestBufferEviction(t *testing.T) {
	buf := NewBuffer(2)
	buf.Add(Shred{BlockID: "b1", Index: 0, Total: 4, DataShreds: 3})
	buf.Add(Shred{BlockID: "b2", Index: 0, Total: 4, DataShreds: 3})
	buf.Add(Shred{BlockID: "b3", Index: 0, Total: 4, DataShreds: 3})
	if buf.Pending() != 2 {
		t.Errorf("pending: got %d want 2", buf.Pending())
	}
	if got := buf.Take("b1"); got != nil {
		t.Error("oldest block should have been evicted")
	}
}

// TestTVUIngestReconstructs: feeding shreds through Ingest hands the
// decoded block to the handler once.
func TestTVUIngestReconstructs(t *testing.T) {
	shredder := NewShredder(64)
	block := testBlock(t, 3)
	shreds, err := shredder.Encode(block)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var received []*core.Block
	handler := func(b *core.Block) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, b)
		return nil
	}

	book := peers.NewMemoryBook(0)
	l := NewTVUListener("127.0.0.1", 0, "self", book, shredder, handler, metrics.NewUnregistered(), testutil.NewLogger())
	for _, sh := range shreds {
		l.Ingest(sh)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("handler fired %d times, want 1", len(received))
	}
	if received[0].Hash != block.Hash {
		t.Error("reconstructed block differs")
	}
	if err := received[0].VerifySignature(); err != nil {
		t.Errorf("reconstructed block signature: %v", err)
	}
}
