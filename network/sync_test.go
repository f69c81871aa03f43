package network

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/crypto"
	"github.com/annealchain/annealchain/internal/testutil"
)

// collectReceiver records blocks handed to the reception pipeline.
type collectReceiver struct {
	mu     sync.Mutex
	blocks []*core.Block
}

func (r *collectReceiver) Receive(b *core.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, b)
	return nil
}

func (r *collectReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func buildChain(t *testing.T, blocks int) *core.Blockchain {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	bc := testutil.NewChain()
	var parent *core.Block
	for i := 0; i <= blocks; i++ {
		b := core.NewBlock(parent, priv.Public().Hex(), nil)
		if parent == nil {
			b.PrevHash = "00"
		}
		b.StateRoot = "root"
		if err := b.Sign(priv); err != nil {
			t.Fatal(err)
		}
		if err := bc.AddBlock(b); err != nil {
			t.Fatal(err)
		}
		parent = b
	}
	return bc
}

// TestSyncerTransfersBlocks: a fresh node pulls the serving node's chain
// over TCP and feeds it to the receiver.
func TestSyncerTransfersBlocks(t *testing.T) {
	log := testutil.NewLogger()

	// Serving node with a 4-block chain (heights 0..3).
	serverChain := buildChain(t, 3)
	serverPort := freePort(t)
	server := NewNode("server", fmt.Sprintf("127.0.0.1:%d", serverPort), log)
	NewSyncer(server, serverChain, &collectReceiver{}, log)
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	defer server.Stop()

	// Fresh node requests from height 1.
	clientChain := testutil.NewChain()
	clientPort := freePort(t)
	client := NewNode("client", fmt.Sprintf("127.0.0.1:%d", clientPort), log)
	receiver := &collectReceiver{}
	syncer := NewSyncer(client, clientChain, receiver, log)
	if err := client.Start(); err != nil {
		t.Fatal(err)
	}
	defer client.Stop()

	if err := client.AddPeer("server", fmt.Sprintf("127.0.0.1:%d", serverPort)); err != nil {
		t.Fatal(err)
	}
	if err := syncer.RequestBlocks(client.Peer("server"), 1); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for receiver.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if receiver.count() != 3 {
		t.Fatalf("received %d blocks, want 3", receiver.count())
	}
	receiver.mu.Lock()
	defer receiver.mu.Unlock()
	for i, b := range receiver.blocks {
		if b.Height != uint64(i+1) {
			t.Errorf("block %d height %d, want %d", i, b.Height, i+1)
		}
		if err := b.VerifySignature(); err != nil {
			t.Errorf("synced block %d signature: %v", i, err)
		}
	}
}
