package turbine

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/metrics"
	"github.com/annealchain/annealchain/peers"
)

// BlockHandler receives each fully reconstructed block.
type BlockHandler func(*core.Block) error

// TVUListener binds the shred ingress port. Each received shred is relayed
// to this node's children in the fanout tree and accumulated until the
// block reconstructs, at which point the block is handed to the reception
// pipeline.
type TVUListener struct {
	ip      string
	port    int
	self    string
	book    peers.Book
	handler BlockHandler

	shredder *Shredder
	buffer   *Buffer
	health   *Health

	mu   sync.RWMutex
	tree *Tree

	conn   *net.UDPConn
	stopCh chan struct{}
	wg     sync.WaitGroup

	met *metrics.Metrics
	log *logrus.Entry
}

// NewTVUListener creates a listener for ip:port. The tree starts empty;
// call SetTree once the first schedule exists and again on re-forms.
func NewTVUListener(ip string, port int, selfPubKey string, book peers.Book, shredder *Shredder, handler BlockHandler, met *metrics.Metrics, log *logrus.Logger) *TVUListener {
	return &TVUListener{
		ip:       ip,
		port:     port,
		self:     selfPubKey,
		book:     book,
		handler:  handler,
		shredder: shredder,
		buffer:   NewBuffer(0),
		health:   NewHealth(),
		met:      met,
		log:      log.WithField("component", "tvu"),
	}
}

// SetTree swaps in a freshly formed fanout tree. Re-form at least once per
// epoch with updated scores.
func (l *TVUListener) SetTree(t *Tree) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tree = t
}

// Health exposes the per-peer delivery tracker.
func (l *TVUListener) Health() *Health { return l.health }

// Start binds the socket and launches the receive loop.
func (l *TVUListener) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(l.ip), Port: l.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind tvu %s:%d: %w", l.ip, l.port, err)
	}
	l.conn = conn
	l.stopCh = make(chan struct{})
	l.wg.Add(1)
	go l.receiveLoop()
	l.log.WithFields(logrus.Fields{"ip": l.ip, "port": l.port}).Info("tvu listener started")
	return nil
}

// Stop closes the socket and waits for the loop.
func (l *TVUListener) Stop() {
	if l.conn == nil {
		return
	}
	close(l.stopCh)
	l.conn.Close()
	l.wg.Wait()
	l.log.Info("tvu listener stopped")
}

// Port returns the bound port (useful when started on port 0).
func (l *TVUListener) Port() int {
	if l.conn == nil {
		return l.port
	}
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

func (l *TVUListener) receiveLoop() {
	defer l.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, src, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
				continue
			}
		}
		var shred Shred
		if err := core.Decode(buf[:n], &shred); err != nil {
			if src != nil {
				l.health.RecordDrop(src.IP.String())
			}
			continue
		}
		if src != nil {
			l.health.RecordDelivery(src.IP.String())
		}
		l.met.ShredsReceived.Inc()
		l.ingest(shred)
	}
}

// Ingest processes one shred as if received from the network: relays it
// down the tree and attempts reconstruction.
func (l *TVUListener) Ingest(s Shred) { l.ingest(s) }

func (l *TVUListener) ingest(s Shred) {
	l.relay(s)
	if !l.buffer.Add(s) {
		return
	}
	shreds := l.buffer.Take(s.BlockID)
	if shreds == nil {
		return
	}
	data, err := l.shredder.Reconstruct(shreds)
	if err != nil {
		l.log.WithField("block", short(s.BlockID)).Warnf("reconstruction failed: %v", err)
		return
	}
	var block core.Block
	if err := core.Decode(data, &block); err != nil {
		l.log.WithField("block", short(s.BlockID)).Warnf("block decode failed: %v", err)
		return
	}
	if l.handler == nil {
		return
	}
	if err := l.handler(&block); err != nil {
		l.log.WithField("block", short(block.Hash)).Warnf("block rejected: %v", err)
	}
}

// relay forwards a shred to this node's children in the tree.
func (l *TVUListener) relay(s Shred) {
	l.mu.RLock()
	tree := l.tree
	l.mu.RUnlock()
	if tree == nil || l.conn == nil {
		return
	}
	for _, child := range tree.Children(l.self) {
		l.sendTo(child, s)
	}
}

// Broadcast shreds a block and, as the tree root, transmits every shred to
// this node's children. Leaders call this after signing.
func (l *TVUListener) Broadcast(block *core.Block) error {
	shreds, err := l.shredder.Encode(block)
	if err != nil {
		return fmt.Errorf("shred block: %w", err)
	}
	l.mu.RLock()
	tree := l.tree
	l.mu.RUnlock()
	if tree == nil {
		return fmt.Errorf("no fanout tree formed")
	}
	children := tree.Children(l.self)
	for _, s := range shreds {
		for _, child := range children {
			l.sendTo(child, s)
		}
	}
	l.log.WithFields(logrus.Fields{
		"block":    short(block.Hash),
		"shreds":   len(shreds),
		"children": len(children),
	}).Debug("block broadcast")
	return nil
}

func (l *TVUListener) sendTo(pubkey string, s Shred) {
	if l.conn == nil {
		return
	}
	contact, ok := l.book.Lookup(pubkey)
	if !ok || contact.TVUPort == 0 {
		return
	}
	data, err := core.Encode(s)
	if err != nil {
		return
	}
	addr := &net.UDPAddr{IP: net.ParseIP(contact.IP), Port: contact.TVUPort}
	if _, err := l.conn.WriteToUDP(data, addr); err != nil {
		l.health.RecordDrop(contact.IP)
		return
	}
	l.met.ShredsSent.Inc()
}

func short(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
