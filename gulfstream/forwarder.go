// Package gulfstream moves transactions to upcoming leaders ahead of their
// slots: the forwarder bundles submissions into UDP datagrams for the
// current leader plus the next few, and the TPU listener ingests bundles on
// every node so a leader-elect's pool is already populated when its slot
// begins.
package gulfstream

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/metrics"
	"github.com/annealchain/annealchain/peers"
	"github.com/annealchain/annealchain/schedule"
)

// Bundle is the TPU datagram payload: several transactions for one target
// in a single packet.
type Bundle struct {
	BundleID     string              `json:"bundle_id"`
	SenderPubKey string              `json:"sender_pubkey"`
	Timestamp    int64               `json:"bundle_timestamp"`
	Transactions []*core.Transaction `json:"txs"`
}

// ForwarderConfig tunes bundling.
type ForwarderConfig struct {
	BundleTimeout  time.Duration // flush pending bundles after this long
	MaxBundleBytes int           // flush when encoded payload reaches this
}

// DefaultForwarderConfig returns the documented defaults.
func DefaultForwarderConfig() ForwarderConfig {
	return ForwarderConfig{BundleTimeout: 10 * time.Millisecond, MaxBundleBytes: 1200}
}

// ForwarderStats snapshots forwarding behaviour.
type ForwarderStats struct {
	TotalSubmitted  uint64
	BundlesSent     uint64
	TxSent          uint64
	SendErrors      uint64
	ToCurrentLeader uint64
	ToNextLeaders   uint64
	LastForwardTime time.Time
	TxPerPacket     float64
}

type targetQueue struct {
	txs   []*core.Transaction
	bytes int
	since time.Time
}

// Forwarder is the Gulf Stream sender. Forwarding is best-effort: a lost
// datagram is tolerated because every transaction also goes to the next
// three leaders.
type Forwarder struct {
	mu     sync.Mutex
	cfg    ForwarderConfig
	self   string
	book   peers.Book
	sched  *schedule.Manager
	conn   *net.UDPConn
	queues map[string]*targetQueue
	stats  ForwarderStats

	met    *metrics.Metrics
	log    *logrus.Entry
	stopCh chan struct{}
	done   chan struct{}
}

// NewForwarder opens an unconnected UDP socket for sends.
func NewForwarder(cfg ForwarderConfig, selfPubKey string, book peers.Book, sched *schedule.Manager, met *metrics.Metrics, log *logrus.Logger) (*Forwarder, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("open forwarder socket: %w", err)
	}
	return &Forwarder{
		cfg:    cfg,
		self:   selfPubKey,
		book:   book,
		sched:  sched,
		conn:   conn,
		queues: make(map[string]*targetQueue),
		met:    met,
		log:    log.WithField("component", "gulfstream"),
	}, nil
}

// Start launches the background flusher that enforces the bundle timeout
// and periodically evicts queues for leaders whose slots have passed.
func (f *Forwarder) Start() {
	f.mu.Lock()
	if f.stopCh != nil {
		f.mu.Unlock()
		return
	}
	f.stopCh = make(chan struct{})
	f.done = make(chan struct{})
	stop := f.stopCh
	f.mu.Unlock()

	go func() {
		defer close(f.done)
		flush := time.NewTicker(f.cfg.BundleTimeout)
		cleanup := time.NewTicker(time.Second)
		defer flush.Stop()
		defer cleanup.Stop()
		for {
			select {
			case <-stop:
				f.FlushAll()
				return
			case <-flush.C:
				f.flushExpired()
			case <-cleanup.C:
				f.CleanupExpired()
			}
		}
	}()
}

// Stop flushes outstanding bundles and closes the socket.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	if f.stopCh != nil {
		close(f.stopCh)
		done := f.done
		f.stopCh = nil
		f.mu.Unlock()
		<-done
	} else {
		f.mu.Unlock()
	}
	f.conn.Close()
}

// Submit queues tx for the current leader and the next three distinct
// leaders. A full bundle is sent immediately; otherwise the flusher sends
// it when the bundle timeout lapses.
func (f *Forwarder) Submit(tx *core.Transaction) error {
	targets, err := f.sched.GulfStreamTargets()
	if err != nil {
		return fmt.Errorf("resolve forwarding targets: %w", err)
	}
	encoded, err := core.Encode(tx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.stats.TotalSubmitted++
	var full []outgoing
	for i, leader := range targets {
		q, ok := f.queues[leader]
		if !ok {
			q = &targetQueue{since: time.Now()}
			f.queues[leader] = q
		}
		q.txs = append(q.txs, tx)
		q.bytes += len(encoded)
		if i == 0 {
			f.stats.ToCurrentLeader++
		} else {
			f.stats.ToNextLeaders++
		}
		if q.bytes >= f.cfg.MaxBundleBytes {
			full = append(full, outgoing{leader: leader, txs: q.txs})
			delete(f.queues, leader)
		}
	}
	f.mu.Unlock()

	f.met.TxForwarded.Inc()
	f.transmit(full)
	return nil
}

// outgoing is a detached bundle ready for transmission outside the lock.
type outgoing struct {
	leader string
	txs    []*core.Transaction
}

// flushExpired detaches every queue older than the bundle timeout and
// sends them.
func (f *Forwarder) flushExpired() {
	now := time.Now()
	f.mu.Lock()
	var due []outgoing
	for leader, q := range f.queues {
		if now.Sub(q.since) >= f.cfg.BundleTimeout {
			due = append(due, outgoing{leader: leader, txs: q.txs})
			delete(f.queues, leader)
		}
	}
	f.mu.Unlock()
	f.transmit(due)
}

// FlushAll sends every pending bundle immediately.
func (f *Forwarder) FlushAll() {
	f.mu.Lock()
	var all []outgoing
	for leader, q := range f.queues {
		all = append(all, outgoing{leader: leader, txs: q.txs})
		delete(f.queues, leader)
	}
	f.mu.Unlock()
	f.transmit(all)
}

// transmit encodes and sends detached bundles. No lock is held across the
// datagram sends; stats are updated under a short re-acquire afterwards.
func (f *Forwarder) transmit(bundles []outgoing) {
	for _, out := range bundles {
		contact, ok := f.book.Lookup(out.leader)
		if !ok || contact.TPUPort == 0 {
			f.countError()
			f.log.WithField("leader", short(out.leader)).Debug("no contact for leader, bundle dropped")
			continue
		}
		bundle := Bundle{
			BundleID:     uuid.NewString(),
			SenderPubKey: f.self,
			Timestamp:    time.Now().UnixNano(),
			Transactions: out.txs,
		}
		data, err := core.Encode(bundle)
		if err != nil {
			f.countError()
			continue
		}
		addr := &net.UDPAddr{IP: net.ParseIP(contact.IP), Port: contact.TPUPort}
		if _, err := f.conn.WriteToUDP(data, addr); err != nil {
			f.countError()
			f.log.WithField("leader", short(out.leader)).Debugf("bundle send failed: %v", err)
			continue
		}
		f.mu.Lock()
		f.stats.BundlesSent++
		f.stats.TxSent += uint64(len(out.txs))
		f.stats.LastForwardTime = time.Now()
		f.stats.TxPerPacket = float64(f.stats.TxSent) / float64(f.stats.BundlesSent)
		f.mu.Unlock()
		f.met.BundlesSent.Inc()
	}
}

func (f *Forwarder) countError() {
	f.mu.Lock()
	f.stats.SendErrors++
	f.mu.Unlock()
	f.met.ForwardErrors.Inc()
}

// CleanupExpired evicts queues for leaders that are no longer forwarding
// targets (their slots have passed).
func (f *Forwarder) CleanupExpired() {
	targets, err := f.sched.GulfStreamTargets()
	if err != nil {
		return
	}
	active := make(map[string]bool, len(targets))
	for _, t := range targets {
		active[t] = true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for leader := range f.queues {
		if !active[leader] {
			delete(f.queues, leader)
		}
	}
}

// Stats returns a copy of the forwarding counters.
func (f *Forwarder) Stats() ForwarderStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func short(pubkey string) string {
	if len(pubkey) > 16 {
		return pubkey[:16]
	}
	return pubkey
}
