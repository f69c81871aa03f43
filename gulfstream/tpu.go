package gulfstream

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annealchain/annealchain/core"
	"github.com/annealchain/annealchain/metrics"
)

const (
	// tpuBufferSize is the receive buffer for one datagram.
	tpuBufferSize = 65536
	// tpuWorkers decode and validate packets off the receive loop.
	tpuWorkers = 4
	// tpuJobQueue bounds in-flight packets before backpressure drops.
	tpuJobQueue = 1024
	// dedupCapacity bounds the ingress fingerprint set.
	dedupCapacity = 100_000
)

// TPUStats snapshots listener behaviour.
type TPUStats struct {
	TransactionsReceived uint64
	DuplicatesDropped    uint64
	InvalidPackets       uint64
	BytesReceived        uint64
	UptimeStart          time.Time
}

// TPUListener binds the node's TPU port and feeds decoded, signature-valid
// transactions into the mempool. It runs on every node, not only leaders,
// so the leader-elect's pool is warm when its slot arrives.
type TPUListener struct {
	ip      string
	port    int
	mempool *core.Mempool

	conn    *net.UDPConn
	jobs    chan []byte
	stopCh  chan struct{}
	recvWG  sync.WaitGroup
	workWG  sync.WaitGroup

	mu    sync.Mutex
	seen  map[string]bool // ingress dedup fingerprints by tx id
	order []string
	stats TPUStats

	met *metrics.Metrics
	log *logrus.Entry
}

// NewTPUListener creates a listener for ip:port feeding mempool.
func NewTPUListener(ip string, port int, mempool *core.Mempool, met *metrics.Metrics, log *logrus.Logger) *TPUListener {
	return &TPUListener{
		ip:      ip,
		port:    port,
		mempool: mempool,
		seen:    make(map[string]bool),
		met:     met,
		log:     log.WithField("component", "tpu"),
	}
}

// Start binds the socket and launches the receive loop plus workers.
func (l *TPUListener) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(l.ip), Port: l.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind tpu %s:%d: %w", l.ip, l.port, err)
	}
	l.conn = conn
	l.jobs = make(chan []byte, tpuJobQueue)
	l.stopCh = make(chan struct{})
	l.stats.UptimeStart = time.Now()

	for i := 0; i < tpuWorkers; i++ {
		l.workWG.Add(1)
		go l.worker()
	}
	l.recvWG.Add(1)
	go l.receiveLoop()

	l.log.WithFields(logrus.Fields{"ip": l.ip, "port": l.port}).Info("tpu listener started")
	return nil
}

// Stop closes the socket, waits for the receive loop, then drains the
// workers. The job channel closes only after the receive loop has exited so
// no packet is ever sent on a closed channel.
func (l *TPUListener) Stop() {
	if l.conn == nil {
		return
	}
	close(l.stopCh)
	l.conn.Close()
	l.recvWG.Wait()
	close(l.jobs)
	l.workWG.Wait()
	l.log.Info("tpu listener stopped")
}

// Port returns the bound port (useful when started on port 0).
func (l *TPUListener) Port() int {
	if l.conn == nil {
		return l.port
	}
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

func (l *TPUListener) receiveLoop() {
	defer l.recvWG.Done()
	buf := make([]byte, tpuBufferSize)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.stopCh:
				return
			default:
				l.log.Debugf("tpu read error: %v", err)
				continue
			}
		}
		l.mu.Lock()
		l.stats.BytesReceived += uint64(n)
		l.mu.Unlock()
		l.met.TPUBytes.Add(float64(n))

		packet := make([]byte, n)
		copy(packet, buf[:n])
		select {
		case l.jobs <- packet:
		default:
			// Queue full: drop; forwarding is best-effort and the
			// forwarder also sent the bundle to the next leaders.
		}
	}
}

func (l *TPUListener) worker() {
	defer l.workWG.Done()
	for packet := range l.jobs {
		l.handlePacket(packet)
	}
}

func (l *TPUListener) handlePacket(packet []byte) {
	var bundle Bundle
	if err := core.Decode(packet, &bundle); err != nil || len(bundle.Transactions) == 0 {
		l.markInvalid()
		return
	}
	for _, tx := range bundle.Transactions {
		if tx == nil || tx.ID == "" {
			l.markInvalid()
			continue
		}
		if l.isDuplicate(tx.ID) {
			continue
		}
		if err := l.mempool.Add(tx); err != nil {
			if errors.Is(err, core.ErrDuplicateTx) {
				continue
			}
			l.markInvalid()
			continue
		}
		l.mu.Lock()
		l.stats.TransactionsReceived++
		l.mu.Unlock()
		l.met.TPUReceived.Inc()
	}
	l.met.MempoolSize.Set(float64(l.mempool.Size()))
}

// isDuplicate records the fingerprint and reports whether it was already
// present. The set is bounded; oldest fingerprints fall off first.
func (l *TPUListener) isDuplicate(txID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[txID] {
		l.stats.DuplicatesDropped++
		return true
	}
	l.seen[txID] = true
	l.order = append(l.order, txID)
	if len(l.order) > dedupCapacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.seen, oldest)
	}
	return false
}

func (l *TPUListener) markInvalid() {
	l.mu.Lock()
	l.stats.InvalidPackets++
	l.mu.Unlock()
	l.met.TPUInvalid.Inc()
}

// Stats returns a copy of the listener counters.
func (l *TPUListener) Stats() TPUStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
