package turbine

import (
	"sort"
	"sync"
)

// DefaultFanout is the per-node child budget in the propagation tree.
const DefaultFanout = 4

// Tree is the deterministic fanout layout for one epoch: the leader at the
// root, remaining validators placed breadth-first in descending score order
// so high-suitability nodes sit close to the root and relay widest.
type Tree struct {
	layout []string
	pos    map[string]int
	width  int
}

// BuildTree lays out validators under leader. scores may omit entries;
// absent scores rank last. The same inputs always produce the same tree.
func BuildTree(leader string, validators []string, scores map[string]float64, fanout int) *Tree {
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	rest := make([]string, 0, len(validators))
	for _, v := range validators {
		if v != leader {
			rest = append(rest, v)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		si, sj := scores[rest[i]], scores[rest[j]]
		if si != sj {
			return si > sj
		}
		return rest[i] < rest[j]
	})

	layout := append([]string{leader}, rest...)
	pos := make(map[string]int, len(layout))
	for i, v := range layout {
		pos[v] = i
	}
	return &Tree{layout: layout, pos: pos, width: fanout}
}

// Children returns the pubkeys a node must relay shreds to.
func (t *Tree) Children(pubkey string) []string {
	i, ok := t.pos[pubkey]
	if !ok {
		return nil
	}
	lo := i*t.width + 1
	hi := lo + t.width
	if lo >= len(t.layout) {
		return nil
	}
	if hi > len(t.layout) {
		hi = len(t.layout)
	}
	return append([]string(nil), t.layout[lo:hi]...)
}

// Parent returns the node a pubkey receives shreds from ("" for the root).
func (t *Tree) Parent(pubkey string) string {
	i, ok := t.pos[pubkey]
	if !ok || i == 0 {
		return ""
	}
	return t.layout[(i-1)/t.width]
}

// Root returns the tree's leader.
func (t *Tree) Root() string {
	if len(t.layout) == 0 {
		return ""
	}
	return t.layout[0]
}

// Size returns the number of placed validators.
func (t *Tree) Size() int { return len(t.layout) }

// Health tracks per-peer shred delivery so unhealthy relays can be
// deprioritized when the tree is re-formed.
type Health struct {
	mu        sync.Mutex
	delivered map[string]uint64
	dropped   map[string]uint64
}

// NewHealth creates an empty tracker.
func NewHealth() *Health {
	return &Health{delivered: make(map[string]uint64), dropped: make(map[string]uint64)}
}

// RecordDelivery counts a shred received from peer.
func (h *Health) RecordDelivery(peer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delivered[peer]++
}

// RecordDrop counts a failed or malformed delivery from peer.
func (h *Health) RecordDrop(peer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped[peer]++
}

// DeliveryRate returns delivered/(delivered+dropped) for peer, 1 for an
// unseen peer so new contacts are not penalized.
func (h *Health) DeliveryRate(peer string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, x := h.delivered[peer], h.dropped[peer]
	if d+x == 0 {
		return 1
	}
	return float64(d) / float64(d+x)
}
