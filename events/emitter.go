// Package events is a small synchronous pub/sub broker for chain lifecycle
// notifications. Subscribe before Emit.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockProduced EventType = "block_produced"
	EventBlockCommit   EventType = "block_commit"
	EventBlockRejected EventType = "block_rejected"
	EventTxExecuted    EventType = "tx_executed"
	EventTxFailed      EventType = "tx_failed"
	EventEpochRotated  EventType = "epoch_rotated"
	EventLeaderSlot    EventType = "leader_slot"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id,omitempty"`
	BlockHash   string         `json:"block_hash,omitempty"`
	BlockHeight uint64         `json:"block_height"`
	Data        map[string]any `json:"data,omitempty"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter dispatches events to subscribers synchronously. A misbehaving
// subscriber cannot crash the node: every handler runs under panic
// recovery.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      *logrus.Entry
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter(log *logrus.Logger) *Emitter {
	return &Emitter{
		handlers: make(map[EventType][]Handler),
		log:      log.WithField("component", "events"),
	}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		e.safeCall(h, ev)
	}
}

func (e *Emitter) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("event", string(ev.Type)).Errorf("event handler panic: %v", r)
		}
	}()
	h(ev)
}
