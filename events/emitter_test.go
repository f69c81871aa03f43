package events

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// TestEmitDispatchesByType: only matching subscribers fire, in order.
func TestEmitDispatchesByType(t *testing.T) {
	e := NewEmitter(quietLogger())
	var got []string
	e.Subscribe(EventBlockCommit, func(ev Event) { got = append(got, "commit:"+ev.BlockHash) })
	e.Subscribe(EventTxExecuted, func(ev Event) { got = append(got, "tx") })

	e.Emit(Event{Type: EventBlockCommit, BlockHash: "abc"})
	if len(got) != 1 || got[0] != "commit:abc" {
		t.Errorf("dispatch wrong: %v", got)
	}
}

// TestEmitSurvivesPanickingHandler: one bad subscriber cannot take down
// the emitter or later handlers.
func TestEmitSurvivesPanickingHandler(t *testing.T) {
	e := NewEmitter(quietLogger())
	fired := false
	e.Subscribe(EventBlockCommit, func(Event) { panic("bad handler") })
	e.Subscribe(EventBlockCommit, func(Event) { fired = true })

	e.Emit(Event{Type: EventBlockCommit})
	if !fired {
		t.Error("later handler skipped after panic")
	}
}
