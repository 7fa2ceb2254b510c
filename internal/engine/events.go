package engine

import (
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// EventKind classifies engine notifications.
type EventKind int

const (
	// EventMessage carries debug text printed by the target.
	EventMessage EventKind = iota
	// EventProgramExit means the managed application on the target ended. It is
	// also sent, ahead of EventDisconnected, when the port drops mid-read.
	EventProgramExit
	// EventNoise carries bytes discarded while hunting for a packet marker.
	EventNoise
	// EventUnsolicited carries a packet no pending request was waiting for.
	EventUnsolicited
	// EventDisconnected means the port went away and the receive loop ended.
	// A later Connect reopens the port and restarts the loop.
	EventDisconnected
	// EventStateChanged reports a lifecycle transition.
	EventStateChanged
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventProgramExit:
		return "program-exit"
	case EventNoise:
		return "noise"
	case EventUnsolicited:
		return "unsolicited"
	case EventDisconnected:
		return "disconnected"
	case EventStateChanged:
		return "state"
	}
	return "unknown"
}

// Event is one notification on the engine's event channel.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Text    string
	Data    []byte
	Message *protocol.Message
	State   State
}

// emit never blocks; when nobody drains the channel, events are dropped.
func (e *Engine) emit(ev Event) {
	ev.Time = time.Now()
	e.evMu.RLock()
	defer e.evMu.RUnlock()
	if e.evClosed {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
		e.log.Trace().Stringer("kind", ev.Kind).Msg("event dropped, channel full")
	}
}
