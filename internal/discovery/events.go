package discovery

import "time"

// EventKind classifies manager notifications.
type EventKind int

const (
	DeviceArrived EventKind = iota
	DeviceDeparted
	// EnumerationComplete fires when no probe is in flight any more.
	EnumerationComplete
	ProbeFailed
)

func (k EventKind) String() string {
	switch k {
	case DeviceArrived:
		return "arrived"
	case DeviceDeparted:
		return "departed"
	case EnumerationComplete:
		return "enumeration-complete"
	case ProbeFailed:
		return "probe-failed"
	}
	return "unknown"
}

// Event is one notification on the manager's event channel.
type Event struct {
	Kind   EventKind
	Time   time.Time
	Port   string
	Device *Device
	Err    error
}

func (m *Manager) emit(ev Event) {
	ev.Time = time.Now()
	m.evMu.RLock()
	defer m.evMu.RUnlock()
	if m.evClosed {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
		m.log.Debug().Stringer("kind", ev.Kind).Str("port", ev.Port).Msg("event dropped, channel full")
	}
}
