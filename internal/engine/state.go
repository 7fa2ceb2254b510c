package engine

import (
	"fmt"
	"sync"
)

// State is the engine lifecycle state. Values are ordered; transitions only
// move forward, except Resume which returns to Started.
type State int

const (
	NotStarted State = iota
	Starting
	Started
	Stopping
	Resume
	Stopped
	Disposing
	Disposed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	case Resume:
		return "resume"
	case Stopped:
		return "stopped"
	case Disposing:
		return "disposing"
	case Disposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type stateMachine struct {
	mu  sync.Mutex
	cur State
}

func (m *stateMachine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func allowed(from, to State) bool {
	if from == Resume && to == Started {
		return true
	}
	return to > from
}

// transition moves to the new state or reports why it cannot.
func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !allowed(m.cur, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, m.cur, to)
	}
	m.cur = to
	return nil
}

// revive moves Stopped back to Starting. It is the only backward step and is
// used when the loop ended because the port went away, never after an
// explicit stop.
func (m *stateMachine) revive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != Stopped {
		return false
	}
	m.cur = Starting
	return true
}

// transitionFrom moves to the new state only if the current state is from.
func (m *stateMachine) transitionFrom(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != from || !allowed(from, to) {
		return false
	}
	m.cur = to
	return true
}
