package engine

import (
	"errors"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{NotStarted, Starting, true},
		{Starting, Started, true},
		{Started, Stopping, true},
		{Stopping, Resume, true},
		{Resume, Started, true},
		{Stopping, Stopped, true},
		{Stopped, Started, false},
		{Started, Starting, false},
		{Disposed, Disposing, false},
		{Started, Started, false},
		{Stopped, Disposing, true},
	}
	for _, tt := range tests {
		m := stateMachine{cur: tt.from}
		err := m.transition(tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s -> %s: error %v is not ErrInvalidState", tt.from, tt.to, err)
		}
	}

	m := stateMachine{cur: Started}
	if m.transitionFrom(Stopping, Stopped) {
		t.Error("transitionFrom moved from the wrong state")
	}
}

func TestStateRevive(t *testing.T) {
	tests := []struct {
		from State
		ok   bool
	}{
		{Stopped, true},
		{Started, false},
		{Stopping, false},
		{Disposing, false},
		{Disposed, false},
	}
	for _, tt := range tests {
		m := stateMachine{cur: tt.from}
		if got := m.revive(); got != tt.ok {
			t.Errorf("revive from %s = %v, want %v", tt.from, got, tt.ok)
		}
		if tt.ok && m.get() != Starting {
			t.Errorf("revive from %s left %s", tt.from, m.get())
		}
	}
}
