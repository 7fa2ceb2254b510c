package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nanoframework/nf-debugger-sub001/internal/deploy"
	"github.com/nanoframework/nf-debugger-sub001/internal/discovery"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
)

type fakeSource struct {
	mu      sync.Mutex
	events  chan discovery.Event
	devices []*discovery.Device
	rescans int
}

func (f *fakeSource) Events() <-chan discovery.Event { return f.events }

func (f *fakeSource) Devices() []*discovery.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discovery.Device(nil), f.devices...)
}

func (f *fakeSource) ReScan(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescans++
	return nil
}

func (f *fakeSource) add(port, target string) *discovery.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &discovery.Device{
		Port:     port,
		Identity: engine.Identity{TargetName: target, PlatformName: "ESP32"},
		Arrived:  time.Now(),
	}
	f.devices = append(f.devices, d)
	return d
}

func update(t *testing.T, m tea.Model, msg tea.Msg) (WatchModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	wm, ok := next.(WatchModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return wm, cmd
}

func TestWatchModelFollowsEvents(t *testing.T) {
	src := &fakeSource{events: make(chan discovery.Event, 4)}
	m := NewWatchModel(context.Background(), src)

	if !strings.Contains(m.View(), "searching") {
		t.Errorf("initial view should show searching:\n%s", m.View())
	}

	d := src.add("COM5", "ESP32_REV0")
	m, cmd := update(t, m, deviceEventMsg{Kind: discovery.DeviceArrived, Port: "COM5", Device: d, Time: time.Now()})
	if cmd == nil {
		t.Error("expected a command waiting for the next event")
	}
	m, _ = update(t, m, deviceEventMsg{Kind: discovery.EnumerationComplete, Time: time.Now()})

	view := m.View()
	for _, want := range []string{"COM5", "ESP32_REV0", "1 device(s)", "+ ESP32_REV0"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if sel := m.Selected(); sel == nil || sel.Port != "COM5" {
		t.Errorf("Selected() = %v", sel)
	}

	m, _ = update(t, m, eventsClosedMsg{})
	if !strings.Contains(m.View(), "discovery stopped") {
		t.Errorf("view after close:\n%s", m.View())
	}
}

func TestWatchModelCursor(t *testing.T) {
	src := &fakeSource{events: make(chan discovery.Event)}
	src.add("COM3", "A")
	src.add("COM4", "B")
	m := NewWatchModel(context.Background(), src)

	steps := []struct {
		key  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeyDown}, "COM4"},
		{tea.KeyMsg{Type: tea.KeyDown}, "COM4"},
		{tea.KeyMsg{Type: tea.KeyUp}, "COM3"},
		{tea.KeyMsg{Type: tea.KeyUp}, "COM3"},
	}
	for i, s := range steps {
		m, _ = update(t, m, s.key)
		if got := m.Selected().Port; got != s.want {
			t.Errorf("step %d: selected %s, want %s", i, got, s.want)
		}
	}
}

func TestWatchModelRescanAndQuit(t *testing.T) {
	src := &fakeSource{events: make(chan discovery.Event)}
	src.add("COM3", "A")
	m := NewWatchModel(context.Background(), src)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if !strings.Contains(m.View(), "rescanning") {
		t.Errorf("view during rescan:\n%s", m.View())
	}
	if cmd == nil {
		t.Fatal("rescan key returned no command")
	}
	msg := cmd()
	if src.rescans != 1 {
		t.Errorf("rescans = %d, want 1", src.rescans)
	}
	m, _ = update(t, m, msg)
	if m.Selected() == nil {
		t.Error("device list should be reloaded after rescan")
	}

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("quit key returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("quit key should quit")
	}
}

func TestDeployModel(t *testing.T) {
	tests := []struct {
		name string
		done deployDoneMsg
		want string
	}{
		{"success", deployDoneMsg{result: &deploy.Result{Blocks: make([]deploy.Block, 2), Bytes: 6000, Elapsed: time.Second}}, "deployed 5.9 KiB in 2 block(s)"},
		{"failure", deployDoneMsg{err: errors.New("flash erase failed")}, "deployment failed: flash erase failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m tea.Model = NewDeployModel("Deploying")
			m, _ = m.Update(deployProgressMsg{Phase: deploy.PhaseWriting, Block: 1, TotalBlocks: 2, BytesWritten: 4096, TotalBytes: 6000, Address: 0x08080000})
			view := m.View()
			if !strings.Contains(view, "writing block 1/2 at 0x08080000") {
				t.Errorf("progress view:\n%s", view)
			}

			m, cmd := m.Update(tt.done)
			if cmd == nil {
				t.Fatal("done message should quit")
			}
			if !strings.Contains(m.View(), tt.want) {
				t.Errorf("final view missing %q:\n%s", tt.want, m.View())
			}
			res, err := m.(DeployModel).Result()
			if (err != nil) != (tt.done.err != nil) || res != tt.done.result {
				t.Errorf("Result() = %v, %v", res, err)
			}
		})
	}
}
