package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/nanoframework/nf-debugger-sub001/internal/discovery"
)

// maxLogLines bounds the event log shown under the device table.
const maxLogLines = 8

// DeviceSource is the part of the discovery manager the watch view needs.
type DeviceSource interface {
	Events() <-chan discovery.Event
	Devices() []*discovery.Device
	ReScan(ctx context.Context) error
}

// Messages

// deviceEventMsg carries one discovery event into the update loop.
type deviceEventMsg discovery.Event

// eventsClosedMsg signals that the manager closed its event channel.
type eventsClosedMsg struct{}

// rescanDoneMsg reports the outcome of a user requested rescan.
type rescanDoneMsg struct{ err error }

// WatchModel lists the devices known to a discovery manager and follows
// its arrival and departure events.
type WatchModel struct {
	src DeviceSource
	ctx context.Context

	devices    []*discovery.Device
	log        []string
	cursor     int
	enumerated bool
	rescanning bool
	closed     bool
	err        error

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	styles  Styles
	width   int
}

// NewWatchModel creates the device watch view over src.
func NewWatchModel(ctx context.Context, src DeviceSource) WatchModel {
	h := help.New()
	h.ShortSeparator = " • "

	s := spinner.New()
	s.Spinner = spinner.Dot

	m := WatchModel{
		src:     src,
		ctx:     ctx,
		keys:    DefaultKeyMap(),
		help:    h,
		spinner: s,
		styles:  DefaultStyles(),
	}
	m.refresh()
	return m
}

func waitForEvent(ch <-chan discovery.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return deviceEventMsg(ev)
	}
}

func (m WatchModel) rescanCmd() tea.Cmd {
	return func() tea.Msg {
		return rescanDoneMsg{err: m.src.ReScan(m.ctx)}
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.src.Events()), m.spinner.Tick)
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case deviceEventMsg:
		m.apply(discovery.Event(msg))
		return m, waitForEvent(m.src.Events())

	case eventsClosedMsg:
		m.closed = true
		return m, nil

	case rescanDoneMsg:
		m.rescanning = false
		m.err = msg.err
		m.refresh()
		return m, nil
	}
	return m, nil
}

func (m WatchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.devices)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Rescan):
		if m.rescanning {
			return m, nil
		}
		m.rescanning = true
		m.enumerated = false
		m.devices = nil
		m.cursor = 0
		return m, m.rescanCmd()
	}
	return m, nil
}

func (m *WatchModel) apply(ev discovery.Event) {
	var line string
	switch ev.Kind {
	case discovery.DeviceArrived:
		line = fmt.Sprintf("+ %s", ev.Device)
	case discovery.DeviceDeparted:
		line = fmt.Sprintf("- %s", ev.Port)
	case discovery.EnumerationComplete:
		m.enumerated = true
	case discovery.ProbeFailed:
		line = fmt.Sprintf("! %s: %v", ev.Port, ev.Err)
	}
	if line != "" {
		m.log = append(m.log, ev.Time.Format("15:04:05")+" "+line)
		if len(m.log) > maxLogLines {
			m.log = m.log[len(m.log)-maxLogLines:]
		}
	}
	m.refresh()
}

// refresh reloads the device list from the source and keeps the cursor
// inside it.
func (m *WatchModel) refresh() {
	devs := m.src.Devices()
	sort.Slice(devs, func(i, j int) bool { return devs[i].Port < devs[j].Port })
	m.devices = devs
	if m.cursor >= len(devs) {
		m.cursor = max(len(devs)-1, 0)
	}
}

// Selected returns the highlighted device, if any.
func (m WatchModel) Selected() *discovery.Device {
	if len(m.devices) == 0 {
		return nil
	}
	return m.devices[m.cursor]
}

// View implements tea.Model.
func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("nanoFramework devices"))
	b.WriteString("\n")
	b.WriteString(m.styles.Subtitle.Render(m.status()))
	b.WriteString("\n")

	if len(m.devices) == 0 {
		b.WriteString(m.styles.Muted.Render("  no devices"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.styles.Header.Render(fmt.Sprintf("%-24s %-28s %-12s %s", "PORT", "TARGET", "PLATFORM", "SEEN")))
		b.WriteString("\n")
		for i, d := range m.devices {
			row := fmt.Sprintf("%-24s %-28s %-12s %s", d.Port, d.Identity.TargetName, d.Identity.PlatformName, humanize.Time(d.Arrived))
			if i == m.cursor {
				b.WriteString(m.styles.RowSelected.Render("> " + row))
			} else {
				b.WriteString(m.styles.Row.Render("  " + row))
			}
			b.WriteString("\n")
		}
	}

	if d := m.Selected(); d != nil {
		b.WriteString("\n")
		b.WriteString(m.renderField("Transport", d.Kind.String()))
		if d.BaudRate > 0 {
			b.WriteString(m.renderField("Baud", fmt.Sprint(d.BaudRate)))
		}
		b.WriteString(m.renderField("Connected", d.Arrived.Format(time.DateTime)))
	}

	if len(m.log) > 0 {
		b.WriteString("\n")
		for _, l := range m.log {
			b.WriteString(m.styles.Muted.Render(l))
			b.WriteString("\n")
		}
	}

	if m.err != nil {
		b.WriteString(m.styles.Error.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Help.Render(m.help.View(m.keys)))
	return m.styles.App.Render(b.String())
}

func (m WatchModel) status() string {
	switch {
	case m.closed:
		return "discovery stopped"
	case m.rescanning:
		return m.spinner.View() + " rescanning..."
	case !m.enumerated:
		return m.spinner.View() + " searching..."
	}
	return fmt.Sprintf("%d device(s)", len(m.devices))
}

func (m WatchModel) renderField(label, value string) string {
	return m.styles.Label.Render(label) + m.styles.Value.Render(value) + "\n"
}
