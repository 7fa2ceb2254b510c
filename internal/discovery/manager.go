// Package discovery keeps the set of nanoFramework devices attached to the
// host current. It polls the serial port list, probes new ports for a
// debugger handshake and tears down engines of ports that disappear.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// Device is a validated device with a connected engine.
type Device struct {
	Port     string
	Kind     transport.Kind
	Info     transport.PortInfo
	BaudRate int
	Identity engine.Identity
	Engine   *engine.Engine
	Arrived  time.Time
}

func (d *Device) String() string {
	s := fmt.Sprintf("%s (%s) on %s", d.Identity.TargetName, d.Identity.PlatformName, d.Port)
	if d.BaudRate > 0 {
		s += fmt.Sprintf(" @%d", d.BaudRate)
	}
	return s
}

// Manager owns the devices of the host. Create it with NewManager, then
// Start it; Close disposes every engine it created.
type Manager struct {
	opts   options
	log    zerolog.Logger
	list   Lister
	probes singleflight.Group

	mu       sync.Mutex
	devices  map[string]*Device
	known    map[string]transport.PortInfo
	inFlight int
	settled  bool
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup

	kick chan struct{}

	evMu     sync.RWMutex
	evClosed bool
	events   chan Event
	dropped  atomic.Int64
}

// NewManager returns a stopped manager. list may be nil when only network
// devices are wanted.
func NewManager(list Lister, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{
		opts:    o,
		log:     o.log.With().Str("component", "discovery").Logger(),
		list:    list,
		devices: make(map[string]*Device),
		known:   make(map[string]transport.PortInfo),
		kick:    make(chan struct{}, 1),
		events:  make(chan Event, o.eventBuffer),
	}
	if m.opts.open == nil {
		m.opts.open = func(addr transport.Address, baud int) (transport.Port, error) {
			return transport.Open(addr, baud, m.log)
		}
	}
	return m
}

// Events returns the notification channel. It is closed by Close.
func (m *Manager) Events() <-chan Event { return m.events }

// DroppedEvents counts notifications lost because nobody drained the channel.
func (m *Manager) DroppedEvents() int64 { return m.dropped.Load() }

// Start launches the watcher. It polls once immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("discovery: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.settled = false
	go m.watch(ctx)
	return nil
}

// Stop ends the watcher and waits for in-flight probes. Managed devices
// stay connected.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.wg.Wait()
}

// ReScan stops the watcher, drops every managed device and starts over.
func (m *Manager) ReScan(ctx context.Context) error {
	m.Stop()
	m.clear()
	return m.Start(ctx)
}

// Close stops the manager and disposes every device.
func (m *Manager) Close() {
	m.Stop()
	m.clear()
	m.evMu.Lock()
	if !m.evClosed {
		m.evClosed = true
		close(m.events)
	}
	m.evMu.Unlock()
}

func (m *Manager) clear() {
	m.mu.Lock()
	devs := m.devices
	m.devices = make(map[string]*Device)
	m.known = make(map[string]transport.PortInfo)
	m.mu.Unlock()
	for _, d := range devs {
		dispose(d)
	}
}

// Devices returns the managed devices ordered by port.
func (m *Manager) Devices() []*Device {
	m.mu.Lock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Device returns the managed device on port.
func (m *Manager) Device(port string) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[port]
	return d, ok
}

// Kick asks the watcher to poll now.
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) watch(ctx context.Context) {
	defer close(m.done)

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if w := m.newDirWatcher(); w != nil {
		defer func() { _ = w.Close() }()
		fsEvents, fsErrors = w.Events, w.Errors
	}

	t := time.NewTicker(m.opts.pollInterval)
	defer t.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.poll(ctx)
		case <-m.kick:
			m.poll(ctx)
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) {
				m.poll(ctx)
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			m.log.Debug().Err(err).Msg("device directory watch error")
		}
	}
}

// newDirWatcher watches the device node directory so arrivals are seen
// before the next tick. Failure only costs latency.
func (m *Manager) newDirWatcher() *fsnotify.Watcher {
	if m.opts.watchDir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.log.Debug().Err(err).Msg("fsnotify unavailable, polling only")
		return nil
	}
	if err := w.Add(m.opts.watchDir); err != nil {
		_ = w.Close()
		m.log.Debug().Err(err).Str("dir", m.opts.watchDir).Msg("cannot watch device directory, polling only")
		return nil
	}
	return w
}

// current merges the serial listing with the static network devices.
func (m *Manager) current() (map[string]transport.PortInfo, error) {
	now := make(map[string]transport.PortInfo)
	if m.list != nil {
		ports, err := m.list()
		if err != nil {
			return nil, err
		}
		for _, p := range ports {
			now[p.Name] = p
		}
	}
	for _, hp := range m.opts.network {
		if _, _, err := net.SplitHostPort(hp); err != nil {
			hp = net.JoinHostPort(hp, fmt.Sprint(transport.DefaultTCPPort))
		}
		name := "tcp://" + hp
		now[name] = transport.PortInfo{Name: name}
	}
	return now, nil
}

func (m *Manager) poll(ctx context.Context) {
	now, err := m.current()
	if err != nil {
		m.log.Warn().Err(err).Msg("listing ports")
		return
	}

	var arrived []transport.PortInfo
	var departed []*Device
	var gone []string

	m.mu.Lock()
	for name := range m.known {
		if _, ok := now[name]; !ok {
			delete(m.known, name)
			gone = append(gone, name)
			if d, ok := m.devices[name]; ok {
				delete(m.devices, name)
				departed = append(departed, d)
			}
		}
	}
	for name, info := range now {
		if _, ok := m.known[name]; ok {
			continue
		}
		m.known[name] = info
		if reason := m.exclusionReason(info); reason != "" {
			m.log.Debug().Str("port", name).Str("reason", reason).Msg("port excluded")
			continue
		}
		arrived = append(arrived, info)
	}
	m.inFlight += len(arrived)
	first := !m.settled
	m.settled = true
	idle := m.inFlight == 0
	m.mu.Unlock()

	for _, name := range gone {
		m.log.Debug().Str("port", name).Msg("port removed")
	}
	for _, d := range departed {
		m.log.Info().Str("port", d.Port).Msg("device departed")
		dispose(d)
		m.emit(Event{Kind: DeviceDeparted, Port: d.Port, Device: d})
	}
	for _, info := range arrived {
		m.wg.Add(1)
		go m.handleArrival(ctx, info)
	}
	if first && idle {
		m.emit(Event{Kind: EnumerationComplete})
	}
}

func (m *Manager) exclusionReason(info transport.PortInfo) string {
	switch {
	case m.opts.exclude[info.Name]:
		return "excluded by configuration"
	case info.LooksLikeBluetooth():
		return "bluetooth virtual port"
	case info.IsUSB && m.opts.blockedUSB[info.USBID()]:
		return "blocked USB id " + info.USBID()
	}
	return ""
}

func (m *Manager) handleArrival(ctx context.Context, info transport.PortInfo) {
	defer m.wg.Done()
	dev, err := m.Probe(ctx, info)

	m.mu.Lock()
	_, stillThere := m.known[info.Name]
	if err == nil && stillThere {
		m.devices[info.Name] = dev
	}
	m.inFlight--
	idle := m.inFlight == 0
	m.mu.Unlock()

	switch {
	case err != nil:
		m.log.Info().Err(err).Str("port", info.Name).Msg("probe failed")
		m.emit(Event{Kind: ProbeFailed, Port: info.Name, Err: err})
	case !stillThere:
		m.log.Debug().Str("port", info.Name).Msg("port vanished while probing")
		dispose(dev)
	default:
		m.log.Info().Stringer("device", dev).Msg("device arrived")
		m.emit(Event{Kind: DeviceArrived, Port: info.Name, Device: dev})
	}
	if idle {
		m.emit(Event{Kind: EnumerationComplete})
	}
}

func dispose(d *Device) {
	if d == nil || d.Engine == nil {
		return
	}
	_ = d.Engine.StopProcessing()
	_ = d.Engine.Dispose()
}
