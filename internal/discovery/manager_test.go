package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/devicecache"
	"github.com/nanoframework/nf-debugger-sub001/internal/devsim"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// fakeHost is a port listing plus the simulated devices behind it.
type fakeHost struct {
	mu      sync.Mutex
	ports   []transport.PortInfo
	devices map[string]*devsim.Device
	opened  map[string]int
}

func newFakeHost() *fakeHost {
	return &fakeHost{devices: map[string]*devsim.Device{}, opened: map[string]int{}}
}

func (h *fakeHost) plug(info transport.PortInfo, dev *devsim.Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ports = append(h.ports, info)
	if dev != nil {
		h.devices[info.Name] = dev
	}
}

func (h *fakeHost) unplug(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.ports {
		if p.Name == name {
			h.ports = append(h.ports[:i], h.ports[i+1:]...)
			break
		}
	}
	if d := h.devices[name]; d != nil {
		d.Unplug()
	}
}

func (h *fakeHost) list() ([]transport.PortInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]transport.PortInfo(nil), h.ports...), nil
}

func (h *fakeHost) open(addr transport.Address, baud int) (transport.Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened[addr.String()]++
	d := h.devices[addr.String()]
	if d == nil {
		d = devsim.New(addr.String())
		d.Silent = true
		h.devices[addr.String()] = d
	}
	if baud > 0 {
		_ = d.SetBaudRate(baud)
	}
	return d, nil
}

func (h *fakeHost) openCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened[name]
}

func newTestManager(t *testing.T, h *fakeHost, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithPollInterval(10 * time.Millisecond),
		WithProbeTimeout(50 * time.Millisecond),
		WithBootSettle(5*time.Millisecond, time.Millisecond, 3*time.Millisecond),
		WithWatchDir(""),
		WithOpener(h.open),
		WithEngineOptions(engine.WithTimeout(100*time.Millisecond), engine.WithRetries(1)),
	}
	m := NewManager(h.list, append(base, opts...)...)
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, m *Manager, kind EventKind, port string) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind == kind && (port == "" || ev.Port == port) {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event for %q", kind, port)
		}
	}
}

func TestManagerFindsDeviceAtItsBaudRate(t *testing.T) {
	h := newFakeHost()
	dev := devsim.New("COM3")
	dev.Baud = 115200
	dev.TargetName = "ESP32_REV0"
	dev.PlatformName = "ESP32"
	h.plug(transport.PortInfo{Name: "COM3", IsUSB: true, VID: "10c4", PID: "ea60"}, dev)

	cache := devicecache.New(nil)
	m := newTestManager(t, h, WithCache(cache))
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ev := waitFor(t, m, DeviceArrived, "COM3")
	if ev.Device.BaudRate != 115200 || ev.Device.Identity.TargetName != "ESP32_REV0" {
		t.Fatalf("device = %v", ev.Device)
	}
	waitFor(t, m, EnumerationComplete, "")

	entry, ok := cache.Get("COM3")
	if !ok || entry.BaudRate != 115200 || entry.PlatformName != "ESP32" {
		t.Fatalf("cache entry = %+v, %v", entry, ok)
	}
	if d, ok := m.Device("COM3"); !ok || !d.Engine.IsConnected() {
		t.Fatalf("managed device = %v, %v", d, ok)
	}
	if n := dev.Count(protocol.CmdPing); n != 3 {
		t.Fatalf("pings = %d, want one per baud rate", n)
	}
}

func TestManagerTrustsCachedBaudRate(t *testing.T) {
	h := newFakeHost()
	dev := devsim.New("/dev/ttyACM0")
	dev.Baud = 460800
	h.plug(transport.PortInfo{Name: "/dev/ttyACM0"}, dev)

	cache := devicecache.New(nil)
	_ = cache.Put(context.Background(), "/dev/ttyACM0", devicecache.Entry{TargetName: "SIM_TARGET", BaudRate: 460800})

	m := newTestManager(t, h, WithCache(cache))
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m, DeviceArrived, "/dev/ttyACM0")

	if n := dev.Count(protocol.CmdPing); n != 1 {
		t.Fatalf("pings = %d, want only the cached baud rate", n)
	}
	if n := dev.Count(protocol.CmdQueryCapabilities); n != 0 {
		t.Fatalf("capability queries = %d for a cached device", n)
	}
	if n := dev.Count(protocol.CmdTargetInfo); n != 1 {
		t.Fatalf("identity not verified: %d target info requests", n)
	}
}

func TestManagerSkipsExcludedPorts(t *testing.T) {
	h := newFakeHost()
	h.plug(transport.PortInfo{Name: "/dev/rfcomm0"}, nil)
	h.plug(transport.PortInfo{Name: "COM9", Product: "Standard Serial over Bluetooth link"}, nil)
	h.plug(transport.PortInfo{Name: "COM4", IsUSB: true, VID: "2341", PID: "0043"}, nil)
	h.plug(transport.PortInfo{Name: "COM5"}, nil)

	m := newTestManager(t, h, WithBlockedUSB("2341:0043"), WithExclusions("COM5"))
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, m, EnumerationComplete, "")

	for _, name := range []string{"/dev/rfcomm0", "COM9", "COM4", "COM5"} {
		if n := h.openCount(name); n != 0 {
			t.Errorf("%s opened %d times", name, n)
		}
	}
	if len(m.Devices()) != 0 {
		t.Fatalf("devices = %v", m.Devices())
	}
}

func TestManagerDropsSilentPortAfterRetry(t *testing.T) {
	h := newFakeHost()
	h.plug(transport.PortInfo{Name: "COM7"}, nil)

	cache := devicecache.New(nil)
	_ = cache.Put(context.Background(), "COM7", devicecache.Entry{TargetName: "OLD", BaudRate: 921600})

	m := newTestManager(t, h, WithCache(cache))
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, m, ProbeFailed, "COM7")
	if !errors.Is(ev.Err, ErrNoDevice) {
		t.Fatalf("probe error = %v", ev.Err)
	}
	waitFor(t, m, EnumerationComplete, "")

	if n := h.openCount("COM7"); n != 2 {
		t.Fatalf("opened %d times, want initial attempt plus one retry", n)
	}
	if _, ok := cache.Get("COM7"); ok {
		t.Fatal("stale cache entry kept")
	}
	if len(m.Devices()) != 0 {
		t.Fatal("silent port managed")
	}
}

func TestManagerDepartureDisposesEngine(t *testing.T) {
	h := newFakeHost()
	dev := devsim.New("COM3")
	h.plug(transport.PortInfo{Name: "COM3"}, dev)

	m := newTestManager(t, h)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	arrived := waitFor(t, m, DeviceArrived, "COM3")

	h.unplug("COM3")
	ev := waitFor(t, m, DeviceDeparted, "COM3")
	if ev.Device != arrived.Device {
		t.Fatal("departed a different device")
	}
	if st := ev.Device.Engine.State(); st != engine.Disposed {
		t.Fatalf("engine state = %s, want disposed", st)
	}
	if _, ok := m.Device("COM3"); ok {
		t.Fatal("device still managed")
	}
}

func TestManagerReScan(t *testing.T) {
	h := newFakeHost()
	dev := devsim.New("COM3")
	h.plug(transport.PortInfo{Name: "COM3"}, dev)

	m := newTestManager(t, h)
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	first := waitFor(t, m, DeviceArrived, "COM3").Device

	if err := m.ReScan(ctx); err != nil {
		t.Fatal(err)
	}
	second := waitFor(t, m, DeviceArrived, "COM3").Device
	if second == first {
		t.Fatal("rescan reused the old device")
	}
	if first.Engine.State() != engine.Disposed {
		t.Fatalf("old engine state = %s", first.Engine.State())
	}
	if dev.Connects() < 2 {
		t.Fatalf("port connected %d times", dev.Connects())
	}
}

func TestManagerNetworkDevice(t *testing.T) {
	h := newFakeHost()
	dev := devsim.New("tcp://192.168.1.50:26000")
	h.devices["tcp://192.168.1.50:26000"] = dev

	m := NewManager(nil,
		WithPollInterval(10*time.Millisecond),
		WithWatchDir(""),
		WithOpener(h.open),
		WithNetworkDevices("192.168.1.50"),
	)
	t.Cleanup(m.Close)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, m, DeviceArrived, "tcp://192.168.1.50:26000")
	if ev.Device.Kind != transport.KindTCP || ev.Device.BaudRate != 0 {
		t.Fatalf("network device = %+v", ev.Device)
	}
}

func TestConcurrentProbesShareOneAttempt(t *testing.T) {
	h := newFakeHost()
	h.plug(transport.PortInfo{Name: "COM3"}, devsim.New("COM3"))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gated := func(addr transport.Address, baud int) (transport.Port, error) {
		once.Do(func() { close(entered) })
		<-release
		return h.open(addr, baud)
	}
	m := newTestManager(t, h, WithOpener(gated))

	var wg sync.WaitGroup
	results := make([]*Device, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.Probe(context.Background(), transport.PortInfo{Name: "COM3"})
			if err != nil {
				t.Errorf("Probe: %v", err)
			}
			results[i] = d
		}()
	}
	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	t.Cleanup(func() { dispose(results[0]) })

	if n := h.openCount("COM3"); n != 1 {
		t.Fatalf("opened %d times, want one shared attempt", n)
	}
	for _, d := range results {
		if d == nil || d != results[0] {
			t.Fatal("callers got different devices")
		}
	}
}
