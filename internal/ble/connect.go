package ble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"
)

// ErrNotFound is returned when no advertising device matches the target.
var ErrNotFound = errors.New("ble device not found")

// Found is one advertising device seen during a scan.
type Found struct {
	Name    string
	Address string
	RSSI    int16
}

var enableOnce = sync.OnceValue(func() error {
	return bluetooth.DefaultAdapter.Enable()
})

// matches reports whether an advertisement belongs to target, which is
// either a device address or a case-insensitive local name.
func matches(target, name, address string) bool {
	if target == "" {
		return false
	}
	return strings.EqualFold(target, address) || strings.EqualFold(target, name)
}

// scan runs the adapter scan until visit returns false or ctx ends.
func scan(ctx context.Context, visit func(bluetooth.ScanResult) bool) error {
	if err := enableOnce(); err != nil {
		return fmt.Errorf("failed to enable Bluetooth: %w", err)
	}
	adapter := bluetooth.DefaultAdapter

	stop := context.AfterFunc(ctx, func() { _ = adapter.StopScan() })
	defer stop()

	err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !visit(result) {
			_ = a.StopScan()
		}
	})
	if err != nil {
		return fmt.Errorf("scan error: %w", err)
	}
	return nil
}

// Scan lists advertising devices that have a name until ctx ends.
func Scan(ctx context.Context, log zerolog.Logger) ([]Found, error) {
	seen := map[string]Found{}
	var mu sync.Mutex
	err := scan(ctx, func(r bluetooth.ScanResult) bool {
		f := Found{Name: r.LocalName(), Address: r.Address.String(), RSSI: r.RSSI}
		if f.Name == "" {
			return true
		}
		mu.Lock()
		defer mu.Unlock()
		if _, ok := seen[f.Address]; !ok {
			log.Debug().Str("name", f.Name).Str("address", f.Address).Msg("ble device found")
		}
		seen[f.Address] = f
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]Found, 0, len(seen))
	for _, f := range seen {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// find scans until the target shows up.
func find(ctx context.Context, target string, log zerolog.Logger) (bluetooth.Address, error) {
	var (
		addr  bluetooth.Address
		found bool
		mu    sync.Mutex
	)
	err := scan(ctx, func(r bluetooth.ScanResult) bool {
		name := r.LocalName()
		if name != "" {
			log.Trace().Str("name", name).Str("address", r.Address.String()).Msg("advertisement")
		}
		if !matches(target, name, r.Address.String()) {
			return true
		}
		mu.Lock()
		addr, found = r.Address, true
		mu.Unlock()
		return false
	})
	if err != nil {
		return addr, err
	}
	mu.Lock()
	defer mu.Unlock()
	if !found {
		return addr, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	return addr, nil
}

// discoverUART locates the UART characteristics on a connected device.
func discoverUART(device bluetooth.Device, log zerolog.Logger) (rx, tx *bluetooth.DeviceCharacteristic, err error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover services: %w", err)
	}
	var uart *bluetooth.DeviceService
	for i := range services {
		if strings.EqualFold(services[i].UUID().String(), UARTServiceUUID) {
			uart = &services[i]
			break
		}
	}
	if uart == nil {
		return nil, nil, errors.New("UART service not found")
	}

	chars, err := uart.DiscoverCharacteristics(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover characteristics: %w", err)
	}
	for i := range chars {
		uuid := chars[i].UUID().String()
		log.Trace().Str("uuid", uuid).Msg("characteristic")
		switch {
		case strings.EqualFold(uuid, UARTRXCharUUID):
			rx = &chars[i]
		case strings.EqualFold(uuid, UARTTXCharUUID):
			tx = &chars[i]
		}
	}
	if rx == nil || tx == nil {
		return nil, nil, errors.New("UART characteristics not found")
	}
	return rx, tx, nil
}
