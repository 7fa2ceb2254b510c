// Package ble provides a transport.Port over the Nordic UART service, the
// BLE debugger channel of nanoFramework targets.
package ble

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// rxBuffer collects notification payloads until Read takes them.
type rxBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	ready  chan struct{}
	closed bool
}

func newRxBuffer() *rxBuffer {
	return &rxBuffer{ready: make(chan struct{}, 1)}
}

func (r *rxBuffer) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// push is the notification handler.
func (r *rxBuffer) push(b []byte) {
	r.mu.Lock()
	if !r.closed {
		r.buf.Write(b)
	}
	r.mu.Unlock()
	r.signal()
}

func (r *rxBuffer) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
}

// take moves up to n buffered bytes into out.
func (r *rxBuffer) take(out []byte) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, _ := r.buf.Read(out)
	return k, r.closed && r.buf.Len() == 0
}

// read waits until n bytes arrived, timeout passed, or the link closed.
func (r *rxBuffer) read(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	out := make([]byte, n)
	got := 0
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		k, done := r.take(out[got:])
		got += k
		if got == n {
			return out, nil
		}
		if done {
			return out[:got], transport.ErrNotConnected
		}
		select {
		case <-r.ready:
		case <-timer.C:
			k, _ := r.take(out[got:])
			return out[:got+k], nil
		case <-ctx.Done():
			return out[:got], ctx.Err()
		}
	}
}

type writer interface {
	WriteWithoutResponse(p []byte) (int, error)
}

// writeChunked splits b into ATT sized writes.
func writeChunked(ctx context.Context, w writer, b []byte, gap time.Duration) (int, error) {
	sent := 0
	for sent < len(b) {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		end := min(sent+chunkSize, len(b))
		if _, err := w.WriteWithoutResponse(b[sent:end]); err != nil {
			return sent, fmt.Errorf("%w: write at offset %d: %v", transport.ErrNotConnected, sent, err)
		}
		sent = end
		if sent < len(b) && gap > 0 {
			time.Sleep(gap)
		}
	}
	return sent, nil
}

// Port is a BLE UART link to one target, addressed by name or address.
type Port struct {
	target string
	log    zerolog.Logger

	mu     sync.Mutex
	device *bluetooth.Device
	rxChar *bluetooth.DeviceCharacteristic
	rx     *rxBuffer
}

var _ transport.Port = (*Port)(nil)

// NewPort returns an unconnected port for a device name or address.
func NewPort(target string, log zerolog.Logger) *Port {
	return &Port{target: target, log: log.With().Str("port", "ble://"+target).Logger()}
}

func (p *Port) InstanceID() string   { return "ble://" + p.target }
func (p *Port) Kind() transport.Kind { return transport.KindBLE }
func (p *Port) String() string       { return p.InstanceID() }

// Connect scans for the target, connects and subscribes to the UART TX
// characteristic.
func (p *Port) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		return nil
	}

	addr, err := find(ctx, p.target, p.log)
	if err != nil {
		return err
	}
	p.log.Debug().Str("address", addr.String()).Msg("connecting")
	device, err := bluetooth.DefaultAdapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	rxChar, txChar, err := discoverUART(device, p.log)
	if err != nil {
		_ = device.Disconnect()
		return err
	}
	rx := newRxBuffer()
	if err := txChar.EnableNotifications(rx.push); err != nil {
		_ = device.Disconnect()
		return fmt.Errorf("failed to enable notifications: %w", err)
	}
	time.Sleep(notifySettle)

	p.device, p.rxChar, p.rx = &device, rxChar, rx
	p.log.Info().Msg("ble connected")
	return nil
}

func (p *Port) Send(ctx context.Context, b []byte, _ time.Duration) (int, error) {
	p.mu.Lock()
	ch := p.rxChar
	p.mu.Unlock()
	if ch == nil {
		return 0, transport.ErrNotConnected
	}
	n, err := writeChunked(ctx, ch, b, chunkGap)
	if err != nil {
		p.log.Debug().Err(err).Msg("ble write failed")
	}
	return n, err
}

func (p *Port) rxBuf() (*rxBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rx, p.rx != nil
}

func (p *Port) Read(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	rx, ok := p.rxBuf()
	if !ok {
		return nil, transport.ErrNotConnected
	}
	b, err := rx.read(ctx, n, timeout)
	if err == transport.ErrNotConnected {
		p.drop()
	}
	return b, err
}

func (p *Port) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		_ = p.device.Disconnect()
	}
	p.device, p.rxChar, p.rx = nil, nil, nil
}

func (p *Port) Disconnect(bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return nil
	}
	p.rx.close()
	err := p.device.Disconnect()
	p.device, p.rxChar, p.rx = nil, nil, nil
	return err
}

func (p *Port) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device != nil
}
