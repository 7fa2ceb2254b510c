package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// DefaultBaudRate is used when no baud rate is given.
const DefaultBaudRate = 115200

// readSlice bounds a single blocking read so cancellation is noticed promptly.
const readSlice = 50 * time.Millisecond

// SerialPort is a Port over a local serial device.
type SerialPort struct {
	name string
	log  zerolog.Logger

	mu   sync.Mutex
	port serial.Port
	baud int
}

var _ Port = (*SerialPort)(nil)

// NewSerialPort returns an unopened serial port.
func NewSerialPort(name string, baud int, log zerolog.Logger) *SerialPort {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &SerialPort{
		name: name,
		baud: baud,
		log:  log.With().Str("port", name).Logger(),
	}
}

func (p *SerialPort) InstanceID() string { return p.name }
func (p *SerialPort) Kind() Kind         { return KindSerial }

// BaudRate returns the configured line speed.
func (p *SerialPort) BaudRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

// SetBaudRate changes the line speed, reconfiguring an open port in place.
func (p *SerialPort) SetBaudRate(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baud = baud
	if p.port == nil {
		return nil
	}
	if err := p.port.SetMode(p.mode()); err != nil {
		return fmt.Errorf("set baud rate %d: %w", baud, err)
	}
	return p.port.ResetInputBuffer()
}

func (p *SerialPort) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: p.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Connect opens the device. Opening an already open port is a no-op.
func (p *SerialPort) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		return nil
	}
	port, err := serial.Open(p.name, p.mode())
	if err != nil {
		if code, ok := portErrorCode(err); ok {
			switch code {
			case serial.PermissionDenied, serial.PortBusy:
				return fmt.Errorf("open %s: %w: %v", p.name, ErrAccessDenied, err)
			case serial.PortNotFound:
				return fmt.Errorf("open %s: %w: %v", p.name, ErrNotConnected, err)
			}
		}
		return fmt.Errorf("open %s: %w", p.name, err)
	}
	_ = port.ResetInputBuffer()
	p.port = port
	p.log.Debug().Int("baud", p.baud).Msg("serial port opened")
	return nil
}

func (p *SerialPort) current() serial.Port {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port
}

// Send writes b. Serial writes are not interruptible, so timeout only applies
// to the cancellation check before the write.
func (p *SerialPort) Send(ctx context.Context, b []byte, timeout time.Duration) (int, error) {
	port := p.current()
	if port == nil {
		return 0, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := port.Write(b)
	if err != nil {
		if isDisconnectionError(err) {
			p.markGone(err)
			return n, fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return n, fmt.Errorf("write %s: %w", p.name, err)
	}
	return n, nil
}

// Read collects up to n bytes until timeout elapses.
func (p *SerialPort) Read(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	port := p.current()
	if port == nil {
		return nil, ErrNotConnected
	}
	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(timeout)
	for got < n {
		if err := ctx.Err(); err != nil {
			return buf[:got], err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := port.SetReadTimeout(min(remaining, readSlice)); err != nil {
			return buf[:got], fmt.Errorf("set read timeout: %w", err)
		}
		k, err := port.Read(buf[got:])
		if err != nil {
			if isDisconnectionError(err) {
				p.markGone(err)
				return buf[:got], fmt.Errorf("%w: %v", ErrNotConnected, err)
			}
			return buf[:got], fmt.Errorf("read %s: %w", p.name, err)
		}
		got += k
	}
	return buf[:got], nil
}

func (p *SerialPort) markGone(err error) {
	p.log.Info().Err(err).Msg("serial device disconnected")
	p.mu.Lock()
	if p.port != nil {
		_ = p.port.Close()
		p.port = nil
	}
	p.mu.Unlock()
}

// Disconnect closes the port. With force set, pending output is discarded
// first.
func (p *SerialPort) Disconnect(force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	if force {
		_ = p.port.ResetOutputBuffer()
	} else {
		_ = p.port.Drain()
	}
	err := p.port.Close()
	p.port = nil
	p.log.Debug().Msg("serial port closed")
	return err
}

func (p *SerialPort) IsConnected() bool {
	return p.current() != nil
}

// isDisconnectionError reports whether err means the device is gone rather
// than misconfigured.
func isDisconnectionError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := portErrorCode(err); ok {
		switch code {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "device not configured") ||
		strings.Contains(s, "input/output error") ||
		strings.Contains(s, "no such device") ||
		strings.Contains(s, "device not found") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "the device does not recognize the command")
}

// portErrorCode extracts the library error code. The library returns both
// pointer and value forms depending on platform.
func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var ptr *serial.PortError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code(), true
	}
	var val serial.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}
