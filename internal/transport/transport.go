// Package transport defines the byte-level port contract the debugger engine
// talks through, with serial and TCP implementations.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotConnected is returned when the port is closed or the device went away.
	ErrNotConnected = errors.New("device not connected")
	// ErrAccessDenied is returned when the OS refuses to open the port.
	ErrAccessDenied = errors.New("port access denied")
)

// Kind identifies the transport variant behind a Port.
type Kind int

const (
	KindSerial Kind = iota
	KindTCP
	KindBLE
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindTCP:
		return "tcp"
	case KindBLE:
		return "ble"
	}
	return "unknown"
}

// Port is a raw byte pipe to one device.
//
// Read returns at most n bytes. It returns early with fewer bytes, possibly
// none, when timeout elapses; that is not an error. Cancellation of ctx
// aborts the wait with ctx.Err(). A vanished device yields ErrNotConnected.
type Port interface {
	InstanceID() string
	Kind() Kind
	Connect(ctx context.Context) error
	Send(ctx context.Context, b []byte, timeout time.Duration) (int, error)
	Read(ctx context.Context, n int, timeout time.Duration) ([]byte, error)
	Disconnect(force bool) error
	IsConnected() bool
}

// BaudSetter is implemented by ports whose line speed can change.
type BaudSetter interface {
	BaudRate() int
	SetBaudRate(baud int) error
}

// Address is a parsed port address.
type Address struct {
	Kind Kind
	// Target is the serial device name, host:port, or BLE name/address.
	Target string
}

func (a Address) String() string {
	switch a.Kind {
	case KindTCP:
		return "tcp://" + a.Target
	case KindBLE:
		return "ble://" + a.Target
	}
	return a.Target
}

// DefaultTCPPort is the debugger port used when a tcp:// address omits one.
const DefaultTCPPort = 26000

// ParseAddress accepts "COM3", "/dev/ttyACM0", "tcp://host[:port]" and
// "ble://name".
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, errors.New("empty port address")
	}
	switch {
	case strings.HasPrefix(s, "tcp://"):
		hostport := strings.TrimPrefix(s, "tcp://")
		if _, _, err := net.SplitHostPort(hostport); err != nil {
			hostport = net.JoinHostPort(hostport, strconv.Itoa(DefaultTCPPort))
		}
		host, _, _ := net.SplitHostPort(hostport)
		if host == "" {
			return Address{}, fmt.Errorf("invalid tcp address %q", s)
		}
		return Address{Kind: KindTCP, Target: hostport}, nil
	case strings.HasPrefix(s, "ble://"):
		name := strings.TrimPrefix(s, "ble://")
		if name == "" {
			return Address{}, fmt.Errorf("invalid ble address %q", s)
		}
		return Address{Kind: KindBLE, Target: name}, nil
	}
	return Address{Kind: KindSerial, Target: s}, nil
}

// Open creates an unopened port for a serial or TCP address. BLE ports live
// in their own package.
func Open(addr Address, baud int, log zerolog.Logger) (Port, error) {
	switch addr.Kind {
	case KindSerial:
		return NewSerialPort(addr.Target, baud, log), nil
	case KindTCP:
		return NewTCPPort(addr.Target, log), nil
	}
	return nil, fmt.Errorf("no opener for %s address %s", addr.Kind, addr)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
