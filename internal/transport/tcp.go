package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TCPPort is a Port over a network connection to a target's debugger socket.
type TCPPort struct {
	addr string
	log  zerolog.Logger

	mu   sync.Mutex
	conn net.Conn
}

var _ Port = (*TCPPort)(nil)

// NewTCPPort returns an unconnected port for host:port.
func NewTCPPort(addr string, log zerolog.Logger) *TCPPort {
	return &TCPPort{addr: addr, log: log.With().Str("port", "tcp://"+addr).Logger()}
}

func (p *TCPPort) InstanceID() string { return "tcp://" + p.addr }
func (p *TCPPort) Kind() Kind         { return KindTCP }

func (p *TCPPort) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.addr, err)
	}
	p.conn = conn
	p.log.Debug().Msg("tcp connected")
	return nil
}

func (p *TCPPort) current() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *TCPPort) Send(ctx context.Context, b []byte, timeout time.Duration) (int, error) {
	conn := p.current()
	if conn == nil {
		return 0, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	n, err := conn.Write(b)
	if err != nil {
		return n, p.classify(err)
	}
	return n, nil
}

func (p *TCPPort) Read(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	conn := p.current()
	if conn == nil {
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
		_ = conn.SetReadDeadline(time.Now().Add(min(remaining, readSlice)))
		k, err := conn.Read(buf[got:])
		got += k
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return buf[:got], p.classify(err)
		}
	}
	return buf[:got], nil
}

func (p *TCPPort) classify(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		p.log.Info().Err(err).Msg("tcp peer closed")
		p.drop()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && !opErr.Timeout() {
		p.drop()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return err
}

func (p *TCPPort) drop() {
	p.mu.Lock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()
}

func (p *TCPPort) Disconnect(force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	if tc, ok := p.conn.(*net.TCPConn); ok && force {
		_ = tc.SetLinger(0)
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *TCPPort) IsConnected() bool {
	return p.current() != nil
}
