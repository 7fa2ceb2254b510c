package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// Frame is one packet found by DecodeCapture.
type Frame struct {
	Header protocol.Header
	Record protocol.Record
	// Rejected is the reason a corrupted packet was dropped, or zero.
	Rejected protocol.Flags
	// Err is set when the payload did not decode.
	Err error
}

// Capture is the result of decoding a recorded byte stream.
type Capture struct {
	Frames []Frame
	Noise  []byte
}

// bufferPort replays a fixed byte slice and then reports the device gone.
type bufferPort struct {
	data []byte
}

func (p *bufferPort) InstanceID() string            { return "capture" }
func (p *bufferPort) Kind() transport.Kind          { return transport.KindSerial }
func (p *bufferPort) Connect(context.Context) error { return nil }
func (p *bufferPort) Disconnect(bool) error         { return nil }
func (p *bufferPort) IsConnected() bool             { return len(p.data) > 0 }
func (p *bufferPort) Send(context.Context, []byte, time.Duration) (int, error) {
	return 0, errors.New("capture port is read-only")
}

func (p *bufferPort) Read(_ context.Context, n int, _ time.Duration) ([]byte, error) {
	if len(p.data) == 0 {
		return nil, transport.ErrNotConnected
	}
	k := min(n, len(p.data))
	b := p.data[:k]
	p.data = p.data[k:]
	return b, nil
}

// DecodeCapture runs a recorded wire stream through the same framing the
// live engine uses. Payloads are decoded in the given byte order. A trailing
// partial frame is ignored.
func DecodeCapture(data []byte, bigEndian bool, log zerolog.Logger) *Capture {
	var out Capture
	r := newReassembler(&bufferPort{data: data}, log)
	r.nack = func(h protocol.Header, reason protocol.Flags) {
		out.Frames = append(out.Frames, Frame{Header: h, Rejected: reason})
	}
	order := protocol.OrderFor(bigEndian)
	for {
		msg, err := r.next(context.Background(), time.Second)
		out.Noise = append(out.Noise, r.takeNoise()...)
		if err != nil || msg == nil {
			break
		}
		f := Frame{Header: msg.Header}
		f.Record, f.Err = protocol.Decode(msg.Header.Cmd, msg.Header.IsReply(), msg.Payload, order)
		if f.Err != nil {
			f.Err = fmt.Errorf("decode %s: %w", protocol.CommandName(msg.Header.Cmd), f.Err)
		}
		out.Frames = append(out.Frames, f)
	}
	return &out
}
