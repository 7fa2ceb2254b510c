package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

type rxState int

const (
	rxIdle rxState = iota
	rxInitialize
	rxWaitingForHeader
	rxReadingHeader
	rxCompleteHeader
	rxReadingPayload
	rxCompletePayload
)

func (s rxState) String() string {
	return [...]string{"idle", "initialize", "waiting-for-header", "reading-header",
		"complete-header", "reading-payload", "complete-payload"}[s]
}

const (
	// maxPayloadSize rejects headers that claim absurd payloads. Corrupted
	// size fields would otherwise stall the receiver for a long time.
	maxPayloadSize = 64 * 1024

	// frameStallTimeout resets a half-received frame when the line stays
	// quiet for this long.
	frameStallTimeout = 2 * time.Second

	rxPollSlice = 100 * time.Millisecond
)

// reassembler turns a byte stream into validated messages. Its state persists
// across next calls, so a frame may arrive over several reads.
type reassembler struct {
	port transport.Port
	log  zerolog.Logger

	// nack is called for corrupted critical packets.
	nack func(h protocol.Header, reason protocol.Flags)
	// strictPayloadCRC makes a zero payload CRC count as a mismatch.
	strictPayloadCRC func() bool

	state        rxState
	hdrBuf       []byte
	hdr          protocol.Header
	payload      []byte
	got          int
	lastProgress time.Time
	noise        []byte
}

func newReassembler(port transport.Port, log zerolog.Logger) *reassembler {
	return &reassembler{
		port:   port,
		log:    log,
		state:  rxIdle,
		hdrBuf: make([]byte, 0, protocol.HeaderSize),
	}
}

func (r *reassembler) reset() {
	r.state = rxWaitingForHeader
	r.hdrBuf = r.hdrBuf[:0]
	r.hdr = protocol.Header{}
	r.payload = nil
	r.got = 0
}

// takeNoise returns and clears the bytes discarded while hunting for a marker.
func (r *reassembler) takeNoise() []byte {
	n := r.noise
	r.noise = nil
	return n
}

// next runs the state machine until a message completes or timeout elapses.
// It returns a nil message on timeout. Errors come only from the port.
func (r *reassembler) next(ctx context.Context, timeout time.Duration) (*protocol.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		switch r.state {
		case rxIdle, rxInitialize:
			r.reset()

		case rxWaitingForHeader, rxReadingHeader:
			if r.stalled() {
				r.log.Debug().Stringer("state", r.state).Int("have", len(r.hdrBuf)).Msg("discarding stalled header")
				r.reset()
			}
			n, err := r.fill(ctx, deadline, protocol.HeaderSize-len(r.hdrBuf), func(b []byte) {
				r.hdrBuf = append(r.hdrBuf, b...)
			})
			if err != nil {
				return nil, err
			}
			if r.state == rxWaitingForHeader {
				r.sync()
				if len(r.hdrBuf) >= protocol.MarkerSize {
					r.state = rxReadingHeader
				}
			}
			if r.state == rxReadingHeader && len(r.hdrBuf) == protocol.HeaderSize {
				r.state = rxCompleteHeader
				continue
			}
			if n == 0 && time.Now().After(deadline) {
				return nil, nil
			}

		case rxCompleteHeader:
			if !r.completeHeader() {
				r.state = rxInitialize
				continue
			}
			if r.hdr.Size == 0 {
				r.state = rxCompletePayload
			} else {
				r.payload = make([]byte, r.hdr.Size)
				r.got = 0
				r.state = rxReadingPayload
			}

		case rxReadingPayload:
			if r.stalled() {
				r.log.Debug().Stringer("header", r.hdr).Int("have", r.got).Msg("discarding stalled payload")
				r.state = rxInitialize
				continue
			}
			n, err := r.fill(ctx, deadline, len(r.payload)-r.got, func(b []byte) {
				r.got += copy(r.payload[r.got:], b)
			})
			if err != nil {
				return nil, err
			}
			if r.got == len(r.payload) {
				r.state = rxCompletePayload
				continue
			}
			if n == 0 && time.Now().After(deadline) {
				return nil, nil
			}

		case rxCompletePayload:
			msg := r.completePayload()
			r.state = rxInitialize
			if msg != nil {
				return msg, nil
			}
		}
	}
}

// fill reads up to want bytes, bounded by the overall deadline.
func (r *reassembler) fill(ctx context.Context, deadline time.Time, want int, sink func([]byte)) (int, error) {
	if want <= 0 {
		return 0, nil
	}
	wait := min(time.Until(deadline), rxPollSlice)
	if wait <= 0 {
		wait = time.Millisecond
	}
	b, err := r.port.Read(ctx, want, wait)
	if len(b) > 0 {
		sink(b)
		r.lastProgress = time.Now()
	}
	return len(b), err
}

func (r *reassembler) stalled() bool {
	partial := len(r.hdrBuf) > 0 || r.state == rxReadingPayload
	return partial && !r.lastProgress.IsZero() && time.Since(r.lastProgress) > frameStallTimeout
}

// sync drops leading bytes until the buffer is empty or could still become
// a marker. Dropped bytes are kept as noise.
func (r *reassembler) sync() {
	for len(r.hdrBuf) > 0 && !protocol.IsMarkerPrefix(r.hdrBuf) {
		r.noise = append(r.noise, r.hdrBuf[0])
		r.hdrBuf = append(r.hdrBuf[:0], r.hdrBuf[1:]...)
	}
}

func (r *reassembler) completeHeader() bool {
	if err := r.hdr.UnmarshalBinary(r.hdrBuf); err != nil {
		r.log.Debug().Err(err).Msg("header decode failed")
		return false
	}
	if err := r.hdr.VerifyHeader(); err != nil {
		r.reject(protocol.FlagBadHeader, err)
		return false
	}
	if r.hdr.Size > maxPayloadSize {
		r.log.Debug().Uint32("size", r.hdr.Size).Msg("payload size out of range")
		r.reject(protocol.FlagBadHeader, nil)
		return false
	}
	return true
}

func (r *reassembler) completePayload() *protocol.Message {
	strict := r.strictPayloadCRC != nil && r.strictPayloadCRC()
	if r.hdr.Size > 0 && (strict || r.hdr.CRCData != 0) {
		if err := r.hdr.VerifyPayload(r.payload); err != nil {
			r.reject(protocol.FlagBadPayload, err)
			return nil
		}
	}
	r.log.Trace().Stringer("header", r.hdr).Msg("rx")
	return &protocol.Message{Header: r.hdr, Payload: r.payload}
}

// reject drops a corrupted packet. Critical packets are answered with a
// NACK so the sender retransmits.
func (r *reassembler) reject(reason protocol.Flags, err error) {
	ev := r.log.Debug().Stringer("reason", reason).Stringer("header", r.hdr)
	if err != nil {
		ev = ev.Err(err)
	}
	if r.hdr.Flags.Has(protocol.FlagNonCritical) {
		ev.Msg("dropping non-critical packet")
		return
	}
	ev.Msg("rejecting packet")
	if r.nack != nil {
		r.nack(r.hdr, reason)
	}
}
