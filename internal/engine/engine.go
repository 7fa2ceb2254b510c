// Package engine implements the debugger protocol session with one target:
// framing, request/reply correlation, the lifecycle state machine and the
// protocol operations built on top of them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nanoframework/nf-debugger-sub001/internal/exclusive"
	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// Source tells which firmware is answering on the target.
type Source int

const (
	SourceUnknown Source = iota
	SourceNanoBooter
	SourceNanoCLR
)

func (s Source) String() string {
	switch s {
	case SourceNanoBooter:
		return "nanoBooter"
	case SourceNanoCLR:
		return "nanoCLR"
	}
	return "unknown"
}

// Engine owns the communication session with one device. A single background
// goroutine reads the port; callers block on replies it delivers.
type Engine struct {
	port transport.Port
	opts options
	log  zerolog.Logger
	id   string

	state   stateMachine
	seq     *protocol.SeqCounter
	pending *pendingStore
	rx      *reassembler

	// reqMu serializes request/reply cycles; writeMu serializes port writes,
	// which the receive loop also does when answering the target.
	reqMu   sync.Mutex
	writeMu sync.Mutex

	evMu     sync.RWMutex
	evClosed bool
	events   chan Event
	dropped  atomic.Int64

	mu        sync.RWMutex
	connected bool
	source    Source
	bigEndian bool
	crc32     bool
	caps      *Capabilities
	flashMap  []protocol.FlashSector
	guard     *exclusive.Guard

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	// portLost is set when the receive loop ended because the port went
	// away. Only then may Connect bring the loop back.
	portLost atomic.Bool

	resolved  resolveCache
	endpoints *directory
}

// New creates an engine for port. Nothing is opened until Connect.
func New(port transport.Port, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	id := uuid.NewString()
	log := o.log.With().Str("port", port.InstanceID()).Str("session", id[:8]).Logger()
	e := &Engine{
		port:      port,
		opts:      o,
		log:       log,
		id:        id,
		seq:       protocol.NewSeqCounter(),
		pending:   newPendingStore(o.requestTTL),
		rx:        newReassembler(port, log),
		events:    make(chan Event, o.eventBuffer),
		endpoints: newDirectory(),
	}
	e.resolved.init()
	e.rx.nack = e.nack
	e.rx.strictPayloadCRC = e.SupportsCRC32
	return e
}

// Events returns the notification channel. It is closed by Dispose.
func (e *Engine) Events() <-chan Event { return e.events }

// DroppedEvents counts notifications lost because the channel was full.
func (e *Engine) DroppedEvents() int64 { return e.dropped.Load() }

func (e *Engine) State() State            { return e.state.get() }
func (e *Engine) Port() transport.Port    { return e.port }
func (e *Engine) SessionID() string       { return e.id }
func (e *Engine) Logger() *zerolog.Logger { return &e.log }

// IsConnected reports whether the last handshake succeeded and the port is
// still open.
func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected && e.port.IsConnected()
}

// Source returns who answered the last ping.
func (e *Engine) Source() Source {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.source
}

// IsBigEndian reports the target payload byte order.
func (e *Engine) IsBigEndian() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bigEndian
}

// SupportsCRC32 reports whether the target checksums payloads.
func (e *Engine) SupportsCRC32() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.crc32
}

func (e *Engine) order() protocol.ByteOrder {
	return protocol.OrderFor(e.IsBigEndian())
}

// start launches the receive loop and the pending request sweep.
func (e *Engine) start() error {
	if err := e.state.transition(Starting); err != nil {
		return err
	}
	return e.launch()
}

// restart brings back a receive loop that ended because the port went away.
func (e *Engine) restart() error {
	e.loopMu.Lock()
	done := e.loopDone
	e.loopMu.Unlock()
	if done != nil {
		<-done
	}
	if !e.state.revive() {
		return fmt.Errorf("%w: cannot restart from %s", ErrInvalidState, e.state.get())
	}
	e.portLost.Store(false)
	e.rx.reset()
	e.log.Debug().Msg("restarting receive loop")
	return e.launch()
}

func (e *Engine) launch() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.loopMu.Lock()
	e.loopCancel, e.loopDone = cancel, done
	e.loopMu.Unlock()
	go e.run(ctx, done)
	go e.sweep(ctx, done)
	if err := e.state.transition(Started); err != nil {
		cancel()
		return err
	}
	e.emit(Event{Kind: EventStateChanged, State: Started})
	return nil
}

// ensureRunning starts the loop on first use, revives a stop in progress and
// restarts a loop ended by a lost port.
func (e *Engine) ensureRunning() error {
	switch st := e.state.get(); {
	case st == NotStarted:
		return e.start()
	case (st == Started || st == Stopped) && e.portLost.Load():
		return e.restart()
	case st == Started:
		return nil
	case st == Stopping:
		return e.ResumeProcessing()
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, e.state.get())
}

// reopen reconnects the port if it went away and makes sure the receive loop
// is running.
func (e *Engine) reopen(ctx context.Context) error {
	if !e.port.IsConnected() {
		if err := e.port.Connect(ctx); err != nil {
			return err
		}
	}
	return e.ensureRunning()
}

// StopProcessing asks the receive loop to exit. Use WaitStopped to wait for
// it; ResumeProcessing can revoke the request until the loop notices.
func (e *Engine) StopProcessing() error {
	if err := e.state.transition(Stopping); err != nil {
		return err
	}
	e.emit(Event{Kind: EventStateChanged, State: Stopping})
	return nil
}

// ResumeProcessing cancels a pending StopProcessing.
func (e *Engine) ResumeProcessing() error {
	if !e.state.transitionFrom(Stopping, Resume) {
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidState, e.state.get())
	}
	if err := e.state.transition(Started); err != nil {
		return err
	}
	e.emit(Event{Kind: EventStateChanged, State: Started})
	return nil
}

// WaitStopped blocks until the receive loop has exited.
func (e *Engine) WaitStopped(ctx context.Context) error {
	e.loopMu.Lock()
	done := e.loopDone
	e.loopMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose stops the session, closes the port and releases exclusive access.
// It is safe to call more than once.
func (e *Engine) Dispose() error {
	if err := e.state.transition(Disposing); err != nil {
		return nil
	}
	e.loopMu.Lock()
	cancel, done := e.loopCancel, e.loopDone
	e.loopMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	e.pending.failAll(transport.ErrNotConnected)
	err := e.port.Disconnect(true)

	e.mu.Lock()
	e.connected = false
	guard := e.guard
	e.guard = nil
	e.mu.Unlock()
	if guard != nil {
		guard.Release()
	}

	_ = e.state.transition(Disposed)
	e.endpoints.closeAll()
	e.evMu.Lock()
	e.evClosed = true
	close(e.events)
	e.evMu.Unlock()
	e.log.Debug().Msg("engine disposed")
	return err
}

const rxLoopTimeout = 250 * time.Millisecond

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		if e.state.get() == Stopping && e.state.transitionFrom(Stopping, Stopped) {
			break
		}
		msg, err := e.rx.next(ctx, rxLoopTimeout)
		if noise := e.rx.takeNoise(); len(noise) > 0 {
			e.log.Trace().Int("bytes", len(noise)).Msg("spurious characters")
			e.emit(Event{Kind: EventNoise, Data: noise, Text: string(noise)})
		}
		if err != nil {
			if errors.Is(err, transport.ErrNotConnected) {
				e.portLost.Store(true)
				e.onDisconnect(err)
				break
			}
			if ctx.Err() != nil {
				break
			}
			e.log.Warn().Err(err).Msg("receive error")
			continue
		}
		if msg != nil {
			e.safeDispatch(msg)
		}
	}
	e.pending.failAll(transport.ErrNotConnected)
	if e.state.get() < Stopped {
		_ = e.state.transition(Stopped)
	}
	e.emit(Event{Kind: EventStateChanged, State: Stopped})
	e.log.Debug().Msg("receive loop exited")
}

func (e *Engine) onDisconnect(err error) {
	e.log.Info().Err(err).Msg("device disconnected")
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	e.emit(Event{Kind: EventProgramExit, Text: err.Error()})
	e.emit(Event{Kind: EventDisconnected, Text: err.Error()})
}

// safeDispatch keeps one malformed message from ending the session.
func (e *Engine) safeDispatch(msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Stringer("header", msg.Header).Msg("dispatch failed")
		}
	}()
	if err := e.dispatch(msg); err != nil {
		e.log.Warn().Err(err).Stringer("header", msg.Header).Msg("dispatch failed")
	}
}

func (e *Engine) dispatch(msg *protocol.Message) error {
	h := msg.Header
	if h.IsReply() {
		if e.pending.complete(h.Cmd, h.SeqReply, msg) {
			return nil
		}
		e.log.Debug().Stringer("header", h).Msg("reply without pending request")
		e.emit(Event{Kind: EventUnsolicited, Message: msg})
		return nil
	}

	rec, err := protocol.Decode(h.Cmd, false, msg.Payload, e.order())
	if err != nil {
		return err
	}
	msg.Record = rec

	switch h.Cmd {
	case protocol.CmdPing:
		return e.reply(h, 0, &protocol.Ping{Source: protocol.PingSourceHost})
	case protocol.CmdMessage:
		text := ""
		if m, ok := rec.(*protocol.TextMessage); ok {
			text = m.Text
		}
		e.emit(Event{Kind: EventMessage, Text: text, Message: msg})
	case protocol.CmdProgramExit:
		e.emit(Event{Kind: EventProgramExit, Message: msg})
	case protocol.CmdMessagingQuery, protocol.CmdMessagingSend, protocol.CmdMessagingReply:
		return e.handleMessaging(msg)
	default:
		e.emit(Event{Kind: EventUnsolicited, Message: msg})
	}
	return nil
}

func (e *Engine) sweep(ctx context.Context, done <-chan struct{}) {
	t := time.NewTicker(e.opts.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-t.C:
			e.sweepOnce()
		}
	}
}

func (e *Engine) sweepOnce() {
	if n := e.pending.sweep(); n > 0 {
		e.log.Debug().Int("count", n).Msg("expired pending requests")
	}
}

// reply answers a request from the target.
func (e *Engine) reply(req protocol.Header, flags protocol.Flags, rec protocol.Record) error {
	h := protocol.Header{
		Marker:   protocol.MarkerPacket,
		Cmd:      req.Cmd,
		Seq:      e.seq.Next(),
		SeqReply: req.Seq,
		Flags:    protocol.FlagReply | flags,
	}
	_, err := e.write(context.Background(), protocol.Encode(h, protocol.Marshal(rec, e.order()), true), e.opts.timeout)
	return err
}

func (e *Engine) nack(req protocol.Header, reason protocol.Flags) {
	if err := e.reply(req, protocol.FlagNACK|reason, nil); err != nil {
		e.log.Debug().Err(err).Msg("sending NACK")
	}
}

func (e *Engine) write(ctx context.Context, b []byte, timeout time.Duration) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.port.Send(ctx, b, timeout)
}
