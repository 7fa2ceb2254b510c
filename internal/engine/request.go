package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// call holds per-request overrides of the engine defaults.
type call struct {
	timeout time.Duration
	retries int
	flags   protocol.Flags
	// settle is waited after the first send, before listening for a reply.
	settle time.Duration
	// noReply sends once and returns without waiting.
	noReply bool
}

func (e *Engine) defaultCall() call {
	return call{timeout: e.opts.timeout, retries: e.opts.retries}
}

// roundTrip sends one command and waits for its reply, retrying with linear
// backoff. Requests are serialized per engine.
func (e *Engine) roundTrip(ctx context.Context, cmd uint32, req protocol.Record, c call) (*protocol.Message, error) {
	if st := e.state.get(); st != Started {
		return nil, fmt.Errorf("%s: %w: %s", protocol.CommandName(cmd), ErrInvalidState, st)
	}
	if !e.port.IsConnected() {
		return nil, fmt.Errorf("%s: %w", protocol.CommandName(cmd), transport.ErrNotConnected)
	}

	e.reqMu.Lock()
	defer e.reqMu.Unlock()

	payload := protocol.Marshal(req, e.order())
	name := protocol.CommandName(cmd)

	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, time.Duration(attempt-1)*e.opts.retryDelay); err != nil {
				return nil, err
			}
		}

		h := protocol.Header{Marker: protocol.MarkerPacket, Cmd: cmd, Seq: e.seq.Next(), Flags: c.flags}
		var pr *pendingRequest
		if !c.noReply {
			var err error
			pr, err = e.pending.add(cmd, h.Seq, ctx.Done())
			if err != nil {
				return nil, err
			}
		}

		e.log.Trace().Str("cmd", name).Uint16("seq", h.Seq).Int("attempt", attempt).Msg("tx")
		if _, err := e.write(ctx, protocol.Encode(h, payload, true), c.timeout); err != nil {
			if pr != nil {
				e.pending.remove(pr)
			}
			if errors.Is(err, transport.ErrNotConnected) || ctx.Err() != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			e.log.Debug().Err(err).Str("cmd", name).Int("attempt", attempt).Msg("send failed")
			continue
		}
		if c.noReply {
			return nil, nil
		}

		if c.settle > 0 && attempt == 1 {
			if err := sleepCtx(ctx, c.settle); err != nil {
				e.pending.remove(pr)
				return nil, err
			}
		}

		msg, err := e.await(ctx, pr, c.timeout)
		if err != nil {
			if errors.Is(err, transport.ErrNotConnected) || ctx.Err() != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			e.log.Debug().Err(err).Str("cmd", name).Int("attempt", attempt).Msg("no reply")
			continue
		}
		if msg.Header.Flags.Has(protocol.FlagNACK) {
			e.log.Debug().Str("cmd", name).Stringer("flags", msg.Header.Flags).Msg("request rejected")
			continue
		}
		return msg, nil
	}
	return nil, fmt.Errorf("%s: %w after %d attempts", name, ErrNoReply, c.retries)
}

var errAttemptTimeout = errors.New("attempt timed out")

func (e *Engine) await(ctx context.Context, pr *pendingRequest, timeout time.Duration) (*protocol.Message, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case res := <-pr.done:
		return res.msg, res.err
	case <-t.C:
		e.pending.remove(pr)
		return nil, errAttemptTimeout
	case <-ctx.Done():
		e.pending.remove(pr)
		return nil, ctx.Err()
	}
}

// request performs a round trip and decodes the reply into the record type
// registered for cmd.
func request[T protocol.Record](ctx context.Context, e *Engine, cmd uint32, req protocol.Record, c call) (T, error) {
	var zero T
	msg, err := e.roundTrip(ctx, cmd, req, c)
	if err != nil {
		return zero, err
	}
	rec, ok := protocol.NewRecord(cmd, true).(T)
	if !ok {
		return zero, fmt.Errorf("%s: no reply codec", protocol.CommandName(cmd))
	}
	if err := protocol.Unmarshal(msg.Payload, rec, e.order()); err != nil {
		return zero, fmt.Errorf("%s: %w: %v", protocol.CommandName(cmd), ErrNoReply, err)
	}
	return rec, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
