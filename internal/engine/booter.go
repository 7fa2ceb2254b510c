package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

const booterPollInterval = 250 * time.Millisecond

// ConnectToNanoBooter makes sure nanoBooter is answering, rebooting into it
// if needed and polling with pings until it shows up. The port is reopened
// on every attempt since the target may re-enumerate while it reboots.
func (e *Engine) ConnectToNanoBooter(ctx context.Context) error {
	if e.Source() == SourceNanoBooter && e.IsConnected() {
		return nil
	}
	if err := e.Reboot(ctx, protocol.RebootEnterNanoBooter); err != nil {
		return fmt.Errorf("%w: %v", ErrNotBooter, err)
	}
	c := e.defaultCall()
	c.retries = 1
	var last error
	for attempt := 1; attempt <= e.opts.booterAttempts; attempt++ {
		res, err := e.pingBooter(ctx, c)
		if err == nil && res.Source == SourceNanoBooter {
			e.setConnected(true)
			e.log.Debug().Int("attempt", attempt).Msg("nanoBooter is answering")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrInvalidState) && e.state.get() >= Disposing {
			return fmt.Errorf("%w: %v", ErrNotBooter, err)
		}
		if err != nil {
			last = err
			e.log.Debug().Err(err).Int("attempt", attempt).Msg("waiting for nanoBooter")
		}
		if err := sleepCtx(ctx, booterPollInterval); err != nil {
			return err
		}
	}
	if last != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrNotBooter, e.opts.booterAttempts, last)
	}
	return fmt.Errorf("%w after %d attempts", ErrNotBooter, e.opts.booterAttempts)
}

func (e *Engine) pingBooter(ctx context.Context, c call) (*PingResult, error) {
	if err := e.reopen(ctx); err != nil {
		return nil, err
	}
	return e.ping(ctx, c)
}
