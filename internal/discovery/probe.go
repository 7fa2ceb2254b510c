package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/devicecache"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/exclusive"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// ErrNoDevice is returned when no baud rate produced a valid handshake.
var ErrNoDevice = errors.New("no nanoFramework device answered")

// Probe validates one port and returns the device with a connected engine.
// Concurrent probes of the same port share one attempt. A port that fails
// is retried once after the boot settle delay; a stale cache entry is
// dropped before that retry.
func (m *Manager) Probe(ctx context.Context, info transport.PortInfo) (*Device, error) {
	v, err, _ := m.probes.Do(info.Name, func() (any, error) {
		return m.probeWithRetry(ctx, info)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Device), nil
}

func (m *Manager) probeWithRetry(ctx context.Context, info transport.PortInfo) (*Device, error) {
	dev, err := m.attempt(ctx, info)
	if err == nil || !retryable(ctx, err) {
		return dev, err
	}
	m.forget(ctx, info.Name)

	delay := m.opts.bootSettle + m.jitter()
	m.log.Debug().Err(err).Str("port", info.Name).Dur("delay", delay).Msg("probe failed, retrying")
	t := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		t.Stop()
		return nil, ctx.Err()
	case <-t.C:
	}

	dev, err = m.attempt(ctx, info)
	if err != nil {
		m.forget(ctx, info.Name)
	}
	return dev, err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, exclusive.ErrTimeout) && !errors.Is(err, transport.ErrAccessDenied)
}

func (m *Manager) jitter() time.Duration {
	span := m.opts.jitterMax - m.opts.jitterMin
	if span <= 0 {
		return m.opts.jitterMin
	}
	return m.opts.jitterMin + rand.N(span)
}

func (m *Manager) forget(ctx context.Context, port string) {
	if m.opts.cache == nil {
		return
	}
	if err := m.opts.cache.Remove(ctx, port); err != nil {
		m.log.Warn().Err(err).Str("port", port).Msg("removing cache entry")
	}
}

func (m *Manager) cached(port string) (devicecache.Entry, bool) {
	if m.opts.cache == nil {
		return devicecache.Entry{}, false
	}
	return m.opts.cache.Get(port)
}

// attempt opens the port once and walks the baud list until a handshake
// and identity query succeed.
func (m *Manager) attempt(ctx context.Context, info transport.PortInfo) (*Device, error) {
	addr, err := transport.ParseAddress(info.Name)
	if err != nil {
		return nil, err
	}
	entry, hit := m.cached(info.Name)

	bauds := m.opts.baudRates
	if hit && entry.BaudRate > 0 {
		bauds = []int{entry.BaudRate}
	}
	if addr.Kind != transport.KindSerial {
		bauds = []int{0}
	}

	port, err := m.opts.open(addr, bauds[0])
	if err != nil {
		return nil, err
	}
	opts := append([]engine.Option{engine.WithLogger(m.log)}, m.opts.engineOpts...)
	if m.opts.access != nil {
		opts = append(opts, engine.WithExclusiveAccess(m.opts.access, 0))
	}
	eng := engine.New(port, opts...)

	var lastErr error
	for _, baud := range bauds {
		if bs, ok := port.(transport.BaudSetter); ok && baud > 0 {
			if err := bs.SetBaudRate(baud); err != nil {
				lastErr = err
				continue
			}
		}
		log := m.log.With().Str("port", info.Name).Int("baud", baud).Logger()
		err := eng.Connect(ctx, engine.ConnectOptions{
			SkipCapabilities: hit,
			Retries:          1,
			Timeout:          m.opts.probeTimeout,
		})
		if err != nil {
			lastErr = err
			if !errors.Is(err, engine.ErrNoReply) {
				break
			}
			log.Debug().Err(err).Msg("no handshake")
			continue
		}

		id, err := eng.Identity(ctx)
		if err != nil {
			lastErr = fmt.Errorf("identity: %w", err)
			break
		}
		if id.TargetName == "" {
			lastErr = fmt.Errorf("identity: empty target name")
			break
		}

		if m.opts.cache != nil {
			if err := m.opts.cache.Put(ctx, info.Name, devicecache.Entry{
				TargetName:   id.TargetName,
				PlatformName: id.PlatformName,
				BaudRate:     baud,
			}); err != nil {
				log.Warn().Err(err).Msg("updating device cache")
			}
		}
		log.Debug().Str("target", id.TargetName).Stringer("source", eng.Source()).Msg("device validated")
		return &Device{
			Port:     info.Name,
			Kind:     addr.Kind,
			Info:     info,
			BaudRate: baud,
			Identity: *id,
			Engine:   eng,
			Arrived:  time.Now(),
		}, nil
	}

	_ = eng.Dispose()
	if lastErr == nil || errors.Is(lastErr, engine.ErrNoReply) {
		return nil, fmt.Errorf("%s: %w", info.Name, ErrNoDevice)
	}
	return nil, fmt.Errorf("%s: %w", info.Name, lastErr)
}
