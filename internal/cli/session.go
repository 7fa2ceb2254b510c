package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/nanoframework/nf-debugger-sub001/internal/ble"
	"github.com/nanoframework/nf-debugger-sub001/internal/config"
	"github.com/nanoframework/nf-debugger-sub001/internal/devicecache"
	"github.com/nanoframework/nf-debugger-sub001/internal/discovery"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/exclusive"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// exclusiveTimeout bounds the wait for another process holding a port.
const exclusiveTimeout = 10 * time.Second

// session holds what every device command needs after flag parsing.
type session struct {
	cfg config.Config
	log zerolog.Logger
	reg *exclusive.Registry
}

func (g *CLI) session() (*session, error) {
	log := config.SetupLogging(g.Verbose, os.Stderr)

	path := g.Config
	if path == "" {
		path = config.Find()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		log.Debug().Str("path", path).Msg("loaded config")
	}

	reg, err := exclusive.NewRegistry(exclusive.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, reg: reg}, nil
}

func (s *session) engineOptions() []engine.Option {
	return []engine.Option{
		engine.WithLogger(s.log),
		engine.WithTimeout(s.cfg.Engine.Timeout()),
		engine.WithRetries(s.cfg.Engine.Retries),
		engine.WithRetryDelay(s.cfg.Engine.RetryDelay()),
		engine.WithRequestTTL(s.cfg.Engine.RequestTTL()),
		engine.WithExclusiveAccess(s.reg, exclusiveTimeout),
	}
}

// open creates an unconnected port for any address kind.
func (s *session) open(addr transport.Address, baud int) (transport.Port, error) {
	if addr.Kind == transport.KindBLE {
		return ble.NewPort(addr.Target, s.log), nil
	}
	return transport.Open(addr, baud, s.log)
}

// deviceCache opens the persistent device cache. The returned func closes
// the database.
func (s *session) deviceCache(ctx context.Context) (*devicecache.Cache, func(), error) {
	path := s.cfg.Cache.Path
	if path == "" {
		p, err := devicecache.DefaultPath()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}
	store, err := devicecache.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	cache, err := devicecache.Open(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return cache, func() { _ = store.Close() }, nil
}

func (s *session) manager(cache *devicecache.Cache) *discovery.Manager {
	opts := []discovery.Option{
		discovery.WithLogger(s.log),
		discovery.WithPollInterval(s.cfg.Serial.PollInterval()),
		discovery.WithBaudRates(s.cfg.Serial.BaudRates...),
		discovery.WithBootSettle(s.cfg.Serial.BootSettle(), 0, 500*time.Millisecond),
		discovery.WithExclusions(s.cfg.Serial.Exclude...),
		discovery.WithBlockedUSB(s.cfg.Serial.BlockedUSB...),
		discovery.WithNetworkDevices(s.cfg.Network.Devices...),
		discovery.WithExclusiveAccess(s.reg),
		discovery.WithEngineOptions(s.engineOptions()...),
		discovery.WithOpener(s.open),
	}
	if cache != nil {
		opts = append(opts, discovery.WithCache(cache))
	}
	if _, err := os.Stat("/dev"); err == nil {
		opts = append(opts, discovery.WithWatchDir("/dev"))
	}
	return discovery.NewManager(transport.ListSerialPorts, opts...)
}

// connect returns a connected engine for --port, or for the single device
// discovery finds. The returned func disposes it.
func (g *CLI) connect(ctx context.Context) (*engine.Engine, *session, func(), error) {
	s, err := g.session()
	if err != nil {
		return nil, nil, nil, err
	}
	if g.Port == "" {
		e, done, err := s.discoverOne(ctx)
		return e, s, done, err
	}

	addr, err := transport.ParseAddress(g.Port)
	if err != nil {
		return nil, nil, nil, err
	}
	rates := []int{0}
	if addr.Kind == transport.KindSerial {
		rates = s.cfg.Serial.BaudRates
		if g.Baud > 0 {
			rates = []int{g.Baud}
		}
		if len(rates) == 0 {
			rates = []int{transport.DefaultBaudRate}
		}
	}

	port, err := s.open(addr, rates[0])
	if err != nil {
		return nil, nil, nil, err
	}
	e := engine.New(port, s.engineOptions()...)
	for _, baud := range rates {
		if bs, ok := port.(transport.BaudSetter); ok && baud > 0 {
			if err = bs.SetBaudRate(baud); err != nil {
				break
			}
		}
		if err = e.Connect(ctx, engine.ConnectOptions{}); err == nil {
			return e, s, func() { _ = e.Dispose() }, nil
		}
		if errors.Is(err, exclusive.ErrTimeout) || ctx.Err() != nil {
			break
		}
		s.log.Debug().Err(err).Int("baud", baud).Msg("no answer")
	}
	_ = e.Dispose()
	return nil, nil, nil, err
}

// discoverOne enumerates devices once and returns the only one found.
func (s *session) discoverOne(ctx context.Context) (*engine.Engine, func(), error) {
	cache, closeCache, err := s.deviceCache(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("device cache unavailable")
		cache, closeCache = nil, func() {}
	}
	m := s.manager(cache)
	if err := m.Start(ctx); err != nil {
		closeCache()
		return nil, nil, err
	}
	if err := waitEnumerated(ctx, m); err != nil {
		m.Close()
		closeCache()
		return nil, nil, err
	}
	m.Stop()

	devs := m.Devices()
	switch len(devs) {
	case 0:
		m.Close()
		closeCache()
		return nil, nil, errors.New("no nanoFramework device found")
	case 1:
		return devs[0].Engine, func() { m.Close(); closeCache() }, nil
	}
	m.Close()
	closeCache()
	return nil, nil, fmt.Errorf("%d devices found, select one with --port", len(devs))
}

func waitEnumerated(ctx context.Context, m *discovery.Manager) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.Events():
			if !ok {
				return errors.New("discovery closed")
			}
			if ev.Kind == discovery.EnumerationComplete {
				return nil
			}
		}
	}
}

func interactive() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}
