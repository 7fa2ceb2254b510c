package discovery

import (
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanoframework/nf-debugger-sub001/internal/devicecache"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/exclusive"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// Defaults for the serial watcher and probes.
const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultBootSettle   = time.Second
	DefaultProbeTimeout = 500 * time.Millisecond
	DefaultJitterMin    = 200 * time.Millisecond
	DefaultJitterMax    = 600 * time.Millisecond
)

// DefaultBaudRates is the probe order, fastest first.
var DefaultBaudRates = []int{921600, 460800, 115200}

// Lister returns the serial ports currently present.
type Lister func() ([]transport.PortInfo, error)

// Opener creates an unopened port for an address at a starting baud rate.
type Opener func(addr transport.Address, baud int) (transport.Port, error)

type options struct {
	log          zerolog.Logger
	pollInterval time.Duration
	bootSettle   time.Duration
	probeTimeout time.Duration
	jitterMin    time.Duration
	jitterMax    time.Duration
	baudRates    []int
	exclude      map[string]bool
	blockedUSB   map[string]bool
	network      []string
	watchDir     string
	cache        *devicecache.Cache
	access       *exclusive.Registry
	engineOpts   []engine.Option
	open         Opener
	eventBuffer  int
}

func defaultOptions() options {
	o := options{
		log:          zerolog.Nop(),
		pollInterval: DefaultPollInterval,
		bootSettle:   DefaultBootSettle,
		probeTimeout: DefaultProbeTimeout,
		jitterMin:    DefaultJitterMin,
		jitterMax:    DefaultJitterMax,
		baudRates:    DefaultBaudRates,
		exclude:      map[string]bool{},
		blockedUSB:   map[string]bool{},
		eventBuffer:  64,
	}
	if runtime.GOOS == "linux" {
		o.watchDir = "/dev"
	}
	return o
}

// Option configures a Manager.
type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithPollInterval sets how often the port list is diffed.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithBaudRates sets the probe order.
func WithBaudRates(rates ...int) Option {
	return func(o *options) {
		if len(rates) > 0 {
			o.baudRates = rates
		}
	}
}

// WithBootSettle sets the fixed part of the delay before a failed probe is
// retried. A random jitter between min and max is added on top.
func WithBootSettle(settle, jitterMin, jitterMax time.Duration) Option {
	return func(o *options) {
		o.bootSettle = settle
		o.jitterMin = jitterMin
		o.jitterMax = max(jitterMin, jitterMax)
	}
}

// WithProbeTimeout bounds each handshake ping during probing.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) { o.probeTimeout = d }
}

// WithExclusions skips ports by name.
func WithExclusions(names ...string) Option {
	return func(o *options) {
		for _, n := range names {
			o.exclude[n] = true
		}
	}
}

// WithBlockedUSB skips USB devices by "VID:PID".
func WithBlockedUSB(ids ...string) Option {
	return func(o *options) {
		for _, id := range ids {
			o.blockedUSB[strings.ToUpper(strings.TrimSpace(id))] = true
		}
	}
}

// WithNetworkDevices adds static "host:port" endpoints probed once per scan.
func WithNetworkDevices(hostports ...string) Option {
	return func(o *options) { o.network = append(o.network, hostports...) }
}

// WithWatchDir sets the directory watched for device node changes. An
// empty dir disables watching; polling still runs.
func WithWatchDir(dir string) Option {
	return func(o *options) { o.watchDir = dir }
}

// WithCache remembers identities and baud rates between probes.
func WithCache(c *devicecache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithExclusiveAccess makes probes take the port lock.
func WithExclusiveAccess(r *exclusive.Registry) Option {
	return func(o *options) { o.access = r }
}

// WithEngineOptions passes options to every engine the manager creates.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// WithOpener replaces how ports are created.
func WithOpener(fn Opener) Option {
	return func(o *options) { o.open = fn }
}

func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}
