package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nanoframework/nf-debugger-sub001/internal/exclusive"
)

// Defaults for the request/reply cycle.
const (
	DefaultTimeout        = time.Second
	DefaultRetries        = 3
	DefaultRetryDelay     = 100 * time.Millisecond
	DefaultRequestTTL     = 20 * time.Second
	DefaultSweepInterval  = time.Second
	DefaultRebootSettle   = time.Second
	DefaultAccessTimeout  = 5 * time.Second
	DefaultMaxPacketSize  = 1024
	DefaultBooterAttempts = 40
)

type options struct {
	log            zerolog.Logger
	timeout        time.Duration
	retries        int
	retryDelay     time.Duration
	requestTTL     time.Duration
	sweepInterval  time.Duration
	rebootSettle   time.Duration
	access         *exclusive.Registry
	accessTimeout  time.Duration
	maxPacketSize  int
	booterAttempts int
	eventBuffer    int
}

func defaultOptions() options {
	return options{
		log:            zerolog.Nop(),
		timeout:        DefaultTimeout,
		retries:        DefaultRetries,
		retryDelay:     DefaultRetryDelay,
		requestTTL:     DefaultRequestTTL,
		sweepInterval:  DefaultSweepInterval,
		rebootSettle:   DefaultRebootSettle,
		accessTimeout:  DefaultAccessTimeout,
		maxPacketSize:  DefaultMaxPacketSize,
		booterAttempts: DefaultBooterAttempts,
		eventBuffer:    256,
	}
}

// Option configures an Engine.
type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithTimeout sets how long one attempt waits for its reply.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetries sets the number of attempts per request.
func WithRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.retries = n
		}
	}
}

// WithRetryDelay sets the linear backoff base: attempt n waits n*d.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithRequestTTL sets when the sweep drops a pending request.
func WithRequestTTL(d time.Duration) Option {
	return func(o *options) { o.requestTTL = d }
}

func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithRebootSettle sets the pause after a reboot command before listening.
func WithRebootSettle(d time.Duration) Option {
	return func(o *options) { o.rebootSettle = d }
}

// WithExclusiveAccess makes Connect take the port's exclusive lock.
func WithExclusiveAccess(r *exclusive.Registry, timeout time.Duration) Option {
	return func(o *options) {
		o.access = r
		if timeout > 0 {
			o.accessTimeout = timeout
		}
	}
}

// WithMaxPacketSize bounds the payload of a single memory transfer.
func WithMaxPacketSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPacketSize = n
		}
	}
}

// WithBooterAttempts sets how many pings wait for nanoBooter after a reboot.
func WithBooterAttempts(n int) Option {
	return func(o *options) { o.booterAttempts = n }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}
