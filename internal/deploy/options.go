package deploy

import "github.com/rs/zerolog"

type options struct {
	log      zerolog.Logger
	strategy Strategy
	firmware bool
	verify   bool
	reboot   bool
	progress func(Progress)
}

func defaultOptions() options {
	return options{log: zerolog.Nop(), verify: true}
}

// Option configures a Deployer.
type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithStrategy(s Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithFirmware targets the nanoCLR code sectors. The target is switched to
// nanoBooter first.
func WithFirmware(v bool) Option {
	return func(o *options) { o.firmware = v }
}

// WithVerify reads written blocks back. On by default.
func WithVerify(v bool) Option {
	return func(o *options) { o.verify = v }
}

// WithReboot restarts nanoCLR after a successful deployment.
func WithReboot(v bool) Option {
	return func(o *options) { o.reboot = v }
}

// WithProgress receives progress reports. The callback runs on the
// deploying goroutine and should return quickly.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.progress = fn }
}
