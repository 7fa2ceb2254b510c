package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// PingResult describes the endpoint that answered a ping.
type PingResult struct {
	Source        Source
	BigEndian     bool
	SupportsCRC32 bool
}

// Ping checks that the target answers and records who it is.
func (e *Engine) Ping(ctx context.Context) (*PingResult, error) {
	return e.ping(ctx, e.defaultCall())
}

func (e *Engine) ping(ctx context.Context, c call) (*PingResult, error) {
	msg, err := e.roundTrip(ctx, protocol.CmdPing, &protocol.Ping{Source: protocol.PingSourceHost}, c)
	if err != nil {
		return nil, err
	}
	res, err := parsePingReply(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("ping: %w: %v", ErrNoReply, err)
	}
	e.mu.Lock()
	e.source = res.Source
	e.bigEndian = res.BigEndian
	e.crc32 = res.SupportsCRC32
	e.mu.Unlock()
	return res, nil
}

// parsePingReply reads the flags first: the big-endian flag value is the
// same in both byte orders, and it decides how to read the rest.
func parsePingReply(payload []byte) (*PingResult, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: ping reply has %d bytes", protocol.ErrShortPayload, len(payload))
	}
	rawFlags := binary.LittleEndian.Uint32(payload[4:])
	big := rawFlags&protocol.PingFlagBigEndian == protocol.PingFlagBigEndian

	var p protocol.Ping
	if err := protocol.Unmarshal(payload, &p, protocol.OrderFor(big)); err != nil {
		return nil, err
	}
	res := &PingResult{
		BigEndian:     big,
		SupportsCRC32: p.Flags&protocol.PingFlagSupportsCRC32 != 0,
	}
	switch p.Source {
	case protocol.PingSourceNanoCLR:
		res.Source = SourceNanoCLR
	case protocol.PingSourceNanoBooter:
		res.Source = SourceNanoBooter
	}
	return res, nil
}

// ConnectOptions tune Connect.
type ConnectOptions struct {
	// ForceCapabilities re-runs capability discovery even when cached.
	ForceCapabilities bool
	// SkipCapabilities connects without capability discovery.
	SkipCapabilities bool
	// Retries overrides the ping attempts; zero keeps the engine default.
	Retries int
	// Timeout overrides the per-attempt ping timeout, for quick probes.
	Timeout time.Duration
}

// Connect takes exclusive access, opens the port, starts the receive loop and
// performs the handshake. On failure IsConnected stays false and the engine
// can be retried or disposed. A session that lost its port can connect again;
// one stopped with StopProcessing cannot.
func (e *Engine) Connect(ctx context.Context, co ConnectOptions) error {
	if st := e.state.get(); st >= Stopped && !(st == Stopped && e.portLost.Load()) {
		return fmt.Errorf("connect: %w: %s", ErrInvalidState, e.state.get())
	}
	if err := e.acquire(ctx); err != nil {
		return err
	}
	if err := e.port.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", e.port.InstanceID(), err)
	}
	if err := e.ensureRunning(); err != nil {
		return err
	}

	c := e.defaultCall()
	if co.Retries > 0 {
		c.retries = co.Retries
	}
	if co.Timeout > 0 {
		c.timeout = co.Timeout
	}
	res, err := e.ping(ctx, c)
	if err != nil {
		e.setConnected(false)
		return fmt.Errorf("connect %s: %w", e.port.InstanceID(), err)
	}
	e.setConnected(true)
	e.log.Debug().Stringer("source", res.Source).Bool("big_endian", res.BigEndian).Bool("crc32", res.SupportsCRC32).Msg("handshake complete")

	if res.Source != SourceNanoCLR || co.SkipCapabilities {
		return nil
	}
	if e.Capabilities() != nil && !co.ForceCapabilities {
		return nil
	}
	caps, err := e.discoverCapabilities(ctx)
	if err != nil {
		e.setConnected(false)
		return fmt.Errorf("connect %s: capability discovery: %w", e.port.InstanceID(), err)
	}
	e.mu.Lock()
	e.caps = caps
	e.mu.Unlock()
	return nil
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.opts.access == nil {
		return nil
	}
	e.mu.RLock()
	held := e.guard != nil
	e.mu.RUnlock()
	if held {
		return nil
	}
	guard, _, err := e.opts.access.Acquire(ctx, e.port.InstanceID(), e.opts.accessTimeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", e.port.InstanceID(), err)
	}
	e.mu.Lock()
	e.guard = guard
	e.mu.Unlock()
	return nil
}

func (e *Engine) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

// Capabilities is what capability discovery learned about a nanoCLR target.
type Capabilities struct {
	Flags            uint32
	Software         protocol.SoftwareVersion
	HalSystem        protocol.HalSystemInfo
	CLR              protocol.ClrInfo
	Solution         protocol.SolutionReleaseInfo
	NativeAssemblies []protocol.NativeAssembly
}

// Has reports whether the target advertises a Cap* flag.
func (c *Capabilities) Has(flag uint32) bool {
	return c != nil && c.Flags&flag == flag
}

// Capabilities returns the cached discovery result, or nil.
func (e *Engine) Capabilities() *Capabilities {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.caps
}

// discoverCapabilities queries each capability kind in turn. Any failure
// aborts the whole discovery.
func (e *Engine) discoverCapabilities(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{}
	steps := []struct {
		kind  uint32
		apply func(protocol.Record)
	}{
		{protocol.CapabilityFlags, func(r protocol.Record) { caps.Flags = r.(*protocol.CapabilityFlagsReply).Flags }},
		{protocol.CapabilitySoftwareVersion, func(r protocol.Record) { caps.Software = *r.(*protocol.SoftwareVersion) }},
		{protocol.CapabilityHalSystemInfo, func(r protocol.Record) { caps.HalSystem = *r.(*protocol.HalSystemInfo) }},
		{protocol.CapabilityClrInfo, func(r protocol.Record) { caps.CLR = *r.(*protocol.ClrInfo) }},
		{protocol.CapabilitySolutionReleaseInfo, func(r protocol.Record) { caps.Solution = *r.(*protocol.SolutionReleaseInfo) }},
		{protocol.CapabilityNativeAssemblies, func(r protocol.Record) {
			caps.NativeAssemblies = r.(*protocol.NativeAssemblies).Assemblies
		}},
	}
	for _, s := range steps {
		rec, err := e.QueryCapability(ctx, s.kind)
		if err != nil {
			return nil, err
		}
		s.apply(rec)
	}
	return caps, nil
}

// QueryCapability issues one capability query and decodes the reply.
func (e *Engine) QueryCapability(ctx context.Context, kind uint32) (protocol.Record, error) {
	raw, err := request[*protocol.RawReply](ctx, e, protocol.CmdQueryCapabilities, &protocol.QueryCapabilities{Kind: kind}, e.defaultCall())
	if err != nil {
		return nil, err
	}
	rec, err := protocol.DecodeCapability(kind, raw.Data, e.order())
	if err != nil {
		return nil, fmt.Errorf("capability %d: %w: %v", kind, ErrNoReply, err)
	}
	return rec, nil
}
