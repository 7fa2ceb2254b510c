package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
	"github.com/nanoframework/nf-debugger-sub001/internal/transport"
)

// MaxWriteChunk is the largest payload sent in one WriteMemory packet.
const MaxWriteChunk = 1024

// Empirical erase durations for common flash sector sizes.
const (
	eraseTime16K  = 500 * time.Millisecond
	eraseTime64K  = 1100 * time.Millisecond
	eraseTime128K = 2000 * time.Millisecond
)

// EraseTimeout estimates how long the target needs to erase length bytes.
// Sizes beyond 128KB scale linearly from the 128KB timing.
func EraseTimeout(length uint32) time.Duration {
	switch {
	case length <= 16*1024:
		return eraseTime16K
	case length <= 64*1024:
		return eraseTime64K
	case length <= 128*1024:
		return eraseTime128K
	}
	const per = 128 * 1024
	ms := (uint64(length)*uint64(eraseTime128K/time.Millisecond) + per - 1) / per
	return time.Duration(ms) * time.Millisecond
}

// ReadMemory reads length bytes at address, split into packet-sized chunks.
func (e *Engine) ReadMemory(ctx context.Context, address, length uint32) ([]byte, error) {
	out := make([]byte, 0, length)
	chunk := uint32(e.opts.maxPacketSize)
	for uint32(len(out)) < length {
		addr := address + uint32(len(out))
		n := min(length-uint32(len(out)), chunk)
		reply, err := request[*protocol.ReadMemoryReply](ctx, e, protocol.CmdReadMemory,
			&protocol.MemoryRange{Address: addr, Length: n}, e.defaultCall())
		if err != nil {
			return out, err
		}
		if reply.ErrorCode != protocol.AccessMemoryOK {
			return out, &DeviceError{Op: "read", Address: addr, Code: reply.ErrorCode}
		}
		if len(reply.Data) == 0 {
			return out, fmt.Errorf("read at 0x%08X: %w: empty reply", addr, ErrNoReply)
		}
		if uint32(len(reply.Data)) > n {
			reply.Data = reply.Data[:n]
		}
		out = append(out, reply.Data...)
	}
	return out, nil
}

// WriteMemory writes data at address in chunks of at most MaxWriteChunk
// bytes. A device-side failure is returned as *DeviceError; anything else
// is a communication failure.
func (e *Engine) WriteMemory(ctx context.Context, address uint32, data []byte) error {
	chunk := min(MaxWriteChunk, e.opts.maxPacketSize)
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		addr := address + uint32(off)
		reply, err := request[*protocol.ErrorCodeReply](ctx, e, protocol.CmdWriteMemory,
			&protocol.WriteMemory{Address: addr, Data: data[off:end]}, e.defaultCall())
		if err != nil {
			return fmt.Errorf("write at 0x%08X: %w", addr, err)
		}
		if reply.ErrorCode != protocol.AccessMemoryOK {
			return &DeviceError{Op: "write", Address: addr, Code: reply.ErrorCode}
		}
	}
	return nil
}

// EraseMemory erases the flash range. The reply timeout grows with the
// range size.
func (e *Engine) EraseMemory(ctx context.Context, address, length uint32) error {
	c := e.defaultCall()
	c.timeout = max(c.timeout, EraseTimeout(length))
	reply, err := request[*protocol.ErrorCodeReply](ctx, e, protocol.CmdEraseMemory,
		&protocol.MemoryRange{Address: address, Length: length}, c)
	if err != nil {
		return fmt.Errorf("erase at 0x%08X: %w", address, err)
	}
	if reply.ErrorCode != protocol.AccessMemoryOK {
		return &DeviceError{Op: "erase", Address: address, Code: reply.ErrorCode}
	}
	return nil
}

// CheckMemory returns the target's CRC32 over the range.
func (e *Engine) CheckMemory(ctx context.Context, address, length uint32) (uint32, error) {
	reply, err := request[*protocol.CheckMemoryReply](ctx, e, protocol.CmdCheckMemory,
		&protocol.MemoryRange{Address: address, Length: length}, e.defaultCall())
	if err != nil {
		return 0, err
	}
	return reply.CRC, nil
}

// Execute starts code at address.
func (e *Engine) Execute(ctx context.Context, address uint32) error {
	_, err := e.roundTrip(ctx, protocol.CmdExecute, &protocol.Execute{Address: address}, e.defaultCall())
	return err
}

// Reboot restarts the target with a combination of protocol.Reboot* options.
// The target usually goes away before answering, so a missing reply is not
// an error, and neither is the port dropping once the request went out (USB
// targets re-enumerate). The session is marked disconnected until the next
// handshake.
func (e *Engine) Reboot(ctx context.Context, options uint32) error {
	if !e.port.IsConnected() {
		return fmt.Errorf("%s: %w", protocol.CommandName(protocol.CmdReboot), transport.ErrNotConnected)
	}
	c := e.defaultCall()
	c.retries = 1
	c.settle = e.opts.rebootSettle
	c.flags = protocol.FlagNoCaching
	_, err := e.roundTrip(ctx, protocol.CmdReboot, &protocol.Reboot{Flags: options}, c)
	switch {
	case err == nil, isNoReply(err):
	case errors.Is(err, transport.ErrNotConnected) && ctx.Err() == nil:
		e.log.Debug().Err(err).Msg("port dropped during reboot")
	default:
		return err
	}
	e.mu.Lock()
	e.connected = false
	e.source = SourceUnknown
	e.caps = nil
	e.flashMap = nil
	e.mu.Unlock()
	e.resolved.clear()
	return nil
}
