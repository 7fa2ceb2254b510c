package engine

import (
	"context"
	"fmt"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// QueryConfiguration reads one configuration block and decodes it by kind.
func (e *Engine) QueryConfiguration(ctx context.Context, kind, block uint32) (protocol.Record, error) {
	raw, err := request[*protocol.RawReply](ctx, e, protocol.CmdQueryConfiguration,
		&protocol.QueryConfiguration{Kind: kind, Block: block}, e.defaultCall())
	if err != nil {
		return nil, err
	}
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("configuration %d/%d: %w: empty block", kind, block, ErrNoReply)
	}
	return protocol.DecodeConfiguration(kind, raw.Data, e.order())
}

// UpdateConfiguration writes a configuration block, split into chunks that
// fit one packet.
func (e *Engine) UpdateConfiguration(ctx context.Context, kind, block uint32, rec protocol.Record) error {
	data := protocol.Marshal(rec, e.order())
	chunk := min(MaxWriteChunk, e.opts.maxPacketSize)
	for off := 0; off < len(data) || off == 0; off += chunk {
		end := min(off+chunk, len(data))
		reply, err := request[*protocol.ErrorCodeReply](ctx, e, protocol.CmdUpdateConfiguration, &protocol.UpdateConfiguration{
			Kind:   kind,
			Block:  block,
			Offset: uint32(off),
			Done:   end == len(data),
			Data:   data[off:end],
		}, e.defaultCall())
		if err != nil {
			return fmt.Errorf("update configuration %d/%d: %w", kind, block, err)
		}
		if reply.ErrorCode != 0 {
			return &DeviceError{Op: "update configuration", Address: uint32(off), Code: reply.ErrorCode}
		}
		if end == len(data) {
			break
		}
	}
	return nil
}
