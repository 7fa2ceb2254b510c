package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/util"
)

// ReadMemory reads a range and writes it to out, or hex dumps it to w when
// out is empty.
func ReadMemory(ctx context.Context, w io.Writer, e *engine.Engine, address, length uint32, out string) error {
	data, err := e.ReadMemory(ctx, address, length)
	if err != nil {
		return err
	}
	if out == "" {
		util.HexDump(w, address, data)
		return nil
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	fmt.Fprintf(w, "Saved %s from 0x%08X to %s\n", humanize.IBytes(uint64(len(data))), address, out)
	return nil
}

// EraseMemory erases a flash range.
func EraseMemory(ctx context.Context, w io.Writer, e *engine.Engine, address, length uint32) error {
	if err := e.EraseMemory(ctx, address, length); err != nil {
		return err
	}
	fmt.Fprintf(w, "Erased %s at 0x%08X\n", humanize.IBytes(uint64(length)), address)
	return nil
}

// CheckMemory prints the device CRC of a range.
func CheckMemory(ctx context.Context, w io.Writer, e *engine.Engine, address, length uint32) error {
	crc, err := e.CheckMemory(ctx, address, length)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "0x%08X+%d: CRC32 0x%08X\n", address, length, crc)
	return nil
}
