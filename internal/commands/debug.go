package commands

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
	"github.com/nanoframework/nf-debugger-sub001/internal/util"
)

// Decode frames a captured byte stream and prints each packet.
func Decode(w io.Writer, data []byte, bigEndian bool, log zerolog.Logger) error {
	c := engine.DecodeCapture(data, bigEndian, log)
	if len(c.Noise) > 0 {
		fmt.Fprintf(w, "%d byte(s) outside packets", len(c.Noise))
		if util.IsTextData(c.Noise) {
			fmt.Fprintf(w, ": %q", c.Noise)
		}
		fmt.Fprintln(w)
	}
	if len(c.Frames) == 0 {
		return fmt.Errorf("no packets found in %d bytes", len(data))
	}
	for i, f := range c.Frames {
		h := f.Header
		dir := "request"
		if h.IsReply() {
			dir = "reply"
		}
		fmt.Fprintf(w, "#%d %s %s seq=%d reply-to=%d flags=%s size=%d\n", i, protocol.CommandName(h.Cmd), dir,
			h.Seq, h.SeqReply, h.Flags, h.Size)
		switch {
		case f.Rejected != 0:
			fmt.Fprintf(w, "   rejected: %s\n", f.Rejected)
		case f.Err != nil:
			fmt.Fprintf(w, "   %v\n", f.Err)
		case f.Record != nil:
			fmt.Fprintf(w, "   %+v\n", f.Record)
		}
	}
	return nil
}
