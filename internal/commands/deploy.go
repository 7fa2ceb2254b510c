package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nanoframework/nf-debugger-sub001/internal/config"
	"github.com/nanoframework/nf-debugger-sub001/internal/deploy"
	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/firmware"
)

// ProgressPrinter returns a progress callback that writes one line per
// phase and block.
func ProgressPrinter(w io.Writer) func(deploy.Progress) {
	var last deploy.Progress
	first := true
	return func(p deploy.Progress) {
		if !first && p.Phase == last.Phase && p.Block == last.Block {
			return
		}
		first = false
		last = p
		switch p.Phase {
		case deploy.PhaseErasing, deploy.PhaseWriting, deploy.PhaseVerifying:
			fmt.Fprintf(w, "%-9s block %d/%d at 0x%08X (%3.0f%%)\n", p.Phase, p.Block+1, p.TotalBlocks,
				p.Address, p.Fraction()*100)
		case deploy.PhaseComplete:
			fmt.Fprintf(w, "%-9s %s in %s\n", p.Phase, humanize.IBytes(uint64(p.TotalBytes)),
				p.Elapsed.Round(time.Millisecond))
		default:
			fmt.Fprintln(w, p.Phase)
		}
	}
}

// Deploy writes images to the target and records them in the image cache.
// A nil cache skips the record.
func Deploy(ctx context.Context, w io.Writer, e *engine.Engine, images []*firmware.Image, cache *firmware.Cache, opts ...deploy.Option) (*deploy.Result, error) {
	var total int
	for _, img := range images {
		total += len(img.Data)
	}
	fmt.Fprintf(w, "Deploying %d image(s), %s to %s\n", len(images), humanize.IBytes(uint64(total)), e.Port().InstanceID())

	res, err := deploy.New(e, opts...).Deploy(ctx, firmware.Images(images))
	if err != nil {
		return nil, err
	}

	if cache != nil {
		target := ""
		if id, err := e.Identity(ctx); err == nil {
			target = id.TargetName
		}
		for _, img := range images {
			if _, _, err := cache.Import(img, target); err != nil {
				config.Debugf("image cache: %v", err)
			}
		}
	}
	fmt.Fprintf(w, "Deployed %s into %d block(s) in %s\n", humanize.IBytes(uint64(res.Bytes)), len(res.Blocks),
		res.Elapsed.Round(time.Millisecond))
	return res, nil
}
