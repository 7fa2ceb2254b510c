// Package deploy writes application or firmware images into target flash
// using the layout the target reports, then verifies them.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanoframework/nf-debugger-sub001/internal/engine"
	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// Target is the part of an engine the deployer needs.
type Target interface {
	Source() engine.Source
	FlashSectorMap(ctx context.Context) ([]protocol.FlashSector, error)
	DeploymentMap(ctx context.Context) ([]protocol.DeployedAssembly, error)
	EraseMemory(ctx context.Context, address, length uint32) error
	WriteMemory(ctx context.Context, address uint32, data []byte) error
	ReadMemory(ctx context.Context, address, length uint32) ([]byte, error)
	CheckMemory(ctx context.Context, address, length uint32) (uint32, error)
	PauseExecution(ctx context.Context) error
	ConnectToNanoBooter(ctx context.Context) error
	Reboot(ctx context.Context, options uint32) error
}

var _ Target = (*engine.Engine)(nil)

// Strategy selects how images are laid out.
type Strategy int

const (
	// Incremental packs images into deployment blocks and rewrites only the
	// blocks it touches.
	Incremental Strategy = iota
	// Full appends after the deployed assemblies in one contiguous region and
	// ends the images with a terminator.
	Full
)

func (s Strategy) String() string {
	if s == Full {
		return "full"
	}
	return "incremental"
}

// Phases reported through Progress.
const (
	PhasePreparing = "preparing"
	PhaseErasing   = "erasing"
	PhaseWriting   = "writing"
	PhaseVerifying = "verifying"
	PhaseRebooting = "rebooting"
	PhaseComplete  = "complete"
)

// Progress describes where a deployment is.
type Progress struct {
	Phase        string
	Block        int
	TotalBlocks  int
	BytesWritten int
	TotalBytes   int
	Address      uint32
	Elapsed      time.Duration
}

// Fraction returns completion between 0 and 1, counting written bytes.
func (p Progress) Fraction() float64 {
	if p.Phase == PhaseComplete {
		return 1
	}
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.BytesWritten) / float64(p.TotalBytes)
}

// Result summarizes a finished deployment.
type Result struct {
	Strategy Strategy
	Blocks   []Block
	Bytes    int
	Elapsed  time.Duration
}

// Deployer runs deployments against one target.
type Deployer struct {
	t    Target
	opts options
	log  zerolog.Logger
}

func New(t Target, opts ...Option) *Deployer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Deployer{t: t, opts: o, log: o.log}
}

// Deploy writes images and, when configured, verifies and reboots. The
// first erase or write failure stops the run; already written blocks are
// not rolled back.
func (d *Deployer) Deploy(ctx context.Context, images [][]byte) (*Result, error) {
	start := time.Now()
	if err := CheckAlignment(images); err != nil {
		return nil, err
	}
	total := 0
	for _, img := range images {
		total += len(img)
	}

	d.report(Progress{Phase: PhasePreparing, TotalBytes: total})
	if err := d.prepare(ctx); err != nil {
		return nil, err
	}

	var (
		plan *Plan
		err  error
	)
	switch d.opts.strategy {
	case Full:
		plan, err = d.planFull(ctx, images)
	default:
		plan, err = d.planIncremental(ctx, images)
	}
	if err != nil {
		return nil, err
	}
	d.log.Debug().Stringer("strategy", d.opts.strategy).Int("blocks", len(plan.Placements)).
		Uint32("bytes", plan.Used).Uint32("capacity", plan.Capacity).Msg("deployment planned")

	if err := d.write(ctx, plan, start); err != nil {
		return nil, err
	}

	if d.opts.verify {
		if err := d.verify(ctx, plan, start); err != nil {
			return nil, err
		}
	}

	if d.opts.reboot {
		d.report(Progress{Phase: PhaseRebooting, BytesWritten: total, TotalBytes: total, Elapsed: time.Since(start)})
		if err := d.t.Reboot(ctx, protocol.RebootClrOnly); err != nil {
			return nil, fmt.Errorf("reboot after deployment: %w", err)
		}
	}

	res := &Result{Strategy: d.opts.strategy, Bytes: total, Elapsed: time.Since(start)}
	for _, p := range plan.Placements {
		res.Blocks = append(res.Blocks, p.Block)
	}
	d.report(Progress{Phase: PhaseComplete, BytesWritten: total, TotalBytes: total, Elapsed: res.Elapsed})
	return res, nil
}

// prepare gets the target into a state where flash can change: nanoBooter
// for firmware, a paused application otherwise.
func (d *Deployer) prepare(ctx context.Context) error {
	if d.opts.firmware {
		if err := d.t.ConnectToNanoBooter(ctx); err != nil {
			return fmt.Errorf("prepare firmware update: %w", err)
		}
		return nil
	}
	if d.t.Source() == engine.SourceNanoCLR {
		if err := d.t.PauseExecution(ctx); err != nil {
			return fmt.Errorf("pause execution: %w", err)
		}
	}
	return nil
}

func (d *Deployer) usage() uint32 {
	if d.opts.firmware {
		return protocol.BlockUsageCode
	}
	return protocol.BlockUsageDeployment
}

func (d *Deployer) planIncremental(ctx context.Context, images [][]byte) (*Plan, error) {
	sectors, err := d.t.FlashSectorMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("flash sector map: %w", err)
	}
	return PlanIncremental(Blocks(sectors, d.usage()), images)
}

func (d *Deployer) write(ctx context.Context, plan *Plan, start time.Time) error {
	written := 0
	n := len(plan.Placements)
	if s := plan.Span; s != nil {
		d.report(Progress{Phase: PhaseErasing, TotalBlocks: n, TotalBytes: int(plan.Used),
			Address: s.Address, Elapsed: time.Since(start)})
		if err := d.t.EraseMemory(ctx, s.Address, s.Size); err != nil {
			return &FlashError{Op: "erase", Address: s.Address, Err: err}
		}
	}
	for i, p := range plan.Placements {
		if err := ctx.Err(); err != nil {
			return err
		}
		if plan.Span == nil {
			d.report(Progress{Phase: PhaseErasing, Block: i, TotalBlocks: n, BytesWritten: written,
				TotalBytes: int(plan.Used), Address: p.Block.Address, Elapsed: time.Since(start)})
			if err := d.t.EraseMemory(ctx, p.Block.Address, p.Block.Size); err != nil {
				return &FlashError{Op: "erase", Address: p.Block.Address, Err: err}
			}
		}

		d.report(Progress{Phase: PhaseWriting, Block: i, TotalBlocks: n, BytesWritten: written,
			TotalBytes: int(plan.Used), Address: p.Block.Address, Elapsed: time.Since(start)})
		if len(p.Data) > 0 {
			if err := d.t.WriteMemory(ctx, p.Block.Address, p.Data); err != nil {
				return &FlashError{Op: "write", Address: p.Block.Address, Err: err}
			}
		}
		written += len(p.Data)
		d.log.Debug().Uint32("address", p.Block.Address).Int("bytes", len(p.Data)).Msg("block written")
	}
	return nil
}

// verify compares the device CRC first and only reads back blocks whose
// CRC differs or cannot be queried.
func (d *Deployer) verify(ctx context.Context, plan *Plan, start time.Time) error {
	n := len(plan.Placements)
	for i, p := range plan.Placements {
		if len(p.Data) == 0 {
			continue
		}
		d.report(Progress{Phase: PhaseVerifying, Block: i, TotalBlocks: n, BytesWritten: int(plan.Used),
			TotalBytes: int(plan.Used), Address: p.Block.Address, Elapsed: time.Since(start)})

		crc, err := d.t.CheckMemory(ctx, p.Block.Address, uint32(len(p.Data)))
		if err == nil && crc == protocol.CRC32(p.Data, 0) {
			continue
		}
		if err != nil {
			d.log.Debug().Err(err).Uint32("address", p.Block.Address).Msg("CRC check unavailable, reading back")
		}

		got, err := d.t.ReadMemory(ctx, p.Block.Address, uint32(len(p.Data)))
		if err != nil {
			return &FlashError{Op: "verify", Address: p.Block.Address, Err: err}
		}
		if off := mismatch(p.Data, got); off >= 0 {
			var g byte
			if off < len(got) {
				g = got[off]
			}
			return &VerifyError{Address: p.Block.Address + uint32(off), Offset: off, Want: p.Data[off], Got: g}
		}
	}
	return nil
}

// mismatch returns the first differing offset, or -1.
func mismatch(want, got []byte) int {
	if bytes.Equal(want, got) {
		return -1
	}
	for i := range want {
		if i >= len(got) || want[i] != got[i] {
			return i
		}
	}
	return len(want)
}

func (d *Deployer) report(p Progress) {
	if d.opts.progress != nil {
		d.opts.progress(p)
	}
}
