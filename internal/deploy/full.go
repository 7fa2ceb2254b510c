package deploy

import (
	"context"
	"fmt"
)

// TerminatorSize is the zero padding written after the last image by the
// full strategy.
const TerminatorSize = 8

// region is a contiguous run of blocks.
type region struct {
	blocks []Block
}

func (r region) start() uint32 { return r.blocks[0].Address }
func (r region) end() uint32   { return r.blocks[len(r.blocks)-1].End() }

func contiguous(blocks []Block) (region, error) {
	if len(blocks) == 0 {
		return region{}, ErrNoDeploymentRegion
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Address != blocks[i-1].End() {
			return region{}, fmt.Errorf("deployment region has a gap at 0x%08X", blocks[i-1].End())
		}
	}
	return region{blocks: blocks}, nil
}

// planFull places the images after the last deployed assembly. The cursor
// is rounded up to a block boundary so existing assemblies stay intact; the
// span from there to the end of the region is erased in one request.
func (d *Deployer) planFull(ctx context.Context, images [][]byte) (*Plan, error) {
	sectors, err := d.t.FlashSectorMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("flash sector map: %w", err)
	}
	reg, err := contiguous(Blocks(sectors, d.usage()))
	if err != nil {
		return nil, err
	}
	deployed, err := d.t.DeploymentMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("deployment map: %w", err)
	}
	cursor := reg.start()
	for _, a := range deployed {
		if end := a.Address + a.Size; end > cursor && end <= reg.end() {
			cursor = end
		}
	}

	var free []Block
	for _, b := range reg.blocks {
		if b.Address >= cursor {
			free = append(free, b)
		}
	}
	var avail uint32
	for _, b := range free {
		avail += b.Size
	}

	var need uint32 = TerminatorSize
	for _, img := range images {
		need += uint32(len(img))
	}
	if need > avail {
		return nil, &CapacityError{Need: need, Available: avail}
	}

	stream := make([][]byte, 0, len(images)+1)
	stream = append(stream, images...)
	stream = append(stream, make([]byte, TerminatorSize))
	plan, err := PlanIncremental(free, stream)
	if err != nil {
		return nil, err
	}
	plan.Span = &Block{Address: free[0].Address, Size: reg.end() - free[0].Address}
	return plan, nil
}
