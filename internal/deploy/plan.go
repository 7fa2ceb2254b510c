package deploy

import (
	"fmt"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// Block is one erasable flash block.
type Block struct {
	Address uint32
	Size    uint32
}

func (b Block) End() uint32 { return b.Address + b.Size }

// Placement is the data assigned to one block, written from its start.
type Placement struct {
	Block Block
	Data  []byte
}

// Plan is a complete assignment of image bytes to blocks.
type Plan struct {
	Placements []Placement
	// Span, when set, is erased in one request before any write and the
	// placements are not erased one by one.
	Span     *Block
	Capacity uint32
	Used     uint32
}

// Blocks expands the sectors with the given usage into blocks, in map order.
func Blocks(sectors []protocol.FlashSector, usage uint32) []Block {
	var out []Block
	for _, s := range sectors {
		if s.Usage() != usage {
			continue
		}
		for i := uint32(0); i < s.NumBlocks; i++ {
			out = append(out, Block{Address: s.StartAddress + i*s.BytesPerBlock, Size: s.BytesPerBlock})
		}
	}
	return out
}

// CheckAlignment rejects the first image whose length is not word aligned.
func CheckAlignment(images [][]byte) error {
	for i, img := range images {
		if len(img)%4 != 0 {
			return fmt.Errorf("image %d (%d bytes): %w", i, len(img), ErrNotWordAligned)
		}
	}
	return nil
}

// PlanIncremental packs the images back to back into blocks. Each block is
// filled before the next one is used and no block is visited twice, so the
// same inputs always give the same plan.
func PlanIncremental(blocks []Block, images [][]byte) (*Plan, error) {
	if len(blocks) == 0 {
		return nil, ErrNoDeploymentRegion
	}
	p := &Plan{}
	for _, b := range blocks {
		p.Capacity += b.Size
	}
	var need uint32
	for _, img := range images {
		need += uint32(len(img))
	}
	if need > p.Capacity {
		return nil, &CapacityError{Need: need, Available: p.Capacity}
	}

	bi := 0
	for _, img := range images {
		for len(img) > 0 {
			if len(p.Placements) == bi {
				p.Placements = append(p.Placements, Placement{Block: blocks[bi]})
			}
			pl := &p.Placements[bi]
			free := int(pl.Block.Size) - len(pl.Data)
			n := min(free, len(img))
			pl.Data = append(pl.Data, img[:n]...)
			img = img[n:]
			if len(pl.Data) == int(pl.Block.Size) {
				bi++
			}
		}
	}
	p.Used = need
	return p, nil
}
