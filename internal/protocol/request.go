package protocol

import (
	"math/rand/v2"
	"sync/atomic"
)

// SeqCounter hands out sequence numbers for outgoing packets. It starts at a
// random value so that a restarted host does not immediately reuse the
// numbers of the previous session.
type SeqCounter struct {
	n atomic.Uint32
}

// NewSeqCounter returns a counter seeded with a random start value.
func NewSeqCounter() *SeqCounter {
	c := &SeqCounter{}
	c.n.Store(uint32(rand.N(1 << 16)))
	return c
}

// Next returns the next sequence number.
func (c *SeqCounter) Next() uint16 {
	return uint16(c.n.Add(1))
}
