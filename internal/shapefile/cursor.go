package shapefile

// cursor.go - bounds-checked reader over one record's content bytes

import (
	"encoding/binary"
	"io"
	"math"
)

// cursor walks a record's content. Numeric fields inside record content are
// little-endian (record and file headers are big-endian and read elsewhere).
// The first out-of-range read latches an error; subsequent reads return
// zeros so decode code can stay linear and check Err once.
type cursor struct {
	data []byte
	off  int
	err  error
}

func newCursor(data []byte) *cursor {
	return &cursor{data: data}
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if c.off+n > len(c.data) {
		c.err = io.ErrUnexpectedEOF
		return nil
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) uint32() int {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return int(binary.LittleEndian.Uint32(b))
}

func (c *cursor) float64() float64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (c *cursor) float64Pair() (float64, float64) {
	return c.float64(), c.float64()
}

func (c *cursor) skip(n int) {
	c.take(n)
}

func (c *cursor) remaining() int {
	if c.err != nil {
		return 0
	}
	return len(c.data) - c.off
}

func (c *cursor) Err() error { return c.err }
