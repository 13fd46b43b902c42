package capture

import (
	"sync"
	"sync/atomic"
)

// DefaultChunkSize is the capacity of pooled chunk buffers.
const DefaultChunkSize = 32 * 1024

// ChunkPool hands out reference-counted copies of data-path buffers.
type ChunkPool struct {
	size        int
	pool        sync.Pool
	outstanding atomic.Int64
}

func NewChunkPool(size int) *ChunkPool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	p := &ChunkPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, 0, size)
		return &b
	}
	return p
}

// Copy returns a chunk holding a private copy of p with one reference owned by the caller.
func (p *ChunkPool) Copy(data []byte) *Chunk {
	c := &Chunk{pool: p}
	if len(data) <= p.size {
		bp := p.pool.Get().(*[]byte)
		c.pooled = bp
		c.buf = append((*bp)[:0], data...)
	} else {
		c.buf = append([]byte(nil), data...)
	}
	c.refs.Store(1)
	p.outstanding.Add(1)
	return c
}

// Outstanding is the number of chunks not yet fully released.
func (p *ChunkPool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Chunk is a body fragment in flight between the data path and a capture worker.
type Chunk struct {
	pool   *ChunkPool
	pooled *[]byte
	buf    []byte
	refs   atomic.Int32
}

func (c *Chunk) Bytes() []byte { return c.buf }
func (c *Chunk) Len() int      { return len(c.buf) }

// Retain adds a reference. It must be paired with exactly one Release.
func (c *Chunk) Retain() {
	if c.refs.Add(1) <= 1 {
		panic("capture: retain of released chunk")
	}
}

// Release drops a reference and recycles the buffer when the last one goes.
func (c *Chunk) Release() {
	n := c.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic("capture: chunk released more than once")
	}
	if c.pooled != nil {
		*c.pooled = c.buf[:0]
		c.pool.pool.Put(c.pooled)
		c.pooled = nil
	}
	c.buf = nil
	c.pool.outstanding.Add(-1)
}
