package capture

import (
	"bytes"

	"github.com/GoPolymarket/capturegate/internal/body"
)

// Buffer accumulates one body. It stays in memory until the running size
// would exceed the threshold, then moves everything to a store allocation.
// The switch happens at most once. A Buffer belongs to a single session.
type Buffer struct {
	store     body.Store
	dir       body.Direction
	requestID string
	threshold int64

	mem   bytes.Buffer
	alloc *body.Allocation
	size  int64
	err   error
}

func NewBuffer(store body.Store, dir body.Direction, requestID string, threshold int64) *Buffer {
	return &Buffer{store: store, dir: dir, requestID: requestID, threshold: threshold}
}

func (b *Buffer) Size() int64 {
	return b.size
}

func (b *Buffer) OnDisk() bool {
	return b.alloc != nil
}

func (b *Buffer) Err() error {
	return b.err
}

// Write appends p. After the first error further writes are ignored and the
// error is returned again.
func (b *Buffer) Write(p []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.alloc == nil && b.size+int64(len(p)) > b.threshold {
		if err := b.spill(); err != nil {
			b.err = err
			return err
		}
	}
	b.size += int64(len(p))
	if b.alloc != nil {
		if err := b.store.WriteChunk(b.alloc, p); err != nil {
			b.err = err
			return err
		}
		return nil
	}
	b.mem.Write(p)
	return nil
}

// spill moves the bytes accumulated so far into a fresh store allocation.
func (b *Buffer) spill() error {
	if b.store == nil {
		return errNoStore
	}
	alloc, err := b.store.Allocate(b.dir, b.requestID)
	if err != nil {
		return err
	}
	if b.mem.Len() > 0 {
		if err := b.store.WriteChunk(alloc, b.mem.Bytes()); err != nil {
			_ = b.store.Discard(alloc)
			return err
		}
	}
	b.alloc = alloc
	b.mem = bytes.Buffer{}
	return nil
}

// Finalize returns the handle for the accumulated body. Failures produce a
// degraded handle instead of an error.
func (b *Buffer) Finalize(encoding string, partial bool) *body.Handle {
	if b.err != nil {
		if b.alloc != nil {
			_ = b.store.Discard(b.alloc)
			b.alloc = nil
		}
		b.mem = bytes.Buffer{}
		h := body.FailedHandle(b.err.Error(), b.size)
		h.Partial = partial
		return h
	}
	if b.alloc != nil {
		h, err := b.store.Finalize(b.alloc, encoding, partial)
		b.alloc = nil
		if err != nil {
			b.err = err
			fh := body.FailedHandle(err.Error(), b.size)
			fh.Partial = partial
			return fh
		}
		return h
	}
	data := b.mem.Bytes()
	if data == nil {
		data = []byte{}
	}
	return &body.Handle{
		Bytes:           data,
		ContentEncoding: body.NormalizeEncoding(encoding),
		Size:            b.size,
		Partial:         partial,
	}
}

// Fail marks the buffer as failed with err unless it already failed.
func (b *Buffer) Fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
