// Package capture copies body chunks off the forwarding path and persists
// them on dedicated workers.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
	"github.com/GoPolymarket/capturegate/internal/pkg/metrics"
)

// DefaultThreshold is the in-memory limit of a single body (1 MiB).
const DefaultThreshold = 1 << 20

var (
	errNoStore    = errors.New("no body store configured")
	errQueueFull  = errors.New("capture queue full")
	errWriterDone = errors.New("capture writer closed")
)

type Options struct {
	Threshold int64 // 0 means DefaultThreshold
	Workers   int
	QueueSize int
	ChunkSize int
}

type task struct {
	session *Session
	chunk   *Chunk // nil means finalize
}

// Writer persists captured chunks on a fixed set of shard workers. Every
// session is pinned to one shard, so its chunks are written in order while
// different sessions proceed in parallel.
type Writer struct {
	store     body.Store
	threshold int64
	pool      *ChunkPool
	shards    []chan task
	next      atomic.Uint64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewWriter(store body.Store, opts Options) *Writer {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	w := &Writer{
		store:     store,
		threshold: opts.Threshold,
		pool:      NewChunkPool(opts.ChunkSize),
		shards:    make([]chan task, opts.Workers),
	}
	for i := range w.shards {
		ch := make(chan task, opts.QueueSize)
		w.shards[i] = ch
		w.wg.Add(1)
		go w.work(ch)
	}
	return w
}

// Pool exposes the chunk pool, mainly so callers can check for leaks.
func (w *Writer) Pool() *ChunkPool {
	return w.pool
}

// Begin opens a capture session for one body.
func (w *Writer) Begin(dir body.Direction, requestID string) *Session {
	shard := w.shards[int(w.next.Add(1)%uint64(len(w.shards)))]
	s := &Session{
		w:         w,
		shard:     shard,
		dir:       dir,
		requestID: requestID,
		buf:       NewBuffer(w.store, dir, requestID, w.threshold),
		done:      make(chan struct{}),
	}
	s.accepting.Store(true)
	return s
}

// Close stops the workers after the queued work is done.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// trySend never blocks; it reports false when the writer is closed or the shard is full.
func (w *Writer) trySend(ch chan task, t task) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false, errWriterDone
	}
	select {
	case ch <- t:
		return true, nil
	default:
		return false, errQueueFull
	}
}

// send blocks until the shard accepts t or the writer closes.
func (w *Writer) send(ch chan task, t task) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	ch <- t
	return true
}

func (w *Writer) work(ch chan task) {
	defer w.wg.Done()
	for t := range ch {
		w.run(t)
	}
}

func (w *Writer) run(t task) {
	s := t.session
	if t.chunk == nil {
		s.complete()
		return
	}
	defer t.chunk.Release()
	if s.completed {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.buf.Fail(fmt.Errorf("capture panic: %v", r))
		}
	}()
	if err := s.buf.Write(t.chunk.Bytes()); err == nil {
		metrics.CaptureBytes.WithLabelValues(string(s.dir)).Add(float64(t.chunk.Len()))
	}
}

// Session captures a single body. Write, Finish and Abort are called from the
// data path; everything touching the buffer runs on the session's shard.
type Session struct {
	w         *Writer
	shard     chan task
	dir       body.Direction
	requestID string

	accepting atomic.Bool
	finished  atomic.Bool
	overflow  atomic.Bool
	accepted  atomic.Int64

	// set before the finalize task is queued
	encoding string
	partial  bool

	// shard-confined
	buf       *Buffer
	completed bool

	done   chan struct{}
	handle *body.Handle
}

func (s *Session) Direction() body.Direction {
	return s.dir
}

// Accepted is the number of bytes handed to the session so far.
func (s *Session) Accepted() int64 {
	return s.accepted.Load()
}

// Write copies p into a pooled chunk and schedules it. p may be reused by
// the caller as soon as Write returns.
func (s *Session) Write(p []byte) {
	if len(p) == 0 || !s.accepting.Load() {
		return
	}
	c := s.w.pool.Copy(p)
	s.WriteChunk(c)
	c.Release()
}

// WriteChunk schedules c for persistence. The session takes its own reference;
// the caller keeps (and must release) the one it holds.
func (s *Session) WriteChunk(c *Chunk) bool {
	if !s.accepting.Load() {
		return false
	}
	c.Retain()
	ok, err := s.w.trySend(s.shard, task{session: s, chunk: c})
	if !ok {
		c.Release()
		s.fail(err)
		return false
	}
	s.accepted.Add(int64(c.Len()))
	return true
}

func (s *Session) fail(err error) {
	if s.overflow.CompareAndSwap(false, true) {
		s.accepting.Store(false)
		metrics.CaptureFailures.WithLabelValues(string(s.dir), reason(err)).Inc()
		logger.Warn("Body capture degraded", "request_id", s.requestID, "direction", s.dir, "error", err)
	}
}

// Finish marks the body as complete.
func (s *Session) Finish(encoding string) {
	s.end(encoding, false)
}

// Abort stops accepting chunks. Chunks already scheduled are still written
// and the handle is marked partial.
func (s *Session) Abort(encoding string) {
	s.end(encoding, true)
}

func (s *Session) end(encoding string, partial bool) {
	if !s.finished.CompareAndSwap(false, true) {
		return
	}
	s.accepting.Store(false)
	s.encoding = encoding
	s.partial = partial

	t := task{session: s}
	if ok, _ := s.w.trySend(s.shard, t); ok {
		return
	}
	go func() {
		if !s.w.send(s.shard, t) {
			// writer is closing: let the shards drain, then finalize here
			s.w.wg.Wait()
			s.complete()
		}
	}()
}

func (s *Session) complete() {
	if s.completed {
		return
	}
	s.completed = true
	if s.overflow.Load() {
		s.buf.Fail(errQueueFull)
	}
	h := s.buf.Finalize(s.encoding, s.partial)
	if h.Failed {
		logger.Warn("Body capture failed", "request_id", s.requestID, "direction", s.dir, "error", h.Error)
	}
	s.handle = h
	close(s.done)
}

// Done is closed once the handle is available.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is finalized and returns its handle, which is
// degraded rather than nil when capture failed.
func (s *Session) Wait(ctx context.Context) (*body.Handle, error) {
	select {
	case <-s.done:
		return s.handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, errQueueFull):
		return "queue_full"
	case errors.Is(err, errWriterDone):
		return "writer_closed"
	default:
		return "io"
	}
}
