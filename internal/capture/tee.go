package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// TeeReadCloser duplicates everything read from a request body into a
// session. Reaching EOF finishes the session; closing or completing it
// earlier aborts it as partial.
type TeeReadCloser struct {
	rc       io.ReadCloser
	session  *Session
	encoding string

	eof  atomic.Bool
	once sync.Once
}

func NewTeeReadCloser(rc io.ReadCloser, s *Session, encoding string) *TeeReadCloser {
	if rc == nil {
		rc = io.NopCloser(eofReader{})
	}
	return &TeeReadCloser{rc: rc, session: s, encoding: encoding}
}

func (t *TeeReadCloser) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if n > 0 {
		t.session.Write(p[:n])
	}
	if errors.Is(err, io.EOF) {
		t.eof.Store(true)
		t.Complete()
	}
	return n, err
}

func (t *TeeReadCloser) Close() error {
	err := t.rc.Close()
	t.Complete()
	return err
}

// Complete ends the session once, as finished when EOF was seen and as
// partial otherwise.
func (t *TeeReadCloser) Complete() {
	t.once.Do(func() {
		if t.eof.Load() {
			t.session.Finish(t.encoding)
			return
		}
		t.session.Abort(t.encoding)
	})
}

func (t *TeeReadCloser) Session() *Session {
	return t.session
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

var drainBufPool = sync.Pool{New: func() any {
	b := make([]byte, DefaultChunkSize)
	return &b
}}

// Drain reads r to EOF and throws the bytes away. When r is a
// TeeReadCloser the capture session still sees every chunk, which is how
// bodies get recorded for calls that never reach an upstream.
func Drain(ctx context.Context, r io.Reader) (int64, error) {
	if r == nil {
		return 0, nil
	}
	bp := drainBufPool.Get().(*[]byte)
	defer drainBufPool.Put(bp)
	buf := *bp

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.Read(buf)
		total += int64(n)
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
