package body

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"

	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
)

// Opener is the part of Store needed to read bodies back.
type Opener interface {
	OpenRead(h *Handle) (io.ReadCloser, error)
}

// OpenRawStream returns the bytes exactly as they were captured.
func OpenRawStream(o Opener, h *Handle) (io.ReadCloser, error) {
	if h == nil {
		return nil, apperrors.CaptureIO("no body handle", nil)
	}
	if h.Failed {
		return nil, apperrors.CaptureIO("body capture failed: "+h.Error, nil)
	}
	if !h.OnDisk() {
		return io.NopCloser(bytes.NewReader(h.Bytes)), nil
	}
	if o == nil {
		return nil, apperrors.CaptureIO("no body store for disk handle", nil)
	}
	return o.OpenRead(h)
}

// OpenReadStream returns the body decoded according to its content encoding.
// Disk bodies are streamed, never loaded at once.
func OpenReadStream(o Opener, h *Handle) (io.ReadCloser, error) {
	raw, err := OpenRawStream(o, h)
	if err != nil {
		return nil, err
	}
	switch NormalizeEncoding(h.ContentEncoding) {
	case EncodingGzip:
		zr, err := gzip.NewReader(raw)
		if err != nil {
			raw.Close()
			return nil, apperrors.CaptureIO("invalid gzip body", err)
		}
		return &decodedReader{Reader: zr, closers: []io.Closer{zr, raw}}, nil
	case EncodingDeflate:
		return openDeflate(raw)
	default:
		return raw, nil
	}
}

// openDeflate accepts both zlib-wrapped (RFC 1950) and bare DEFLATE streams,
// since clients disagree on what "deflate" means.
func openDeflate(raw io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(raw)
	head, _ := br.Peek(2)
	if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		zr, err := zlib.NewReader(br)
		if err != nil {
			raw.Close()
			return nil, apperrors.CaptureIO("invalid deflate body", err)
		}
		return &decodedReader{Reader: zr, closers: []io.Closer{zr, raw}}, nil
	}
	fr := flate.NewReader(br)
	return &decodedReader{Reader: fr, closers: []io.Closer{fr, raw}}, nil
}

type decodedReader struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedReader) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DecodedSize counts the decoded bytes of a body without keeping them.
func DecodedSize(o Opener, h *Handle) (int64, error) {
	rc, err := OpenReadStream(o, h)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return n, apperrors.CaptureIO("failed to decode body", err)
	}
	return n, nil
}
