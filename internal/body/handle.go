// Package body holds captured request and response bodies, in memory or on
// disk, and reads them back with transparent content decoding.
package body

import "strings"

// Direction tells which side of the exchange a body belongs to.
type Direction string

const (
	Request  Direction = "request"
	Response Direction = "response"
)

const (
	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
)

// Handle references one captured body. Exactly one of Bytes or Path is set
// unless the capture failed.
type Handle struct {
	Bytes           []byte `json:"-"`
	Path            string `json:"path,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	Size            int64  `json:"size"`
	Partial         bool   `json:"partial,omitempty"`
	Failed          bool   `json:"failed,omitempty"`
	Error           string `json:"error,omitempty"`
}

// OnDisk reports whether the body lives in the body store.
func (h *Handle) OnDisk() bool {
	return h != nil && h.Path != ""
}

// FailedHandle builds a degraded handle that records why capture failed.
func FailedHandle(reason string, size int64) *Handle {
	return &Handle{Failed: true, Error: reason, Size: size}
}

// NormalizeEncoding maps a Content-Encoding header value to gzip, deflate or "".
func NormalizeEncoding(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case EncodingGzip:
		return EncodingGzip
	case EncodingDeflate:
		return EncodingDeflate
	default:
		return ""
	}
}
