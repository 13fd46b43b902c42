package policy

import (
	"strings"

	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
)

// CaptureLevel is the granularity of body capture.
type CaptureLevel int

const (
	LevelNone CaptureLevel = iota
	LevelSize
	LevelStore
)

func (l CaptureLevel) String() string {
	switch l {
	case LevelSize:
		return "SIZE"
	case LevelStore:
		return "STORE"
	default:
		return "NONE"
	}
}

func (l CaptureLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseCaptureLevel accepts NONE, SIZE or STORE in any case. Empty means NONE.
func ParseCaptureLevel(raw string) (CaptureLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "NONE":
		return LevelNone, nil
	case "SIZE":
		return LevelSize, nil
	case "STORE":
		return LevelStore, nil
	default:
		return LevelNone, apperrors.Config("unknown capture level %q", raw)
	}
}

// DirectionalPolicy holds the capture rules for one direction of an exchange.
type DirectionalPolicy struct {
	Headers *HeaderPolicy `json:"-"`
	Raw     CaptureLevel  `json:"raw"`
	Body    CaptureLevel  `json:"body"`
}

// MustBuffer reports whether body chunks have to be intercepted at all.
func (p DirectionalPolicy) MustBuffer() bool {
	return p.Raw == LevelStore || p.Body == LevelSize || p.Body == LevelStore
}

// StoresBytes reports whether the captured bytes must survive until delivery.
// A SIZE-only body is captured, measured and then discarded.
func (p DirectionalPolicy) StoresBytes() bool {
	return p.Raw == LevelStore || p.Body == LevelStore
}

// HeaderPolicy returns the header filter, falling back to keep-all.
func (p DirectionalPolicy) HeaderPolicy() *HeaderPolicy {
	if p.Headers == nil {
		return KeepAll()
	}
	return p.Headers
}

// CapturePolicy is one resolved configuration. It is never mutated after Build.
type CapturePolicy struct {
	Request  DirectionalPolicy `json:"request"`
	Response DirectionalPolicy `json:"response"`
}

// DefaultPolicy captures nothing and keeps every header.
func DefaultPolicy() CapturePolicy {
	return CapturePolicy{
		Request:  DirectionalPolicy{Headers: KeepAll()},
		Response: DirectionalPolicy{Headers: KeepAll()},
	}
}
