package model

import (
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/policy"
)

// LogRecord is one captured request/response pair. Sinks receive it
// read-only.
type LogRecord struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Host      string    `json:"host"`
	Query     string    `json:"query,omitempty"`
	ClientIP  string    `json:"client_ip"`
	UserAgent string    `json:"user_agent,omitempty"`
	Status    int       `json:"status"`
	LatencyMs int64     `json:"latency_ms"`

	MatcherID string               `json:"matcher_id,omitempty"`
	Policy    policy.CapturePolicy `json:"-"`

	Request  Exchange `json:"request"`
	Response Exchange `json:"response"`

	ShortCircuited     bool   `json:"short_circuited,omitempty"`
	ShortCircuitReason string `json:"short_circuit_reason,omitempty"`
}

// Exchange is what was kept of one direction.
type Exchange struct {
	// Headers are already filtered and redacted; nil when headers were not captured.
	Headers map[string][]string `json:"headers,omitempty"`

	// Raw is the body as seen on the wire, Body the same bytes meant to be decoded
	// on read. Either may be nil.
	Raw  *body.Handle `json:"-"`
	Body *body.Handle `json:"-"`

	// BodySize is the decoded size, -1 when it was not measured.
	BodySize      int64 `json:"body_size"`
	Partial       bool  `json:"partial,omitempty"`
	CaptureFailed bool  `json:"capture_failed,omitempty"`
}

// Handle returns whichever body handle is set, preferring Body.
func (e *Exchange) Handle() *body.Handle {
	if e.Body != nil {
		return e.Body
	}
	return e.Raw
}
