package sink

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"
	"unicode/utf8"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/model"
)

// DefaultRenderLimit caps how many body bytes a rendered entry carries.
const DefaultRenderLimit = 64 * 1024

// Entry is the JSON shape shared by the shipped sinks.
type Entry struct {
	ID                 string        `json:"id"`
	StartedAt          time.Time     `json:"started_at"`
	Method             string        `json:"method"`
	Path               string        `json:"path"`
	Host               string        `json:"host,omitempty"`
	Query              string        `json:"query,omitempty"`
	ClientIP           string        `json:"client_ip,omitempty"`
	UserAgent          string        `json:"user_agent,omitempty"`
	Status             int           `json:"status"`
	LatencyMs          int64         `json:"latency_ms"`
	MatcherID          string        `json:"matcher_id,omitempty"`
	ShortCircuited     bool          `json:"short_circuited,omitempty"`
	ShortCircuitReason string        `json:"short_circuit_reason,omitempty"`
	Request            ExchangeEntry `json:"request"`
	Response           ExchangeEntry `json:"response"`
}

type ExchangeEntry struct {
	Headers       map[string][]string `json:"headers,omitempty"`
	BodySize      *int64              `json:"body_size,omitempty"`
	Partial       bool                `json:"partial,omitempty"`
	CaptureFailed bool                `json:"capture_failed,omitempty"`
	Raw           *BodyEntry          `json:"raw,omitempty"`
	Body          *BodyEntry          `json:"body,omitempty"`
}

// BodyEntry is a body inlined into an entry. Data is plain text when the
// bytes are valid UTF-8 and base64 otherwise.
type BodyEntry struct {
	Encoding  string `json:"encoding"`
	Data      string `json:"data,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Render turns a record into an Entry, reading stored bodies through o.
// limit <= 0 means DefaultRenderLimit.
func Render(ctx context.Context, rec *model.LogRecord, o body.Opener, limit int) *Entry {
	if limit <= 0 {
		limit = DefaultRenderLimit
	}
	return &Entry{
		ID:                 rec.ID,
		StartedAt:          rec.StartedAt,
		Method:             rec.Method,
		Path:               rec.Path,
		Host:               rec.Host,
		Query:              rec.Query,
		ClientIP:           rec.ClientIP,
		UserAgent:          rec.UserAgent,
		Status:             rec.Status,
		LatencyMs:          rec.LatencyMs,
		MatcherID:          rec.MatcherID,
		ShortCircuited:     rec.ShortCircuited,
		ShortCircuitReason: rec.ShortCircuitReason,
		Request:            renderExchange(ctx, &rec.Request, o, limit),
		Response:           renderExchange(ctx, &rec.Response, o, limit),
	}
}

// RenderJSON is Render followed by json.Marshal.
func RenderJSON(ctx context.Context, rec *model.LogRecord, o body.Opener, limit int) ([]byte, error) {
	return json.Marshal(Render(ctx, rec, o, limit))
}

func renderExchange(ctx context.Context, ex *model.Exchange, o body.Opener, limit int) ExchangeEntry {
	out := ExchangeEntry{
		Headers:       ex.Headers,
		Partial:       ex.Partial,
		CaptureFailed: ex.CaptureFailed,
	}
	if ex.BodySize >= 0 {
		size := ex.BodySize
		out.BodySize = &size
	}
	if ex.Raw != nil {
		out.Raw = renderBody(ctx, ex.Raw, o, limit, body.OpenRawStream)
	}
	if ex.Body != nil {
		out.Body = renderBody(ctx, ex.Body, o, limit, body.OpenReadStream)
	}
	return out
}

type openFunc func(body.Opener, *body.Handle) (io.ReadCloser, error)

func renderBody(ctx context.Context, h *body.Handle, o body.Opener, limit int, open openFunc) *BodyEntry {
	if err := ctx.Err(); err != nil {
		return &BodyEntry{Error: err.Error()}
	}
	rc, err := open(o, h)
	if err != nil {
		return &BodyEntry{Error: err.Error()}
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, int64(limit)+1))
	entry := &BodyEntry{}
	if err != nil {
		entry.Error = err.Error()
	}
	if len(data) > limit {
		data = data[:limit]
		entry.Truncated = true
	}
	if utf8.Valid(data) {
		entry.Encoding = "text"
		entry.Data = string(data)
	} else {
		entry.Encoding = "base64"
		entry.Data = base64.StdEncoding.EncodeToString(data)
	}
	return entry
}
