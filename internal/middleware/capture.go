package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/capture"
	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/policy"
	"github.com/GoPolymarket/capturegate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"

	ContextRequestID    = "request_id"
	ContextResolved     = "capture_policy"
	ContextShortCircuit = "short_circuit_reason"
)

// captureWriter forwards every write to the client first and then hands a
// copy of the written bytes to the capture session.
type captureWriter struct {
	gin.ResponseWriter
	session *capture.Session
}

func (w *captureWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	if n > 0 {
		w.session.Write(b[:n])
	}
	return n, err
}

func (w *captureWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	if n > 0 {
		w.session.Write([]byte(s[:n]))
	}
	return n, err
}

// CaptureMiddleware resolves the capture policy once per request, tees the
// bodies the policy asks for and submits the record after the handler ran.
func CaptureMiddleware(policies *policy.Store, writer *capture.Writer, svc *service.AccessLogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
			c.Request.Header.Set(HeaderRequestID, reqID)
		}
		c.Header(HeaderRequestID, reqID)
		c.Set(ContextRequestID, reqID)

		snap := policies.Load()
		resolved := snap.Resolve(c.Request)
		c.Set(ContextResolved, resolved)
		c.Request = c.Request.WithContext(policy.WithResolved(c.Request.Context(), resolved))

		pending := &service.PendingRecord{
			Record: &model.LogRecord{
				ID:        reqID,
				StartedAt: start,
				Method:    c.Request.Method,
				Path:      c.Request.URL.Path,
				Host:      c.Request.Host,
				Query:     c.Request.URL.RawQuery,
				ClientIP:  c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
				MatcherID: resolved.MatcherID,
				Policy:    resolved.Policy,
			},
			Request:       service.Direction{Header: c.Request.Header.Clone()},
			RedactVisible: snap.RedactVisible(),
		}

		// 1. request body
		var reqTee *capture.TeeReadCloser
		if resolved.Policy.Request.MustBuffer() {
			s := writer.Begin(body.Request, reqID)
			pending.Request.Session = s
			encoding := c.Request.Header.Get("Content-Encoding")
			if hasNoBody(c.Request) {
				s.Finish(encoding)
			} else {
				reqTee = capture.NewTeeReadCloser(c.Request.Body, s, encoding)
				c.Request.Body = reqTee
			}
		}

		// 2. response body
		var respSession *capture.Session
		if resolved.Policy.Response.MustBuffer() {
			respSession = writer.Begin(body.Response, reqID)
			pending.Response.Session = respSession
			c.Writer = &captureWriter{ResponseWriter: c.Writer, session: respSession}
		}

		defer func() {
			// ReverseProxy panics with http.ErrAbortHandler when the upstream
			// drops mid-body; the exchange is still logged, as partial.
			rec := recover()
			finishCapture(c, pending, reqTee, respSession, start, rec != nil)
			svc.Submit(pending)
			if rec != nil {
				panic(rec)
			}
		}()

		c.Next()
	}
}

func finishCapture(c *gin.Context, pending *service.PendingRecord, reqTee *capture.TeeReadCloser, respSession *capture.Session, start time.Time, panicked bool) {
	if reqTee != nil {
		// whatever was not read by now is never going to be
		reqTee.Complete()
	}
	if respSession != nil {
		encoding := c.Writer.Header().Get("Content-Encoding")
		if panicked || errors.Is(c.Request.Context().Err(), context.Canceled) {
			respSession.Abort(encoding)
		} else {
			respSession.Finish(encoding)
		}
	}

	rec := pending.Record
	rec.Status = c.Writer.Status()
	if panicked && !c.Writer.Written() {
		// recovery answers with a 500 once the panic leaves this middleware
		rec.Status = http.StatusInternalServerError
	}
	rec.LatencyMs = time.Since(start).Milliseconds()
	if reason := c.GetString(ContextShortCircuit); reason != "" {
		rec.ShortCircuited = true
		rec.ShortCircuitReason = reason
	}
	pending.Response.Header = c.Writer.Header().Clone()
}

func hasNoBody(r *http.Request) bool {
	return r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0
}

// MarkShortCircuit records that the request was answered without an upstream call.
func MarkShortCircuit(c *gin.Context, reason string) {
	c.Set(ContextShortCircuit, reason)
}

// ResolvedPolicy returns the policy resolved for this request, or the default one.
func ResolvedPolicy(c *gin.Context) policy.Resolved {
	if v, ok := c.Get(ContextResolved); ok {
		if r, ok := v.(policy.Resolved); ok {
			return r
		}
	}
	if r, ok := policy.FromContext(c.Request.Context()); ok {
		return r
	}
	return policy.Resolved{Policy: policy.DefaultPolicy()}
}

// RequestID returns the id assigned by CaptureMiddleware, or the caller's
// X-Request-ID on routes that are not captured.
func RequestID(c *gin.Context) string {
	if id := c.GetString(ContextRequestID); id != "" {
		return id
	}
	return c.GetHeader(HeaderRequestID)
}
