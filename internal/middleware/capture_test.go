package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/capture"
	"github.com/GoPolymarket/capturegate/internal/config"
	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/capturegate/internal/policy"
	"github.com/GoPolymarket/capturegate/internal/service"
	"github.com/GoPolymarket/capturegate/internal/sink"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memorySink struct {
	mu      sync.Mutex
	records []*model.LogRecord
}

func (s *memorySink) LogAccess(_ context.Context, rec *model.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) Describe() string { return "memory" }

type harness struct {
	router *gin.Engine
	svc    *service.AccessLogService
	writer *capture.Writer
	sink   *memorySink
	calls  *atomic.Int32
}

func (h *harness) records() []*model.LogRecord {
	h.svc.Close()
	h.writer.Close()
	return h.sink.records
}

func newHarness(t *testing.T, pol policy.CapturePolicy, handler gin.HandlerFunc) *harness {
	t.Helper()
	calls := &atomic.Int32{}
	snap, err := policy.NewSnapshot([]*policy.Matcher{{
		ID: "api",
		Predicate: policy.PredicateFunc(func(r *http.Request) (bool, error) {
			calls.Add(1)
			return strings.HasPrefix(r.URL.Path, "/api"), nil
		}),
		Policy: pol,
	}}, policy.DefaultRedactVisible)
	require.NoError(t, err)

	store, err := body.NewFileStore(afero.NewMemMapFs(), "/c")
	require.NoError(t, err)
	writer := capture.NewWriter(store, capture.Options{})
	ms := &memorySink{}
	svc := service.NewAccessLogService(store, sink.NewDispatcher([]sink.Sink{ms}, time.Second), service.AccessLogOptions{Workers: 1})

	r := gin.New()
	r.Use(gin.RecoveryWithWriter(io.Discard))
	r.Use(ErrorHandler())
	r.Use(CaptureMiddleware(policy.NewStore(snap), writer, svc))
	r.Any("/*path", handler)
	return &harness{router: r, svc: svc, writer: writer, sink: ms, calls: calls}
}

func storeBoth() policy.CapturePolicy {
	return policy.CapturePolicy{
		Request:  policy.DirectionalPolicy{Body: policy.LevelStore},
		Response: policy.DirectionalPolicy{Body: policy.LevelStore},
	}
}

func TestCaptureResolvesOnceAndRecordsBodies(t *testing.T) {
	h := newHarness(t, storeBoth(), func(c *gin.Context) {
		for i := 0; i < 3; i++ {
			assert.Equal(t, "api", ResolvedPolicy(c).MatcherID)
		}
		data, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusCreated, "got:"+string(data))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/items", strings.NewReader("payload"))
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "got:payload", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Equal(t, int32(1), h.calls.Load())

	records := h.records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, w.Header().Get(HeaderRequestID), rec.ID)
	assert.Equal(t, http.StatusCreated, rec.Status)
	assert.Equal(t, "payload", string(rec.Request.Body.Bytes))
	assert.Equal(t, "got:payload", string(rec.Response.Body.Bytes))
	assert.False(t, rec.Request.Partial)
	assert.False(t, rec.Response.Partial)
}

func TestCaptureLeavesBodiesAloneWithoutBuffering(t *testing.T) {
	var bodyType string
	h := newHarness(t, storeBoth(), func(c *gin.Context) {
		_, tee := c.Request.Body.(*capture.TeeReadCloser)
		_, cw := c.Writer.(*captureWriter)
		if tee || cw {
			bodyType = "wrapped"
		} else {
			bodyType = "plain"
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/other", strings.NewReader("x")))

	assert.Equal(t, "plain", bodyType)
	records := h.records()
	require.Len(t, records, 1)
	assert.Empty(t, records[0].MatcherID)
	assert.Nil(t, records[0].Request.Body)
	assert.Equal(t, int64(-1), records[0].Response.BodySize)
}

func TestCaptureMarksUnreadRequestBodyPartial(t *testing.T) {
	h := newHarness(t, storeBoth(), func(c *gin.Context) {
		buf := make([]byte, 4)
		_, _ = io.ReadFull(c.Request.Body, buf)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/x", strings.NewReader("abcdefgh")))

	records := h.records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Request.Partial)
	assert.Equal(t, "abcd", string(records[0].Request.Body.Bytes))
}

func TestCaptureAbortsResponseWhenClientGoesAway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, storeBoth(), func(c *gin.Context) {
		c.Writer.WriteHeader(http.StatusOK)
		_, _ = c.Writer.Write([]byte("first"))
		cancel()
	})

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	h.router.ServeHTTP(httptest.NewRecorder(), req)

	records := h.records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Response.Partial)
	assert.Equal(t, "first", string(records[0].Response.Body.Bytes))
	// a request without a body is complete, not partial
	assert.False(t, records[0].Request.Partial)
	assert.Equal(t, int64(0), records[0].Request.BodySize)
}

func TestCaptureLogsExchangeWhenHandlerPanicsMidBody(t *testing.T) {
	h := newHarness(t, storeBoth(), func(c *gin.Context) {
		buf := make([]byte, 3)
		_, _ = io.ReadFull(c.Request.Body, buf)
		c.Writer.WriteHeader(http.StatusOK)
		_, _ = c.Writer.Write([]byte("half"))
		panic(errors.New("upstream reset"))
	})

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/download", strings.NewReader("abcdefgh")))
	assert.Equal(t, http.StatusOK, w.Code)

	records := h.records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, http.StatusOK, rec.Status)
	require.NotNil(t, rec.Response.Body)
	assert.True(t, rec.Response.Partial)
	assert.Equal(t, "half", string(rec.Response.Body.Bytes))
	require.NotNil(t, rec.Request.Body)
	assert.True(t, rec.Request.Partial)
	assert.Equal(t, "abc", string(rec.Request.Body.Bytes))
}

func TestCaptureRecordsServerErrorWhenPanicPrecedesResponse(t *testing.T) {
	h := newHarness(t, storeBoth(), func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	records := h.records()
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusInternalServerError, records[0].Status)
	assert.True(t, records[0].Response.Partial)
}

func TestErrorBodyCarriesRequestID(t *testing.T) {
	h := newHarness(t, storeBoth(), func(c *gin.Context) {
		c.Error(apperrors.NewInvalidRequest("bad input"))
	})
	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	h.records()

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "INVALID_REQUEST", out["code"])
	assert.Equal(t, "bad input", out["message"])
	assert.Equal(t, "req-42", out["request_id"])

	// routes outside the capture pipeline echo the caller's id
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/admin/x", func(c *gin.Context) {
		c.Error(apperrors.New(apperrors.ErrNotFound, "no such record", nil))
	})
	req = httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	req.Header.Set(HeaderRequestID, "caller-7")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"request_id":"caller-7"`)
	assert.Equal(t, "caller-7", w.Header().Get(HeaderRequestID))
}

func TestErrorHandlerRendersAppErrors(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/bad", func(c *gin.Context) {
		c.Error(apperrors.NewInvalidRequest("limit must be positive"))
	})
	r.GET("/boom", func(c *gin.Context) {
		c.Error(errors.New("kaput"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, w.Body.String(), "request_id")
}

func TestAdminMiddleware(t *testing.T) {
	build := func(key string) *gin.Engine {
		r := gin.New()
		r.GET("/admin", AdminMiddleware(config.AuthConfig{AdminKey: key}), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return r
	}
	get := func(r *gin.Engine, key string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if key != "" {
			req.Header.Set(HeaderAdminKey, key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	closed := build("")
	assert.Equal(t, http.StatusForbidden, get(closed, ""))
	assert.Equal(t, http.StatusForbidden, get(closed, "anything"))

	open := build("s3cret")
	assert.Equal(t, http.StatusUnauthorized, get(open, ""))
	assert.Equal(t, http.StatusUnauthorized, get(open, "s3cre"))
	assert.Equal(t, http.StatusOK, get(open, "s3cret"))
}
