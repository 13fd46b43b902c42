// Package proxy forwards requests to the upstream and answers them itself
// when the upstream is considered unavailable.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/GoPolymarket/capturegate/internal/capture"
	"github.com/GoPolymarket/capturegate/internal/config"
	"github.com/GoPolymarket/capturegate/internal/middleware"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
	"github.com/GoPolymarket/capturegate/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	ReasonCircuitOpen = "circuit_open"
	ReasonThrottled   = "upstream_throttled"
)

type Handler struct {
	target  *url.URL
	proxy   *httputil.ReverseProxy
	breaker *Breaker
	limiter *rate.Limiter
}

func NewHandler(up config.UpstreamConfig, br config.BreakerConfig) (*Handler, error) {
	target, err := url.Parse(up.URL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, apperrors.Config("upstream.url %q is not an absolute URL", up.URL)
	}

	h := &Handler{
		target:  target,
		breaker: NewBreaker(br.FailureThreshold, time.Duration(br.OpenSeconds)*time.Second),
	}
	if up.RateLimitRPS > 0 {
		burst := up.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(up.RateLimitRPS), burst)
	}

	timeout := time.Duration(up.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   100,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
		FlushInterval:  -1,
		ModifyResponse: h.observe,
		ErrorHandler:   h.upstreamError,
	}
	return h, nil
}

func (h *Handler) Breaker() *Breaker {
	return h.breaker
}

// Handle is the catch-all route.
func (h *Handler) Handle(c *gin.Context) {
	if reason := h.preempt(); reason != "" {
		h.shortCircuit(c, reason)
		return
	}
	h.proxy.ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) preempt() string {
	if !h.breaker.Allow() {
		return ReasonCircuitOpen
	}
	if h.limiter != nil && !h.limiter.Allow() {
		h.breaker.Cancel()
		return ReasonThrottled
	}
	return ""
}

// shortCircuit answers without contacting the upstream. A request body the
// policy wants captured is read to the end first so the capture is complete.
func (h *Handler) shortCircuit(c *gin.Context, reason string) {
	resolved := middleware.ResolvedPolicy(c)
	if resolved.Policy.Request.MustBuffer() && c.Request.Body != nil {
		n, err := capture.Drain(c.Request.Context(), c.Request.Body)
		if err != nil {
			logger.Warn("Failed to drain request body", "request_id", middleware.RequestID(c), "read", n, "error", err)
		}
	}

	metrics.ShortCircuits.WithLabelValues(reason).Inc()
	middleware.MarkShortCircuit(c, reason)

	msg := "upstream circuit is open"
	if reason == ReasonThrottled {
		msg = "upstream call budget exhausted"
	}
	appErr := apperrors.New(apperrors.ErrShortCircuit, msg, nil)
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
}

func (h *Handler) observe(resp *http.Response) error {
	if resp.StatusCode >= http.StatusInternalServerError {
		h.breaker.Failure()
	} else {
		h.breaker.Success()
	}
	return nil
}

func (h *Handler) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		// the client went away, the upstream is not to blame
		h.breaker.Cancel()
		w.WriteHeader(499)
		return
	}
	h.breaker.Failure()
	logger.Warn("Upstream call failed",
		"request_id", r.Header.Get(middleware.HeaderRequestID),
		"upstream", h.target.Host,
		"error", err,
	)

	appErr := apperrors.New(apperrors.ErrUpstream, "upstream unavailable", err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(appErr)
}
