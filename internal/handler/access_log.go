package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/capturegate/internal/policy"
	"github.com/GoPolymarket/capturegate/internal/service"
	"github.com/GoPolymarket/capturegate/internal/sink"
	"github.com/gin-gonic/gin"
)

type AccessLogHandler struct {
	svc         *service.AccessLogService
	policies    *policy.Store
	renderLimit int
}

func NewAccessLogHandler(svc *service.AccessLogService, policies *policy.Store, renderLimit int) *AccessLogHandler {
	return &AccessLogHandler{svc: svc, policies: policies, renderLimit: renderLimit}
}

// List returns the most recent access log entries, newest first.
// Query: limit, matcher, from, to (RFC3339 or unix seconds).
func (h *AccessLogHandler) List(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.Error(apperrors.NewInvalidRequest("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	var from, to *time.Time
	for key, dst := range map[string]**time.Time{"from": &from, "to": &to} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(key + ": " + err.Error()))
			return
		}
		*dst = &t
	}

	// over-fetch when a time window narrows the result
	fetch := limit
	if from != nil || to != nil {
		fetch = 0
	}
	records := h.svc.Recent(fetch, c.Query("matcher"))

	entries := make([]*sink.Entry, 0, limit)
	for _, rec := range records {
		if !inWindow(rec, from, to) {
			continue
		}
		entries = append(entries, sink.Render(c.Request.Context(), rec, h.svc.Store(), h.renderLimit))
		if len(entries) >= limit {
			break
		}
	}
	c.JSON(http.StatusOK, entries)
}

// Matchers shows the matcher ids of the active snapshot in evaluation order.
func (h *AccessLogHandler) Matchers(c *gin.Context) {
	snap := h.policies.Load()
	c.JSON(http.StatusOK, gin.H{
		"matchers":       snap.Matchers(),
		"redact_visible": snap.RedactVisible(),
	})
}

func inWindow(rec *model.LogRecord, from, to *time.Time) bool {
	if from != nil && rec.StartedAt.Before(*from) {
		return false
	}
	if to != nil && rec.StartedAt.After(*to) {
		return false
	}
	return true
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}
