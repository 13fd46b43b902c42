package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Retention periodically deletes captured bodies older than maxAge.
type Retention struct {
	store    body.Store
	schedule string
	maxAge   time.Duration
	cron     *cron.Cron
	log      *slog.Logger

	mu      sync.Mutex
	running bool
}

func NewRetention(store body.Store, schedule string, maxAge time.Duration) (*Retention, error) {
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("invalid reclaim schedule %q: %w", schedule, err)
		}
	}
	return &Retention{
		store:    store,
		schedule: schedule,
		maxAge:   maxAge,
		cron:     cron.New(),
		log:      logger.Component("retention"),
	}, nil
}

// Start schedules reclamation. An empty schedule or a non-positive max age
// disables it.
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.schedule == "" || r.maxAge <= 0 {
		return nil
	}
	if _, err := r.cron.AddFunc(r.schedule, func() { r.RunOnce() }); err != nil {
		return fmt.Errorf("failed to schedule reclamation: %w", err)
	}
	r.cron.Start()
	r.running = true
	r.log.Info("Body retention started", "schedule", r.schedule, "max_age", r.maxAge.String())
	return nil
}

// RunOnce reclaims expired bodies now and returns how many were removed.
func (r *Retention) RunOnce() int {
	n, err := r.store.Reclaim(r.maxAge)
	if err != nil {
		r.log.Error("Body reclamation failed", "error", err, "removed", n)
		return n
	}
	if n > 0 {
		r.log.Info("Reclaimed captured bodies", "removed", n)
	}
	return n
}

// Stop waits for a running reclamation to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
}
