// Package sink delivers access log records to every configured destination.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Sink receives completed records. Implementations must not modify the record.
type Sink interface {
	LogAccess(ctx context.Context, rec *model.LogRecord) error
	Describe() string
}

// Outcome is the result of one sink for one record.
type Outcome struct {
	Sink string
	Err  error
}

// AggregateOutcome holds one Outcome per sink, in configuration order.
type AggregateOutcome struct {
	Outcomes []Outcome
}

func (a AggregateOutcome) OK() bool {
	for _, o := range a.Outcomes {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// Failures returns the failed outcomes in configuration order.
func (a AggregateOutcome) Failures() []Outcome {
	var out []Outcome
	for _, o := range a.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Err joins every sink failure, or returns nil.
func (a AggregateOutcome) Err() error {
	var errs []error
	for _, o := range a.Failures() {
		errs = append(errs, fmt.Errorf("%s: %w", o.Sink, o.Err))
	}
	return errors.Join(errs...)
}

const DefaultSinkTimeout = 5 * time.Second

// Dispatcher fans a record out to all sinks concurrently. A failing, slow or
// panicking sink never affects the others.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
}

func NewDispatcher(sinks []Sink, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSinkTimeout
	}
	if len(sinks) == 0 {
		logger.Warn("No access log sinks configured, records will only be kept in memory")
	}
	return &Dispatcher{sinks: sinks, timeout: timeout}
}

func (d *Dispatcher) Sinks() []Sink {
	return d.sinks
}

// Dispatch delivers rec to every sink and waits for all of them. With no
// sinks the outcome is empty and counts as success.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *model.LogRecord) AggregateOutcome {
	outcomes := make([]Outcome, len(d.sinks))
	var g errgroup.Group
	for i, s := range d.sinks {
		outcomes[i].Sink = s.Describe()
		i, s := i, s
		g.Go(func() error {
			outcomes[i].Err = d.deliver(ctx, s, rec)
			return nil
		})
	}
	_ = g.Wait()
	return AggregateOutcome{Outcomes: outcomes}
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, rec *model.LogRecord) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.ErrSink, fmt.Sprintf("sink panicked: %v", r), nil)
		}
	}()
	return s.LogAccess(ctx, rec)
}
