package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoPolymarket/capturegate/internal/model"
	"github.com/GoPolymarket/capturegate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSink struct {
	name  string
	err   error
	panic bool
	delay time.Duration
	calls atomic.Int32
}

func (s *stubSink) LogAccess(ctx context.Context, rec *model.LogRecord) error {
	s.calls.Add(1)
	if s.panic {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *stubSink) Describe() string { return s.name }

func TestDispatchIsolatesFailures(t *testing.T) {
	a := &stubSink{name: "A", err: errors.New("disk full")}
	b := &stubSink{name: "B"}
	d := NewDispatcher([]Sink{a, b}, time.Second)

	out := d.Dispatch(context.Background(), &model.LogRecord{ID: "r1"})

	assert.False(t, out.OK())
	require.Len(t, out.Outcomes, 2)
	assert.Equal(t, "A", out.Outcomes[0].Sink)
	assert.Equal(t, "B", out.Outcomes[1].Sink)
	assert.NoError(t, out.Outcomes[1].Err)
	require.Len(t, out.Failures(), 1)
	assert.Equal(t, "A", out.Failures()[0].Sink)
	assert.ErrorContains(t, out.Err(), "A: disk full")
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestDispatchRecoversPanics(t *testing.T) {
	bad := &stubSink{name: "bad", panic: true}
	good := &stubSink{name: "good"}
	d := NewDispatcher([]Sink{bad, good}, time.Second)

	out := d.Dispatch(context.Background(), &model.LogRecord{ID: "r2"})

	require.Len(t, out.Failures(), 1)
	assert.True(t, apperrors.Is(out.Outcomes[0].Err, apperrors.ErrSink))
	assert.NoError(t, out.Outcomes[1].Err)
}

func TestDispatchTimesOutSlowSinkOnly(t *testing.T) {
	slow := &stubSink{name: "slow", delay: time.Minute}
	fast := &stubSink{name: "fast"}
	d := NewDispatcher([]Sink{slow, fast}, 50*time.Millisecond)

	start := time.Now()
	out := d.Dispatch(context.Background(), &model.LogRecord{ID: "r3"})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, out.Outcomes[0].Err, context.DeadlineExceeded)
	assert.NoError(t, out.Outcomes[1].Err)
}

func TestDispatchWithoutSinksSucceeds(t *testing.T) {
	d := NewDispatcher(nil, 0)
	out := d.Dispatch(context.Background(), &model.LogRecord{ID: "r4"})
	assert.True(t, out.OK())
	assert.Empty(t, out.Outcomes)
	assert.NoError(t, out.Err())
}
