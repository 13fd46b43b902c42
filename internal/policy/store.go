package policy

import (
	"context"
	"sync/atomic"
)

// Store holds the current snapshot. Reloads swap the pointer; a snapshot is
// never modified once published.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

func (s *Store) Swap(next *Snapshot) *Snapshot {
	return s.current.Swap(next)
}

type resolvedKey struct{}

// WithResolved caches the resolved policy on the request context.
func WithResolved(ctx context.Context, r Resolved) context.Context {
	return context.WithValue(ctx, resolvedKey{}, r)
}

// FromContext returns the policy cached by WithResolved.
func FromContext(ctx context.Context) (Resolved, bool) {
	r, ok := ctx.Value(resolvedKey{}).(Resolved)
	return r, ok
}
