package observe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Fallback prefers a push observer and switches, once and for good, to a
// polling observer when the push channel fails.
type Fallback[T any] struct {
	logger  *slog.Logger
	newPoll func() Observer[T]

	mu       sync.Mutex
	current  Observer[T]
	degraded bool
}

// NewFallback returns an observer that starts on push and builds the polling
// replacement lazily with newPoll.
func NewFallback[T any](push Observer[T], newPoll func() Observer[T], logger *slog.Logger) *Fallback[T] {
	return &Fallback[T]{logger: logger, newPoll: newPoll, current: push}
}

func (f *Fallback[T]) Next(ctx context.Context) (T, error) {
	f.mu.Lock()
	obs := f.current
	f.mu.Unlock()

	v, err := obs.Next(ctx)
	if err == nil || !errors.Is(err, ErrChannel) {
		return v, err
	}

	f.mu.Lock()
	if !f.degraded {
		f.degraded = true
		obs.Close()
		f.current = f.newPoll()
		if f.logger != nil {
			f.logger.Warn("push channel failed, falling back to polling", "error", err)
		}
	}
	obs = f.current
	f.mu.Unlock()

	return obs.Next(ctx)
}

// Degraded reports whether the observer has switched to polling.
func (f *Fallback[T]) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *Fallback[T]) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Close()
}
