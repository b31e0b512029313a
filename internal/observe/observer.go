// Package observe provides the ways a client watches a changing backend
// resource: periodic polling, a server-sent event stream, and a stream that
// degrades to polling when the channel breaks.
package observe

import (
	"context"
	"errors"
)

// ErrChannel is returned by push observers when the channel itself fails:
// it cannot be opened, it closes, or it delivers an undecodable event.
var ErrChannel = errors.New("push channel failed")

// Observer yields successive observations of one resource.
// Next blocks until the next observation is available or ctx is done.
type Observer[T any] interface {
	Next(ctx context.Context) (T, error)
	Close() error
}

// FetchFunc retrieves one snapshot of a resource.
type FetchFunc[T any] func(ctx context.Context) (T, error)

type mapped[T, U any] struct {
	inner Observer[T]
	fn    func(T) (U, error)
}

// Map adapts every observation of obs through fn.
func Map[T, U any](obs Observer[T], fn func(T) (U, error)) Observer[U] {
	return &mapped[T, U]{inner: obs, fn: fn}
}

func (m *mapped[T, U]) Next(ctx context.Context) (U, error) {
	v, err := m.inner.Next(ctx)
	if err != nil {
		var zero U
		return zero, err
	}
	return m.fn(v)
}

func (m *mapped[T, U]) Close() error { return m.inner.Close() }
