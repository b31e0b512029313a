package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// OpenFunc opens an event stream. The returned body is closed by the observer.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// Streaming decodes each event's data payload as JSON T.
//
// The stream is opened on the first Next with that call's context, so an
// observer should be driven by a single context for its lifetime. Close
// unblocks a pending read.
type Streaming[T any] struct {
	open OpenFunc

	mu   sync.Mutex
	body io.ReadCloser
	dec  *Decoder
}

// NewStreaming returns a streaming observer over the stream opened by open.
func NewStreaming[T any](open OpenFunc) *Streaming[T] {
	return &Streaming[T]{open: open}
}

func (s *Streaming[T]) Next(ctx context.Context) (T, error) {
	var zero T

	dec, err := s.decoder(ctx)
	if err != nil {
		return zero, err
	}

	ev, err := dec.Next()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if errors.Is(err, io.EOF) {
			return zero, fmt.Errorf("%w: stream closed", ErrChannel)
		}
		return zero, fmt.Errorf("%w: %w", ErrChannel, err)
	}

	var v T
	if err := json.Unmarshal([]byte(ev.Data), &v); err != nil {
		return zero, fmt.Errorf("%w: decoding %q event: %v", ErrChannel, ev.Type, err)
	}
	return v, nil
}

func (s *Streaming[T]) decoder(ctx context.Context) (*Decoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dec != nil {
		return s.dec, nil
	}
	body, err := s.open(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrChannel, err)
	}
	s.body = body
	s.dec = NewDecoder(body)
	return s.dec, nil
}

func (s *Streaming[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}
