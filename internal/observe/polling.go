package observe

import (
	"context"
	"time"

	"github.com/kiranshivaraju/matchdesk/internal/clock"
)

// Polling fetches a fresh snapshot every interval. Each Next waits one
// interval before fetching, matching a timer that first fires after one period.
type Polling[T any] struct {
	fetch    FetchFunc[T]
	interval time.Duration
	clock    clock.Clock
}

// NewPolling returns a polling observer.
func NewPolling[T any](fetch FetchFunc[T], interval time.Duration, clk clock.Clock) *Polling[T] {
	return &Polling[T]{fetch: fetch, interval: interval, clock: clk}
}

func (p *Polling[T]) Next(ctx context.Context) (T, error) {
	if err := p.clock.Sleep(ctx, p.interval); err != nil {
		var zero T
		return zero, err
	}
	return p.fetch(ctx)
}

func (p *Polling[T]) Close() error { return nil }
