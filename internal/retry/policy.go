// Package retry repeats backend requests that were rejected with 429.
package retry

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/internal/clock"
	"github.com/kiranshivaraju/matchdesk/internal/config"
	"github.com/kiranshivaraju/matchdesk/internal/metrics"
)

const (
	DefaultMaxRetries = 6
	DefaultBaseDelay  = time.Second
	DefaultGrowth     = 1.6
	DefaultMaxDelay   = 5 * time.Second
)

// genericRateLimitMessage is used when an exhausted 429 carried no message.
const genericRateLimitMessage = "server is busy, too many requests; try again in a minute"

// Operation is one attempt of a request. It returns the parsed reply, whatever
// its status, or a transport or decoding error.
type Operation func(ctx context.Context) (*backend.Reply, error)

// Policy retries 429 replies with capped exponential delays. The zero value
// is not usable; start from Default.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Growth     float64
	MaxDelay   time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger

	// OnRetry is called before each wait with the 1-based attempt number.
	OnRetry func(attempt int, wait time.Duration)
}

// Default returns the policy used against the analysis endpoint.
func Default(clk clock.Clock, logger *slog.Logger) Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Growth:     DefaultGrowth,
		MaxDelay:   DefaultMaxDelay,
		Clock:      clk,
		Logger:     logger,
	}
}

// FromConfig is Default with the timings from cfg.
func FromConfig(cfg config.RetryConfig, clk clock.Clock, logger *slog.Logger) Policy {
	p := Default(clk, logger)
	p.MaxRetries = cfg.MaxAttempts
	p.BaseDelay = cfg.BaseDelay
	p.Growth = cfg.Growth
	p.MaxDelay = cfg.MaxDelay
	return p
}

// Delay returns min(BaseDelay × Growth^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Growth, float64(attempt))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d).Round(time.Millisecond)
}

// newBackOff builds a deterministic ExponentialBackOff whose n-th
// NextBackOff equals Delay(n).
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(float64(p.BaseDelay) * p.Growth)
	b.Multiplier = p.Growth
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs op until it returns something other than a 429.
//
// A 2xx reply is returned as is. Any other status fails at once with a
// *backend.StatusError. The (MaxRetries+1)-th consecutive 429 fails with a
// 429 *backend.StatusError without another request. Errors from op and
// context cancellation during a wait end the loop unchanged.
func (p Policy) Do(ctx context.Context, op Operation) (*backend.Reply, error) {
	b := p.newBackOff()
	attempt := 0

	for {
		reply, err := op(ctx)
		if err != nil {
			return nil, err
		}

		if reply.Status != http.StatusTooManyRequests {
			if err := reply.Err(); err != nil {
				return nil, err
			}
			return reply, nil
		}

		attempt++
		if attempt > p.MaxRetries {
			msg := reply.ServerMessage()
			if msg == "" {
				msg = genericRateLimitMessage
			}
			return nil, &backend.StatusError{Status: http.StatusTooManyRequests, Detail: msg}
		}

		wait := b.NextBackOff().Round(time.Millisecond)
		metrics.RateLimitRetries.Inc()
		if p.Logger != nil {
			p.Logger.Warn("backend rate limited, retrying",
				"attempt", attempt,
				"max_retries", p.MaxRetries,
				"wait", wait,
			)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait)
		}

		if err := p.Clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}
