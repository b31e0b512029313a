// Package busy coordinates the process-wide "a long job is running" state.
//
// One Coordinator exists per process. It owns the busy indicator, at most one
// watcher goroutine observing the backend's global loader status, and a
// safety timer that releases the indicator if no terminal signal arrives.
package busy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/matchdesk/internal/clock"
	"github.com/kiranshivaraju/matchdesk/internal/config"
	"github.com/kiranshivaraju/matchdesk/internal/metrics"
	"github.com/kiranshivaraju/matchdesk/internal/observe"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// ErrWaitTimeout is returned by WaitUntilIdle when the backend still reports a
// live job after MaxWait.
var ErrWaitTimeout = errors.New("backend job still running")

// StatusSource is the backend surface the coordinator reads.
type StatusSource interface {
	GlobalLoaderStatus(ctx context.Context) (models.LoaderStatus, error)
	OpenLoaderEvents(ctx context.Context) (io.ReadCloser, error)
}

// Config holds the coordinator's timings.
type Config struct {
	PollInterval  time.Duration
	MaxChecks     int
	SafetyTimeout time.Duration
	StaleAfter    time.Duration
	WaitInterval  time.Duration
	// MaxWait bounds WaitUntilIdle. Zero waits for as long as the job is live.
	MaxWait time.Duration
	// Location reads started_at values that carry no zone. Nil means time.Local.
	Location *time.Location
	// Stream prefers the server-sent event channel over polling.
	Stream bool
}

// DefaultConfig returns the timings the dashboard has always used.
func DefaultConfig() Config {
	return Config{
		PollInterval:  100 * time.Millisecond,
		MaxChecks:     100,
		SafetyTimeout: 30 * time.Second,
		StaleAfter:    5 * time.Minute,
		WaitInterval:  2 * time.Second,
		MaxWait:       5 * time.Minute,
		Stream:        true,
	}
}

func ConfigFrom(c config.LoaderConfig) Config {
	return Config{
		PollInterval:  c.PollInterval,
		MaxChecks:     c.MaxChecks,
		SafetyTimeout: c.SafetyTimeout,
		StaleAfter:    c.StaleAfter,
		WaitInterval:  c.WaitInterval,
		MaxWait:       c.StaleAfter,
		Stream:        c.Stream,
	}
}

// Observation is one global status reading. Sync requests tag it with the sequence
// number issued before the request was sent; pushed and polled watcher
// readings are numbered when they arrive.
type Observation struct {
	Seq    uint64
	Status models.LoaderStatus
}

// ObserverFactory builds the observer a watcher reads from.
type ObserverFactory func() observe.Observer[models.LoaderStatus]

// Coordinator is the global busy state. It is safe for concurrent use.
type Coordinator struct {
	source      StatusSource
	clock       clock.Clock
	indicator   Indicator
	logger      *slog.Logger
	cfg         Config
	newObserver ObserverFactory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	active    bool
	detail    string
	startedAt time.Time
	checks    int
	gen       uint64
	issued    uint64
	applied   uint64
	watcher   *task
	timer     clock.Timer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserverFactory replaces the watcher's observer.
func WithObserverFactory(f ObserverFactory) Option {
	return func(c *Coordinator) { c.newObserver = f }
}

// New creates a coordinator. Close releases its goroutines.
func New(source StatusSource, clk clock.Clock, indicator Indicator, logger *slog.Logger, cfg Config, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		source:    source,
		clock:     clk,
		indicator: indicator,
		logger:    logger,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.newObserver = c.defaultObserver
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) defaultObserver() observe.Observer[models.LoaderStatus] {
	poll := func() observe.Observer[models.LoaderStatus] {
		return observe.NewPolling(c.source.GlobalLoaderStatus, c.cfg.PollInterval, c.clock)
	}
	if !c.cfg.Stream {
		return poll()
	}
	push := observe.NewStreaming[models.LoaderStatus](c.source.OpenLoaderEvents)
	return observe.NewFallback[models.LoaderStatus](push, poll, c.logger)
}

// CheckRunning reports whether the backend has a live job. An active job
// whose start time is older than StaleAfter counts as not running. Probe
// failures report false.
func (c *Coordinator) CheckRunning(ctx context.Context) bool {
	status, err := c.source.GlobalLoaderStatus(ctx)
	if err != nil {
		c.logger.Debug("global status probe failed", "error", err)
		return false
	}
	return c.live(status)
}

func (c *Coordinator) live(status models.LoaderStatus) bool {
	if !status.Active {
		return false
	}
	loc := c.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	if started, ok := status.StartedTime(loc); ok && c.clock.Now().Sub(started) > c.cfg.StaleAfter {
		return false
	}
	return true
}

// WaitUntilIdle checks every WaitInterval until CheckRunning is false. It
// gives up with ErrWaitTimeout once MaxWait has passed.
func (c *Coordinator) WaitUntilIdle(ctx context.Context) error {
	var deadline time.Time
	if c.cfg.MaxWait > 0 {
		deadline = c.clock.Now().Add(c.cfg.MaxWait)
	}
	for c.CheckRunning(ctx) {
		if !deadline.IsZero() && !c.clock.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrWaitTimeout, c.cfg.MaxWait)
		}
		if err := c.clock.Sleep(ctx, c.cfg.WaitInterval); err != nil {
			return err
		}
	}
	return ctx.Err()
}

type activateOptions struct {
	watch   bool
	timeout time.Duration
}

// ActivateOption adjusts one activation.
type ActivateOption func(*activateOptions)

// WithoutWatch activates without a watcher; the caller reports progress with
// Update and ends the activation with Deactivate.
func WithoutWatch() ActivateOption {
	return func(o *activateOptions) { o.watch = false }
}

// WithTimeout replaces the safety timeout. Zero disables the timer.
func WithTimeout(d time.Duration) ActivateOption {
	return func(o *activateOptions) { o.timeout = d }
}

// Activate shows the indicator if it is not already shown. It returns false,
// and changes nothing, when the coordinator is already active.
func (c *Coordinator) Activate(detail string, opts ...ActivateOption) bool {
	o := activateOptions{watch: true, timeout: c.cfg.SafetyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateLocked(detail, o)
}

func (c *Coordinator) activateLocked(detail string, o activateOptions) bool {
	if c.active {
		return false
	}

	c.gen++
	gen := c.gen
	c.active = true
	c.detail = detail
	c.startedAt = c.clock.Now()
	c.checks = 0

	c.indicator.Lock(detail)
	metrics.BusyActive.Set(1)

	if o.timeout > 0 {
		c.timer = c.clock.AfterFunc(o.timeout, func() { c.release(gen, "timeout") })
	}
	if o.watch {
		c.watcher = startTask(c.ctx, &c.wg, func(ctx context.Context) { c.watch(ctx, gen) })
	}
	return true
}

// Update changes the detail text of an active indicator.
func (c *Coordinator) Update(detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || detail == "" || detail == c.detail {
		return
	}
	c.detail = detail
	c.indicator.Update(detail)
}

// Deactivate hides the indicator and stops the watcher and safety timer.
// Observations issued before the call are ignored from then on.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deactivateLocked()
}

func (c *Coordinator) deactivateLocked() {
	if !c.active {
		return
	}
	c.active = false
	c.detail = ""
	c.applied = c.issued
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.watcher.stop()
	c.watcher = nil

	c.indicator.Unlock()
	metrics.BusyActive.Set(0)
}

// release force-deactivates activation gen, if it is still current.
func (c *Coordinator) release(gen uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.active {
		return
	}
	c.logger.Warn("busy indicator released without terminal signal", "reason", reason, "checks", c.checks)
	metrics.BusyForcedReleases.WithLabelValues(reason).Inc()
	c.deactivateLocked()
}

// Issue returns the sequence number for a status request about to be sent.
func (c *Coordinator) Issue() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
	return c.issued
}

// Apply applies one observation. Observations at or below the last applied
// sequence are dropped and Apply reports false.
//
// An inactive or stale status deactivates. A live status updates the detail,
// or activates with a watcher when nothing is active locally.
func (c *Coordinator) Apply(obs Observation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(obs)
}

func (c *Coordinator) applyLocked(obs Observation) bool {
	if obs.Seq <= c.applied {
		return false
	}
	c.applied = obs.Seq

	if !c.live(obs.Status) {
		if c.active && obs.Status.Active {
			metrics.BusyForcedReleases.WithLabelValues("stale").Inc()
		}
		c.deactivateLocked()
		return true
	}

	if !c.active {
		detail := obs.Status.Detail
		if detail == "" {
			detail = "Processing..."
		}
		c.activateLocked(detail, activateOptions{watch: true, timeout: c.cfg.SafetyTimeout})
		return true
	}

	if d := obs.Status.Detail; d != "" && d != c.detail {
		c.detail = d
		c.indicator.Update(d)
	}
	return true
}

// Sync probes the backend once and applies the answer. It reports whether
// the coordinator is active afterwards.
func (c *Coordinator) Sync(ctx context.Context) bool {
	seq := c.Issue()
	status, err := c.source.GlobalLoaderStatus(ctx)
	if err != nil {
		c.logger.Debug("global status sync failed", "error", err)
		return c.State().Active
	}
	c.Apply(Observation{Seq: seq, Status: status})
	return c.State().Active
}

// State returns a snapshot of the coordinator.
func (c *Coordinator) State() models.LoaderState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := models.LoaderState{
		Active:   c.active,
		Detail:   c.detail,
		Checks:   c.checks,
		Watching: c.watcher != nil,
	}
	if c.active {
		started := c.startedAt
		st.StartedAt = &started
	}
	return st
}

// Close deactivates and waits for the watcher to exit.
func (c *Coordinator) Close() {
	c.Deactivate()
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) watch(ctx context.Context, gen uint64) {
	obs := c.newObserver()
	defer obs.Close()

	for {
		status, err := obs.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Debug("global status watch failed", "error", err)
			c.release(gen, "probe_error")
			return
		}

		switch c.applyWatched(gen, status) {
		case watchStop:
			return
		case watchCapped:
			// The cap is enforced on the tick after the last allowed check.
			if c.clock.Sleep(ctx, c.cfg.PollInterval) == nil {
				c.release(gen, "max_checks")
			}
			return
		}
	}
}

type watchVerdict int

const (
	watchContinue watchVerdict = iota
	watchStop
	watchCapped
)

// applyWatched numbers a watcher reading on receipt, applies it, and reports
// whether watching should go on. A blocked read holds no sequence number, so
// a Sync answered meanwhile cannot make the next pushed event look old.
func (c *Coordinator) applyWatched(gen uint64, status models.LoaderStatus) watchVerdict {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || !c.active {
		return watchStop
	}
	c.issued++
	c.checks++
	c.applyLocked(Observation{Seq: c.issued, Status: status})
	if !c.active || gen != c.gen {
		return watchStop
	}
	if c.cfg.MaxChecks > 0 && c.checks >= c.cfg.MaxChecks {
		return watchCapped
	}
	return watchContinue
}
