// Package jobs starts prepare-day jobs on the backend and follows them to a
// terminal state.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/internal/busy"
	"github.com/kiranshivaraju/matchdesk/internal/clock"
	"github.com/kiranshivaraju/matchdesk/internal/config"
	"github.com/kiranshivaraju/matchdesk/internal/metrics"
	"github.com/kiranshivaraju/matchdesk/internal/notify"
	"github.com/kiranshivaraju/matchdesk/internal/observe"
	"github.com/kiranshivaraju/matchdesk/internal/store"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// Client is the backend surface the poller uses.
type Client interface {
	StartPrepareDay(ctx context.Context, token string, req models.PrepareDayRequest) (string, error)
	PrepareDayStatus(ctx context.Context, jobID string) (models.Job, error)
	CheckAnalysisExists(ctx context.Context, token, date string) (models.AnalysisAvailability, error)
}

type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: 3 * time.Second, Timeout: 5 * time.Minute}
}

func ConfigFrom(c config.JobsConfig) Config {
	return Config{PollInterval: c.PollInterval, Timeout: c.Timeout}
}

// Request describes one prepare-day job to run.
type Request struct {
	Token       string
	Date        string
	RequestedBy string
}

// Handle identifies a started job.
type Handle struct {
	JobID     string
	RunID     uuid.UUID
	Date      string
	StartedAt time.Time
}

// Update is a progress report passed to the caller's callback.
type Update struct {
	Status   models.JobStatus
	Progress *float64
	Detail   string
}

// ObserverFactory builds the observer used to follow one job.
type ObserverFactory func(h *Handle) observe.Observer[models.Job]

// Poller owns the lifecycle of prepare-day jobs.
type Poller struct {
	client      Client
	clock       clock.Clock
	cfg         Config
	logger      *slog.Logger
	busy        *busy.Coordinator
	ledger      store.Store
	notifier    notify.Notifier
	newObserver ObserverFactory
}

type Option func(*Poller)

// WithBusy holds the coordinator for the duration of each Finish.
func WithBusy(c *busy.Coordinator) Option {
	return func(p *Poller) { p.busy = c }
}

func WithLedger(s store.Store) Option {
	return func(p *Poller) { p.ledger = s }
}

func WithNotifier(n notify.Notifier) Option {
	return func(p *Poller) { p.notifier = n }
}

func WithObserverFactory(f ObserverFactory) Option {
	return func(p *Poller) { p.newObserver = f }
}

func NewPoller(client Client, clk clock.Clock, cfg Config, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		client: client,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
		ledger: store.Noop{},
	}
	p.newObserver = p.pollingObserver
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) pollingObserver(h *Handle) observe.Observer[models.Job] {
	fetch := func(ctx context.Context) (models.Job, error) {
		return p.client.PrepareDayStatus(ctx, h.JobID)
	}
	return observe.NewPolling(fetch, p.cfg.PollInterval, p.clock)
}

// Start enqueues a job. An empty token fails before any request is sent.
func (p *Poller) Start(ctx context.Context, token string, req models.PrepareDayRequest) (*Handle, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no session token", backend.ErrUnauthorized)
	}
	if req.SessionID == "" {
		req.SessionID = token
	}

	jobID, err := p.client.StartPrepareDay(ctx, token, req)
	if err != nil {
		return nil, fmt.Errorf("start prepare-day: %w", err)
	}

	p.logger.Info("prepare-day job started", "job_id", jobID, "date", req.Date)
	return &Handle{JobID: jobID, Date: req.Date, StartedAt: p.clock.Now()}, nil
}

// AwaitCompletion follows a job until it is done, fails, or the local
// timeout passes. onUpdate, if set, is called only when the reported progress
// or detail changes. Context cancellation stops observing and leaves the job
// running on the backend.
func (p *Poller) AwaitCompletion(ctx context.Context, h *Handle, onUpdate func(Update)) (json.RawMessage, error) {
	obs := p.newObserver(h)
	defer obs.Close()

	deadline := p.clock.Now().Add(p.cfg.Timeout)
	var (
		lastProgress *float64
		lastDetail   string
	)

	for {
		if !p.clock.Now().Before(deadline) {
			metrics.JobsObserved.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: job %s after %s", ErrTimeout, h.JobID, p.cfg.Timeout)
		}

		job, err := obs.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				metrics.JobsObserved.WithLabelValues("abandoned").Inc()
				return nil, ctxErr
			}
			return nil, fmt.Errorf("prepare-day status: %w", err)
		}

		switch job.Status {
		case models.JobStatusDone:
			metrics.JobsObserved.WithLabelValues("done").Inc()
			metrics.JobDuration.Observe(p.clock.Now().Sub(h.StartedAt).Seconds())
			return job.Result, nil
		case models.JobStatusError:
			metrics.JobsObserved.WithLabelValues("error").Inc()
			metrics.JobDuration.Observe(p.clock.Now().Sub(h.StartedAt).Seconds())
			return nil, &FailedError{JobID: h.JobID, Detail: job.FailureDetail()}
		}

		progressChanged := job.Progress != nil && (lastProgress == nil || *job.Progress != *lastProgress)
		detailChanged := job.Detail != "" && job.Detail != lastDetail
		if job.Progress != nil {
			lastProgress = job.Progress
		}
		if job.Detail != "" {
			lastDetail = job.Detail
		}
		if (progressChanged || detailChanged) && onUpdate != nil {
			onUpdate(Update{Status: job.Status, Progress: job.Progress, Detail: job.Detail})
		}
	}
}

// Begin records a run in the ledger and starts the job.
func (p *Poller) Begin(ctx context.Context, r Request) (*Handle, error) {
	run := models.NewRun(models.RunKindPrepareDay, p.clock.Now())
	run.Day = &r.Date
	if r.RequestedBy != "" {
		run.RequestedBy = &r.RequestedBy
	}
	if err := p.ledger.CreateRun(ctx, run); err != nil {
		p.logger.Warn("failed to record run", "run_id", run.ID, "error", err)
	}

	h, err := p.Start(ctx, r.Token, models.PrepareDayRequest{Date: r.Date, Prewarm: true, SessionID: r.Token})
	if err != nil {
		p.finishRun(ctx, run.ID, models.RunStatusFailed, store.WithErrorMessage(err.Error()))
		return nil, err
	}
	h.RunID = run.ID
	return h, nil
}

// Finish awaits a job started with Begin while holding the busy coordinator,
// then records the outcome and sends a notice.
func (p *Poller) Finish(ctx context.Context, h *Handle, onUpdate func(Update)) (models.PrepareDayResult, error) {
	held := p.busy != nil && p.busy.Activate("queued", busy.WithoutWatch(), busy.WithTimeout(p.cfg.Timeout))
	if held {
		defer p.busy.Deactivate()
	}

	update := func(u Update) {
		if held {
			detail := u.Detail
			if detail == "" {
				detail = "Processing..."
			}
			p.busy.Update(detail)
		}
		if onUpdate != nil {
			onUpdate(u)
		}
	}

	raw, err := p.AwaitCompletion(ctx, h, update)
	if err != nil {
		status := models.RunStatusFailed
		if errors.Is(err, ErrTimeout) {
			status = models.RunStatusTimeout
		}
		p.finishRun(ctx, h.RunID, status, store.WithJobID(h.JobID), store.WithErrorMessage(err.Error()))
		p.notify(ctx, "Prepare Day Error", FailureMessage(err))
		p.logger.Error("prepare-day job failed", "job_id", h.JobID, "date", h.Date, "error", err)
		return models.PrepareDayResult{}, err
	}

	result, err := models.DecodePrepareDayResult(raw)
	if err != nil {
		p.finishRun(ctx, h.RunID, models.RunStatusFailed, store.WithJobID(h.JobID), store.WithErrorMessage(err.Error()))
		return models.PrepareDayResult{}, fmt.Errorf("%w: %v", backend.ErrMalformedResponse, err)
	}
	if result.Day == "" {
		result.Day = h.Date
	}

	summary := FormatSummary(result)
	p.finishRun(ctx, h.RunID, models.RunStatusSucceeded,
		store.WithJobID(h.JobID),
		store.WithResultCount(result.FixturesInDB),
		store.WithDetail(summary),
	)
	p.notify(ctx, "Prepare Day Complete", summary)
	p.logger.Info("prepare-day job done", "job_id", h.JobID, "date", result.Day, "fixtures", result.FixturesInDB)
	return result, nil
}

// Run is Begin followed by Finish.
func (p *Poller) Run(ctx context.Context, r Request, onUpdate func(Update)) (models.PrepareDayResult, error) {
	h, err := p.Begin(ctx, r)
	if err != nil {
		return models.PrepareDayResult{}, err
	}
	return p.Finish(ctx, h, onUpdate)
}

// Availability reports whether the analysis for date is already prepared.
func (p *Poller) Availability(ctx context.Context, token, date string) (models.AnalysisAvailability, error) {
	if token == "" {
		return models.AnalysisAvailability{}, fmt.Errorf("%w: no session token", backend.ErrUnauthorized)
	}
	return p.client.CheckAnalysisExists(ctx, token, date)
}

func (p *Poller) finishRun(ctx context.Context, id uuid.UUID, status string, opts ...store.RunUpdateOption) {
	if id == uuid.Nil {
		return
	}
	// Ledger writes outlive the caller's context.
	if err := p.ledger.FinishRun(context.WithoutCancel(ctx), id, status, opts...); err != nil {
		p.logger.Warn("failed to finish run", "run_id", id, "status", status, "error", err)
	}
}

func (p *Poller) notify(ctx context.Context, title, body string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(context.WithoutCancel(ctx), title, body); err != nil {
		p.logger.Warn("notification failed", "title", title, "error", err)
	}
}

// FailureMessage is the user-facing text for a failed prepare-day.
func FailureMessage(err error) string {
	var failed *FailedError
	if errors.As(err, &failed) {
		return failed.UserMessage()
	}
	return err.Error()
}
