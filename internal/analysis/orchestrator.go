// Package analysis runs user-initiated analysis requests against the backend:
// it waits out prepare-day jobs, validates the range, retries rate-limited
// requests and returns the matches ranked by final probability.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/internal/busy"
	"github.com/kiranshivaraju/matchdesk/internal/clock"
	"github.com/kiranshivaraju/matchdesk/internal/metrics"
	"github.com/kiranshivaraju/matchdesk/internal/retry"
	"github.com/kiranshivaraju/matchdesk/internal/store"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// State is a step of one analysis run.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateValidating
	StateRequesting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateValidating:
		return "validating"
	case StateRequesting:
		return "requesting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Analyzer is the backend call the orchestrator makes.
type Analyzer interface {
	Analyze(ctx context.Context, q backend.AnalyzeQuery) (*backend.Reply, error)
}

// Request is one analysis the user asked for.
type Request struct {
	From   time.Time
	To     time.Time
	Market models.Market
	// LiveFetch lets the backend call its upstream data APIs. Off by default.
	LiveFetch   bool
	RequestedBy string
}

// Result is a successful analysis.
type Result struct {
	RunID   uuid.UUID
	Query   backend.AnalyzeQuery
	Matches []models.Match
}

// Orchestrator runs analysis requests. It is safe for concurrent use.
type Orchestrator struct {
	client  Analyzer
	gate    *busy.Coordinator
	policy  retry.Policy
	ledger  store.Store
	clock   clock.Clock
	logger  *slog.Logger
	timeout time.Duration
}

type Option func(*Orchestrator)

// WithGate makes runs wait for, and then hold, the busy coordinator.
func WithGate(c *busy.Coordinator) Option {
	return func(o *Orchestrator) { o.gate = c }
}

func WithLedger(s store.Store) Option {
	return func(o *Orchestrator) { o.ledger = s }
}

// WithTimeout bounds the request phase, retries included.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func New(client Analyzer, policy retry.Policy, clk clock.Clock, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client: client,
		policy: policy,
		ledger: store.Noop{},
		clock:  clk,
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one analysis. onState, if set, sees every state change.
// Validation errors are returned before any request is sent, and the busy
// coordinator is released on every terminal state.
func (o *Orchestrator) Run(ctx context.Context, req Request, onState func(State)) (*Result, error) {
	emit := func(s State) {
		if onState != nil {
			onState(s)
		}
	}
	emit(StateIdle)

	if o.gate != nil && o.gate.CheckRunning(ctx) {
		emit(StateWaiting)
		o.logger.Info("prepare-day running, waiting before analysis", "market", req.Market)
		if err := o.gate.WaitUntilIdle(ctx); err != nil {
			emit(StateFailed)
			return nil, err
		}
	}

	emit(StateValidating)
	q, err := BuildQuery(req)
	if err != nil {
		metrics.AnalysisRuns.WithLabelValues(string(req.Market), "invalid").Inc()
		emit(StateFailed)
		return nil, err
	}

	run := models.NewRun(models.RunKindAnalysis, o.clock.Now())
	market := string(q.Market)
	run.Market = &market
	if req.RequestedBy != "" {
		run.RequestedBy = &req.RequestedBy
	}
	if err := o.ledger.CreateRun(ctx, run); err != nil {
		o.logger.Warn("failed to record run", "run_id", run.ID, "error", err)
	}

	if o.gate != nil && o.gate.Activate("Analyzing "+q.Market.Description(), busy.WithoutWatch()) {
		defer o.gate.Deactivate()
	}

	emit(StateRequesting)
	matches, err := o.request(ctx, q)
	if err != nil {
		status := models.RunStatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = models.RunStatusTimeout
		}
		o.finishRun(ctx, run.ID, status, store.WithErrorMessage(err.Error()))
		metrics.AnalysisRuns.WithLabelValues(market, "failed").Inc()
		o.logger.Error("analysis failed", "run_id", run.ID, "market", market, "error", err)
		emit(StateFailed)
		return nil, err
	}

	o.finishRun(ctx, run.ID, models.RunStatusSucceeded, store.WithResultCount(len(matches)))
	metrics.AnalysisRuns.WithLabelValues(market, "succeeded").Inc()
	o.logger.Info("analysis done", "run_id", run.ID, "market", market, "matches", len(matches))
	emit(StateSucceeded)

	return &Result{RunID: run.ID, Query: q, Matches: matches}, nil
}

func (o *Orchestrator) request(ctx context.Context, q backend.AnalyzeQuery) ([]models.Match, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	policy := o.policy
	if o.gate != nil {
		next := policy.OnRetry
		policy.OnRetry = func(attempt int, wait time.Duration) {
			o.gate.Update(fmt.Sprintf("Busy (%d/%d), waiting %.1fs", attempt, policy.MaxRetries, wait.Seconds()))
			if next != nil {
				next(attempt, wait)
			}
		}
	}

	reply, err := policy.Do(ctx, func(ctx context.Context) (*backend.Reply, error) {
		return o.client.Analyze(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	matches, err := DecodeMatches(reply.Body)
	if err != nil {
		return nil, err
	}
	SortByScore(matches)
	return matches, nil
}

func (o *Orchestrator) finishRun(ctx context.Context, id uuid.UUID, status string, opts ...store.RunUpdateOption) {
	if err := o.ledger.FinishRun(context.WithoutCancel(ctx), id, status, opts...); err != nil {
		o.logger.Warn("failed to finish run", "run_id", id, "status", status, "error", err)
	}
}
