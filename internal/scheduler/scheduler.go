// Package scheduler makes sure the current day is prepared: once at startup
// and then every night shortly after midnight in the configured zone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kiranshivaraju/matchdesk/internal/clock"
	"github.com/kiranshivaraju/matchdesk/internal/config"
	"github.com/kiranshivaraju/matchdesk/internal/jobs"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

// Preparer is the job poller surface the scheduler drives.
type Preparer interface {
	Availability(ctx context.Context, token, date string) (models.AnalysisAvailability, error)
	Run(ctx context.Context, r jobs.Request, onUpdate func(jobs.Update)) (models.PrepareDayResult, error)
}

// Scheduler runs the nightly prepare-day.
type Scheduler struct {
	cron   *cron.Cron
	prep   Preparer
	token  string
	loc    *time.Location
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New registers the ensure-day task on cfg.Cron, a six-field cron expression with
// seconds.
func New(prep Preparer, clk clock.Clock, cfg config.SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	loc := cfg.Location()
	s := &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		prep:   prep,
		token:  cfg.ServiceToken,
		loc:    loc,
		clock:  clk,
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(cfg.Cron, s.nightly); err != nil {
		return nil, fmt.Errorf("register ensure-day task %q: %w", cfg.Cron, err)
	}
	return s, nil
}

// Start ensures today in the background and starts the cron loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.EnsureDay(s.ctx); err != nil {
			s.logger.Error("initial ensure-day failed", "error", err)
		}
	}()
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()), "tz", s.loc.String())
}

// Stop stops the cron loop, cancels a running task and waits for it.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Next returns the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) nightly() {
	s.wg.Add(1)
	defer s.wg.Done()
	if err := s.EnsureDay(s.ctx); err != nil {
		s.logger.Error("nightly ensure-day failed", "error", err)
	}
}

// EnsureDay prepares today's date in the scheduler's zone unless the backend
// reports it complete. Runs are serialized.
func (s *Scheduler) EnsureDay(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := s.clock.Now().In(s.loc).Format("2006-01-02")

	avail, err := s.prep.Availability(ctx, s.token, date)
	if err != nil {
		// An unknown state is treated as not prepared.
		s.logger.Warn("availability probe failed", "date", date, "error", err)
	} else if avail.AnalysisComplete {
		s.logger.Info("day already prepared, skipping", "date", date, "fixtures", avail.FixturesCount)
		return nil
	}

	s.logger.Info("preparing day", "date", date)
	result, err := s.prep.Run(ctx, jobs.Request{Token: s.token, Date: date, RequestedBy: "scheduler"}, nil)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", date, err)
	}
	s.logger.Info("day prepared", "date", date, "fixtures", result.FixturesInDB)
	return nil
}
