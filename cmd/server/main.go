// Package main is the entrypoint for the matchdesk API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/matchdesk/internal/analysis"
	"github.com/kiranshivaraju/matchdesk/internal/api"
	"github.com/kiranshivaraju/matchdesk/internal/api/handler"
	mw "github.com/kiranshivaraju/matchdesk/internal/api/middleware"
	"github.com/kiranshivaraju/matchdesk/internal/backend"
	"github.com/kiranshivaraju/matchdesk/internal/busy"
	"github.com/kiranshivaraju/matchdesk/internal/cache"
	"github.com/kiranshivaraju/matchdesk/internal/clock"
	"github.com/kiranshivaraju/matchdesk/internal/config"
	"github.com/kiranshivaraju/matchdesk/internal/jobs"
	"github.com/kiranshivaraju/matchdesk/internal/metrics"
	"github.com/kiranshivaraju/matchdesk/internal/notify"
	"github.com/kiranshivaraju/matchdesk/internal/retry"
	"github.com/kiranshivaraju/matchdesk/internal/scheduler"
	"github.com/kiranshivaraju/matchdesk/internal/session"
	"github.com/kiranshivaraju/matchdesk/internal/store"
)

const shutdownTimeout = 30 * time.Second

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	slog.SetDefault(newLogger(slog.LevelInfo))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// parseLevel maps a validated LOG_LEVEL to a slog level.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func run() error {
	// 1. Load config, failing fast when it is invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(parseLevel(cfg.Server.LogLevel))
	slog.SetDefault(logger)
	slog.Info("config loaded", "backend", cfg.Backend.BaseURL, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Backend client and the components that drive it
	clk := clock.Real{}
	client := backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	pgStore := store.NewPostgresStore(pool)

	busyCfg := busy.ConfigFrom(cfg.Loader)
	busyCfg.Location = cfg.Scheduler.Location()
	coordinator := busy.New(client, clk, busy.LogIndicator{Logger: logger}, logger, busyCfg)
	defer coordinator.Close()

	notifier, err := newNotifier(cfg.Telegram, logger)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	orchestrator := analysis.New(client, retry.FromConfig(cfg.Retry, clk, logger), clk, logger,
		analysis.WithGate(coordinator),
		analysis.WithLedger(pgStore),
		analysis.WithTimeout(cfg.Analysis.Timeout),
	)
	poller := jobs.NewPoller(client, clk, jobs.ConfigFrom(cfg.Jobs), logger,
		jobs.WithBusy(coordinator),
		jobs.WithLedger(pgStore),
		jobs.WithNotifier(notifier),
	)

	// 6. Optional nightly prepare-day
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(poller, clk, cfg.Scheduler, logger)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		sched.Start()
		slog.Info("scheduler enabled", "cron", cfg.Scheduler.Cron, "next", sched.Next())
	}

	// 7. Build router with dependencies
	registry := session.NewRegistry(redisCache, cfg.Session.TTL)
	bg := handler.NewBackground()
	loc := cfg.Scheduler.Location()
	prepare := handler.NewPrepareHandlers(poller, redisCache, pgStore, bg, loc)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(registry),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),

		HealthHandler: handler.NewHealthHandler(version, map[string]handler.Check{
			"database": pgStore.Ping,
			"cache":    redisCache.Ping,
			"backend":  client.Ready,
		}),
		MetricsHandler: metrics.Handler(),

		LoginHandler:    handler.NewLoginHandler(client, registry),
		RegisterHandler: handler.NewRegisterHandler(client),
		LogoutHandler:   handler.NewLogoutHandler(client, registry),
		MeHandler:       handler.NewMeHandler(),

		AnalyzeHandler:   handler.NewAnalyzeHandler(orchestrator, loc),
		BusyHandler:      handler.NewBusyHandler(coordinator),
		ListRunsHandler:  handler.NewListRunsHandler(pgStore),
		GetRunHandler:    handler.NewGetRunHandler(pgStore),
		ExportPDFHandler: handler.NewExportPDFHandler(client),

		StartPrepareHandler:  prepare.Start,
		PrepareStatusHandler: prepare.Status,
		AvailabilityHandler:  prepare.Availability,
		ListUsersHandler:     handler.NewListUsersHandler(client),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		if sched != nil {
			sched.Stop()
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if sched != nil {
		sched.Stop()
	}
	if err := bg.Shutdown(shutdownCtx); err != nil {
		slog.Warn("prepare-day followers did not stop in time", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// writeTimeout leaves room for the longest analyze request: a wait behind a
// running prepare-day, the analysis itself, and encoding the answer.
func writeTimeout(cfg *config.Config) time.Duration {
	return cfg.Loader.StaleAfter + cfg.Analysis.Timeout + 30*time.Second
}

// newNotifier always logs notices and also sends them to Telegram when a bot
// token is configured.
func newNotifier(cfg config.TelegramConfig, logger *slog.Logger) (notify.Notifier, error) {
	notifiers := notify.Multi{notify.Log{Logger: logger}}
	if cfg.BotToken == "" {
		return notifiers, nil
	}
	tg, err := notify.NewTelegram(cfg.BotToken, cfg.ChatID)
	if err != nil {
		return nil, err
	}
	return append(notifiers, tg), nil
}
