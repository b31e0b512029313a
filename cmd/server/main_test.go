package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/matchdesk/internal/config"
	"github.com/kiranshivaraju/matchdesk/internal/notify"
)

// ─── logging ────────────────────────────────────────────────────────────────

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

// ─── notifier ───────────────────────────────────────────────────────────────

func TestNewNotifier_LogOnly(t *testing.T) {
	n, err := newNotifier(config.TelegramConfig{}, slog.Default())
	require.NoError(t, err)

	multi, ok := n.(notify.Multi)
	require.True(t, ok)
	require.Len(t, multi, 1)
	assert.IsType(t, notify.Log{}, multi[0])
	assert.NoError(t, n.Notify(context.Background(), "Prepare Day Complete", "Day: 2024-05-01"))
}

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	clearConfigEnv(t)

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnMissingDatabaseURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BACKEND_BASE_URL", "http://localhost:8000")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BACKEND_BASE_URL", "http://localhost:8000")
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}

func TestWriteTimeout_CoversWaitAndAnalysis(t *testing.T) {
	cfg := &config.Config{
		Loader:   config.LoaderConfig{StaleAfter: 5 * time.Minute},
		Analysis: config.AnalysisConfig{Timeout: 2 * time.Minute},
	}

	got := writeTimeout(cfg)

	assert.Greater(t, got, cfg.Loader.StaleAfter+cfg.Analysis.Timeout)
	assert.Equal(t, 7*time.Minute+30*time.Second, got)
}

// ─── helper: clear env ──────────────────────────────────────────────────────

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "BACKEND_BASE_URL",
		"SCHEDULER_ENABLED", "TELEGRAM_BOT_TOKEN", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}
