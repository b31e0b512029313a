package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/matchdesk/internal/store"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("matchdesk_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))
	// Applying twice is a no-op.
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func strPtr(s string) *string { return &s }

func newAnalysisRun(market string) *models.Run {
	r := models.NewRun(models.RunKindAnalysis, time.Now())
	r.Market = strPtr(market)
	r.RequestedBy = strPtr("ann@example.com")
	return r
}

// --- Runs ---

func TestCreateAndGetRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	run := newAnalysisRun("gg1h")
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, models.RunKindAnalysis, got.Kind)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	require.NotNil(t, got.Market)
	assert.Equal(t, "gg1h", *got.Market)
	assert.Nil(t, got.CompletedAt)
}

func TestGetRun_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFinishRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	run := models.NewRun(models.RunKindPrepareDay, time.Now())
	run.Day = strPtr("2024-05-01")
	require.NoError(t, s.CreateRun(ctx, run))

	err := s.FinishRun(ctx, run.ID, models.RunStatusSucceeded,
		store.WithJobID("job-9"),
		store.WithResultCount(42),
		store.WithDetail("Fixtures: 42"),
	)
	require.NoError(t, err)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Equal(t, 42, got.ResultCount)
	require.NotNil(t, got.JobID)
	assert.Equal(t, "job-9", *got.JobID)
	assert.NotNil(t, got.CompletedAt)

	// Terminal runs cannot move again.
	err = s.FinishRun(ctx, run.ID, models.RunStatusFailed, store.WithErrorMessage("late"))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestFinishRun_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	err := s.FinishRun(context.Background(), uuid.New(), models.RunStatusFailed)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRuns_FilterAndPaginate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateRun(ctx, newAnalysisRun("1h_over05")))
	}
	prep := models.NewRun(models.RunKindPrepareDay, time.Now())
	require.NoError(t, s.CreateRun(ctx, prep))

	runs, total, err := s.ListRuns(ctx, store.RunFilter{Kind: models.RunKindAnalysis, Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, runs, 2)

	runs, total, err = s.ListRuns(ctx, store.RunFilter{Kind: models.RunKindAnalysis, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, runs, 1)

	runs, total, err = s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, runs, 4)
}

func TestNoop(t *testing.T) {
	var s store.Store = store.Noop{}
	ctx := context.Background()

	run := models.NewRun(models.RunKindAnalysis, time.Now())
	assert.NoError(t, s.CreateRun(ctx, run))
	assert.NoError(t, s.FinishRun(ctx, run.ID, models.RunStatusSucceeded))

	_, err := s.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	runs, total, err := s.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Zero(t, total)
}
