package busy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/matchdesk/internal/clock"
	"github.com/kiranshivaraju/matchdesk/internal/config"
	"github.com/kiranshivaraju/matchdesk/internal/observe"
	"github.com/kiranshivaraju/matchdesk/pkg/models"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// --- test doubles ---

type stubSource struct {
	mu       sync.Mutex
	statuses []models.LoaderStatus
	err      error
	calls    int
}

func (s *stubSource) GlobalLoaderStatus(ctx context.Context) (models.LoaderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return models.LoaderStatus{}, s.err
	}
	i := min(s.calls-1, len(s.statuses)-1)
	return s.statuses[i], nil
}

func (s *stubSource) OpenLoaderEvents(ctx context.Context) (io.ReadCloser, error) {
	return nil, errors.New("no stream")
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingIndicator struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingIndicator) record(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingIndicator) Lock(detail string)   { r.record("lock:" + detail) }
func (r *recordingIndicator) Update(detail string) { r.record("update:" + detail) }
func (r *recordingIndicator) Unlock()              { r.record("unlock") }

func (r *recordingIndicator) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// blockingObserver never yields; it returns once its context is done.
type blockingObserver struct{}

func (blockingObserver) Next(ctx context.Context) (models.LoaderStatus, error) {
	<-ctx.Done()
	return models.LoaderStatus{}, ctx.Err()
}

func (blockingObserver) Close() error { return nil }

// channelObserver yields whatever is sent on its channel.
type channelObserver chan models.LoaderStatus

func (o channelObserver) Next(ctx context.Context) (models.LoaderStatus, error) {
	select {
	case s := <-o:
		return s, nil
	case <-ctx.Done():
		return models.LoaderStatus{}, ctx.Err()
	}
}

func (o channelObserver) Close() error { return nil }

type countingFactory struct {
	mu    sync.Mutex
	count int
}

func (f *countingFactory) build() observe.Observer[models.LoaderStatus] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return blockingObserver{}
}

func (f *countingFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func active(startedAt time.Time, detail string) models.LoaderStatus {
	return models.LoaderStatus{Active: true, Detail: detail, StartedAt: startedAt.UTC().Format("2006-01-02T15:04:05")}
}

func newCoordinator(t *testing.T, src StatusSource, opts ...Option) (*Coordinator, *clock.Fake, *recordingIndicator) {
	t.Helper()
	clk := clock.NewFake(epoch)
	ind := &recordingIndicator{}
	cfg := DefaultConfig()
	cfg.Stream = false
	cfg.Location = time.UTC
	c := New(src, clk, ind, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, opts...)
	t.Cleanup(c.Close)
	return c, clk, ind
}

// --- CheckRunning / WaitUntilIdle ---

func TestCheckRunning(t *testing.T) {
	tests := []struct {
		name   string
		status models.LoaderStatus
		err    error
		want   bool
	}{
		{"fresh active job", active(epoch.Add(-time.Minute), "x"), nil, true},
		{"stale active job", active(epoch.Add(-6*time.Minute), "x"), nil, false},
		{"no start time", models.LoaderStatus{Active: true}, nil, true},
		{"fresh with zone offset", models.LoaderStatus{Active: true, StartedAt: epoch.Add(-time.Minute).Format(time.RFC3339)}, nil, true},
		{"inactive", models.LoaderStatus{}, nil, false},
		{"probe error", models.LoaderStatus{}, errors.New("down"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubSource{statuses: []models.LoaderStatus{tt.status}, err: tt.err}
			c, _, _ := newCoordinator(t, src)
			assert.Equal(t, tt.want, c.CheckRunning(context.Background()))
		})
	}
}

func TestWaitUntilIdle(t *testing.T) {
	src := &stubSource{statuses: []models.LoaderStatus{
		active(epoch, "a"),
		active(epoch, "b"),
		{Active: false},
	}}
	c, clk, _ := newCoordinator(t, src)

	require.NoError(t, c.WaitUntilIdle(context.Background()))

	assert.Equal(t, 3, src.Calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestWaitUntilIdle_Cancelled(t *testing.T) {
	src := &stubSource{statuses: []models.LoaderStatus{active(epoch, "a")}}
	c, _, _ := newCoordinator(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.WaitUntilIdle(ctx), context.Canceled)
}

// --- Activate / Deactivate ---

func TestActivate_SecondCallStartsNoWatcher(t *testing.T) {
	factory := &countingFactory{}
	src := &stubSource{statuses: []models.LoaderStatus{{}}}
	c, _, ind := newCoordinator(t, src, WithObserverFactory(factory.build))

	assert.True(t, c.Activate("Preparing day"))
	assert.False(t, c.Activate("Preparing day again"))
	assert.True(t, c.State().Watching)

	c.Close()
	assert.Equal(t, 1, factory.Count())
	assert.Equal(t, []string{"lock:Preparing day", "unlock"}, ind.Events())
}

func TestActivate_SafetyTimeoutForcesRelease(t *testing.T) {
	factory := &countingFactory{}
	c, clk, _ := newCoordinator(t, &stubSource{statuses: []models.LoaderStatus{{}}}, WithObserverFactory(factory.build))

	require.True(t, c.Activate("Working"))
	clk.Advance(29 * time.Second)
	assert.True(t, c.State().Active)

	clk.Advance(time.Second)
	assert.False(t, c.State().Active)
	assert.False(t, c.State().Watching)
	assert.Equal(t, 0, clk.PendingTimers())
}

func TestActivate_WithTimeoutAndWithoutWatch(t *testing.T) {
	factory := &countingFactory{}
	c, clk, _ := newCoordinator(t, &stubSource{statuses: []models.LoaderStatus{{}}}, WithObserverFactory(factory.build))

	require.True(t, c.Activate("Prepare day", WithoutWatch(), WithTimeout(300*time.Second)))
	assert.False(t, c.State().Watching)

	clk.Advance(299 * time.Second)
	assert.True(t, c.State().Active)
	clk.Advance(time.Second)
	assert.False(t, c.State().Active)
	assert.Equal(t, 0, factory.Count())
}

func TestDeactivate_StopsTimerAndIsIdempotent(t *testing.T) {
	c, clk, ind := newCoordinator(t, &stubSource{statuses: []models.LoaderStatus{{}}})

	require.True(t, c.Activate("Working", WithoutWatch()))
	c.Deactivate()
	c.Deactivate()

	assert.Equal(t, 0, clk.PendingTimers())
	assert.Equal(t, []string{"lock:Working", "unlock"}, ind.Events())
}

func TestUpdate_OnlyWhenChanged(t *testing.T) {
	c, _, ind := newCoordinator(t, &stubSource{statuses: []models.LoaderStatus{{}}})

	c.Update("ignored while idle")
	require.True(t, c.Activate("Step 1", WithoutWatch()))
	c.Update("Step 1")
	c.Update("")
	c.Update("Step 2")

	assert.Equal(t, "Step 2", c.State().Detail)
	assert.Equal(t, []string{"lock:Step 1", "update:Step 2"}, ind.Events())
}

// --- watcher ---

func TestWatcher_MaxChecksForcesRelease(t *testing.T) {
	src := &stubSource{statuses: []models.LoaderStatus{active(epoch, "still going")}}
	c, clk, _ := newCoordinator(t, src)

	require.True(t, c.Activate("Working"))

	assert.Eventually(t, func() bool { return !c.State().Active }, 5*time.Second, 5*time.Millisecond)
	c.Close()
	assert.Equal(t, 100, src.Calls(), "every allowed check reaches the backend")
	assert.Len(t, clk.Sleeps(), 101, "release waits for the tick after the last check")
}

func TestWatcher_PushedEventAfterSyncIsApplied(t *testing.T) {
	events := make(channelObserver)
	src := &stubSource{statuses: []models.LoaderStatus{active(epoch, "Prewarming")}}
	c, _, ind := newCoordinator(t, src, WithObserverFactory(func() observe.Observer[models.LoaderStatus] { return events }))

	require.True(t, c.Activate("Working"))
	require.True(t, c.Sync(context.Background()))

	events <- models.LoaderStatus{Active: false}

	assert.Eventually(t, func() bool { return !c.State().Active }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"lock:Working", "update:Prewarming", "unlock"}, ind.Events())
}

func TestWatcher_ReadingOutranksEarlierSyncRequest(t *testing.T) {
	events := make(channelObserver)
	c, _, _ := newCoordinator(t, &stubSource{statuses: []models.LoaderStatus{{}}},
		WithObserverFactory(func() observe.Observer[models.LoaderStatus] { return events }))

	require.True(t, c.Activate("Working"))
	slow := c.Issue()

	events <- models.LoaderStatus{Active: false}
	assert.Eventually(t, func() bool { return !c.State().Active }, 5*time.Second, 5*time.Millisecond)

	assert.False(t, c.Apply(Observation{Seq: slow, Status: active(epoch, "late")}))
	assert.False(t, c.State().Active)
}

func TestWatcher_InactiveStatusDeactivates(t *testing.T) {
	src := &stubSource{statuses: []models.LoaderStatus{
		active(epoch, "teams"),
		active(epoch, "pairs"),
		{Active: false},
	}}
	c, _, ind := newCoordinator(t, src)

	require.True(t, c.Activate("Working"))

	assert.Eventually(t, func() bool { return !c.State().Active }, 5*time.Second, 5*time.Millisecond)
	c.Close()
	assert.Equal(t, 3, src.Calls())
	assert.Equal(t, []string{"lock:Working", "update:teams", "update:pairs", "unlock"}, ind.Events())
}

func TestWatcher_ProbeErrorReleases(t *testing.T) {
	src := &stubSource{err: errors.New("503")}
	c, _, _ := newCoordinator(t, src)

	require.True(t, c.Activate("Working"))

	assert.Eventually(t, func() bool { return !c.State().Active }, 5*time.Second, 5*time.Millisecond)
	c.Close()
	assert.Equal(t, 1, src.Calls())
}

// --- ordering ---

func TestApply_LateActiveCannotResurrect(t *testing.T) {
	factory := &countingFactory{}
	c, _, ind := newCoordinator(t, &stubSource{statuses: []models.LoaderStatus{{}}}, WithObserverFactory(factory.build))

	require.True(t, c.Activate("Working", WithoutWatch()))
	slow := c.Issue()
	c.Deactivate()

	applied := c.Apply(Observation{Seq: slow, Status: active(epoch, "late")})

	assert.False(t, applied)
	assert.False(t, c.State().Active)
	assert.Equal(t, []string{"lock:Working", "unlock"}, ind.Events())
	assert.Equal(t, 0, factory.Count())
}

func TestApply_OutOfOrderObservations(t *testing.T) {
	factory := &countingFactory{}
	c, _, _ := newCoordinator(t, &stubSource{statuses: []models.LoaderStatus{{}}}, WithObserverFactory(factory.build))

	older := c.Issue()
	newer := c.Issue()

	assert.True(t, c.Apply(Observation{Seq: newer, Status: models.LoaderStatus{Active: false}}))
	assert.False(t, c.Apply(Observation{Seq: older, Status: active(epoch, "old")}))
	assert.False(t, c.State().Active)
}

func TestApply_FreshActiveActivatesOnce(t *testing.T) {
	factory := &countingFactory{}
	c, _, _ := newCoordinator(t, &stubSource{statuses: []models.LoaderStatus{{}}}, WithObserverFactory(factory.build))

	assert.True(t, c.Apply(Observation{Seq: c.Issue(), Status: active(epoch, "Prewarming")}))
	assert.True(t, c.Apply(Observation{Seq: c.Issue(), Status: active(epoch, "Prewarming")}))

	st := c.State()
	assert.True(t, st.Active)
	assert.Equal(t, "Prewarming", st.Detail)

	c.Close()
	assert.Equal(t, 1, factory.Count())
}

func TestApply_StaleActiveDeactivates(t *testing.T) {
	c, _, _ := newCoordinator(t, &stubSource{statuses: []models.LoaderStatus{{}}})

	require.True(t, c.Activate("Working", WithoutWatch()))
	c.Apply(Observation{Seq: c.Issue(), Status: active(epoch.Add(-10*time.Minute), "zombie")})

	assert.False(t, c.State().Active)
}

func TestSync(t *testing.T) {
	factory := &countingFactory{}
	src := &stubSource{statuses: []models.LoaderStatus{active(epoch, "Prewarming")}}
	c, _, _ := newCoordinator(t, src, WithObserverFactory(factory.build))

	assert.True(t, c.Sync(context.Background()))
	assert.True(t, c.Sync(context.Background()))

	c.Close()
	assert.Equal(t, 1, factory.Count())
}

func TestSync_ProbeErrorKeepsState(t *testing.T) {
	c, _, _ := newCoordinator(t, &stubSource{err: errors.New("down")})

	assert.False(t, c.Sync(context.Background()))
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.LoaderConfig{
		PollInterval:  time.Second,
		MaxChecks:     7,
		SafetyTimeout: time.Minute,
		StaleAfter:    time.Hour,
		WaitInterval:  3 * time.Second,
	})
	assert.Equal(t, Config{
		PollInterval:  time.Second,
		MaxChecks:     7,
		SafetyTimeout: time.Minute,
		StaleAfter:    time.Hour,
		WaitInterval:  3 * time.Second,
		MaxWait:       time.Hour,
	}, cfg)
}

// The backend writes zoneless started_at values in its own zone.
func TestCheckRunning_ZonelessStartInBackendZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name    string
		started time.Time
		want    bool
	}{
		{"started a minute ago", epoch.Add(-time.Minute), true},
		{"started ten minutes ago", epoch.Add(-10 * time.Minute), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := models.LoaderStatus{Active: true, StartedAt: tt.started.In(ny).Format("2006-01-02T15:04:05")}
			clk := clock.NewFake(epoch)
			cfg := DefaultConfig()
			cfg.Stream = false
			cfg.Location = ny
			c := New(&stubSource{statuses: []models.LoaderStatus{status}}, clk, &recordingIndicator{},
				slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
			t.Cleanup(c.Close)

			assert.Equal(t, tt.want, c.CheckRunning(context.Background()))
		})
	}
}

func TestWaitUntilIdle_GivesUpAfterMaxWait(t *testing.T) {
	src := &stubSource{statuses: []models.LoaderStatus{{Active: true, Detail: "no start time"}}}
	c, clk, _ := newCoordinator(t, src)

	err := c.WaitUntilIdle(context.Background())

	require.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, epoch.Add(5*time.Minute), clk.Now())
	assert.Equal(t, 151, src.Calls())
}
