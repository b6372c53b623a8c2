package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcbbot/internal/core"
	"gcbbot/internal/marketdata"
	"gcbbot/internal/telemetry"
	"gcbbot/pkg/concurrency"
	apperrors "gcbbot/pkg/errors"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...any)             {}
func (nopLogger) Info(msg string, fields ...any)              {}
func (nopLogger) Warn(msg string, fields ...any)              {}
func (nopLogger) Error(msg string, fields ...any)             {}
func (nopLogger) Fatal(msg string, fields ...any)             {}
func (nopLogger) WithField(key string, value any) core.Logger { return nopLogger{} }

type fakeVenue struct {
	core.Venue
}

func (fakeVenue) Name() string { return "fake" }

// fakeRepo admits a configurable bot count per strategy and keeps the
// engines quiet by never returning due bots.
type fakeRepo struct {
	mu       sync.Mutex
	admitted map[core.StrategyKind]int
	bots     map[string]*core.BotSpec
}

func (r *fakeRepo) GetBot(ctx context.Context, id string) (*core.BotSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bot, ok := r.bots[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return bot, nil
}

func (r *fakeRepo) DueBots(ctx context.Context, kind core.StrategyKind, now time.Time) ([]*core.BotSpec, error) {
	return nil, nil
}

func (r *fakeRepo) CountAdmitted(ctx context.Context, kind core.StrategyKind) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admitted[kind], nil
}

func (r *fakeRepo) SetRunning(ctx context.Context, id string, running bool) error { return nil }
func (r *fakeRepo) UpdateRuntime(ctx context.Context, id string, upd core.RuntimeUpdate) error {
	return nil
}
func (r *fakeRepo) InsertTrade(ctx context.Context, t *core.Trade) error       { return nil }
func (r *fakeRepo) AppendLog(ctx context.Context, e *core.ActivityEntry) error { return nil }
func (r *fakeRepo) RecentLogs(ctx context.Context, kind core.StrategyKind, limit int) ([]*core.ActivityEntry, error) {
	return nil, nil
}

type fakeCreds struct {
	mu      sync.Mutex
	enabled map[string]bool
}

func (c *fakeCreds) Resolve(ctx context.Context, userID string) (core.Credentials, error) {
	return core.Credentials{APIKey: "k", APISecret: "s"}, nil
}

func (c *fakeCreds) SetBotEnabled(ctx context.Context, userID string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == nil {
		c.enabled = make(map[string]bool)
	}
	c.enabled[userID] = enabled
	return nil
}

func (c *fakeCreds) state(userID string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.enabled[userID]
	return v, ok
}

func newTestSupervisor(t *testing.T, repo *fakeRepo, creds *fakeCreds) *Supervisor {
	t.Helper()
	venue := fakeVenue{}
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name: "test", MaxWorkers: 2, MaxCapacity: 8,
	}, nopLogger{})

	s := New(Deps{
		Venue:        venue,
		Market:       marketdata.NewProvider(venue, time.Second),
		Repo:         repo,
		Creds:        creds,
		Metrics:      telemetry.New(),
		Logger:       nopLogger{},
		Pool:         pool,
		DrainTimeout: time.Second,
	})
	t.Cleanup(s.Shutdown)
	return s
}

func TestBootStartsAdmittedAndAlwaysOnEngines(t *testing.T) {
	repo := &fakeRepo{admitted: map[core.StrategyKind]int{core.StrategyStabilizer: 2}}
	s := newTestSupervisor(t, repo, &fakeCreds{})

	require.NoError(t, s.Boot(context.Background()))

	status, err := s.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, status.PerStrategy[core.StrategyStabilizer].Running)
	assert.Equal(t, 2, status.PerStrategy[core.StrategyStabilizer].LiveBotCount)

	// Always-on engines boot with zero admitted bots.
	assert.True(t, status.PerStrategy[core.StrategyConditional].Running)
	assert.True(t, status.PerStrategy[core.StrategySellLiquidity].Running)

	// Idle strategies stay down until started or rebooted.
	assert.False(t, status.PerStrategy[core.StrategyMaker].Running)
	assert.False(t, status.PerStrategy[core.StrategyAccumulator].Running)

	assert.Equal(t, "fake", status.Venue)
}

func TestBootIsIdempotent(t *testing.T) {
	repo := &fakeRepo{admitted: map[core.StrategyKind]int{}}
	s := newTestSupervisor(t, repo, &fakeCreds{})

	ctx := context.Background()
	require.NoError(t, s.Boot(ctx))
	require.NoError(t, s.Boot(ctx))

	status, err := s.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.PerStrategy[core.StrategyConditional].Running)
}

func TestStartStopOnDemand(t *testing.T) {
	repo := &fakeRepo{admitted: map[core.StrategyKind]int{}}
	s := newTestSupervisor(t, repo, &fakeCreds{})

	assert.Error(t, s.Start(core.StrategyMaker), "start before boot must fail")

	ctx := context.Background()
	require.NoError(t, s.Boot(ctx))
	require.NoError(t, s.Start(core.StrategyMaker))

	status, err := s.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.PerStrategy[core.StrategyMaker].Running)

	require.NoError(t, s.Stop(core.StrategyMaker))
	status, err = s.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.PerStrategy[core.StrategyMaker].Running)

	assert.Error(t, s.Start(core.StrategyKind("bogus")))
	assert.Error(t, s.Stop(core.StrategyKind("bogus")))
}

func TestDisableAndEnableForUser(t *testing.T) {
	creds := &fakeCreds{}
	s := newTestSupervisor(t, &fakeRepo{admitted: map[core.StrategyKind]int{}}, creds)

	ctx := context.Background()
	require.NoError(t, s.DisableForUser(ctx, "user-1"))
	enabled, ok := creds.state("user-1")
	require.True(t, ok)
	assert.False(t, enabled)

	require.NoError(t, s.EnableForUser(ctx, "user-1"))
	enabled, _ = creds.state("user-1")
	assert.True(t, enabled)
}

func TestForceAdjustLiquidityRejectsWrongStrategy(t *testing.T) {
	repo := &fakeRepo{
		admitted: map[core.StrategyKind]int{},
		bots: map[string]*core.BotSpec{
			"b1": {ID: "b1", UserID: "u1", Strategy: core.StrategyMaker},
		},
	}
	s := newTestSupervisor(t, repo, &fakeCreds{})

	_, err := s.ForceAdjustLiquidity(context.Background(), "b1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not "+string(core.StrategySellLiquidity))

	_, err = s.ForceAdjustLiquidity(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
