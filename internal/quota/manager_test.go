package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartpilot/analysis-engine/internal/clock"
	"github.com/chartpilot/analysis-engine/internal/models"
)

func newTestManager(store Store, clk clock.Source, tier models.Tier) *Manager {
	return NewManager(store, clk, DefaultLimits(), StaticTiers{Default: tier}, nil)
}

func TestTierLimits(t *testing.T) {
	m := newTestManager(NewMemoryStore(), nil, models.TierFree)

	cases := []struct {
		tier    models.Tier
		feature models.Feature
		want    Limits
	}{
		{models.TierFree, models.FeatureDeep, Limits{Daily: 1, Monthly: 30}},
		{models.TierStarter, models.FeatureDeep, Limits{Daily: 5, Monthly: 150}},
		{models.TierPro, models.FeatureDeep, Limits{Daily: 15, Monthly: 450}},
		{models.TierFree, models.FeatureBasic, Limits{Daily: 3, Monthly: 90}},
	}
	for _, tc := range cases {
		got, err := m.TierLimits(tc.tier, tc.feature)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s/%s", tc.tier, tc.feature)
	}

	_, err := m.TierLimits("platinum", models.FeatureDeep)
	assert.Error(t, err)
}

func TestLimitOverrides(t *testing.T) {
	table := DefaultLimits().WithOverrides(LimitTable{
		models.FeatureDeep: {models.TierFree: {Daily: 2}},
	})
	l, err := table.Lookup(models.TierFree, models.FeatureDeep)
	require.NoError(t, err)
	assert.Equal(t, Limits{Daily: 2, Monthly: 30}, l)

	// The source table is untouched.
	l, err = DefaultLimits().Lookup(models.TierFree, models.FeatureDeep)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Daily)
}

func TestCheckLimitsIsIdempotent(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	m := newTestManager(NewMemoryStore(), clk, models.TierStarter)
	ctx := context.Background()

	_, err := m.Reserve(ctx, "user-1", models.FeatureDeep)
	require.NoError(t, err)

	first, err := m.CheckLimits(ctx, "user-1", models.FeatureDeep)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := m.CheckLimits(ctx, "user-1", models.FeatureDeep)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 1, first.Daily.Count)
	assert.Equal(t, 1, first.Monthly.Count)
	assert.True(t, first.CanProceed)
}

func TestReserveStopsAtDailyLimit(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	m := newTestManager(NewMemoryStore(), clk, models.TierStarter)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		state, err := m.Reserve(ctx, "user-1", models.FeatureDeep)
		require.NoError(t, err)
		assert.Equal(t, i, state.Daily.Count)
	}

	state, err := m.Reserve(ctx, "user-1", models.FeatureDeep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, models.WindowDaily, exceeded.Window)
	assert.False(t, state.CanProceed)
	assert.Equal(t, 5, state.Daily.Count, "rejection must not increment")
}

func TestFeaturesAreMeteredSeparately(t *testing.T) {
	m := newTestManager(NewMemoryStore(), clock.NewManual(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)), models.TierFree)
	ctx := context.Background()

	_, err := m.Reserve(ctx, "user-1", models.FeatureDeep)
	require.NoError(t, err)
	_, err = m.Reserve(ctx, "user-1", models.FeatureDeep)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	state, err := m.Reserve(ctx, "user-1", models.FeatureBasic)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Daily.Count)
}

func TestDailyWindowResetsAtBoundary(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 10, 23, 59, 0, 0, time.UTC))
	m := newTestManager(NewMemoryStore(), clk, models.TierFree)
	ctx := context.Background()

	state, err := m.Reserve(ctx, "user-1", models.FeatureDeep)
	require.NoError(t, err)
	boundary := state.Daily.ResetAt
	assert.Equal(t, time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC), boundary)

	clk.Set(boundary)
	after, err := m.CheckLimits(ctx, "user-1", models.FeatureDeep)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Daily.Count)
	assert.True(t, after.Daily.ResetAt.After(clk.Now()))
	assert.Equal(t, 1, after.Monthly.Count, "monthly window continues")
	assert.True(t, after.CanProceed)
}

func TestMonthlyLimitAcrossDays(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	m := newTestManager(NewMemoryStore(), clk, models.TierFree)
	ctx := context.Background()

	for day := 1; day <= 30; day++ {
		_, err := m.Reserve(ctx, "user-1", models.FeatureDeep)
		require.NoError(t, err, "day %d", day)
		clk.Advance(24 * time.Hour)
	}

	_, err := m.Reserve(ctx, "user-1", models.FeatureDeep)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, models.WindowMonthly, exceeded.Window)

	clk.Set(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	state, err := m.Reserve(ctx, "user-1", models.FeatureDeep)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Monthly.Count)
}

func TestReserveRequiresSubject(t *testing.T) {
	m := newTestManager(NewMemoryStore(), nil, models.TierFree)
	_, err := m.Reserve(context.Background(), "  ", models.FeatureDeep)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrQuotaExceeded))
}

func TestConcurrentReserveNeverOverGrants(t *testing.T) {
	for _, tier := range []models.Tier{models.TierFree, models.TierStarter, models.TierPro} {
		t.Run(string(tier), func(t *testing.T) {
			clk := clock.NewManual(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
			m := newTestManager(NewMemoryStore(), clk, tier)
			limits, err := m.TierLimits(tier, models.FeatureDeep)
			require.NoError(t, err)

			assertConcurrentGrants(t, m, limits.Daily)
		})
	}
}

func assertConcurrentGrants(t *testing.T, m *Manager, want int) {
	t.Helper()
	const callers = 64
	var granted, rejected atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Reserve(context.Background(), "user-race", models.FeatureDeep)
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, ErrQuotaExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(want), granted.Load())
	assert.Equal(t, int32(callers-want), rejected.Load())
}

type overGrantingStore struct{ *MemoryStore }

func (s overGrantingStore) Reserve(ctx context.Context, r Reservation) (ReserveResult, error) {
	return ReserveResult{Granted: true, Counters: Counters{Daily: r.DailyLimit + 1, Monthly: 1}}, nil
}

func TestReserveRejectsOverGrantedCounts(t *testing.T) {
	m := newTestManager(overGrantingStore{NewMemoryStore()}, nil, models.TierFree)
	_, err := m.Reserve(context.Background(), "user-1", models.FeatureDeep)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, models.WindowDaily, exceeded.Window)
}

func TestMemoryStoreSweep(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	m := newTestManager(store, clk, models.TierPro)

	_, err := m.Reserve(context.Background(), "user-1", models.FeatureDeep)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	assert.Equal(t, 0, store.Sweep(clk.Now()))
	assert.Equal(t, 1, store.Sweep(time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, store.Sweep(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, store.Len())
}
