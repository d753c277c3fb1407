package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartpilot/analysis-engine/internal/clock"
	"github.com/chartpilot/analysis-engine/internal/models"
)

func newRedisStore(t *testing.T, now time.Time) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	server.SetTime(now)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), server
}

func TestRedisStoreReserveAndCounts(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	store, server := newRedisStore(t, clk.Now())
	m := newTestManager(store, clk, models.TierFree)
	ctx := context.Background()

	state, err := m.CheckLimits(ctx, "user-1", models.FeatureBasic)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Daily.Count)

	for i := 1; i <= 3; i++ {
		state, err = m.Reserve(ctx, "user-1", models.FeatureBasic)
		require.NoError(t, err)
		assert.Equal(t, i, state.Daily.Count)
		assert.Equal(t, i, state.Monthly.Count)
	}

	_, err = m.Reserve(ctx, "user-1", models.FeatureBasic)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, models.WindowDaily, exceeded.Window)

	dailyKey := windowKey("user-1", models.FeatureBasic, models.WindowDaily, clock.WindowStart(models.WindowDaily, clk.Now()))
	value, err := server.Get(dailyKey)
	require.NoError(t, err)
	assert.Equal(t, "3", value)
	assert.True(t, server.TTL(dailyKey) > 0, "daily key should expire")
}

func TestRedisStoreConcurrentReserve(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	store, _ := newRedisStore(t, clk.Now())
	m := newTestManager(store, clk, models.TierPro)

	assertConcurrentGrants(t, m, 15)
}

func TestRedisStoreMonthlyExhaustion(t *testing.T) {
	store, _ := newRedisStore(t, time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	r := Reservation{
		DailyKey:       "quota:{u}:deep:daily:20260510",
		MonthlyKey:     "quota:{u}:deep:monthly:202605",
		DailyLimit:     5,
		MonthlyLimit:   1,
		DailyResetAt:   time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC),
		MonthlyResetAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	first, err := store.Reserve(ctx, r)
	require.NoError(t, err)
	assert.True(t, first.Granted)

	second, err := store.Reserve(ctx, r)
	require.NoError(t, err)
	assert.False(t, second.Granted)
	assert.Equal(t, models.WindowMonthly, second.Exhausted)
	assert.Equal(t, Counters{Daily: 1, Monthly: 1}, second.Counters)
}
