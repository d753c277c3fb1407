package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chartpilot/analysis-engine/internal/models"
)

// reserveScript checks both counters and increments them only when both are
// below their limits. Returns {granted, daily, monthly, exhausted} where
// exhausted is 1 for daily, 2 for monthly.
var reserveScript = redis.NewScript(`
local daily = tonumber(redis.call('GET', KEYS[1]) or '0')
local monthly = tonumber(redis.call('GET', KEYS[2]) or '0')
if daily >= tonumber(ARGV[1]) then
  return {0, daily, monthly, 1}
end
if monthly >= tonumber(ARGV[2]) then
  return {0, daily, monthly, 2}
end
daily = redis.call('INCR', KEYS[1])
if daily == 1 then
  redis.call('PEXPIREAT', KEYS[1], ARGV[3])
end
monthly = redis.call('INCR', KEYS[2])
if monthly == 1 then
  redis.call('PEXPIREAT', KEYS[2], ARGV[4])
end
return {1, daily, monthly, 0}
`)

// expiryGrace keeps a finished window readable briefly after its boundary.
const expiryGrace = time.Hour

// RedisStore keeps counters in a Valkey/Redis server and reserves through a
// Lua script, which the server runs atomically.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Counts implements Store.
func (s *RedisStore) Counts(ctx context.Context, dailyKey, monthlyKey string) (Counters, error) {
	values, err := s.client.MGet(ctx, dailyKey, monthlyKey).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("read counters: %w", err)
	}
	if len(values) != 2 {
		return Counters{}, fmt.Errorf("read counters: expected 2 values, got %d", len(values))
	}
	daily, err := counterValue(values[0])
	if err != nil {
		return Counters{}, err
	}
	monthly, err := counterValue(values[1])
	if err != nil {
		return Counters{}, err
	}
	return Counters{Daily: daily, Monthly: monthly}, nil
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, r Reservation) (ReserveResult, error) {
	keys := []string{r.DailyKey, r.MonthlyKey}
	reply, err := reserveScript.Run(ctx, s.client, keys,
		r.DailyLimit,
		r.MonthlyLimit,
		r.DailyResetAt.Add(expiryGrace).UnixMilli(),
		r.MonthlyResetAt.Add(expiryGrace).UnixMilli(),
	).Int64Slice()
	if err != nil {
		return ReserveResult{}, fmt.Errorf("reserve script: %w", err)
	}
	if len(reply) != 4 {
		return ReserveResult{}, fmt.Errorf("reserve script: unexpected reply length %d", len(reply))
	}

	result := ReserveResult{
		Granted:  reply[0] == 1,
		Counters: Counters{Daily: int(reply[1]), Monthly: int(reply[2])},
	}
	switch reply[3] {
	case 1:
		result.Exhausted = models.WindowDaily
	case 2:
		result.Exhausted = models.WindowMonthly
	}
	return result, nil
}

func counterValue(v interface{}) (int, error) {
	switch value := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("parse counter %q: %w", value, err)
		}
		return n, nil
	default:
		return 0, errors.New("unexpected counter type")
	}
}
