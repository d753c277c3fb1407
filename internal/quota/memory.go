package quota

import (
	"context"
	"sync"
	"time"

	"github.com/chartpilot/analysis-engine/internal/models"
)

type memoryEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryStore keeps counters in process memory. A single mutex makes Reserve
// atomic, so it is only suitable for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Counts implements Store.
func (s *MemoryStore) Counts(_ context.Context, dailyKey, monthlyKey string) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counters{
		Daily:   s.entries[dailyKey].count,
		Monthly: s.entries[monthlyKey].count,
	}, nil
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(ctx context.Context, r Reservation) (ReserveResult, error) {
	if err := ctx.Err(); err != nil {
		return ReserveResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	daily := s.entries[r.DailyKey]
	monthly := s.entries[r.MonthlyKey]
	observed := Counters{Daily: daily.count, Monthly: monthly.count}

	if daily.count >= r.DailyLimit {
		return ReserveResult{Exhausted: models.WindowDaily, Counters: observed}, nil
	}
	if monthly.count >= r.MonthlyLimit {
		return ReserveResult{Exhausted: models.WindowMonthly, Counters: observed}, nil
	}

	daily.count++
	daily.expiresAt = r.DailyResetAt
	monthly.count++
	monthly.expiresAt = r.MonthlyResetAt
	s.entries[r.DailyKey] = daily
	s.entries[r.MonthlyKey] = monthly

	return ReserveResult{
		Granted:  true,
		Counters: Counters{Daily: daily.count, Monthly: monthly.count},
	}, nil
}

// Sweep drops counters whose window ended at or before now and returns how
// many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
