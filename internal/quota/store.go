package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/chartpilot/analysis-engine/internal/models"
)

// Counters holds the current counts of both windows.
type Counters struct {
	Daily   int
	Monthly int
}

// Reservation describes one atomic check-and-increment across both windows.
type Reservation struct {
	DailyKey       string
	MonthlyKey     string
	DailyLimit     int
	MonthlyLimit   int
	DailyResetAt   time.Time
	MonthlyResetAt time.Time
}

// ReserveResult reports the outcome of Store.Reserve. Counters are the
// post-increment values when Granted, the observed values otherwise.
type ReserveResult struct {
	Granted   bool
	Exhausted models.WindowKind
	Counters  Counters
}

// Store backs the usage counters. Reserve must be a single atomic operation:
// both counters are checked and, only when both are below their limits,
// incremented together.
type Store interface {
	Counts(ctx context.Context, dailyKey, monthlyKey string) (Counters, error)
	Reserve(ctx context.Context, r Reservation) (ReserveResult, error)
}

// windowKey builds the counter key for (subject, feature, window, windowStart).
// The braces form a Redis cluster hash tag so a subject's keys share a slot.
func windowKey(subjectID string, feature models.Feature, kind models.WindowKind, start time.Time) string {
	layout := "20060102"
	if kind == models.WindowMonthly {
		layout = "200601"
	}
	return fmt.Sprintf("quota:{%s}:%s:%s:%s", subjectID, feature, kind, start.UTC().Format(layout))
}
