// Package quota meters analysis runs per subject over daily and monthly windows.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chartpilot/analysis-engine/internal/clock"
	"github.com/chartpilot/analysis-engine/internal/metrics"
	"github.com/chartpilot/analysis-engine/internal/models"
)

// ErrQuotaExceeded is matched by every rejection returned from Reserve.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ExceededError reports which window was exhausted and the state at rejection.
type ExceededError struct {
	Window models.WindowKind
	State  models.UsageState
}

func (e *ExceededError) Error() string {
	w := e.State.Daily
	if e.Window == models.WindowMonthly {
		w = e.State.Monthly
	}
	return fmt.Sprintf("%s quota exceeded for %s (%d/%d, resets %s)",
		e.Window, e.State.Feature, w.Count, w.Limit, w.ResetAt.Format("2006-01-02T15:04:05Z"))
}

// Is lets errors.Is match ErrQuotaExceeded.
func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Manager computes allowances and performs reservations.
type Manager struct {
	store  Store
	clock  clock.Source
	limits LimitTable
	tiers  TierResolver
	logger *slog.Logger
}

// NewManager wires a Manager. A nil clock uses the system clock; nil limits use
// DefaultLimits; a nil resolver puts every subject on the free tier.
func NewManager(store Store, clk clock.Source, limits LimitTable, tiers TierResolver, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	if limits == nil {
		limits = DefaultLimits()
	}
	if tiers == nil {
		tiers = StaticTiers{Default: models.TierFree}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, clock: clk, limits: limits, tiers: tiers, logger: logger}
}

// TierLimits returns the static allowance for tier and feature.
func (m *Manager) TierLimits(tier models.Tier, feature models.Feature) (Limits, error) {
	return m.limits.Lookup(tier, feature)
}

// CheckLimits reads the current windows. Rollover is implicit: a new window
// is keyed by its start, so it reads as zero until the first reservation.
// Nothing is written.
func (m *Manager) CheckLimits(ctx context.Context, subjectID string, feature models.Feature) (models.UsageState, error) {
	plan, err := m.plan(ctx, subjectID, feature)
	if err != nil {
		return models.UsageState{}, err
	}
	counters, err := m.store.Counts(ctx, plan.reservation.DailyKey, plan.reservation.MonthlyKey)
	if err != nil {
		return models.UsageState{}, fmt.Errorf("check limits: %w", err)
	}
	return plan.state(counters), nil
}

// Reserve atomically checks both windows and consumes one slot from each.
// A rejection is an *ExceededError matching ErrQuotaExceeded.
func (m *Manager) Reserve(ctx context.Context, subjectID string, feature models.Feature) (models.UsageState, error) {
	plan, err := m.plan(ctx, subjectID, feature)
	if err != nil {
		return models.UsageState{}, err
	}

	result, err := m.store.Reserve(ctx, plan.reservation)
	if err != nil {
		metrics.ObserveReservation(string(feature), metrics.ReservationError)
		return models.UsageState{}, fmt.Errorf("reserve: %w", err)
	}
	state := plan.state(result.Counters)

	if !result.Granted {
		window := result.Exhausted
		if window == "" {
			window = exhaustedWindow(state)
		}
		metrics.ObserveReservation(string(feature), metrics.ReservationRejected)
		m.logger.Info("quota reservation rejected",
			slog.String("subject", subjectID),
			slog.String("feature", string(feature)),
			slog.String("window", string(window)))
		return state, &ExceededError{Window: window, State: state}
	}

	// Post-increment counts above the limit mean the store did not honour
	// atomicity; the slot is not handed out.
	if state.Daily.Count > state.Daily.Limit || state.Monthly.Count > state.Monthly.Limit {
		metrics.ObserveReservation(string(feature), metrics.ReservationRejected)
		m.logger.Error("quota store over-granted",
			slog.String("subject", subjectID),
			slog.Int("daily", state.Daily.Count),
			slog.Int("monthly", state.Monthly.Count))
		return state, &ExceededError{Window: exhaustedWindow(state), State: state}
	}

	metrics.ObserveReservation(string(feature), metrics.ReservationGranted)
	return state, nil
}

type windowPlan struct {
	subjectID   string
	tier        models.Tier
	feature     models.Feature
	reservation Reservation
}

func (p windowPlan) state(c Counters) models.UsageState {
	daily := models.UsageWindow{
		Kind:    models.WindowDaily,
		Count:   c.Daily,
		Limit:   p.reservation.DailyLimit,
		ResetAt: p.reservation.DailyResetAt,
	}
	monthly := models.UsageWindow{
		Kind:    models.WindowMonthly,
		Count:   c.Monthly,
		Limit:   p.reservation.MonthlyLimit,
		ResetAt: p.reservation.MonthlyResetAt,
	}
	return models.NewUsageState(p.subjectID, p.tier, p.feature, daily, monthly)
}

func (m *Manager) plan(ctx context.Context, subjectID string, feature models.Feature) (windowPlan, error) {
	if strings.TrimSpace(subjectID) == "" {
		return windowPlan{}, errors.New("subject id is required")
	}
	if !feature.Valid() {
		return windowPlan{}, fmt.Errorf("unknown feature %q", feature)
	}
	tier, err := m.tiers.ResolveTier(ctx, subjectID)
	if err != nil {
		return windowPlan{}, fmt.Errorf("resolve tier: %w", err)
	}
	limits, err := m.limits.Lookup(tier, feature)
	if err != nil {
		return windowPlan{}, err
	}

	now := m.clock.Now()
	dailyStart := clock.WindowStart(models.WindowDaily, now)
	monthlyStart := clock.WindowStart(models.WindowMonthly, now)

	return windowPlan{
		subjectID: subjectID,
		tier:      tier,
		feature:   feature,
		reservation: Reservation{
			DailyKey:       windowKey(subjectID, feature, models.WindowDaily, dailyStart),
			MonthlyKey:     windowKey(subjectID, feature, models.WindowMonthly, monthlyStart),
			DailyLimit:     limits.Daily,
			MonthlyLimit:   limits.Monthly,
			DailyResetAt:   clock.NextResetBoundary(models.WindowDaily, now),
			MonthlyResetAt: clock.NextResetBoundary(models.WindowMonthly, now),
		},
	}, nil
}

func exhaustedWindow(state models.UsageState) models.WindowKind {
	if state.Daily.Exhausted() {
		return models.WindowDaily
	}
	return models.WindowMonthly
}
