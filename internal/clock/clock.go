// Package clock supplies the server-side time used for every quota decision.
package clock

import (
	"sync"
	"time"

	"github.com/chartpilot/analysis-engine/internal/models"
)

// Source returns the authoritative current time.
type Source interface {
	Now() time.Time
}

// System reads the host wall clock in UTC.
type System struct{}

// Now implements Source.
func (System) Now() time.Time { return time.Now().UTC() }

// Manual is a settable clock for tests and replays.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now implements Source.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// WindowStart returns the UTC instant at which the window containing now began.
func WindowStart(kind models.WindowKind, now time.Time) time.Time {
	now = now.UTC()
	switch kind {
	case models.WindowMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// NextResetBoundary returns the first window boundary strictly after now:
// the next UTC midnight for daily windows, the first UTC midnight of the
// following month for monthly windows.
func NextResetBoundary(kind models.WindowKind, now time.Time) time.Time {
	start := WindowStart(kind, now)
	if kind == models.WindowMonthly {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}
