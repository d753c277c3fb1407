// Package scheduler runs periodic maintenance: history retention and quota sweeps.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chartpilot/analysis-engine/internal/clock"
)

// Purger deletes history older than a cutoff.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper drops expired quota windows from an in-process store.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	clock  clock.Source
	logger *slog.Logger
	ctx    context.Context
}

// New creates a Scheduler. Jobs run with ctx and stop when Stop is called.
func New(ctx context.Context, clk clock.Source, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		clock:  clk,
		logger: logger,
		ctx:    ctx,
	}
}

// RegisterPurge schedules the retention purge. An empty spec or a
// non-positive retention registers nothing.
func (s *Scheduler) RegisterPurge(spec string, retention time.Duration, purger Purger) error {
	if spec == "" || retention <= 0 || purger == nil {
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Purge(retention, purger) }); err != nil {
		return fmt.Errorf("register purge job: %w", err)
	}
	return nil
}

// RegisterSweep schedules the quota store sweep. An empty spec registers nothing.
func (s *Scheduler) RegisterSweep(spec string, sweeper Sweeper) error {
	if spec == "" || sweeper == nil {
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(sweeper) }); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	return nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop stops the loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Purge runs one retention pass immediately.
func (s *Scheduler) Purge(retention time.Duration, purger Purger) {
	cutoff := s.clock.Now().Add(-retention)
	removed, err := purger.PurgeOlderThan(s.ctx, cutoff)
	if err != nil {
		s.logger.Error("history purge failed", slog.Any("error", err))
		return
	}
	s.logger.Debug("history purge finished", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
}

// Sweep runs one quota sweep immediately.
func (s *Scheduler) Sweep(sweeper Sweeper) {
	removed := sweeper.Sweep(s.clock.Now())
	s.logger.Debug("quota sweep finished", slog.Int("removed", removed))
}
