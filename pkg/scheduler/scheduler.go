package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governor"
	"mercator-hq/gatekeeper/pkg/governor/storage"
)

// Job names, as reported by NextRuns.
const (
	JobCacheSweep     = "cache_sweep"
	JobBudgetSnapshot = "budget_snapshot"
)

// Config selects the job schedules. An empty schedule disables its job.
type Config struct {
	SweepSchedule    string
	SnapshotSchedule string

	// Retention is how long persisted windows are kept after their last
	// update. Zero keeps them forever.
	Retention time.Duration
}

// FromConfig extracts the scheduler settings from the file configuration.
func FromConfig(cfg *config.Config) Config {
	return Config{
		SweepSchedule:    cfg.Cache.SweepSchedule,
		SnapshotSchedule: cfg.Storage.SnapshotSchedule,
		Retention:        cfg.Storage.Retention,
	}
}

// SnapshotResult summarizes one snapshot run.
type SnapshotResult struct {
	Saved   int
	Cleaned int
}

// Scheduler owns a cron instance driving the maintenance jobs.
type Scheduler struct {
	gov     *governor.Governor
	backend storage.Backend
	config  Config

	cron    *cron.Cron
	entries map[string]cron.EntryID
	mu      sync.Mutex
	running bool

	logger *slog.Logger
}

// New creates a scheduler. A nil backend disables the snapshot job.
func New(gov *governor.Governor, backend storage.Backend, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		gov:     gov,
		backend: backend,
		config:  cfg,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		entries: make(map[string]cron.EntryID),
		logger:  logger.With("component", "scheduler"),
	}
}

// Start registers the configured jobs and starts the cron loop. The
// scheduler stops when ctx is done. Starting a running scheduler is an
// error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}

	if s.config.SweepSchedule != "" {
		if err := s.addJobLocked(JobCacheSweep, s.config.SweepSchedule, func() { s.runSweep(ctx) }); err != nil {
			return err
		}
	}
	if s.config.SnapshotSchedule != "" && s.backend != nil {
		if err := s.addJobLocked(JobBudgetSnapshot, s.config.SnapshotSchedule, func() { s.runSnapshot(ctx) }); err != nil {
			return err
		}
	}

	if len(s.entries) == 0 {
		s.logger.Info("no maintenance jobs configured, skipping scheduler")
		return nil
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("scheduler started",
		"sweep_schedule", s.config.SweepSchedule,
		"snapshot_schedule", s.config.SnapshotSchedule,
		"retention", s.config.Retention,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) addJobLocked(name, schedule string, fn func()) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		s.removeJobsLocked()
		return fmt.Errorf("invalid %s schedule %q: %w", name, schedule, err)
	}
	id, err := s.cron.AddFunc(schedule, fn)
	if err != nil {
		s.removeJobsLocked()
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

func (s *Scheduler) removeJobsLocked() {
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRuns returns the next activation time of each registered job.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// SweepNow purges expired cache entries.
func (s *Scheduler) SweepNow(ctx context.Context) (int, error) {
	return s.gov.Cache().Sweep(ctx)
}

// SnapshotNow persists the budget windows and then removes persisted
// windows older than the retention period. Both steps read the governor's
// clock, so windows saved by this call are never cleaned by it.
func (s *Scheduler) SnapshotNow(ctx context.Context) (SnapshotResult, error) {
	var res SnapshotResult
	if s.backend == nil {
		return res, errors.New("no storage backend configured")
	}

	saved, err := s.gov.SaveBudget(ctx, s.backend)
	if err != nil {
		return res, err
	}
	res.Saved = saved

	if s.config.Retention > 0 {
		cleaned, err := s.backend.Cleanup(ctx, s.gov.Now().Add(-s.config.Retention))
		if err != nil {
			return res, fmt.Errorf("cleanup persisted windows: %w", err)
		}
		res.Cleaned = cleaned
	}
	return res, nil
}

func (s *Scheduler) runSweep(ctx context.Context) {
	removed, err := s.SweepNow(ctx)
	if err != nil {
		s.logger.Error("scheduled cache sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("scheduled cache sweep completed", "removed", removed)
	} else {
		s.logger.Debug("scheduled cache sweep completed, nothing expired")
	}
}

func (s *Scheduler) runSnapshot(ctx context.Context) {
	res, err := s.SnapshotNow(ctx)
	if err != nil {
		s.logger.Error("scheduled budget snapshot failed", "error", err)
		return
	}
	s.logger.Debug("scheduled budget snapshot completed",
		"saved", res.Saved,
		"cleaned", res.Cleaned,
	)
}
