// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Reconciler recomputes derived stats for every course.
// *services.StatsService implements it.
type Reconciler interface {
	RecomputeAll(ctx context.Context) (int, error)
}

// Scheduler wraps a cron runner that rebuilds stats periodically, catching
// drift left by failed recomputes or edits made directly in the sheet.
type Scheduler struct {
	cron    *cron.Cron
	rec     Reconciler
	log     *slog.Logger
	timeout time.Duration
}

// NewScheduler registers the reconcile job under spec, a standard cron
// expression or a descriptor such as "@every 15m". Overlapping runs are
// skipped.
func NewScheduler(spec string, rec Reconciler, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	s := &Scheduler{
		rec:     rec,
		log:     logger.With(slog.String("component", "reconcile")),
		timeout: timeout,
	}
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce performs one reconciliation pass.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	changed, err := s.rec.RecomputeAll(ctx)
	if err != nil {
		s.log.Warn("reconcile finished with errors", slog.Int("changed", changed), slog.Any("err", err))
		return
	}
	s.log.Info("reconcile finished", slog.Int("changed", changed), slog.Duration("took", time.Since(start)))
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and returns a context done once a running job
// has finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
