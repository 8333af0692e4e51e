package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/your-org/racephoto/internal/pipeline"
)

const reconcileLockTTL = 10 * time.Minute

// Locker guards a job across worker processes.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error)
}

// Scheduler runs the reconciliation pass on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	rec    *pipeline.Reconciler
	lock   Locker
	logger *slog.Logger

	// ctx bounds every pass; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. lock may be nil, in which case every
// worker reconciles on each tick.
func NewScheduler(rec *pipeline.Reconciler, lock Locker, logger *slog.Logger) *Scheduler {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: c, rec: rec, lock: lock, logger: logger, ctx: ctx, cancel: cancel}
}

func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.reconcile); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("reconciliation scheduled", "schedule", spec)
	return nil
}

// Stop stops scheduling, cancels a running pass and returns a context done
// once that pass has returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}

func (s *Scheduler) reconcile() {
	ctx, cancel := context.WithTimeout(s.ctx, reconcileLockTTL)
	defer cancel()

	if s.lock != nil {
		release, ok, err := s.lock.TryAcquire(ctx, "reconcile", reconcileLockTTL)
		if err != nil {
			s.logger.Warn("reconcile lock unavailable", "error", err)
			return
		}
		if !ok {
			s.logger.Debug("reconciliation running elsewhere")
			return
		}
		defer release()
	}

	reports, err := s.rec.RunAll(ctx)
	if err != nil {
		s.logger.Error("scheduled reconciliation failed", "error", err)
		return
	}
	updated := 0
	for _, r := range reports {
		updated += r.Updated
	}
	s.logger.Info("scheduled reconciliation done", "events", len(reports), "updated", updated)
}
