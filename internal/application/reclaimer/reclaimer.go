// Package reclaimer runs the liveness and recovery pass: workers that stop
// heartbeating are marked offline and the jobs they were holding are given
// back to the queue or failed out, according to each job's retry budget.
package reclaimer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const ReclaimRunType = "orphaned-job-reclaim"

// Default configuration values. The interval must stay well under half the
// stale threshold so a worker cannot be silent for a full threshold without
// a pass observing it.
const (
	DefaultInterval       = 30 * time.Second
	DefaultStartupJitter  = 10 * time.Second
	DefaultStaleThreshold = 5 * time.Minute
	DefaultLeaseDuration  = time.Minute
)

var (
	meter = otel.Meter("github.com/tidefall/convoy/internal/application/reclaimer")

	jobsRequeuedTotal, _ = meter.Int64Counter("convoy.reclaim.jobs_requeued",
		metric.WithDescription("Orphaned jobs returned to the pending queue"))
	jobsFailedTotal, _ = meter.Int64Counter("convoy.reclaim.jobs_failed",
		metric.WithDescription("Orphaned jobs terminally failed after exhausting retries"))
)

// Config holds configuration for the reclaim worker.
type Config struct {
	// InstanceID identifies this coordinator instance for lease ownership.
	InstanceID string

	// Interval between reclaim passes (default: 30s)
	Interval time.Duration

	// MaxStartupJitter is the maximum random delay before the first pass
	// (default: 10s). Prevents thundering herd when several coordinator
	// instances restart together.
	MaxStartupJitter time.Duration

	// StaleThreshold is how long a worker may go without a heartbeat
	// before it is considered dead (default: 5min)
	StaleThreshold time.Duration

	// LeaseDuration is how long the exclusive lease is valid (default: 1min)
	LeaseDuration time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(instanceID string) Config {
	return Config{
		InstanceID:       instanceID,
		Interval:         DefaultInterval,
		MaxStartupJitter: DefaultStartupJitter,
		StaleThreshold:   DefaultStaleThreshold,
		LeaseDuration:    DefaultLeaseDuration,
	}
}

// RecoveryStats summarizes one reclaim pass.
type RecoveryStats struct {
	WorkersMarkedOffline int
	JobsRequeued         int
	JobsFailed           int
}

// LeaseCoordinator grants single-instance execution across coordinators.
type LeaseCoordinator interface {
	// TryAcquireExclusiveRun acquires the named lease for leaseDuration.
	// When acquired, release must be called once the pass completes.
	TryAcquireExclusiveRun(ctx context.Context, runType, instanceID string, leaseDuration time.Duration) (release func(), acquired bool, err error)
}

// Repository performs the transactional recovery pass.
type Repository interface {
	// RecoverAbandonedJobs, in one transaction, marks workers with no
	// heartbeat inside staleThreshold as offline, then re-queues or fails
	// the claimed and running jobs those workers held. Cancelled jobs are
	// left alone.
	RecoverAbandonedJobs(ctx context.Context, staleThreshold time.Duration) (RecoveryStats, error)
}

// Worker is the periodic reclaim loop. Single-instance, level-triggered:
// each pass looks at current state only, so missed or doubled passes are
// harmless.
type Worker struct {
	coordinator LeaseCoordinator
	repo        Repository
	cfg         Config
	logger      *slog.Logger
}

func NewWorker(coordinator LeaseCoordinator, repo Repository, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		coordinator: coordinator,
		repo:        repo,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run starts the reclaim loop with jittered startup and blocks until ctx
// is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.MaxStartupJitter > 0 {
		jitter := rand.N(w.cfg.MaxStartupJitter)
		w.logger.InfoContext(ctx, "reclaim worker starting",
			slog.Duration("startup_jitter", jitter),
			slog.Duration("interval", w.cfg.Interval),
			slog.Duration("stale_threshold", w.cfg.StaleThreshold))

		timer := time.NewTimer(jitter)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := w.reclaimOnce(ctx); err != nil {
		w.logger.ErrorContext(ctx, "initial reclaim pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "reclaim worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.reclaimOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "reclaim pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// reclaimOnce runs a single recovery pass under the exclusive lease.
func (w *Worker) reclaimOnce(ctx context.Context) error {
	release, acquired, err := w.coordinator.TryAcquireExclusiveRun(
		ctx,
		ReclaimRunType,
		w.cfg.InstanceID,
		w.cfg.LeaseDuration,
	)
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !acquired {
		w.logger.DebugContext(ctx, "reclaim skipped, another instance holds the lease")
		return nil
	}
	defer release()

	stats, err := w.repo.RecoverAbandonedJobs(ctx, w.cfg.StaleThreshold)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			w.logger.WarnContext(ctx, "reclaim aborted: shutdown requested")
			return nil
		}
		return fmt.Errorf("failed to recover abandoned jobs: %w", err)
	}

	jobsRequeuedTotal.Add(ctx, int64(stats.JobsRequeued))
	jobsFailedTotal.Add(ctx, int64(stats.JobsFailed))

	if stats.WorkersMarkedOffline == 0 && stats.JobsRequeued == 0 && stats.JobsFailed == 0 {
		w.logger.DebugContext(ctx, "reclaim pass found nothing to recover")
		return nil
	}

	w.logger.InfoContext(ctx, "reclaim pass completed",
		slog.Int("workers_marked_offline", stats.WorkersMarkedOffline),
		slog.Int("jobs_requeued", stats.JobsRequeued),
		slog.Int("jobs_failed", stats.JobsFailed))
	return nil
}
