package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timebase-io/timebase/internal/core/storage"
)

const shutdownDrainTimeout = 30 * time.Second

// Scheduler runs due refresh jobs on a periodic tick. It is stateless: each
// tick independently reads the job table, so restarts never lose work and
// multiple aggregates over the same source refresh independently.
type Scheduler struct {
	interval time.Duration
	workers  int
	repo     storage.AggregateRepository
}

// NewScheduler creates a refresh scheduler. workers bounds how many
// aggregates refresh concurrently per tick.
func NewScheduler(interval time.Duration, workers int, repo storage.AggregateRepository) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{interval: interval, workers: workers, repo: repo}
}

// Start begins periodic refreshing. Runs until context is cancelled, then
// performs one final sweep so pending invalidations are not stranded until
// the next process start.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Refresh] Starting refresh scheduler",
		"interval", s.interval,
		"workers", s.workers,
	)

	s.runDue(ctx)

	for {
		select {
		case <-ticker.C:
			s.runDue(ctx)
		case <-ctx.Done():
			slog.Info("[Refresh] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
			defer cancel()

			slog.Info("[Refresh] Running final sweep before shutdown...")
			s.runDue(shutdownCtx)
			slog.Info("[Refresh] Final sweep complete")

			return nil
		}
	}
}

// runDue refreshes every overdue aggregate, bounded by the worker limit.
// One failing aggregate never blocks the others; failures are logged and
// retried on the next tick.
func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now().UTC()
	jobs, err := s.repo.DueJobs(ctx, now)
	if err != nil {
		slog.Error("[Refresh] Failed to list due jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := s.refreshJob(gctx, job, now); err != nil {
				slog.Error("[Refresh] Job failed",
					"job_id", job.ID,
					"mat_hypertable_id", job.MatHypertableID,
					"error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// refreshJob re-materializes the stale range of one aggregate. The range is
// the merged invalidation span, widened to whole buckets so a partially
// covered bucket is always recomputed from all of its source rows.
func (s *Scheduler) refreshJob(ctx context.Context, job *storage.Job, now time.Time) error {
	agg, err := s.repo.AggregateByMatHypertable(ctx, job.MatHypertableID)
	if err != nil {
		return fmt.Errorf("resolving aggregate: %w", err)
	}

	inv, err := s.repo.PendingInvalidations(ctx, agg.RawHypertableID)
	if err != nil {
		return fmt.Errorf("reading invalidations: %w", err)
	}
	if inv == nil {
		return s.repo.MarkJobRun(ctx, job.ID, now)
	}

	from := inv.LowestModified.Truncate(agg.BucketWidth)
	to := inv.GreatestModified.Truncate(agg.BucketWidth).Add(agg.BucketWidth)

	rows, err := s.repo.MaterializeRange(ctx, agg, from, to)
	if err != nil {
		return fmt.Errorf("materializing range: %w", err)
	}
	if err := s.repo.ClearInvalidations(ctx, agg.RawHypertableID, to); err != nil {
		return fmt.Errorf("clearing invalidations: %w", err)
	}
	if err := s.repo.MarkJobRun(ctx, job.ID, now); err != nil {
		return fmt.Errorf("marking job run: %w", err)
	}

	slog.Info("[Refresh] Refreshed continuous aggregate",
		"view", agg.ViewSchema+"."+agg.ViewName,
		"from", from,
		"to", to,
		"rows", rows)
	return nil
}
