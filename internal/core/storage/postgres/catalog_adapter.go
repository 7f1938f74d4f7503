package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/timebase-io/timebase/internal/cagg"
	"github.com/timebase-io/timebase/internal/core/storage"
)

// InsertRefreshJob records a scheduled refresh inside the creation
// transaction and returns the new job id. last_run starts at the epoch so
// the first scheduler tick refreshes immediately.
func (a *Adapter) InsertRefreshJob(ctx context.Context, tx *sql.Tx, job cagg.RefreshJob) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, queryInsertJob,
		job.MatHypertableID, job.Interval.Microseconds(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert refresh job: %w", err)
	}
	return id, nil
}

// InsertEntry records the catalog row tying a continuous aggregate's
// objects together, inside the creation transaction.
func (a *Adapter) InsertEntry(ctx context.Context, tx *sql.Tx, entry *cagg.Entry) error {
	_, err := tx.ExecContext(ctx, queryInsertContinuousAgg,
		entry.ID,
		entry.ViewSchema, entry.ViewName,
		entry.MatHypertableID, entry.RawHypertableID,
		entry.PartialViewSchema, entry.PartialViewName,
		entry.BucketWidth.Microseconds(),
		entry.RefreshJobID,
		entry.DirectQuery,
	)
	if err != nil {
		return fmt.Errorf("failed to insert continuous aggregate entry: %w", err)
	}
	return nil
}

// ListContinuousAggregates returns every registered continuous aggregate.
func (a *Adapter) ListContinuousAggregates(ctx context.Context) ([]*storage.ContinuousAggregate, error) {
	rows, err := a.db.QueryContext(ctx, queryListContinuousAggs)
	if err != nil {
		return nil, fmt.Errorf("failed to query continuous aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []*storage.ContinuousAggregate
	for rows.Next() {
		agg, err := scanAggregateRow(rows)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating continuous aggregates: %w", err)
	}
	return aggs, nil
}

// AggregateByMatHypertable resolves the aggregate a refresh job targets.
func (a *Adapter) AggregateByMatHypertable(ctx context.Context, matHypertableID int64) (*storage.ContinuousAggregate, error) {
	row := a.db.QueryRowContext(ctx, queryAggByMatHypertable, matHypertableID)
	agg, err := scanAggregateRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: continuous aggregate for hypertable %d", storage.ErrNotFound, matHypertableID)
	}
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// DueJobs returns jobs overdue as of now, oldest first.
func (a *Adapter) DueJobs(ctx context.Context, now time.Time) ([]*storage.Job, error) {
	rows, err := a.db.QueryContext(ctx, queryDueJobs, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*storage.Job
	for rows.Next() {
		var job storage.Job
		var intervalUsec int64
		if err := rows.Scan(&job.ID, &job.MatHypertableID, &intervalUsec, &job.LastRun); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		job.Interval = time.Duration(intervalUsec) * time.Microsecond
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func (a *Adapter) MarkJobRun(ctx context.Context, jobID int64, at time.Time) error {
	if _, err := a.db.ExecContext(ctx, queryMarkJobRun, jobID, at); err != nil {
		return fmt.Errorf("failed to mark job %d run: %w", jobID, err)
	}
	return nil
}

// PendingInvalidations merges the logged stale ranges for a hypertable.
// Returns nil when nothing is stale.
func (a *Adapter) PendingInvalidations(ctx context.Context, hypertableID int32) (*storage.Invalidation, error) {
	var inv storage.Invalidation
	err := a.db.QueryRowContext(ctx, queryPendingInvalidations, hypertableID).Scan(
		&inv.HypertableID, &inv.LowestModified, &inv.GreatestModified,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query invalidations: %w", err)
	}
	return &inv, nil
}

func (a *Adapter) ClearInvalidations(ctx context.Context, hypertableID int32, upTo time.Time) error {
	if _, err := a.db.ExecContext(ctx, queryClearInvalidations, hypertableID, upTo); err != nil {
		return fmt.Errorf("failed to clear invalidations: %w", err)
	}
	return nil
}

// MaterializeRange recomputes an aggregate's stored rows for buckets in
// [from, to). Delete and re-insert run in one transaction so readers of the
// materialization table never observe a half-refreshed range.
func (a *Adapter) MaterializeRange(ctx context.Context, agg *storage.ContinuousAggregate, from, to time.Time) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin materialization transaction: %w", err)
	}
	defer tx.Rollback()

	matTable := pq.QuoteIdentifier(agg.MatTableSchema) + "." + pq.QuoteIdentifier(agg.MatTableName)
	partialView := pq.QuoteIdentifier(agg.PartialViewSchema) + "." + pq.QuoteIdentifier(agg.PartialViewName)
	bucketCol := pq.QuoteIdentifier(cagg.BucketColumnName)

	var written int64
	err = a.withRole(ctx, tx, func() error {
		del := fmt.Sprintf("DELETE FROM %s WHERE %s >= $1 AND %s < $2", matTable, bucketCol, bucketCol)
		if _, err := tx.ExecContext(ctx, del, from, to); err != nil {
			return fmt.Errorf("failed to delete stale rows: %w", err)
		}
		ins := fmt.Sprintf("INSERT INTO %s SELECT * FROM %s WHERE %s >= $1 AND %s < $2",
			matTable, partialView, bucketCol, bucketCol)
		res, err := tx.ExecContext(ctx, ins, from, to)
		if err != nil {
			return fmt.Errorf("failed to insert partial rows: %w", err)
		}
		written, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count inserted rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit materialization: %w", err)
	}

	slog.Debug("[Postgres] Materialized range",
		"view", agg.ViewSchema+"."+agg.ViewName,
		"from", from,
		"to", to,
		"rows", written)
	return written, nil
}
