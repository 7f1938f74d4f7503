package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/timebase-io/timebase/internal/core/storage"
)

// scanner covers both sql.Row (single) and sql.Rows (multiple).
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanAggregateRow scans one row of the continuous aggregate listing
// queries. Column order matches queryListContinuousAggs and
// queryAggByMatHypertable. sql.ErrNoRows passes through unwrapped so
// callers can map it to storage.ErrNotFound.
func scanAggregateRow(row scanner) (*storage.ContinuousAggregate, error) {
	var agg storage.ContinuousAggregate
	var bucketUsec int64

	err := row.Scan(
		&agg.ID,
		&agg.ViewSchema,
		&agg.ViewName,
		&agg.MatTableSchema,
		&agg.MatTableName,
		&agg.PartialViewSchema,
		&agg.PartialViewName,
		&agg.MatHypertableID,
		&agg.RawHypertableID,
		&bucketUsec,
		&agg.RefreshJobID,
		&agg.DirectQuery,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan continuous aggregate row: %w", err)
	}

	agg.BucketWidth = time.Duration(bucketUsec) * time.Microsecond
	return &agg, nil
}
