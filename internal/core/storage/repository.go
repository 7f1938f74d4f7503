package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a catalog row does not exist.
var ErrNotFound = errors.New("catalog row not found")

// ContinuousAggregate is the read model of one continuous aggregate's
// catalog entry, joining the user view to its internal objects.
type ContinuousAggregate struct {
	ID                uuid.UUID
	ViewSchema        string
	ViewName          string
	MatTableSchema    string
	MatTableName      string
	PartialViewSchema string
	PartialViewName   string
	MatHypertableID   int64
	RawHypertableID   int32
	BucketWidth       time.Duration
	RefreshJobID      int64
	DirectQuery       string
}

// Invalidation is the merged stale range recorded for one hypertable by the
// change-tracking trigger. A nil result from PendingInvalidations means the
// materialization is fully up to date.
type Invalidation struct {
	HypertableID     int32
	LowestModified   time.Time
	GreatestModified time.Time
}

// Job is one scheduled refresh.
type Job struct {
	ID              int64
	MatHypertableID int64
	Interval        time.Duration
	LastRun         time.Time
}

// AggregateRepository reads and maintains continuous aggregate state for the
// refresh scheduler.
type AggregateRepository interface {
	ListContinuousAggregates(ctx context.Context) ([]*ContinuousAggregate, error)

	// AggregateByMatHypertable resolves a refresh job's target aggregate.
	AggregateByMatHypertable(ctx context.Context, matHypertableID int64) (*ContinuousAggregate, error)

	// DueJobs returns jobs whose last run is at least one interval old.
	DueJobs(ctx context.Context, now time.Time) ([]*Job, error)
	MarkJobRun(ctx context.Context, jobID int64, at time.Time) error

	// PendingInvalidations merges the logged stale ranges for a source
	// hypertable into one span, or returns nil when none are logged.
	PendingInvalidations(ctx context.Context, hypertableID int32) (*Invalidation, error)

	// ClearInvalidations drops log entries fully covered up to the given
	// point in time.
	ClearInvalidations(ctx context.Context, hypertableID int32, upTo time.Time) error

	// MaterializeRange replaces the aggregate's stored rows whose bucket
	// falls in [from, to) with freshly computed partial state, in one
	// transaction. Returns the number of rows written.
	MaterializeRange(ctx context.Context, agg *ContinuousAggregate, from, to time.Time) (int64, error)
}
