package cagg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timebase-io/timebase/internal/ast"
)

// MatTableSpec describes the materialization table the DDL layer creates.
type MatTableSpec struct {
	Schema            string
	Name              string
	Columns           []ast.ColumnDef
	PartitionColumn   string
	PartitionInterval time.Duration
}

// DDLExecutor creates the physical objects of a continuous aggregate.
// Everything taking a transaction runs inside the single creation
// transaction; a failure anywhere leaves no objects behind.
type DDLExecutor interface {
	ViewExists(ctx context.Context, schema, name string) (bool, error)

	// CreateMaterializationTable creates the table, registers it as a
	// hypertable partitioned on spec.PartitionColumn, and returns the new
	// hypertable's id.
	CreateMaterializationTable(ctx context.Context, tx *sql.Tx, spec MatTableSpec) (int64, error)

	CreateView(ctx context.Context, tx *sql.Tx, schema, name string, q *ast.Query) error

	// InstallInvalidationTrigger attaches the change-tracking trigger to
	// the source table so writes mark affected time ranges stale.
	InstallInvalidationTrigger(ctx context.Context, tx *sql.Tx, hypertableID int32, schema, table string) error
}

// Entry is the catalog row tying all objects of one continuous aggregate
// together.
type Entry struct {
	ID                uuid.UUID
	ViewSchema        string
	ViewName          string
	MatHypertableID   int64
	RawHypertableID   int32
	PartialViewSchema string
	PartialViewName   string
	BucketWidth       time.Duration
	RefreshJobID      int64
	DirectQuery       string
}

// RefreshJob is the scheduled materialization work for one aggregate.
type RefreshJob struct {
	MatHypertableID int64
	Interval        time.Duration
}

// CatalogStore persists continuous aggregate metadata.
type CatalogStore interface {
	InsertRefreshJob(ctx context.Context, tx *sql.Tx, job RefreshJob) (int64, error)
	InsertEntry(ctx context.Context, tx *sql.Tx, entry *Entry) error
}

// CreateRequest is one CREATE MATERIALIZED VIEW ... WITH (continuous)
// statement, resolved.
type CreateRequest struct {
	ViewSchema string
	ViewName   string
	Query      *ast.Query
	Aliases    []string

	// RefreshInterval of zero schedules one refresh per bucket width.
	RefreshInterval time.Duration
}

// Creator runs the full creation flow: compile, then create every object
// and catalog row in one transaction.
type Creator struct {
	db       *sql.DB
	compiler *Compiler
	ddl      DDLExecutor
	store    CatalogStore
	log      *slog.Logger
}

func NewCreator(db *sql.DB, compiler *Compiler, ddl DDLExecutor, store CatalogStore, log *slog.Logger) *Creator {
	return &Creator{db: db, compiler: compiler, ddl: ddl, store: store, log: log}
}

func (c *Creator) Create(ctx context.Context, req CreateRequest) (*Entry, error) {
	exists, err := c.ddl.ViewExists(ctx, req.ViewSchema, req.ViewName)
	if err != nil {
		return nil, fmt.Errorf("checking for existing view: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s.%s", ErrAlreadyExists, req.ViewSchema, req.ViewName)
	}

	art, err := c.compiler.Compile(req.Query, req.ViewName, req.Aliases)
	if err != nil {
		return nil, err
	}
	rte, _, err := singleHypertableSource(req.Query)
	if err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning creation transaction: %w", err)
	}
	defer tx.Rollback()

	matID, err := c.ddl.CreateMaterializationTable(ctx, tx, MatTableSpec{
		Schema:            art.Names.Schema,
		Name:              art.Names.MatTable,
		Columns:           art.MatColumns,
		PartitionColumn:   art.PartitionColumn,
		PartitionInterval: art.PartitionInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating materialization table: %w", err)
	}
	if err := c.ddl.CreateView(ctx, tx, art.Names.Schema, art.Names.PartialView, art.PartialQuery); err != nil {
		return nil, fmt.Errorf("creating partial view: %w", err)
	}
	if err := c.ddl.CreateView(ctx, tx, req.ViewSchema, req.ViewName, art.FinalQuery); err != nil {
		return nil, fmt.Errorf("creating user view: %w", err)
	}
	if err := c.ddl.InstallInvalidationTrigger(ctx, tx, rte.Hypertable.ID, rte.Schema, rte.Name); err != nil {
		return nil, fmt.Errorf("installing invalidation trigger: %w", err)
	}

	interval := req.RefreshInterval
	if interval == 0 {
		interval = art.BucketWidth
	}
	jobID, err := c.store.InsertRefreshJob(ctx, tx, RefreshJob{
		MatHypertableID: matID,
		Interval:        interval,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling refresh job: %w", err)
	}

	entry := &Entry{
		ID:                uuid.New(),
		ViewSchema:        req.ViewSchema,
		ViewName:          req.ViewName,
		MatHypertableID:   matID,
		RawHypertableID:   rte.Hypertable.ID,
		PartialViewSchema: art.Names.Schema,
		PartialViewName:   art.Names.PartialView,
		BucketWidth:       art.BucketWidth,
		RefreshJobID:      jobID,
		DirectQuery:       req.Query.SQL(),
	}
	if err := c.store.InsertEntry(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("recording continuous aggregate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing creation transaction: %w", err)
	}

	c.log.Info("created continuous aggregate",
		"view", fmt.Sprintf("%s.%s", req.ViewSchema, req.ViewName),
		"mat_hypertable_id", matID,
		"raw_hypertable_id", rte.Hypertable.ID,
		"refresh_job_id", jobID)
	return entry, nil
}
