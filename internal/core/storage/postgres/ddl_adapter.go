package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/cagg"
	"github.com/timebase-io/timebase/internal/catalog"
)

// ViewExists reports whether a relation of any kind already occupies the
// given name. Tables count too: a continuous aggregate can never shadow an
// existing relation.
func (a *Adapter) ViewExists(ctx context.Context, schema, name string) (bool, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx, queryRelationExists, schema, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing relation: %w", err)
	}
	return exists, nil
}

// CreateMaterializationTable creates the partial-state table and registers
// it as a hypertable partitioned on the bucket column. Returns the new
// hypertable id.
func (a *Adapter) CreateMaterializationTable(ctx context.Context, tx *sql.Tx, spec cagg.MatTableSpec) (int64, error) {
	var id int64
	err := a.withRole(ctx, tx, func() error {
		if _, err := tx.ExecContext(ctx, createTableDDL(spec)); err != nil {
			return fmt.Errorf("failed to create table %s.%s: %w", spec.Schema, spec.Name, err)
		}
		err := tx.QueryRowContext(ctx, queryRegisterHypertable,
			spec.Schema, spec.Name, spec.PartitionColumn, spec.PartitionInterval.Microseconds(),
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to register hypertable: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.Debug("[Postgres] Created materialization table",
		"table", spec.Schema+"."+spec.Name,
		"hypertable_id", id,
		"partition_column", spec.PartitionColumn)
	return id, nil
}

// CreateView creates a view defined by the rendered query.
func (a *Adapter) CreateView(ctx context.Context, tx *sql.Tx, schema, name string, q *ast.Query) error {
	return a.withRole(ctx, tx, func() error {
		ddl := fmt.Sprintf("CREATE VIEW %s.%s AS %s",
			pq.QuoteIdentifier(schema), pq.QuoteIdentifier(name), q.SQL())
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create view %s.%s: %w", schema, name, err)
		}
		return nil
	})
}

// InstallInvalidationTrigger attaches the change-tracking trigger to the
// source table. The trigger is idempotent per table: a second continuous
// aggregate over the same hypertable replaces it with an identical one.
func (a *Adapter) InstallInvalidationTrigger(ctx context.Context, tx *sql.Tx, hypertableID int32, schema, table string) error {
	return a.withRole(ctx, tx, func() error {
		qualified := pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
		drop := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s",
			pq.QuoteIdentifier(invalidationTriggerName), qualified)
		if _, err := tx.ExecContext(ctx, drop); err != nil {
			return fmt.Errorf("failed to drop stale invalidation trigger: %w", err)
		}
		create := fmt.Sprintf(
			"CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s.%s(%d)",
			pq.QuoteIdentifier(invalidationTriggerName), qualified,
			pq.QuoteIdentifier(catalog.InternalSchema), pq.QuoteIdentifier(catalog.InvalidationTriggerFunc),
			hypertableID)
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return fmt.Errorf("failed to create invalidation trigger: %w", err)
		}
		return nil
	})
}

const invalidationTriggerName = "tb_cagg_invalidation_trigger"

// createTableDDL renders the CREATE TABLE statement for a materialization
// table spec.
func createTableDDL(spec cagg.MatTableSpec) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(pq.QuoteIdentifier(spec.Schema))
	b.WriteString(".")
	b.WriteString(pq.QuoteIdentifier(spec.Name))
	b.WriteString(" (")
	for i, col := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pq.QuoteIdentifier(col.Name))
		b.WriteString(" ")
		b.WriteString(col.Type.SQLName())
		if col.Coll.Valid() {
			b.WriteString(" COLLATE ")
			b.WriteString(pq.QuoteIdentifier(col.Coll.Schema))
			b.WriteString(".")
			b.WriteString(pq.QuoteIdentifier(col.Coll.Name))
		}
	}
	b.WriteString(")")
	return b.String()
}
