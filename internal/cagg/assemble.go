package cagg

import (
	"fmt"
	"time"

	"github.com/timebase-io/timebase/internal/ast"
)

// The materialization table is partitioned more coarsely than the source
// hypertable: each of its partitions covers this many source partition
// intervals.
const matPartitionIntervalFactor = 10

// Artifacts is everything the creation flow needs to set up a continuous
// aggregate: the materialization table schema, the query that populates it
// with partial aggregate state, and the query that reads finalized results
// back out of it.
type Artifacts struct {
	Names Names

	// MatColumns is the materialization table definition. PartitionIndex
	// is the 0-based position of the bucket column within it.
	MatColumns      []ast.ColumnDef
	PartitionColumn string
	PartitionIndex  int

	// PartitionInterval is the chunking interval of the materialization
	// table, derived from the source hypertable's interval.
	PartitionInterval time.Duration
	BucketWidth       time.Duration

	PartialQuery *ast.Query
	FinalQuery   *ast.Query
}

// buildPartialQuery assembles the query that populates the materialization
// table. It reads the same source rows through the same FROM and WHERE as
// the user query, but projects partial aggregate state and grouping values,
// and carries no HAVING: filtering on aggregate results only makes sense
// after finalization.
func buildPartialQuery(q *ast.Query, mat *matSchema) *ast.Query {
	cp := q.Copy()
	cp.Targets = append([]ast.TargetEntry(nil), mat.partialTargets...)
	cp.Group = append([]ast.GroupClause(nil), mat.partialGroup...)
	cp.Having = nil
	cp.Sort = nil
	cp.Limit = nil
	cp.Offset = nil
	return cp
}

// buildFinalQuery assembles the query that reads finalized results from the
// materialization table. The range table is replaced wholesale: every column
// reference produced by the splitter already points at relation 1, which now
// resolves to the materialization table. User-supplied aliases are applied
// positionally over the visible output columns.
func buildFinalQuery(q *ast.Query, fq *finalizeQuery, names Names, mat *matSchema, aliases []string) (*ast.Query, error) {
	cols := make([]string, len(mat.cols))
	for i := range mat.cols {
		cols[i] = mat.cols[i].Name
	}
	out := &ast.Query{
		Command: ast.CommandSelect,
		Targets: append([]ast.TargetEntry(nil), fq.targets...),
		Tables: []*ast.RangeTableEntry{{
			Schema:  names.Schema,
			Name:    names.MatTable,
			Kind:    ast.RelTable,
			Columns: cols,
		}},
		From:    []int{1},
		Group:   append([]ast.GroupClause(nil), q.Group...),
		Having:  fq.having,
		HasAggs: true,
	}
	if err := applyAliases(out.Targets, aliases); err != nil {
		return nil, err
	}
	return out, nil
}

// applyAliases renames visible output columns positionally. Junk entries do
// not consume aliases; fewer aliases than columns leaves the rest as named.
func applyAliases(targets []ast.TargetEntry, aliases []string) error {
	next := 0
	for i := range targets {
		if targets[i].Junk {
			continue
		}
		if next >= len(aliases) {
			return nil
		}
		targets[i].Name = aliases[next]
		next++
	}
	if next < len(aliases) {
		return fmt.Errorf("%w: %d given, %d output columns", ErrTooManyAliases, len(aliases), next)
	}
	return nil
}
