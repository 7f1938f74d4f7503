package cagg

import (
	"fmt"
	"time"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/catalog"
)

// BucketInfo identifies the single permitted time-bucketing call of a
// continuous aggregate query: which hypertable it aggregates, which column
// partitions that hypertable, and how wide the buckets are.
type BucketInfo struct {
	HypertableID      int32
	RelID             int64
	PartitionColumn   int
	PartitionInterval time.Duration
	BucketWidth       time.Duration

	// GroupRef is the group-reference tag of the grouping entry the
	// bucketing call came from.
	GroupRef int
}

// validateBucket scans the grouping clauses for time_bucket calls. Exactly
// one must exist, applied directly to the hypertable's partition column,
// with a constant width as its first argument.
func validateBucket(q *ast.Query, cat catalog.Catalog, info *BucketInfo) error {
	bucketIDs := make(map[ast.FuncID]bool)
	for _, id := range cat.Candidates(catalog.TimeBucketFunc) {
		bucketIDs[id] = true
	}

	found := false
	for _, gc := range q.Group {
		te := q.TargetByGroupRef(gc.Ref)
		if te == nil {
			continue
		}
		fc, ok := te.Expr.(*ast.FuncCall)
		if !ok || !bucketIDs[fc.Func] {
			continue
		}
		if found {
			return fmt.Errorf("%w: multiple %s calls in GROUP BY", ErrUnsupportedShape, catalog.TimeBucketFunc)
		}
		found = true

		if len(fc.Args) != 2 {
			return fmt.Errorf("%w: %s cannot use optional arguments", ErrUnsupportedShape, catalog.TimeBucketFunc)
		}
		width, ok := fc.Args[0].(*ast.Const)
		if !ok || width.Null {
			return fmt.Errorf("%w: first argument to %s must be a constant", ErrUnsupportedShape, catalog.TimeBucketFunc)
		}
		col, ok := fc.Args[1].(*ast.ColumnRef)
		if !ok || col.Column != info.PartitionColumn {
			return fmt.Errorf("%w: %s must be called directly on the partitioning column", ErrUnsupportedShape, catalog.TimeBucketFunc)
		}
		w, err := intervalValue(width)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
		}
		info.GroupRef = gc.Ref
		info.BucketWidth = w
	}
	if !found {
		return fmt.Errorf("%w: %s missing from GROUP BY clause", ErrUnsupportedShape, catalog.TimeBucketFunc)
	}
	return nil
}

func intervalValue(c *ast.Const) (time.Duration, error) {
	if c.Type != ast.TypeInterval {
		return 0, fmt.Errorf("bucket width must be an interval, got %s", c.Type)
	}
	d, ok := c.Value.(time.Duration)
	if !ok || d <= 0 {
		return 0, fmt.Errorf("bucket width must be a positive interval")
	}
	return d, nil
}
