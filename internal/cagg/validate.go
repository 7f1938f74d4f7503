package cagg

import (
	"errors"
	"fmt"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/catalog"
)

// ValidateQuery checks that a resolved query is expressible as a continuous
// aggregate and returns the bucketing information extracted from it. Every
// violation aborts compilation with a specific reason.
func ValidateQuery(q *ast.Query, cat catalog.Catalog) (*BucketInfo, error) {
	if q.Command != ast.CommandSelect {
		return nil, fmt.Errorf("%w: only SELECT queries are permitted", ErrUnsupportedShape)
	}
	if err := checkDisallowedFeatures(q); err != nil {
		return nil, err
	}
	if len(q.Group) == 0 {
		return nil, fmt.Errorf("%w: query must have at least one aggregate and a GROUP BY clause with %s",
			ErrUnsupportedShape, catalog.TimeBucketFunc)
	}

	// Every aggregate anywhere in the projection or HAVING must be
	// splittable into partial and final phases.
	for i := range q.Targets {
		if err := validateAggregates(q.Targets[i].Expr, cat); err != nil {
			return nil, err
		}
	}
	if err := validateAggregates(q.Having, cat); err != nil {
		return nil, err
	}

	rte, _, err := singleHypertableSource(q)
	if err != nil {
		return nil, err
	}

	info := &BucketInfo{
		HypertableID:      rte.Hypertable.ID,
		RelID:             rte.RelID,
		PartitionColumn:   rte.Hypertable.PartitionColumn,
		PartitionInterval: rte.Hypertable.PartitionInterval,
	}
	if err := validateBucket(q, cat, info); err != nil {
		return nil, err
	}
	return info, nil
}

func checkDisallowedFeatures(q *ast.Query) error {
	reject := func(feature string) error {
		return fmt.Errorf("%w: %s not permitted", ErrUnsupportedShape, feature)
	}
	switch {
	case q.HasWindow:
		return reject("window functions")
	case q.HasSubquery:
		return reject("subqueries")
	case q.Distinct, q.DistinctOn:
		return reject("DISTINCT")
	case q.HasRecursive:
		return reject("recursive queries")
	case q.HasModifyingCTE:
		return reject("data-modifying CTEs")
	case q.HasCTE:
		return reject("CTEs")
	case q.HasForUpdate:
		return reject("row-locking clauses")
	case q.HasRowSecurity:
		return reject("row-level security")
	case q.HasSRF:
		return reject("set-returning functions in the target list")
	case q.HasGroupingSets:
		return reject("grouping sets")
	case q.HasSetOps:
		return reject("set operations")
	case q.Limit != nil, q.Offset != nil:
		return reject("LIMIT/OFFSET")
	case len(q.Sort) > 0:
		return reject("ORDER BY")
	}
	return nil
}

// validateAggregates walks an expression, aggregate arguments included, and
// checks every aggregate call for admissibility.
func validateAggregates(e ast.Expr, cat catalog.Catalog) error {
	var failure error
	ast.WalkExpr(e, func(n ast.Expr) bool {
		if failure != nil {
			return false
		}
		agg, ok := n.(*ast.AggCall)
		if !ok {
			return true
		}
		failure = checkAggregate(agg, cat)
		return failure == nil
	})
	return failure
}

func checkAggregate(agg *ast.AggCall, cat catalog.Catalog) error {
	if agg.Filter != nil || agg.Distinct || len(agg.OrderBy) > 0 {
		return fmt.Errorf("%w: %s uses FILTER / DISTINCT / ORDER BY", ErrUnsupportedAggregate, agg.Name)
	}
	info, err := cat.AggregateInfo(agg.Agg)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("%w: no metadata for %s", ErrUnsupportedAggregate, agg.Name)
		}
		return err
	}
	if info.Kind != ast.AggKindNormal {
		return fmt.Errorf("%w: %s is an ordered-set/hypothetical aggregate", ErrUnsupportedAggregate, agg.Name)
	}
	if !info.Combinable() {
		return fmt.Errorf("%w: %s has no partial-state combine function", ErrUnsupportedAggregate, agg.Name)
	}
	return nil
}

// singleHypertableSource checks the FROM clause resolves to exactly one
// plain hypertable reference and returns it with its range-table index.
func singleHypertableSource(q *ast.Query) (*ast.RangeTableEntry, int, error) {
	if len(q.From) != 1 {
		return nil, 0, fmt.Errorf("%w: exactly one source table is permitted", ErrUnsupportedShape)
	}
	idx := q.From[0]
	if idx < 1 || idx > len(q.Tables) {
		return nil, 0, fmt.Errorf("%w: malformed range table reference", ErrUnsupportedShape)
	}
	rte := q.Tables[idx-1]
	if rte.Kind != ast.RelTable || rte.Sampled || rte.Only {
		return nil, 0, fmt.Errorf("%w: source must be a plain table reference", ErrUnsupportedShape)
	}
	if rte.Hypertable == nil {
		return nil, 0, fmt.Errorf("%w: continuous aggregates require a time-partitioned table", ErrUnsupportedShape)
	}
	if rte.RowSecurity {
		return nil, 0, fmt.Errorf("%w: source table has row security enabled", ErrUnsupportedShape)
	}
	return rte, idx, nil
}
