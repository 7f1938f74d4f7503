package cagg

import (
	"fmt"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/catalog"
)

// matSchema accumulates the materialization table definition while the
// splitter walks the user query. Columns and the partial projection that
// populates them are parallel sequences: addColumn appends to both or to
// neither, so they can never drift apart.
type matSchema struct {
	cols           []ast.ColumnDef
	partialTargets []ast.TargetEntry
	partialGroup   []ast.GroupClause

	// partColIdx is the 0-based index of the bucket column in cols,
	// -1 until the bucketing entry has been added.
	partColIdx  int
	partColName string

	partializeID ast.FuncID
	chunkFnID    ast.FuncID
	bucketIDs    map[ast.FuncID]bool
}

// newMatSchema resolves the combinator functions and seeds the partial
// grouping list from the user query's own grouping clauses.
func newMatSchema(q *ast.Query, cat catalog.Catalog) (*matSchema, error) {
	partialize, err := cat.LookupFunc(catalog.InternalSchema, catalog.PartializeFunc, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	chunkFn, err := cat.LookupFunc(catalog.InternalSchema, catalog.ChunkForTupleFunc, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	bucketIDs := make(map[ast.FuncID]bool)
	for _, id := range cat.Candidates(catalog.TimeBucketFunc) {
		bucketIDs[id] = true
	}
	return &matSchema{
		partColIdx:   -1,
		partialGroup: append([]ast.GroupClause(nil), q.Group...),
		partializeID: partialize,
		chunkFnID:    chunkFn,
		bucketIDs:    bucketIDs,
	}, nil
}

// addColumn allocates the next materialization column for input, which is
// either an aggregate call or a whole target entry, and returns a column
// reference usable as a stand-in for the input in later rewrites.
//
// For an aggregate the stored column is the opaque partial state, populated
// by partialize_agg(agg). For a plain target entry the column stores the
// expression value as-is. Expressions involving non-immutable functions are
// rejected: materialized state must be reproducible from the same source
// rows regardless of when it is computed.
func (m *matSchema) addColumn(input any) (*ast.ColumnRef, error) {
	colno := len(m.cols) + 1

	var (
		col    ast.ColumnDef
		target ast.TargetEntry
	)
	switch n := input.(type) {
	case *ast.AggCall:
		if err := rejectVolatile(n); err != nil {
			return nil, err
		}
		name := matColumnName(colno)
		col = ast.ColumnDef{Name: name, Type: ast.TypeBytes, Mod: ast.NoTypeMod}
		target = ast.TargetEntry{
			Expr: &ast.FuncCall{
				Func:   m.partializeID,
				Schema: catalog.InternalSchema,
				Name:   catalog.PartializeFunc,
				Args:   []ast.Expr{ast.CopyExpr(n)},
				Type:   ast.TypeBytes,
				Mod:    ast.NoTypeMod,
			},
			Name: name,
		}

	case *ast.TargetEntry:
		if err := rejectVolatile(n.Expr); err != nil {
			return nil, err
		}
		name := n.Name
		if name == "" {
			name = matColumnName(colno)
		}
		target = ast.TargetEntry{
			Expr:     ast.CopyExpr(n.Expr),
			Name:     name,
			Junk:     false,
			GroupRef: n.GroupRef,
		}
		// The bucketing entry becomes the partition column and always
		// gets the reserved name.
		if fc, ok := n.Expr.(*ast.FuncCall); ok && m.bucketIDs[fc.Func] {
			name = BucketColumnName
			target.Name = name
			m.partColIdx = colno - 1
			m.partColName = name
		}
		col = ast.ColumnDef{
			Name: name,
			Type: n.Expr.ResultType(),
			Mod:  n.Expr.ResultTypeMod(),
			Coll: n.Expr.ResultCollation(),
		}

	default:
		return nil, fmt.Errorf("cagg: cannot materialize %T", input)
	}

	m.cols = append(m.cols, col)
	m.partialTargets = append(m.partialTargets, target)
	return &ast.ColumnRef{
		Rel:    1,
		Column: colno,
		Name:   col.Name,
		Type:   col.Type,
		Mod:    col.Mod,
		Coll:   col.Coll,
	}, nil
}

// addInternalColumns appends schema columns that do not derive from user
// expressions. The chunk_id column records which physical chunk of the
// source hypertable each stored row's data came from, computed by
// chunk_for_tuple(hypertable_id, tbl.*). Internal columns are never
// aggregated away, so the entry also joins the partial grouping list under
// a freshly allocated group-reference tag.
func (m *matSchema) addInternalColumns(rte *ast.RangeTableEntry, hypertableID int32) {
	m.cols = append(m.cols, ast.ColumnDef{
		Name: ChunkColumnName,
		Type: ast.TypeInt4,
		Mod:  ast.NoTypeMod,
	})

	maxRef := 0
	for i := range m.partialTargets {
		if m.partialTargets[i].GroupRef > maxRef {
			maxRef = m.partialTargets[i].GroupRef
		}
	}
	ref := maxRef + 1

	m.partialTargets = append(m.partialTargets, ast.TargetEntry{
		Expr: &ast.FuncCall{
			Func:   m.chunkFnID,
			Schema: catalog.InternalSchema,
			Name:   catalog.ChunkForTupleFunc,
			Args: []ast.Expr{
				&ast.Const{Type: ast.TypeInt4, Mod: ast.NoTypeMod, Value: int64(hypertableID)},
				&ast.WholeRowRef{Rel: 1, RelName: rte.Name},
			},
			Type: ast.TypeInt4,
			Mod:  ast.NoTypeMod,
		},
		Name:     ChunkColumnName,
		GroupRef: ref,
	})
	m.partialGroup = append(m.partialGroup, ast.GroupClause{Ref: ref})
}

func rejectVolatile(e ast.Expr) error {
	var failure error
	ast.WalkExpr(e, func(n ast.Expr) bool {
		if fc, ok := n.(*ast.FuncCall); ok && fc.Volatility != ast.VolatilityImmutable {
			failure = fmt.Errorf("%w: %s is not immutable", ErrVolatileExpression, fc.Name)
			return false
		}
		return true
	})
	return failure
}
