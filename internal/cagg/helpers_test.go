package cagg

import (
	"testing"
	"time"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/catalog"
)

// The test hypertable is "public"."metrics"(ts timestamptz, device text,
// temp double precision), partitioned on ts with daily chunks.
const testHypertableID = 42

func tsCol() *ast.ColumnRef {
	return &ast.ColumnRef{Rel: 1, Column: 1, Name: "ts", Type: ast.TypeTimestampTZ, Mod: ast.NoTypeMod}
}

func deviceCol() *ast.ColumnRef {
	return &ast.ColumnRef{Rel: 1, Column: 2, Name: "device", Type: ast.TypeText, Mod: ast.NoTypeMod}
}

func tempCol() *ast.ColumnRef {
	return &ast.ColumnRef{Rel: 1, Column: 3, Name: "temp", Type: ast.TypeFloat8, Mod: ast.NoTypeMod}
}

func metricsRTE() *ast.RangeTableEntry {
	return &ast.RangeTableEntry{
		Schema: "public",
		Name:   "metrics",
		Kind:   ast.RelTable,
		RelID:  1001,
		Hypertable: &ast.HypertableInfo{
			ID:                testHypertableID,
			PartitionColumn:   1,
			PartitionInterval: 24 * time.Hour,
		},
		Columns: []string{"ts", "device", "temp"},
	}
}

func mustLookup(t *testing.T, cat catalog.Catalog, schema, name string, args []ast.Type) ast.FuncID {
	t.Helper()
	id, err := cat.LookupFunc(schema, name, args)
	if err != nil {
		t.Fatalf("lookup %s.%s: %v", schema, name, err)
	}
	return id
}

func bucketCall(t *testing.T, cat catalog.Catalog, width time.Duration) *ast.FuncCall {
	t.Helper()
	id := mustLookup(t, cat, "", catalog.TimeBucketFunc, []ast.Type{ast.TypeInterval, ast.TypeTimestampTZ})
	return &ast.FuncCall{
		Func: id,
		Name: catalog.TimeBucketFunc,
		Args: []ast.Expr{ast.IntervalConst(width), tsCol()},
		Type: ast.TypeTimestampTZ,
		Mod:  ast.NoTypeMod,
	}
}

func aggCall(t *testing.T, cat catalog.Catalog, name string, arg *ast.ColumnRef) *ast.AggCall {
	t.Helper()
	var args []ast.Type
	if arg != nil {
		args = []ast.Type{arg.Type}
	}
	id := mustLookup(t, cat, "", name, args)
	out := &ast.AggCall{Agg: id, Name: name, Type: ast.TypeFloat8, Mod: ast.NoTypeMod}
	if arg != nil {
		out.Args = []ast.Expr{arg}
		out.Type = arg.Type
	} else {
		out.Star = true
		out.Type = ast.TypeInt8
	}
	return out
}

// metricsQuery builds the resolved form of
//
//	SELECT time_bucket('1h', ts) AS bucket, device,
//	       min(temp) AS min_temp, max(temp) AS max_temp
//	FROM public.metrics
//	GROUP BY 1, 2
func metricsQuery(t *testing.T, cat catalog.Catalog) *ast.Query {
	t.Helper()
	return &ast.Query{
		Command: ast.CommandSelect,
		Targets: []ast.TargetEntry{
			{Expr: bucketCall(t, cat, time.Hour), Name: "bucket", GroupRef: 1},
			{Expr: deviceCol(), Name: "device", GroupRef: 2},
			{Expr: aggCall(t, cat, "min", tempCol()), Name: "min_temp"},
			{Expr: aggCall(t, cat, "max", tempCol()), Name: "max_temp"},
		},
		Tables:  []*ast.RangeTableEntry{metricsRTE()},
		From:    []int{1},
		Group:   []ast.GroupClause{{Ref: 1}, {Ref: 2}},
		HasAggs: true,
	}
}
