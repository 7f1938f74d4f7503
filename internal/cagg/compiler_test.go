package cagg

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/catalog"
)

func testCompiler(cat catalog.Catalog) *Compiler {
	return NewCompiler(cat, slog.Default())
}

func TestCompile_MinMaxArtifacts(t *testing.T) {
	cat := catalog.NewBuiltin()
	q := metricsQuery(t, cat)

	art, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.NoError(t, err)

	assert.Equal(t, "_timebase_internal", art.Names.Schema)
	assert.Equal(t, "tb_internal_device_summary_tab", art.Names.MatTable)
	assert.Equal(t, "tb_internal_device_summary_view", art.Names.PartialView)

	// Bucket, plain group column, two partial-state columns, chunk id.
	require.Len(t, art.MatColumns, 5)
	assert.Equal(t, "time_partition_col", art.MatColumns[0].Name)
	assert.Equal(t, ast.TypeTimestampTZ, art.MatColumns[0].Type)
	assert.Equal(t, "device", art.MatColumns[1].Name)
	assert.Equal(t, ast.TypeText, art.MatColumns[1].Type)
	assert.Equal(t, "tbcol3", art.MatColumns[2].Name)
	assert.Equal(t, ast.TypeBytes, art.MatColumns[2].Type)
	assert.Equal(t, "tbcol4", art.MatColumns[3].Name)
	assert.Equal(t, ast.TypeBytes, art.MatColumns[3].Type)
	assert.Equal(t, "chunk_id", art.MatColumns[4].Name)
	assert.Equal(t, ast.TypeInt4, art.MatColumns[4].Type)

	assert.Equal(t, "time_partition_col", art.PartitionColumn)
	assert.Equal(t, 0, art.PartitionIndex)
	assert.Equal(t, 10*24*time.Hour, art.PartitionInterval)
	assert.Equal(t, time.Hour, art.BucketWidth)
}

func TestCompile_PartialQuery(t *testing.T) {
	cat := catalog.NewBuiltin()
	q := metricsQuery(t, cat)

	art, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.NoError(t, err)

	partial := art.PartialQuery
	// One projection entry per materialization column, in the same order.
	require.Len(t, partial.Targets, len(art.MatColumns))
	for i := range partial.Targets {
		assert.Equal(t, art.MatColumns[i].Name, partial.Targets[i].Name, "column %d", i)
	}

	// Aggregates are wrapped in the partial-state producer.
	for _, i := range []int{2, 3} {
		fc, ok := partial.Targets[i].Expr.(*ast.FuncCall)
		require.True(t, ok, "target %d should be a partialize call", i)
		assert.Equal(t, catalog.PartializeFunc, fc.Name)
		require.Len(t, fc.Args, 1)
		_, ok = fc.Args[0].(*ast.AggCall)
		assert.True(t, ok)
		assert.Equal(t, ast.TypeBytes, fc.Type)
	}

	// Grouping keeps the user refs and adds one for the chunk column.
	require.Len(t, partial.Group, 3)
	assert.Equal(t, []ast.GroupClause{{Ref: 1}, {Ref: 2}, {Ref: 3}}, partial.Group)
	chunk, ok := partial.Targets[4].Expr.(*ast.FuncCall)
	require.True(t, ok)
	assert.Equal(t, catalog.ChunkForTupleFunc, chunk.Name)
	assert.Equal(t, 3, partial.Targets[4].GroupRef)

	// Reads the original source with the original filter shape.
	assert.Nil(t, partial.Having)
	assert.Empty(t, partial.Sort)
	require.Len(t, partial.From, 1)
	assert.Equal(t, "metrics", partial.Tables[partial.From[0]-1].Name)

	sql := partial.SQL()
	assert.Contains(t, sql, `"partialize_agg"`)
	assert.Contains(t, sql, `"chunk_for_tuple"`)
	assert.Contains(t, sql, `FROM "public"."metrics"`)
	assert.Contains(t, sql, "GROUP BY")
}

func TestCompile_FinalQuery(t *testing.T) {
	cat := catalog.NewBuiltin()
	q := metricsQuery(t, cat)

	art, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.NoError(t, err)

	final := art.FinalQuery
	require.Len(t, final.Tables, 1)
	assert.Equal(t, "_timebase_internal", final.Tables[0].Schema)
	assert.Equal(t, "tb_internal_device_summary_tab", final.Tables[0].Name)

	require.Len(t, final.Targets, 4)

	// Group columns read back as plain references.
	bucket, ok := final.Targets[0].Expr.(*ast.ColumnRef)
	require.True(t, ok)
	assert.Equal(t, "time_partition_col", bucket.Name)
	assert.Equal(t, 1, bucket.Column)
	assert.Equal(t, "bucket", final.Targets[0].Name)

	// Aggregates read back through the finalize combinator, typing intact.
	fin, ok := final.Targets[2].Expr.(*ast.AggCall)
	require.True(t, ok)
	assert.Equal(t, catalog.FinalizeFunc, fin.Name)
	assert.Equal(t, catalog.InternalSchema, fin.Schema)
	assert.Equal(t, ast.TypeFloat8, fin.Type)
	require.Len(t, fin.Args, 5)

	sig, ok := fin.Args[0].(*ast.Const)
	require.True(t, ok)
	assert.Equal(t, "min(double precision)", sig.Value)

	for _, i := range []int{1, 2} {
		coll, ok := fin.Args[i].(*ast.Const)
		require.True(t, ok, "arg %d should be a collation name constant", i)
		assert.True(t, coll.Null)
	}

	state, ok := fin.Args[3].(*ast.ColumnRef)
	require.True(t, ok)
	assert.Equal(t, "tbcol3", state.Name)
	assert.Equal(t, 3, state.Column)
	assert.Equal(t, ast.TypeBytes, state.Type)

	typed, ok := fin.Args[4].(*ast.Const)
	require.True(t, ok)
	assert.True(t, typed.Null)
	assert.Equal(t, ast.TypeFloat8, typed.Type)

	// Grouping stays keyed by the original refs.
	assert.Equal(t, q.Group, final.Group)

	sql := final.SQL()
	assert.Contains(t, sql, `FROM "_timebase_internal"."tb_internal_device_summary_tab"`)
	assert.Contains(t, sql, `"finalize_agg"`)
	assert.Contains(t, sql, `NULL::DOUBLE PRECISION`)
}

func TestCompile_InputQueryUntouched(t *testing.T) {
	cat := catalog.NewBuiltin()
	q := metricsQuery(t, cat)
	want := q.Copy()

	_, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.NoError(t, err)

	assert.Equal(t, want.SQL(), q.SQL())
	for i := range want.Targets {
		assert.True(t, ast.EqualExpr(want.Targets[i].Expr, q.Targets[i].Expr), "target %d changed", i)
	}
}

func TestCompile_CollationCarried(t *testing.T) {
	cat := catalog.NewBuiltin()
	coll := ast.Collation{Schema: "pg_catalog", Name: "en_US"}
	q := metricsQuery(t, cat)
	dev := deviceCol()
	dev.Coll = coll
	maxID := mustLookup(t, cat, "", "max", []ast.Type{ast.TypeText})
	q.Targets[2] = ast.TargetEntry{
		Expr: &ast.AggCall{
			Agg: maxID, Name: "max",
			Args:      []ast.Expr{dev},
			Type:      ast.TypeText,
			Mod:       ast.NoTypeMod,
			Coll:      coll,
			InputColl: coll,
		},
		Name: "max_device",
	}

	art, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.NoError(t, err)

	fin := art.FinalQuery.Targets[2].Expr.(*ast.AggCall)
	assert.Equal(t, coll, fin.Coll)
	assert.Equal(t, coll, fin.InputColl)

	schemaArg := fin.Args[1].(*ast.Const)
	require.False(t, schemaArg.Null)
	assert.Equal(t, "pg_catalog", schemaArg.Value)
	nameArg := fin.Args[2].(*ast.Const)
	require.False(t, nameArg.Null)
	assert.Equal(t, "en_US", nameArg.Value)
}

func TestCompile_HavingSharedAggregate(t *testing.T) {
	cat := catalog.NewBuiltin()
	q := metricsQuery(t, cat)
	// HAVING reuses the projected max(temp); it must not get a second
	// materialization column.
	q.Having = &ast.BinaryExpr{
		Op:   ">",
		Left: aggCall(t, cat, "max", tempCol()),
		Right: &ast.Const{
			Type: ast.TypeFloat8, Mod: ast.NoTypeMod, Value: int64(40),
		},
		Type: ast.TypeBool,
		Mod:  ast.NoTypeMod,
	}

	art, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.NoError(t, err)
	require.Len(t, art.MatColumns, 5)

	cmp, ok := art.FinalQuery.Having.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.True(t, ast.EqualExpr(art.FinalQuery.Targets[3].Expr, cmp.Left),
		"HAVING should reference the same finalize call as the projection")
}

func TestCompile_HavingOwnAggregate(t *testing.T) {
	cat := catalog.NewBuiltin()
	q := metricsQuery(t, cat)
	// HAVING on an aggregate absent from the projection gets its own
	// partial-state column.
	q.Having = &ast.BinaryExpr{
		Op:   ">",
		Left: aggCall(t, cat, "avg", tempCol()),
		Right: &ast.Const{
			Type: ast.TypeFloat8, Mod: ast.NoTypeMod, Value: int64(20),
		},
		Type: ast.TypeBool,
		Mod:  ast.NoTypeMod,
	}

	art, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.NoError(t, err)
	require.Len(t, art.MatColumns, 6)
	assert.Equal(t, "tbcol5", art.MatColumns[4].Name)
	assert.Equal(t, ast.TypeBytes, art.MatColumns[4].Type)

	cmp := art.FinalQuery.Having.(*ast.BinaryExpr)
	fin, ok := cmp.Left.(*ast.AggCall)
	require.True(t, ok)
	assert.Equal(t, catalog.FinalizeFunc, fin.Name)
	state := fin.Args[3].(*ast.ColumnRef)
	assert.Equal(t, "tbcol5", state.Name)
}

func TestCompile_JunkGroupedBucket(t *testing.T) {
	cat := catalog.NewBuiltin()
	// SELECT device, min(temp) FROM metrics GROUP BY device, time_bucket(...)
	// keeps the bucketing call out of the SELECT list; the resolver carries
	// it as a junk entry that still holds its grouping tag.
	q := &ast.Query{
		Command: ast.CommandSelect,
		Targets: []ast.TargetEntry{
			{Expr: deviceCol(), Name: "device", GroupRef: 1},
			{Expr: aggCall(t, cat, "min", tempCol()), Name: "min_temp"},
			{Expr: bucketCall(t, cat, time.Hour), Junk: true, GroupRef: 2},
		},
		Tables:  []*ast.RangeTableEntry{metricsRTE()},
		From:    []int{1},
		Group:   []ast.GroupClause{{Ref: 1}, {Ref: 2}},
		HasAggs: true,
	}

	art, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.NoError(t, err)

	// The junk grouping entry is materialized like a visible one and still
	// supplies the partition column.
	require.Len(t, art.MatColumns, 4)
	assert.Equal(t, "device", art.MatColumns[0].Name)
	assert.Equal(t, "tbcol2", art.MatColumns[1].Name)
	assert.Equal(t, "time_partition_col", art.MatColumns[2].Name)
	assert.Equal(t, "chunk_id", art.MatColumns[3].Name)
	assert.Equal(t, "time_partition_col", art.PartitionColumn)
	assert.Equal(t, 2, art.PartitionIndex)

	// The chunk column's grouping tag is allocated past the junk entry's,
	// so each grouping expression appears exactly once.
	partial := art.PartialQuery
	assert.Equal(t, []ast.GroupClause{{Ref: 1}, {Ref: 2}, {Ref: 3}}, partial.Group)
	assert.Equal(t, 3, partial.Targets[3].GroupRef)
	psql := partial.SQL()
	assert.Equal(t, 2, strings.Count(psql, catalog.ChunkForTupleFunc),
		"chunk expression should appear once in the projection and once in GROUP BY")
	assert.Equal(t, 2, strings.Count(psql, catalog.TimeBucketFunc))

	// The finalize side reads the bucket back as a stored column, keeps the
	// entry junk, and groups by it without re-bucketing.
	final := art.FinalQuery
	require.Len(t, final.Targets, 3)
	assert.True(t, final.Targets[2].Junk)
	ref, ok := final.Targets[2].Expr.(*ast.ColumnRef)
	require.True(t, ok)
	assert.Equal(t, "time_partition_col", ref.Name)
	assert.Equal(t, 3, ref.Column)

	sql := final.SQL()
	assert.NotContains(t, sql, catalog.TimeBucketFunc)
	assert.Contains(t, sql, `GROUP BY "device", "time_partition_col"`)
	assert.Equal(t, 1, strings.Count(sql, "time_partition_col"),
		"junk bucket entry belongs in GROUP BY but not in the projection")
}

func TestCompile_VolatileExpressionRejected(t *testing.T) {
	cat := catalog.NewBuiltin()
	jitterID := cat.RegisterFunc("", "jitter", ast.TypeFloat8)
	q := metricsQuery(t, cat)
	q.Targets = append(q.Targets, ast.TargetEntry{
		Expr: &ast.FuncCall{
			Func:       jitterID,
			Name:       "jitter",
			Args:       []ast.Expr{tempCol()},
			Type:       ast.TypeFloat8,
			Mod:        ast.NoTypeMod,
			Volatility: ast.VolatilityVolatile,
		},
		Name:     "jittered",
		GroupRef: 3,
	})
	q.Group = append(q.Group, ast.GroupClause{Ref: 3})

	_, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.ErrorIs(t, err, ErrVolatileExpression)
	assert.Contains(t, err.Error(), "jitter")
}

func TestCompile_Aliases(t *testing.T) {
	cat := catalog.NewBuiltin()

	art, err := testCompiler(cat).Compile(metricsQuery(t, cat), "device_summary",
		[]string{"hour", "sensor"})
	require.NoError(t, err)
	assert.Equal(t, "hour", art.FinalQuery.Targets[0].Name)
	assert.Equal(t, "sensor", art.FinalQuery.Targets[1].Name)
	assert.Equal(t, "min_temp", art.FinalQuery.Targets[2].Name)

	_, err = testCompiler(cat).Compile(metricsQuery(t, cat), "device_summary",
		[]string{"a", "b", "c", "d", "e"})
	require.ErrorIs(t, err, ErrTooManyAliases)
}

func TestCompile_CountStar(t *testing.T) {
	cat := catalog.NewBuiltin()
	q := metricsQuery(t, cat)
	q.Targets[2] = ast.TargetEntry{Expr: aggCall(t, cat, "count", nil), Name: "samples"}

	art, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.NoError(t, err)

	fin := art.FinalQuery.Targets[2].Expr.(*ast.AggCall)
	assert.Equal(t, "count(*)", fin.Args[0].(*ast.Const).Value)
	assert.Equal(t, ast.TypeInt8, fin.Type)
}

func TestDeriveNames(t *testing.T) {
	names, err := DeriveNames("device_summary")
	require.NoError(t, err)
	assert.Equal(t, Names{
		Schema:      "_timebase_internal",
		MatTable:    "tb_internal_device_summary_tab",
		PartialView: "tb_internal_device_summary_view",
	}, names)

	_, err = DeriveNames(strings.Repeat("x", 60))
	require.ErrorIs(t, err, ErrNameTooLong)
}

func TestCompile_MissingCombinators(t *testing.T) {
	// A catalog without the internal machinery is a deployment error, not
	// a query error.
	cat := catalog.NewRegistry()
	cat.RegisterFunc("", catalog.TimeBucketFunc, ast.TypeInterval, ast.TypeTimestampTZ)
	sum := cat.RegisterAggregate("sum", catalog.AggregateInfo{
		Signature: "sum(double precision)", Kind: ast.AggKindNormal, HasCombine: true,
	}, ast.TypeFloat8)

	q := &ast.Query{
		Command: ast.CommandSelect,
		Targets: []ast.TargetEntry{
			{Expr: bucketCall(t, cat, time.Hour), Name: "bucket", GroupRef: 1},
			{Expr: &ast.AggCall{Agg: sum, Name: "sum", Args: []ast.Expr{tempCol()}, Type: ast.TypeFloat8, Mod: ast.NoTypeMod}, Name: "total"},
		},
		Tables:  []*ast.RangeTableEntry{metricsRTE()},
		From:    []int{1},
		Group:   []ast.GroupClause{{Ref: 1}},
		HasAggs: true,
	}

	_, err := testCompiler(cat).Compile(q, "device_summary", nil)
	require.ErrorIs(t, err, ErrLookup)
}
