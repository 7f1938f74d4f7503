package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/cagg"
	"github.com/timebase-io/timebase/internal/catalog"
	"github.com/timebase-io/timebase/internal/core/storage"
)

type stubResolver struct {
	query *ast.Query
	err   error
}

func (s *stubResolver) Resolve(ctx context.Context, statement string) (*ast.Query, error) {
	return s.query, s.err
}

type stubRepo struct {
	aggs []*storage.ContinuousAggregate
	err  error
}

func (s *stubRepo) ListContinuousAggregates(ctx context.Context) ([]*storage.ContinuousAggregate, error) {
	return s.aggs, s.err
}

func (s *stubRepo) AggregateByMatHypertable(ctx context.Context, id int64) (*storage.ContinuousAggregate, error) {
	return nil, storage.ErrNotFound
}

func (s *stubRepo) DueJobs(ctx context.Context, now time.Time) ([]*storage.Job, error) {
	return nil, nil
}

func (s *stubRepo) MarkJobRun(ctx context.Context, jobID int64, at time.Time) error { return nil }

func (s *stubRepo) PendingInvalidations(ctx context.Context, hypertableID int32) (*storage.Invalidation, error) {
	return nil, nil
}

func (s *stubRepo) ClearInvalidations(ctx context.Context, hypertableID int32, upTo time.Time) error {
	return nil
}

func (s *stubRepo) MaterializeRange(ctx context.Context, agg *storage.ContinuousAggregate, from, to time.Time) (int64, error) {
	return 0, nil
}

// metricsQuery builds the resolved form of
//
//	SELECT time_bucket('1h', ts) AS bucket, min(temp) AS min_temp
//	FROM public.metrics GROUP BY 1
func metricsQuery(t *testing.T, cat catalog.Catalog) *ast.Query {
	t.Helper()
	tsCol := &ast.ColumnRef{Rel: 1, Column: 1, Name: "ts", Type: ast.TypeTimestampTZ, Mod: ast.NoTypeMod}
	tempCol := &ast.ColumnRef{Rel: 1, Column: 3, Name: "temp", Type: ast.TypeFloat8, Mod: ast.NoTypeMod}

	bucketID, err := cat.LookupFunc("", catalog.TimeBucketFunc, []ast.Type{ast.TypeInterval, ast.TypeTimestampTZ})
	require.NoError(t, err)
	minID, err := cat.LookupFunc("", "min", []ast.Type{ast.TypeFloat8})
	require.NoError(t, err)

	return &ast.Query{
		Command: ast.CommandSelect,
		Targets: []ast.TargetEntry{
			{
				Expr: &ast.FuncCall{
					Func: bucketID,
					Name: catalog.TimeBucketFunc,
					Args: []ast.Expr{ast.IntervalConst(time.Hour), tsCol},
					Type: ast.TypeTimestampTZ,
					Mod:  ast.NoTypeMod,
				},
				Name:     "bucket",
				GroupRef: 1,
			},
			{
				Expr: &ast.AggCall{
					Agg:  minID,
					Name: "min",
					Args: []ast.Expr{tempCol},
					Type: ast.TypeFloat8,
					Mod:  ast.NoTypeMod,
				},
				Name: "min_temp",
			},
		},
		Tables: []*ast.RangeTableEntry{{
			Schema: "public",
			Name:   "metrics",
			Kind:   ast.RelTable,
			RelID:  1001,
			Hypertable: &ast.HypertableInfo{
				ID:                42,
				PartitionColumn:   1,
				PartitionInterval: 24 * time.Hour,
			},
			Columns: []string{"ts", "device", "temp"},
		}},
		From:    []int{1},
		Group:   []ast.GroupClause{{Ref: 1}},
		HasAggs: true,
	}
}

func testRouter(t *testing.T, cat catalog.Catalog, resolver Resolver, repo storage.AggregateRepository) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	compiler := cagg.NewCompiler(cat, slog.Default())
	h := NewHandler(resolver, compiler, nil, repo)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleList(t *testing.T) {
	repo := &stubRepo{aggs: []*storage.ContinuousAggregate{{
		ID:                uuid.New(),
		ViewSchema:        "public",
		ViewName:          "device_summary",
		PartialViewSchema: "_timebase_internal",
		PartialViewName:   "tb_internal_device_summary_view",
		MatHypertableID:   7,
		RawHypertableID:   42,
		BucketWidth:       time.Hour,
		RefreshJobID:      3,
		DirectQuery:       "SELECT 1",
	}}}
	r := testRouter(t, catalog.NewBuiltin(), nil, repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/continuous-aggregates", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []AggregateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "device_summary", got[0].ViewName)
	assert.Equal(t, "_timebase_internal.tb_internal_device_summary_view", got[0].PartialView)
	assert.Equal(t, "1h0m0s", got[0].BucketWidth)
}

func TestHandleList_RepoError(t *testing.T) {
	r := testRouter(t, catalog.NewBuiltin(), nil, &stubRepo{err: assert.AnError})

	req := httptest.NewRequest(http.MethodGet, "/v1/continuous-aggregates", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleCompile(t *testing.T) {
	cat := catalog.NewBuiltin()
	resolver := &stubResolver{query: metricsQuery(t, cat)}
	r := testRouter(t, cat, resolver, &stubRepo{})

	w := postJSON(t, r, "/v1/continuous-aggregates/compile", CompileRequest{
		ViewName: "device_summary",
		Query:    "SELECT time_bucket('1h', ts) AS bucket, min(temp) FROM metrics GROUP BY 1",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CompileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "_timebase_internal.tb_internal_device_summary_tab", resp.MatTable)
	assert.Equal(t, "_timebase_internal.tb_internal_device_summary_view", resp.PartialView)
	assert.Equal(t, cagg.BucketColumnName, resp.PartitionColumn)
	assert.Equal(t, "1h0m0s", resp.BucketWidth)
	assert.Contains(t, resp.PartialQuery, "partialize_agg")
	assert.Contains(t, resp.FinalQuery, "finalize_agg")
	require.Len(t, resp.Columns, 3)
	assert.Equal(t, cagg.BucketColumnName, resp.Columns[0].Name)
	assert.Equal(t, "BYTEA", resp.Columns[1].Type)
}

func TestHandleCompile_ResolverMissing(t *testing.T) {
	r := testRouter(t, catalog.NewBuiltin(), nil, &stubRepo{})

	w := postJSON(t, r, "/v1/continuous-aggregates/compile", CompileRequest{
		ViewName: "device_summary",
		Query:    "SELECT 1",
	})

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestHandleCompile_InvalidQuery(t *testing.T) {
	cat := catalog.NewBuiltin()
	q := metricsQuery(t, cat)
	q.HasWindow = true
	r := testRouter(t, cat, &stubResolver{query: q}, &stubRepo{})

	w := postJSON(t, r, "/v1/continuous-aggregates/compile", CompileRequest{
		ViewName: "device_summary",
		Query:    "SELECT ...",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported_query")
}

func TestHandleCompile_MissingFields(t *testing.T) {
	r := testRouter(t, catalog.NewBuiltin(), &stubResolver{}, &stubRepo{})

	w := postJSON(t, r, "/v1/continuous-aggregates/compile", CompileRequest{ViewName: "x"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCreate_MissingFields(t *testing.T) {
	r := testRouter(t, catalog.NewBuiltin(), &stubResolver{}, &stubRepo{})

	w := postJSON(t, r, "/v1/continuous-aggregates", CreateRequest{ViewName: "x"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCreate_BadRefreshInterval(t *testing.T) {
	r := testRouter(t, catalog.NewBuiltin(), &stubResolver{}, &stubRepo{})

	w := postJSON(t, r, "/v1/continuous-aggregates", CreateRequest{
		ViewName:        "device_summary",
		Query:           "SELECT 1",
		RefreshInterval: "sometimes",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
