package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/cagg"
	coreerrors "github.com/timebase-io/timebase/internal/core/errors"
	"github.com/timebase-io/timebase/internal/core/storage"
)

// Resolver turns a SQL statement into a resolved query tree: names bound,
// types and collations attached, feature flags set. Parsing and semantic
// analysis live behind this interface; the compiler only consumes its
// output.
type Resolver interface {
	Resolve(ctx context.Context, statement string) (*ast.Query, error)
}

// Handler handles continuous aggregate HTTP requests.
type Handler struct {
	resolver Resolver
	compiler *cagg.Compiler
	creator  *cagg.Creator
	repo     storage.AggregateRepository
}

// NewHandler creates a continuous aggregate API handler.
func NewHandler(resolver Resolver, compiler *cagg.Compiler, creator *cagg.Creator, repo storage.AggregateRepository) *Handler {
	return &Handler{
		resolver: resolver,
		compiler: compiler,
		creator:  creator,
		repo:     repo,
	}
}

// RegisterRoutes attaches the continuous aggregate endpoints.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	grp := r.Group("/v1/continuous-aggregates")
	grp.GET("", h.HandleList)
	grp.POST("", h.HandleCreate)
	grp.POST("/compile", h.HandleCompile)
}

// CreateRequest is the request body for POST /v1/continuous-aggregates.
type CreateRequest struct {
	ViewSchema      string   `json:"view_schema"`
	ViewName        string   `json:"view_name"`
	Query           string   `json:"query"`
	ColumnNames     []string `json:"column_names,omitempty"`
	RefreshInterval string   `json:"refresh_interval,omitempty"`
}

// AggregateResponse is the response body for continuous aggregate rows.
type AggregateResponse struct {
	ID              string `json:"id"`
	ViewSchema      string `json:"view_schema"`
	ViewName        string `json:"view_name"`
	MatHypertableID int64  `json:"mat_hypertable_id"`
	RawHypertableID int32  `json:"raw_hypertable_id"`
	PartialView     string `json:"partial_view"`
	BucketWidth     string `json:"bucket_width"`
	RefreshJobID    int64  `json:"refresh_job_id"`
	DirectQuery     string `json:"direct_query"`
}

// CompileRequest is the request body for the dry-run endpoint.
type CompileRequest struct {
	ViewName    string   `json:"view_name"`
	Query       string   `json:"query"`
	ColumnNames []string `json:"column_names,omitempty"`
}

// CompileResponse shows what creation would build, without building it.
type CompileResponse struct {
	MatTable        string           `json:"mat_table"`
	PartialView     string           `json:"partial_view"`
	Columns         []ColumnResponse `json:"columns"`
	PartitionColumn string           `json:"partition_column"`
	BucketWidth     string           `json:"bucket_width"`
	PartialQuery    string           `json:"partial_query"`
	FinalQuery      string           `json:"final_query"`
}

type ColumnResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// HandleCreate handles POST /v1/continuous-aggregates.
func (h *Handler) HandleCreate(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInvalidJsonError, Message: "Invalid JSON body"})
		return
	}
	if req.ViewName == "" || req.Query == "" {
		c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInvalidQueryError, Message: "view_name and query are required"})
		return
	}
	if req.ViewSchema == "" {
		req.ViewSchema = "public"
	}

	if !h.requireResolver(c) {
		return
	}

	var refreshInterval time.Duration
	if req.RefreshInterval != "" {
		var err error
		refreshInterval, err = time.ParseDuration(req.RefreshInterval)
		if err != nil || refreshInterval <= 0 {
			c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
				ErrorType: coreerrors.HttpInvalidQueryError, Message: "refresh_interval must be a positive duration"})
			return
		}
	}

	q, err := h.resolver.Resolve(c.Request.Context(), req.Query)
	if err != nil {
		c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInvalidQueryError, Message: err.Error()})
		return
	}

	entry, err := h.creator.Create(c.Request.Context(), cagg.CreateRequest{
		ViewSchema:      req.ViewSchema,
		ViewName:        req.ViewName,
		Query:           q,
		Aliases:         req.ColumnNames,
		RefreshInterval: refreshInterval,
	})
	if err != nil {
		h.writeCompileError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AggregateResponse{
		ID:              entry.ID.String(),
		ViewSchema:      entry.ViewSchema,
		ViewName:        entry.ViewName,
		MatHypertableID: entry.MatHypertableID,
		RawHypertableID: entry.RawHypertableID,
		PartialView:     entry.PartialViewSchema + "." + entry.PartialViewName,
		BucketWidth:     entry.BucketWidth.String(),
		RefreshJobID:    entry.RefreshJobID,
		DirectQuery:     entry.DirectQuery,
	})
}

// HandleCompile handles POST /v1/continuous-aggregates/compile, a dry run
// that reports the derived artifacts without creating anything.
func (h *Handler) HandleCompile(c *gin.Context) {
	var req CompileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInvalidJsonError, Message: "Invalid JSON body"})
		return
	}
	if req.ViewName == "" || req.Query == "" {
		c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInvalidQueryError, Message: "view_name and query are required"})
		return
	}
	if !h.requireResolver(c) {
		return
	}

	q, err := h.resolver.Resolve(c.Request.Context(), req.Query)
	if err != nil {
		c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInvalidQueryError, Message: err.Error()})
		return
	}

	art, err := h.compiler.Compile(q, req.ViewName, req.ColumnNames)
	if err != nil {
		h.writeCompileError(c, err)
		return
	}

	cols := make([]ColumnResponse, len(art.MatColumns))
	for i, col := range art.MatColumns {
		cols[i] = ColumnResponse{Name: col.Name, Type: col.Type.SQLName()}
	}
	c.JSON(http.StatusOK, CompileResponse{
		MatTable:        art.Names.Schema + "." + art.Names.MatTable,
		PartialView:     art.Names.Schema + "." + art.Names.PartialView,
		Columns:         cols,
		PartitionColumn: art.PartitionColumn,
		BucketWidth:     art.BucketWidth.String(),
		PartialQuery:    art.PartialQuery.SQL(),
		FinalQuery:      art.FinalQuery.SQL(),
	})
}

// HandleList handles GET /v1/continuous-aggregates.
func (h *Handler) HandleList(c *gin.Context) {
	aggs, err := h.repo.ListContinuousAggregates(c.Request.Context())
	if err != nil {
		slog.Error("Continuous aggregate list error", "error", err)
		c.JSON(http.StatusInternalServerError, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInternalError, Message: "Failed to list continuous aggregates"})
		return
	}

	responses := make([]AggregateResponse, len(aggs))
	for i, agg := range aggs {
		responses[i] = AggregateResponse{
			ID:              agg.ID.String(),
			ViewSchema:      agg.ViewSchema,
			ViewName:        agg.ViewName,
			MatHypertableID: agg.MatHypertableID,
			RawHypertableID: agg.RawHypertableID,
			PartialView:     agg.PartialViewSchema + "." + agg.PartialViewName,
			BucketWidth:     agg.BucketWidth.String(),
			RefreshJobID:    agg.RefreshJobID,
			DirectQuery:     agg.DirectQuery,
		}
	}
	c.JSON(http.StatusOK, responses)
}

// requireResolver rejects statement-bearing requests when no resolver is
// wired. Deployments without a frontend parser still get the catalog and
// refresh endpoints.
func (h *Handler) requireResolver(c *gin.Context) bool {
	if h.resolver != nil {
		return true
	}
	c.JSON(http.StatusNotImplemented, coreerrors.ErrorResponse{
		ErrorType: coreerrors.HttpInternalError,
		Message:   "no query resolver configured",
	})
	return false
}

// writeCompileError maps compiler and creation failures to API error codes.
func (h *Handler) writeCompileError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cagg.ErrAlreadyExists):
		c.JSON(http.StatusConflict, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpAlreadyExistsError, Message: err.Error()})
	case errors.Is(err, cagg.ErrUnsupportedShape),
		errors.Is(err, cagg.ErrUnsupportedAggregate),
		errors.Is(err, cagg.ErrVolatileExpression):
		c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpUnsupportedError, Message: err.Error()})
	case errors.Is(err, cagg.ErrNameTooLong):
		c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpNameTooLongError, Message: err.Error()})
	case errors.Is(err, cagg.ErrTooManyAliases):
		c.JSON(http.StatusBadRequest, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpTooManyAliasesError, Message: err.Error()})
	default:
		slog.Error("Continuous aggregate creation error", "error", err)
		c.JSON(http.StatusInternalServerError, coreerrors.ErrorResponse{
			ErrorType: coreerrors.HttpInternalError, Message: "Failed to create continuous aggregate"})
	}
}
