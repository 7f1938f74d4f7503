package cagg

import (
	"log/slog"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/catalog"
)

// Compiler turns a resolved aggregation query into the artifacts of a
// continuous aggregate. It holds no mutable state; one Compiler serves any
// number of concurrent compilations.
type Compiler struct {
	cat catalog.Catalog
	log *slog.Logger
}

func NewCompiler(cat catalog.Catalog, log *slog.Logger) *Compiler {
	return &Compiler{cat: cat, log: log}
}

// Compile validates the query, splits every aggregate into partial and
// final phases, and assembles the materialization schema together with the
// two derived queries. The input query is never modified; all rewrites run
// on a private copy.
func (c *Compiler) Compile(q *ast.Query, viewName string, aliases []string) (*Artifacts, error) {
	names, err := DeriveNames(viewName)
	if err != nil {
		return nil, err
	}
	info, err := ValidateQuery(q, c.cat)
	if err != nil {
		return nil, err
	}

	work := q.Copy()
	mat, err := newMatSchema(work, c.cat)
	if err != nil {
		return nil, err
	}
	fq, err := splitQuery(work, mat, c.cat)
	if err != nil {
		return nil, err
	}
	rte := work.Tables[work.From[0]-1]
	mat.addInternalColumns(rte, info.HypertableID)

	partial := buildPartialQuery(work, mat)
	final, err := buildFinalQuery(work, fq, names, mat, aliases)
	if err != nil {
		return nil, err
	}

	art := &Artifacts{
		Names:             names,
		MatColumns:        append([]ast.ColumnDef(nil), mat.cols...),
		PartitionColumn:   mat.partColName,
		PartitionIndex:    mat.partColIdx,
		PartitionInterval: info.PartitionInterval * matPartitionIntervalFactor,
		BucketWidth:       info.BucketWidth,
		PartialQuery:      partial,
		FinalQuery:        final,
	}
	c.log.Debug("compiled continuous aggregate",
		slog.String("view", viewName),
		slog.String("mat_table", names.MatTable),
		slog.Int("columns", len(art.MatColumns)),
		slog.Duration("bucket_width", art.BucketWidth),
	)
	return art, nil
}
