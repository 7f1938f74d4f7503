package cagg

import (
	"fmt"

	"github.com/timebase-io/timebase/internal/ast"
	"github.com/timebase-io/timebase/internal/catalog"
)

// finalizeQuery holds the rewritten projection and HAVING clause that read
// back from the materialization table. Targets line up one-to-one with the
// user query's target list; only the expressions differ.
type finalizeQuery struct {
	finalizeID ast.FuncID
	targets    []ast.TargetEntry
	having     ast.Expr
}

// aggSplitCtx threads state through one expression rewrite. addcol records
// whether the rewrite materialized at least one aggregate; entries that did
// not are stored whole instead. skipFinalized passes through aggregates that
// were already rewritten by an earlier substitution pass.
type aggSplitCtx struct {
	mat           *matSchema
	cat           catalog.Catalog
	finalizeID    ast.FuncID
	addcol        bool
	skipFinalized bool
	err           error
}

func (c *aggSplitCtx) mutate(e ast.Expr) (ast.Expr, bool) {
	if c.err != nil {
		return e, true
	}
	agg, ok := e.(*ast.AggCall)
	if !ok {
		return nil, false
	}
	if c.skipFinalized && agg.Agg == c.finalizeID {
		return ast.CopyExpr(agg), true
	}
	partial, err := c.mat.addColumn(agg)
	if err != nil {
		c.err = err
		return e, true
	}
	out, err := c.finalizeCall(agg, partial)
	if err != nil {
		c.err = err
		return e, true
	}
	c.addcol = true
	return out, true
}

// finalizeCall replaces an aggregate with finalize_agg over its stored
// partial state. The combinator takes the aggregate's canonical signature,
// the input collation split into schema and name, the partial-state column,
// and a typed NULL telling the planner the result type. Result typing and
// collations are copied from the original call so the surrounding expression
// tree keeps its meaning.
func (c *aggSplitCtx) finalizeCall(agg *ast.AggCall, partial *ast.ColumnRef) (*ast.AggCall, error) {
	info, err := c.cat.AggregateInfo(agg.Agg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	collSchema := ast.NameConst("")
	collName := ast.NameConst("")
	if agg.InputColl.Valid() {
		collSchema = ast.NameConst(agg.InputColl.Schema)
		collName = ast.NameConst(agg.InputColl.Name)
	}
	return &ast.AggCall{
		Agg:    c.finalizeID,
		Schema: catalog.InternalSchema,
		Name:   catalog.FinalizeFunc,
		Args: []ast.Expr{
			ast.TextConst(info.Signature),
			collSchema,
			collName,
			partial,
			ast.NullConst(agg.Type, agg.Mod, agg.Coll),
		},
		Type:      agg.Type,
		Mod:       agg.Mod,
		Coll:      agg.Coll,
		InputColl: agg.InputColl,
	}, nil
}

// splitQuery walks the user query's projection, materializing every
// aggregate as a partial-state column and every remaining entry that is
// visible or carries a grouping tag as a plain column, and builds the
// finalize-side projection referencing them. Junk grouping entries must be
// materialized too: the partial query groups by their column, and the
// finalize-side GROUP BY still resolves them through their tag even though
// they never appear in the output.
//
// HAVING is rewritten in two passes. Expressions identical to a projection
// entry reuse that entry's rewritten form, so a shared aggregate gets one
// materialization column, not two. Whatever aggregates remain after that
// are split on their own; finalize calls introduced by the first pass are
// recognized and left alone.
func splitQuery(q *ast.Query, mat *matSchema, cat catalog.Catalog) (*finalizeQuery, error) {
	finalizeID, err := cat.LookupFunc(catalog.InternalSchema, catalog.FinalizeFunc, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	fq := &finalizeQuery{finalizeID: finalizeID}

	for i := range q.Targets {
		te := &q.Targets[i]
		ctx := &aggSplitCtx{mat: mat, cat: cat, finalizeID: finalizeID}
		expr := ast.MutateExpr(te.Expr, ctx.mutate)
		if ctx.err != nil {
			return nil, ctx.err
		}
		if (!te.Junk || te.GroupRef > 0) && !ctx.addcol {
			col, err := mat.addColumn(te)
			if err != nil {
				return nil, err
			}
			expr = col
		}
		fq.targets = append(fq.targets, ast.TargetEntry{
			Expr:     expr,
			Name:     te.Name,
			Junk:     te.Junk,
			GroupRef: te.GroupRef,
		})
	}

	if q.Having != nil {
		having := ast.MutateExpr(q.Having, func(e ast.Expr) (ast.Expr, bool) {
			for i := range q.Targets {
				if ast.EqualExpr(e, q.Targets[i].Expr) {
					return ast.CopyExpr(fq.targets[i].Expr), true
				}
			}
			return nil, false
		})
		ctx := &aggSplitCtx{mat: mat, cat: cat, finalizeID: finalizeID, skipFinalized: true}
		having = ast.MutateExpr(having, ctx.mutate)
		if ctx.err != nil {
			return nil, ctx.err
		}
		fq.having = having
	}
	return fq, nil
}
