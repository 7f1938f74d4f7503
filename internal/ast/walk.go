package ast

import "github.com/shopspring/decimal"

// CopyExpr returns a deep copy of e. The copy shares nothing with the
// original, so rewrites on one tree can never alias into another.
func CopyExpr(e Expr) Expr {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *ColumnRef:
		cp := *n
		return &cp
	case *WholeRowRef:
		cp := *n
		return &cp
	case *Const:
		cp := *n
		return &cp
	case *FuncCall:
		cp := *n
		cp.Args = copyExprs(n.Args)
		return &cp
	case *AggCall:
		cp := *n
		cp.Args = copyExprs(n.Args)
		cp.Filter = CopyExpr(n.Filter)
		cp.OrderBy = copyExprs(n.OrderBy)
		return &cp
	case *BinaryExpr:
		cp := *n
		cp.Left = CopyExpr(n.Left)
		cp.Right = CopyExpr(n.Right)
		return &cp
	default:
		panic("ast: unknown expression node in CopyExpr")
	}
}

func copyExprs(in []Expr) []Expr {
	if in == nil {
		return nil
	}
	out := make([]Expr, len(in))
	for i, e := range in {
		out[i] = CopyExpr(e)
	}
	return out
}

// Copy returns a deep copy of the query.
func (q *Query) Copy() *Query {
	cp := *q
	cp.Targets = make([]TargetEntry, len(q.Targets))
	for i, te := range q.Targets {
		cp.Targets[i] = TargetEntry{
			Expr:     CopyExpr(te.Expr),
			Name:     te.Name,
			Junk:     te.Junk,
			GroupRef: te.GroupRef,
		}
	}
	cp.Tables = make([]*RangeTableEntry, len(q.Tables))
	for i, rte := range q.Tables {
		r := *rte
		if rte.Hypertable != nil {
			ht := *rte.Hypertable
			r.Hypertable = &ht
		}
		r.Columns = append([]string(nil), rte.Columns...)
		cp.Tables[i] = &r
	}
	cp.From = append([]int(nil), q.From...)
	cp.Where = CopyExpr(q.Where)
	cp.Group = append([]GroupClause(nil), q.Group...)
	cp.Having = CopyExpr(q.Having)
	cp.Sort = append([]SortItem(nil), q.Sort...)
	cp.Limit = CopyExpr(q.Limit)
	cp.Offset = CopyExpr(q.Offset)
	return &cp
}

// WalkExpr visits e and its children depth-first, pre-order. If fn returns
// false the children of the current node are not visited.
func WalkExpr(e Expr, fn func(Expr) bool) {
	if e == nil {
		return
	}
	if !fn(e) {
		return
	}
	switch n := e.(type) {
	case *ColumnRef, *WholeRowRef, *Const:
	case *FuncCall:
		for _, a := range n.Args {
			WalkExpr(a, fn)
		}
	case *AggCall:
		for _, a := range n.Args {
			WalkExpr(a, fn)
		}
		WalkExpr(n.Filter, fn)
		for _, a := range n.OrderBy {
			WalkExpr(a, fn)
		}
	case *BinaryExpr:
		WalkExpr(n.Left, fn)
		WalkExpr(n.Right, fn)
	default:
		panic("ast: unknown expression node in WalkExpr")
	}
}

// MutateExpr rewrites e top-down and returns a new tree. fn sees each node
// before its children; when it returns done=true, its result replaces the
// node and the children are not visited. The input tree is never modified:
// every node on the result is freshly constructed.
func MutateExpr(e Expr, fn func(Expr) (Expr, bool)) Expr {
	if e == nil {
		return nil
	}
	if out, done := fn(e); done {
		return out
	}
	switch n := e.(type) {
	case *ColumnRef:
		cp := *n
		return &cp
	case *WholeRowRef:
		cp := *n
		return &cp
	case *Const:
		cp := *n
		return &cp
	case *FuncCall:
		cp := *n
		cp.Args = mutateExprs(n.Args, fn)
		return &cp
	case *AggCall:
		cp := *n
		cp.Args = mutateExprs(n.Args, fn)
		cp.Filter = MutateExpr(n.Filter, fn)
		cp.OrderBy = mutateExprs(n.OrderBy, fn)
		return &cp
	case *BinaryExpr:
		cp := *n
		cp.Left = MutateExpr(n.Left, fn)
		cp.Right = MutateExpr(n.Right, fn)
		return &cp
	default:
		panic("ast: unknown expression node in MutateExpr")
	}
}

func mutateExprs(in []Expr, fn func(Expr) (Expr, bool)) []Expr {
	if in == nil {
		return nil
	}
	out := make([]Expr, len(in))
	for i, e := range in {
		out[i] = MutateExpr(e, fn)
	}
	return out
}

// EqualExpr reports deep structural equality of two expressions.
func EqualExpr(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *ColumnRef:
		y, ok := b.(*ColumnRef)
		return ok && *x == *y
	case *WholeRowRef:
		y, ok := b.(*WholeRowRef)
		return ok && *x == *y
	case *Const:
		y, ok := b.(*Const)
		if !ok || x.Type != y.Type || x.Mod != y.Mod || x.Coll != y.Coll || x.Null != y.Null {
			return false
		}
		return x.Null || constValueEqual(x.Value, y.Value)
	case *FuncCall:
		y, ok := b.(*FuncCall)
		return ok && x.Func == y.Func && x.Schema == y.Schema && x.Name == y.Name &&
			x.Type == y.Type && x.Mod == y.Mod && x.Coll == y.Coll &&
			equalExprs(x.Args, y.Args)
	case *AggCall:
		y, ok := b.(*AggCall)
		return ok && x.Agg == y.Agg && x.Schema == y.Schema && x.Name == y.Name &&
			x.Type == y.Type && x.Mod == y.Mod && x.Coll == y.Coll &&
			x.InputColl == y.InputColl && x.Star == y.Star && x.Distinct == y.Distinct &&
			equalExprs(x.Args, y.Args) && EqualExpr(x.Filter, y.Filter) &&
			equalExprs(x.OrderBy, y.OrderBy)
	case *BinaryExpr:
		y, ok := b.(*BinaryExpr)
		return ok && x.Op == y.Op && x.Type == y.Type && x.Mod == y.Mod && x.Coll == y.Coll &&
			EqualExpr(x.Left, y.Left) && EqualExpr(x.Right, y.Right)
	default:
		panic("ast: unknown expression node in EqualExpr")
	}
}

func equalExprs(a, b []Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !EqualExpr(a[i], b[i]) {
			return false
		}
	}
	return true
}

// decimal values are pointer-backed, so == would compare identity.
func constValueEqual(a, b any) bool {
	da, aok := a.(decimal.Decimal)
	db, bok := b.(decimal.Decimal)
	if aok || bok {
		return aok && bok && da.Equal(db)
	}
	return a == b
}
