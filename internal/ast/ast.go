package ast

import (
	"bytes"
	"time"
)

// Node is implemented by everything that can render itself as SQL text.
type Node interface {
	Format(buf *bytes.Buffer)
}

// Expr is the closed set of expression nodes the compiler understands.
// Every variant carries its resolved result type, type modifier and
// collation so rewrites can substitute one expression for another without
// re-deriving typing information.
//
// The set is sealed via exprNode; the rewrite helpers in walk.go switch
// exhaustively over it, so a new variant is a compile-time obligation there.
type Expr interface {
	Node
	ResultType() Type
	ResultTypeMod() int32
	ResultCollation() Collation
	exprNode()
}

// ColumnRef is a reference to one column of a range-table entry.
// Rel is the 1-based range-table index, Column the 1-based column number.
type ColumnRef struct {
	Rel    int
	Column int
	Name   string
	Type   Type
	Mod    int32
	Coll   Collation
}

func (c *ColumnRef) ResultType() Type           { return c.Type }
func (c *ColumnRef) ResultTypeMod() int32       { return c.Mod }
func (c *ColumnRef) ResultCollation() Collation { return c.Coll }
func (c *ColumnRef) exprNode()                  {}

// WholeRowRef references an entire row of a range-table entry, as in
// chunk_for_tuple(id, tbl.*).
type WholeRowRef struct {
	Rel     int
	RelName string
}

func (w *WholeRowRef) ResultType() Type           { return TypeRecord }
func (w *WholeRowRef) ResultTypeMod() int32       { return NoTypeMod }
func (w *WholeRowRef) ResultCollation() Collation { return Collation{} }
func (w *WholeRowRef) exprNode()                  {}

// Const is a literal constant. Value holds the Go representation:
// decimal.Decimal for numerics, string for text/name, int64 for integers,
// bool for booleans, time.Duration for intervals. Null constants keep their
// declared type so typed NULL literals can carry result-type information.
type Const struct {
	Type  Type
	Mod   int32
	Coll  Collation
	Value any
	Null  bool
}

func (c *Const) ResultType() Type           { return c.Type }
func (c *Const) ResultTypeMod() int32       { return c.Mod }
func (c *Const) ResultCollation() Collation { return c.Coll }
func (c *Const) exprNode()                  {}

// NullConst builds a typed NULL literal.
func NullConst(t Type, mod int32, coll Collation) *Const {
	return &Const{Type: t, Mod: mod, Coll: coll, Null: true}
}

// TextConst builds a text literal.
func TextConst(s string) *Const {
	return &Const{Type: TypeText, Mod: NoTypeMod, Value: s}
}

// NameConst builds a name literal; empty string renders as a NULL name.
func NameConst(s string) *Const {
	return &Const{Type: TypeName, Mod: NoTypeMod, Value: s, Null: s == ""}
}

// IntervalConst builds an interval literal from a duration.
func IntervalConst(d time.Duration) *Const {
	return &Const{Type: TypeInterval, Mod: NoTypeMod, Value: d}
}

// FuncCall is a resolved call to a plain (non-aggregate) function.
type FuncCall struct {
	Func       FuncID
	Schema     string
	Name       string
	Args       []Expr
	Type       Type
	Mod        int32
	Coll       Collation
	Volatility Volatility
}

func (f *FuncCall) ResultType() Type           { return f.Type }
func (f *FuncCall) ResultTypeMod() int32       { return f.Mod }
func (f *FuncCall) ResultCollation() Collation { return f.Coll }
func (f *FuncCall) exprNode()                  {}

// AggCall is a resolved aggregate call. InputColl is the collation of the
// aggregated input, distinct from the collation of the result.
type AggCall struct {
	Agg       FuncID
	Schema    string
	Name      string
	Args      []Expr
	Type      Type
	Mod       int32
	Coll      Collation
	InputColl Collation
	Star      bool
	Distinct  bool
	Filter    Expr
	OrderBy   []Expr
}

func (a *AggCall) ResultType() Type           { return a.Type }
func (a *AggCall) ResultTypeMod() int32       { return a.Mod }
func (a *AggCall) ResultCollation() Collation { return a.Coll }
func (a *AggCall) exprNode()                  {}

// BinaryExpr is an infix operator application (comparison or arithmetic).
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
	Type  Type
	Mod   int32
	Coll  Collation
}

func (b *BinaryExpr) ResultType() Type           { return b.Type }
func (b *BinaryExpr) ResultTypeMod() int32       { return b.Mod }
func (b *BinaryExpr) ResultCollation() Collation { return b.Coll }
func (b *BinaryExpr) exprNode()                  {}

// TargetEntry is one entry of a projection list. Junk entries exist only to
// carry grouping or ordering expressions and are not visible in the output.
// GroupRef links the entry to group/sort clauses; zero means unreferenced.
type TargetEntry struct {
	Expr     Expr
	Name     string
	Junk     bool
	GroupRef int
}

// GroupClause references a target entry by its GroupRef tag.
type GroupClause struct {
	Ref int
}

// SortItem references a target entry by its GroupRef tag.
type SortItem struct {
	Ref  int
	Desc bool
}

// RelKind classifies what a range-table entry resolves to.
type RelKind int

const (
	RelTable RelKind = iota
	RelView
	RelSubquery
	RelFunction
)

// HypertableInfo is attached by the resolver when a range-table entry is a
// time-partitioned table. PartitionColumn is the 1-based column number of
// the primary partitioning column.
type HypertableInfo struct {
	ID                int32
	PartitionColumn   int
	PartitionInterval time.Duration
}

// RangeTableEntry describes one source relation of a query. The resolver
// sets Only when the relation was referenced as a single concrete partition
// (FROM ONLY).
type RangeTableEntry struct {
	Schema      string
	Name        string
	Kind        RelKind
	RelID       int64
	Sampled     bool
	Only        bool
	RowSecurity bool
	Hypertable  *HypertableInfo
	Columns     []string
}

// Command is the statement kind of a query.
type Command int

const (
	CommandSelect Command = iota
	CommandInsert
	CommandUpdate
	CommandDelete
	CommandUtility
)

// Query is a fully resolved query tree. Feature flags record constructs the
// resolver saw even when the corresponding clause is not represented here,
// mirroring how the shape validator consumes them.
type Query struct {
	Command Command

	Targets []TargetEntry
	Tables  []*RangeTableEntry
	From    []int // 1-based indexes into Tables
	Where   Expr
	Group   []GroupClause
	Having  Expr
	Sort    []SortItem
	Limit   Expr
	Offset  Expr

	Distinct   bool
	DistinctOn bool

	HasAggs         bool
	HasWindow       bool
	HasSubquery     bool
	HasRecursive    bool
	HasModifyingCTE bool
	HasForUpdate    bool
	HasRowSecurity  bool
	HasSRF          bool
	HasGroupingSets bool
	HasSetOps       bool
	HasCTE          bool
}

// TargetByGroupRef returns the target entry carrying the given group
// reference tag, or nil.
func (q *Query) TargetByGroupRef(ref int) *TargetEntry {
	if ref == 0 {
		return nil
	}
	for i := range q.Targets {
		if q.Targets[i].GroupRef == ref {
			return &q.Targets[i]
		}
	}
	return nil
}

// MaxGroupRef returns the highest group reference tag in use.
func (q *Query) MaxGroupRef() int {
	max := 0
	for i := range q.Targets {
		if q.Targets[i].GroupRef > max {
			max = q.Targets[i].GroupRef
		}
	}
	return max
}

// ColumnDef is one column of a relation definition.
type ColumnDef struct {
	Name string
	Type Type
	Mod  int32
	Coll Collation
}
