package ast

import (
	"bytes"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Format renders the column reference as a quoted identifier.
func (c *ColumnRef) Format(buf *bytes.Buffer) {
	if c.Name != "" {
		buf.WriteString(pq.QuoteIdentifier(c.Name))
		return
	}
	fmt.Fprintf(buf, "col%d", c.Column)
}

func (w *WholeRowRef) Format(buf *bytes.Buffer) {
	buf.WriteString(pq.QuoteIdentifier(w.RelName))
	buf.WriteString(".*")
}

func (c *Const) Format(buf *bytes.Buffer) {
	if c.Null {
		buf.WriteString("NULL::")
		buf.WriteString(c.Type.SQLName())
		return
	}
	switch c.Type {
	case TypeText, TypeName:
		writeQuoted(buf, cast.ToString(c.Value))
	case TypeInterval:
		d, ok := c.Value.(time.Duration)
		if !ok {
			d = time.Duration(cast.ToInt64(c.Value))
		}
		// Sub-second widths render at the microsecond precision the
		// catalog stores; whole seconds keep the shorter spelling.
		if d%time.Second == 0 {
			fmt.Fprintf(buf, "INTERVAL '%d seconds'", int64(d/time.Second))
		} else {
			fmt.Fprintf(buf, "INTERVAL '%d microseconds'", d.Microseconds())
		}
	case TypeBool:
		if cast.ToBool(c.Value) {
			buf.WriteString("TRUE")
		} else {
			buf.WriteString("FALSE")
		}
	case TypeNumeric:
		if d, ok := c.Value.(decimal.Decimal); ok {
			buf.WriteString(d.String())
			return
		}
		buf.WriteString(cast.ToString(c.Value))
	case TypeTimestamp, TypeTimestampTZ, TypeDate:
		writeQuoted(buf, cast.ToString(c.Value))
		buf.WriteString("::")
		buf.WriteString(c.Type.SQLName())
	default:
		buf.WriteString(cast.ToString(c.Value))
	}
}

func (f *FuncCall) Format(buf *bytes.Buffer) {
	writeFuncName(buf, f.Schema, f.Name)
	buf.WriteString("(")
	for i, a := range f.Args {
		if i > 0 {
			buf.WriteString(", ")
		}
		a.Format(buf)
	}
	buf.WriteString(")")
}

func (a *AggCall) Format(buf *bytes.Buffer) {
	writeFuncName(buf, a.Schema, a.Name)
	buf.WriteString("(")
	switch {
	case a.Star:
		buf.WriteString("*")
	default:
		if a.Distinct {
			buf.WriteString("DISTINCT ")
		}
		for i, arg := range a.Args {
			if i > 0 {
				buf.WriteString(", ")
			}
			arg.Format(buf)
		}
	}
	buf.WriteString(")")
	if a.Filter != nil {
		buf.WriteString(" FILTER (WHERE ")
		a.Filter.Format(buf)
		buf.WriteString(")")
	}
}

func (b *BinaryExpr) Format(buf *bytes.Buffer) {
	buf.WriteString("(")
	b.Left.Format(buf)
	buf.WriteString(" ")
	buf.WriteString(b.Op)
	buf.WriteString(" ")
	b.Right.Format(buf)
	buf.WriteString(")")
}

// Format renders the column definition for DDL.
func (c ColumnDef) Format(buf *bytes.Buffer) {
	buf.WriteString(pq.QuoteIdentifier(c.Name))
	buf.WriteString(" ")
	buf.WriteString(c.Type.SQLName())
	if c.Coll.Valid() {
		buf.WriteString(" COLLATE ")
		if c.Coll.Schema != "" {
			buf.WriteString(pq.QuoteIdentifier(c.Coll.Schema))
			buf.WriteString(".")
		}
		buf.WriteString(pq.QuoteIdentifier(c.Coll.Name))
	}
}

// Format renders the query as executable SQL. Junk target entries are not
// part of the visible projection and are skipped.
func (q *Query) Format(buf *bytes.Buffer) {
	buf.WriteString("SELECT ")
	first := true
	for i := range q.Targets {
		te := &q.Targets[i]
		if te.Junk {
			continue
		}
		if !first {
			buf.WriteString(", ")
		}
		first = false
		te.Expr.Format(buf)
		if te.Name != "" {
			buf.WriteString(" AS ")
			buf.WriteString(pq.QuoteIdentifier(te.Name))
		}
	}
	if len(q.From) > 0 {
		buf.WriteString(" FROM ")
		for i, idx := range q.From {
			if i > 0 {
				buf.WriteString(", ")
			}
			rte := q.Tables[idx-1]
			if rte.Schema != "" {
				buf.WriteString(pq.QuoteIdentifier(rte.Schema))
				buf.WriteString(".")
			}
			buf.WriteString(pq.QuoteIdentifier(rte.Name))
		}
	}
	if q.Where != nil {
		buf.WriteString(" WHERE ")
		q.Where.Format(buf)
	}
	if len(q.Group) > 0 {
		buf.WriteString(" GROUP BY ")
		for i, gc := range q.Group {
			if i > 0 {
				buf.WriteString(", ")
			}
			if te := q.TargetByGroupRef(gc.Ref); te != nil {
				te.Expr.Format(buf)
			}
		}
	}
	if q.Having != nil {
		buf.WriteString(" HAVING ")
		q.Having.Format(buf)
	}
	if len(q.Sort) > 0 {
		buf.WriteString(" ORDER BY ")
		for i, si := range q.Sort {
			if i > 0 {
				buf.WriteString(", ")
			}
			if te := q.TargetByGroupRef(si.Ref); te != nil {
				te.Expr.Format(buf)
			}
			if si.Desc {
				buf.WriteString(" DESC")
			}
		}
	}
}

// SQL renders the query to a string.
func (q *Query) SQL() string {
	var buf bytes.Buffer
	q.Format(&buf)
	return buf.String()
}

func writeFuncName(buf *bytes.Buffer, schema, name string) {
	if schema != "" {
		buf.WriteString(pq.QuoteIdentifier(schema))
		buf.WriteString(".")
	}
	buf.WriteString(pq.QuoteIdentifier(name))
}

func writeQuoted(buf *bytes.Buffer, s string) {
	buf.WriteString("'")
	for _, r := range s {
		if r == '\'' {
			buf.WriteString("''")
			continue
		}
		buf.WriteRune(r)
	}
	buf.WriteString("'")
}
