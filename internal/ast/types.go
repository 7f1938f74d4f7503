package ast

import "fmt"

// Type identifies the value type of an expression. The resolver attaches
// types during analysis; the compiler never infers them.
type Type int

const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt2
	TypeInt4
	TypeInt8
	TypeFloat4
	TypeFloat8
	TypeNumeric
	TypeText
	TypeName
	TypeBytes
	TypeTimestamp
	TypeTimestampTZ
	TypeDate
	TypeInterval
	TypeRecord
)

// SQLName returns the SQL type name used when rendering DDL and casts.
func (t Type) SQLName() string {
	switch t {
	case TypeBool:
		return "BOOLEAN"
	case TypeInt2:
		return "SMALLINT"
	case TypeInt4:
		return "INTEGER"
	case TypeInt8:
		return "BIGINT"
	case TypeFloat4:
		return "REAL"
	case TypeFloat8:
		return "DOUBLE PRECISION"
	case TypeNumeric:
		return "NUMERIC"
	case TypeText:
		return "TEXT"
	case TypeName:
		return "NAME"
	case TypeBytes:
		return "BYTEA"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeTimestampTZ:
		return "TIMESTAMPTZ"
	case TypeDate:
		return "DATE"
	case TypeInterval:
		return "INTERVAL"
	case TypeRecord:
		return "RECORD"
	default:
		return fmt.Sprintf("<invalid type %d>", int(t))
	}
}

func (t Type) String() string { return t.SQLName() }

// NoTypeMod is the type modifier for types without one.
const NoTypeMod int32 = -1

// Collation names the collation attached to a textual expression.
// The zero value means "uncollated".
type Collation struct {
	Schema string
	Name   string
}

// Valid reports whether a collation is attached.
func (c Collation) Valid() bool { return c.Name != "" }

// FuncID is a catalog identity for a function or aggregate.
// Zero is never a valid identity.
type FuncID uint32

// InvalidFunc is the zero, unresolved function identity.
const InvalidFunc FuncID = 0

// Volatility classifies whether a function's result may vary between
// evaluations over the same arguments.
type Volatility int

const (
	VolatilityImmutable Volatility = iota
	VolatilityStable
	VolatilityVolatile
)

// AggKind classifies an aggregate's calling convention.
type AggKind int

const (
	AggKindNormal AggKind = iota
	AggKindOrderedSet
	AggKindHypothetical
)
