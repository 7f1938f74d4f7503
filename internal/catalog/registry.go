package catalog

import (
	"fmt"
	"sync"

	"github.com/timebase-io/timebase/internal/ast"
)

type funcEntry struct {
	schema string
	name   string
	args   []ast.Type
}

// Registry is an in-memory Catalog. The built-in contents cover the
// combinator machinery and the standard aggregates; extension aggregates
// can be merged in from definition files (see LoadAggregateDefs).
type Registry struct {
	mu     sync.RWMutex
	nextID ast.FuncID
	funcs  map[ast.FuncID]funcEntry
	byName map[string][]ast.FuncID
	aggs   map[ast.FuncID]AggregateInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nextID: 1,
		funcs:  make(map[ast.FuncID]funcEntry),
		byName: make(map[string][]ast.FuncID),
		aggs:   make(map[ast.FuncID]AggregateInfo),
	}
}

// RegisterFunc adds a plain function and returns its identity.
func (r *Registry) RegisterFunc(schema, name string, args ...ast.Type) ast.FuncID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.funcs[id] = funcEntry{schema: schema, name: name, args: args}
	r.byName[name] = append(r.byName[name], id)
	return id
}

// RegisterAggregate adds an aggregate with its split metadata and returns
// its identity.
func (r *Registry) RegisterAggregate(name string, info AggregateInfo, args ...ast.Type) ast.FuncID {
	id := r.RegisterFunc("", name, args...)
	r.mu.Lock()
	r.aggs[id] = info
	r.mu.Unlock()
	return id
}

// LookupFunc implements Catalog.
func (r *Registry) LookupFunc(schema, name string, args []ast.Type) (ast.FuncID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.byName[name] {
		fe := r.funcs[id]
		if fe.schema != schema {
			continue
		}
		if args == nil || argsMatch(fe.args, args) {
			return id, nil
		}
	}
	return ast.InvalidFunc, notFound(schema, name)
}

// Candidates implements Catalog.
func (r *Registry) Candidates(name string) []ast.FuncID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ast.FuncID(nil), r.byName[name]...)
}

// AggregateInfo implements Catalog.
func (r *Registry) AggregateInfo(id ast.FuncID) (AggregateInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.aggs[id]
	if !ok {
		return AggregateInfo{}, fmt.Errorf("%w: aggregate %d", ErrNotFound, id)
	}
	return info, nil
}

func argsMatch(registered, requested []ast.Type) bool {
	if len(registered) == 0 {
		// Registered without a fixed signature: polymorphic.
		return true
	}
	if len(registered) != len(requested) {
		return false
	}
	for i := range registered {
		if registered[i] != requested[i] {
			return false
		}
	}
	return true
}

// NewBuiltin returns a registry preloaded with the combinator functions,
// the time_bucket overloads, and the standard aggregates.
func NewBuiltin() *Registry {
	r := NewRegistry()

	// Combinator machinery. finalize_agg takes the original aggregate's
	// signature text, the input collation (schema, name), the partial
	// state column, and a typed NULL carrying the result type.
	r.RegisterFunc(InternalSchema, PartializeFunc)
	r.RegisterFunc(InternalSchema, FinalizeFunc)
	r.RegisterFunc(InternalSchema, ChunkForTupleFunc)

	// Bucketing overloads over the supported time-like column types.
	r.RegisterFunc("", TimeBucketFunc, ast.TypeInterval, ast.TypeTimestamp)
	r.RegisterFunc("", TimeBucketFunc, ast.TypeInterval, ast.TypeTimestampTZ)
	r.RegisterFunc("", TimeBucketFunc, ast.TypeInterval, ast.TypeDate)

	combinable := func(sig string) AggregateInfo {
		return AggregateInfo{Signature: sig, Kind: ast.AggKindNormal, HasCombine: true}
	}
	opaque := func(sig string) AggregateInfo {
		return AggregateInfo{
			Signature:      sig,
			Kind:           ast.AggKindNormal,
			HasCombine:     true,
			OpaqueState:    true,
			HasDeserialize: true,
		}
	}

	r.RegisterAggregate("count", combinable("count(*)"))
	for _, t := range []ast.Type{ast.TypeInt2, ast.TypeInt4, ast.TypeInt8, ast.TypeFloat4, ast.TypeFloat8, ast.TypeNumeric} {
		sig := func(name string) string { return fmt.Sprintf("%s(%s)", name, typeSigName(t)) }
		r.RegisterAggregate("sum", combinable(sig("sum")), t)
		r.RegisterAggregate("min", combinable(sig("min")), t)
		r.RegisterAggregate("max", combinable(sig("max")), t)
		r.RegisterAggregate("avg", opaque(sig("avg")), t)
		r.RegisterAggregate("stddev", opaque(sig("stddev")), t)
	}
	for _, t := range []ast.Type{ast.TypeText, ast.TypeTimestamp, ast.TypeTimestampTZ, ast.TypeDate} {
		sig := fmt.Sprintf("%%s(%s)", typeSigName(t))
		r.RegisterAggregate("min", combinable(fmt.Sprintf(sig, "min")), t)
		r.RegisterAggregate("max", combinable(fmt.Sprintf(sig, "max")), t)
	}

	// Known non-combinable aggregates stay registered so validation can
	// reject them with a precise reason instead of a lookup failure.
	r.RegisterAggregate("array_agg", AggregateInfo{Signature: "array_agg(anyelement)", Kind: ast.AggKindNormal})
	r.RegisterAggregate("string_agg", AggregateInfo{Signature: "string_agg(text,text)", Kind: ast.AggKindNormal}, ast.TypeText, ast.TypeText)
	r.RegisterAggregate("percentile_disc", AggregateInfo{Signature: "percentile_disc(float8)", Kind: ast.AggKindOrderedSet, HasCombine: false}, ast.TypeFloat8)

	return r
}

func typeSigName(t ast.Type) string {
	switch t {
	case ast.TypeInt2:
		return "smallint"
	case ast.TypeInt4:
		return "integer"
	case ast.TypeInt8:
		return "bigint"
	case ast.TypeFloat4:
		return "real"
	case ast.TypeFloat8:
		return "double precision"
	case ast.TypeNumeric:
		return "numeric"
	case ast.TypeText:
		return "text"
	case ast.TypeTimestamp:
		return "timestamp"
	case ast.TypeTimestampTZ:
		return "timestamptz"
	case ast.TypeDate:
		return "date"
	default:
		return t.SQLName()
	}
}
