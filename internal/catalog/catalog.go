package catalog

import (
	"errors"
	"fmt"

	"github.com/timebase-io/timebase/internal/ast"
)

// Well-known objects the compiler resolves by name. All internal machinery
// lives in its own schema so user objects can never shadow it.
const (
	InternalSchema = "_timebase_internal"

	TimeBucketFunc    = "time_bucket"
	PartializeFunc    = "partialize_agg"
	FinalizeFunc      = "finalize_agg"
	ChunkForTupleFunc = "chunk_for_tuple"

	InvalidationTriggerFunc = "cagg_invalidation_trigger"
)

// ErrNotFound is returned when a function or aggregate cannot be resolved.
var ErrNotFound = errors.New("catalog: not found")

// AggregateInfo is the metadata the compiler needs to decide whether an
// aggregate can be split into partial and final phases.
type AggregateInfo struct {
	// Signature is the canonical textual identity, e.g. "sum(bigint)".
	// It is what the finalize combinator receives to re-identify the
	// original aggregate at execution time.
	Signature string

	Kind ast.AggKind

	// HasCombine reports whether partial states of this aggregate can be
	// merged. Aggregates without a combine function cannot be partialized.
	HasCombine bool

	// OpaqueState marks aggregates whose transient state is an internal
	// type; those additionally need a deserialization function.
	OpaqueState    bool
	HasDeserialize bool
}

// Combinable reports whether the aggregate is expressible as a
// commutative/associative partial-state combination.
func (i AggregateInfo) Combinable() bool {
	if i.Kind != ast.AggKindNormal {
		return false
	}
	if !i.HasCombine {
		return false
	}
	if i.OpaqueState && !i.HasDeserialize {
		return false
	}
	return true
}

// Catalog resolves function names to identities and reports aggregate
// metadata. Implementations are read-only from the compiler's perspective.
type Catalog interface {
	// LookupFunc resolves (schema, name, argument types) to a function
	// identity. A nil args slice matches any signature with that name.
	LookupFunc(schema, name string, args []ast.Type) (ast.FuncID, error)

	// Candidates returns all overloads registered under a bare name,
	// regardless of schema. Used for the bucketing-function scan, which
	// must recognize every time_bucket overload.
	Candidates(name string) []ast.FuncID

	// AggregateInfo returns metadata for an aggregate identity.
	AggregateInfo(id ast.FuncID) (AggregateInfo, error)
}

func notFound(schema, name string) error {
	if schema != "" {
		return fmt.Errorf("%w: function %s.%s", ErrNotFound, schema, name)
	}
	return fmt.Errorf("%w: function %s", ErrNotFound, name)
}
