package cagg

import "errors"

// Every rejected condition is fatal to the current compilation; there is no
// warning level and no partial mode. Callers classify failures by unwrapping
// to one of these sentinels.
var (
	// ErrUnsupportedShape marks queries outside the supported subset
	// (wrong statement kind, disallowed clauses, wrong source relation).
	ErrUnsupportedShape = errors.New("unsupported query shape for continuous aggregate")

	// ErrUnsupportedAggregate marks aggregates that cannot be split into
	// a partial producer and a final combiner.
	ErrUnsupportedAggregate = errors.New("aggregate not supported by continuous aggregate")

	// ErrVolatileExpression marks materialization-column expressions whose
	// value could differ depending on when they are computed.
	ErrVolatileExpression = errors.New("only immutable expressions can be materialized")

	// ErrLookup marks a missing combinator function or unresolvable name.
	ErrLookup = errors.New("continuous aggregate lookup failed")

	// ErrNameTooLong marks derived object names that overflow the
	// identifier length limit.
	ErrNameTooLong = errors.New("derived continuous aggregate name too long")

	// ErrTooManyAliases is returned when more output aliases are supplied
	// than there are visible output columns.
	ErrTooManyAliases = errors.New("too many column names were specified")

	// ErrAlreadyExists is returned when the target view name is taken.
	ErrAlreadyExists = errors.New("continuous aggregate already exists")
)
