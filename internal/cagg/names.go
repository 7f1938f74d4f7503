package cagg

import (
	"fmt"

	"github.com/timebase-io/timebase/internal/catalog"
)

// maxIdentLen mirrors the backend's NAMEDATALEN-1 identifier limit.
const maxIdentLen = 63

const (
	internalNamePrefix = "tb_internal_"
	matTableSuffix     = "_tab"
	partialViewSuffix  = "_view"
)

// BucketColumnName is the reserved name of the materialization column
// holding the bucket value; it doubles as the partition column.
const BucketColumnName = "time_partition_col"

// ChunkColumnName holds the source chunk each stored row derives from.
const ChunkColumnName = "chunk_id"

// matColumnName synthesizes a positional column name for materialization
// columns without a caller-supplied alias.
func matColumnName(colno int) string {
	return fmt.Sprintf("tbcol%d", colno)
}

// Names are the internal object names derived from the user-facing view
// name. The derivation is deterministic; two continuous aggregates can only
// collide here if their view names collide first.
type Names struct {
	Schema      string
	MatTable    string
	PartialView string
}

// DeriveNames computes the internal object names for a view name. Names
// that overflow the identifier limit are a policy error, not a truncation.
func DeriveNames(viewName string) (Names, error) {
	mat := internalNamePrefix + viewName + matTableSuffix
	partial := internalNamePrefix + viewName + partialViewSuffix
	if len(mat) > maxIdentLen || len(partial) > maxIdentLen {
		return Names{}, fmt.Errorf("%w: view name %q", ErrNameTooLong, viewName)
	}
	return Names{
		Schema:      catalog.InternalSchema,
		MatTable:    mat,
		PartialView: partial,
	}, nil
}
