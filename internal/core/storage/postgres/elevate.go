package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// withRole runs fn with the transaction's role switched to the adapter's
// internal role, restoring the caller's role afterwards on every path.
// With no internal role configured, fn runs as the caller.
//
// SET LOCAL scopes the switch to the transaction, so even a missed RESET
// cannot leak the role onto the pooled connection.
func (a *Adapter) withRole(ctx context.Context, tx *sql.Tx, fn func() error) error {
	if a.internalRole == "" {
		return fn()
	}

	if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+pq.QuoteIdentifier(a.internalRole)); err != nil {
		return fmt.Errorf("failed to assume role %q: %w", a.internalRole, err)
	}

	fnErr := fn()

	if _, err := tx.ExecContext(ctx, "RESET ROLE"); err != nil {
		if fnErr != nil {
			return fnErr
		}
		return fmt.Errorf("failed to restore role: %w", err)
	}
	return fnErr
}
