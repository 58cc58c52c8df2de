package sqlstore

import (
	"context"
	"database/sql"
	"log/slog"
)

// WithTx runs fn inside a transaction, committing on success. A failed
// rollback is logged and the error of fn is returned.
func WithTx(ctx context.Context, db *sql.DB, logger *slog.Logger, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && logger != nil {
			logger.Error("rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}
	return tx.Commit()
}
