package store

import (
	"context"
	"database/sql"

	"carelink/pkg/platform/tx"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Stores resolve it per call so a transaction stashed in context (see
// pkg/platform/tx) transparently scopes their writes.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func q(ctx context.Context, db *sql.DB) querier {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return db
}
