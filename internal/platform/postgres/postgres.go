// Package postgres owns the SQL connection, schema, and transaction runner
// shared by the Postgres-backed stores.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/tx"
)

// Open connects to Postgres via the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// Schema is the full DDL for the trust core. Applied at startup and by the
// integration test harness; every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS connection_requests (
	id                    TEXT PRIMARY KEY,
	doctor_id             TEXT NOT NULL,
	patient_id            TEXT NOT NULL,
	patient_email         TEXT NOT NULL DEFAULT '',
	doctor_name           TEXT NOT NULL DEFAULT '',
	doctor_email          TEXT NOT NULL DEFAULT '',
	doctor_specialization TEXT NOT NULL DEFAULT '',
	patient_name          TEXT NOT NULL DEFAULT '',
	method                TEXT NOT NULL,
	message               TEXT NOT NULL DEFAULT '',
	initiated_by          TEXT NOT NULL,
	status                TEXT NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL
);

-- At most one pending request per (doctor, patient) pair.
CREATE UNIQUE INDEX IF NOT EXISTS connection_requests_pending_pair
	ON connection_requests (doctor_id, patient_id)
	WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS relationships (
	id                    TEXT PRIMARY KEY,
	patient_id            TEXT NOT NULL,
	doctor_id             TEXT NOT NULL,
	patient_name          TEXT NOT NULL DEFAULT '',
	patient_email         TEXT NOT NULL DEFAULT '',
	doctor_name           TEXT NOT NULL DEFAULT '',
	doctor_email          TEXT NOT NULL DEFAULT '',
	doctor_specialization TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	perm_prescriptions    BOOLEAN NOT NULL,
	perm_records          BOOLEAN NOT NULL,
	perm_emergency        BOOLEAN NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL
);

-- The core uniqueness invariant: at most one active relationship per pair.
CREATE UNIQUE INDEX IF NOT EXISTS relationships_active_pair
	ON relationships (patient_id, doctor_id)
	WHERE status = 'active';

CREATE INDEX IF NOT EXISTS relationships_patient_created
	ON relationships (patient_id, created_at DESC);

CREATE TABLE IF NOT EXISTS family_networks (
	user_uid   TEXT PRIMARY KEY,
	user_email TEXT NOT NULL DEFAULT '',
	members    JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	action     TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_events_subject
	ON audit_events (subject_id, created_at DESC);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const defaultTxTimeout = 5 * time.Second

// TxRunner composes multi-store atomic units. It begins a transaction,
// stashes it in context (pkg/platform/tx) so the stores execute against it,
// and commits or rolls back as one.
type TxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewTxRunner constructs a runner with the given per-unit timeout.
// A zero timeout falls back to the default.
func NewTxRunner(db *sql.DB, timeout time.Duration) *TxRunner {
	return &TxRunner{db: db, timeout: timeout}
}

// RunAtomic executes fn inside a single transaction.
func (r *TxRunner) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "transaction aborted: context cancelled")
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "begin transaction")
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "commit transaction")
	}
	return nil
}
