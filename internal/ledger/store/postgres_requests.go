package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"carelink/internal/ledger/models"
	"carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// PostgresRequestStore persists connection requests in PostgreSQL. The
// partial unique index connection_requests_pending_pair carries the at-most-
// one-pending invariant, so correctness holds across processes.
type PostgresRequestStore struct {
	db *sql.DB
}

func NewPostgresRequestStore(db *sql.DB) *PostgresRequestStore {
	return &PostgresRequestStore{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresRequestStore) CreateIfNoPending(ctx context.Context, request *models.ConnectionRequest) error {
	_, err := q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO connection_requests (
			id, doctor_id, patient_id, patient_email,
			doctor_name, doctor_email, doctor_specialization, patient_name,
			method, message, initiated_by, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		request.ID.String(), request.DoctorID.String(), request.PatientID.String(), request.PatientEmail,
		request.Doctor.Name, request.Doctor.Email, request.Doctor.Specialization, request.Patient.Name,
		string(request.Method), request.Message, request.InitiatedBy.String(), string(request.Status),
		request.CreatedAt, request.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create connection request: %w", err)
	}
	return nil
}

const requestColumns = `
	id, doctor_id, patient_id, patient_email,
	doctor_name, doctor_email, doctor_specialization, patient_name,
	method, message, initiated_by, status, created_at, updated_at`

func (s *PostgresRequestStore) FindByID(ctx context.Context, requestID domain.RequestID) (*models.ConnectionRequest, error) {
	row := q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM connection_requests WHERE id = $1`,
		requestID.String(),
	)
	request, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find connection request: %w", err)
	}
	return request, nil
}

func (s *PostgresRequestStore) UpdateStatusIfPending(ctx context.Context, requestID domain.RequestID, status models.RequestStatus, now time.Time) error {
	result, err := q(ctx, s.db).ExecContext(ctx, `
		UPDATE connection_requests
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`,
		requestID.String(), string(status), now,
	)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if affected == 0 {
		// Distinguish absent from already-terminal.
		var exists bool
		err := q(ctx, s.db).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM connection_requests WHERE id = $1)`,
			requestID.String(),
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("update request status: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresRequestStore) ListByPatient(ctx context.Context, patientID domain.UserID) ([]*models.ConnectionRequest, error) {
	return s.list(ctx, `patient_id`, patientID.String())
}

func (s *PostgresRequestStore) ListByDoctor(ctx context.Context, doctorID domain.UserID) ([]*models.ConnectionRequest, error) {
	return s.list(ctx, `doctor_id`, doctorID.String())
}

func (s *PostgresRequestStore) list(ctx context.Context, column, value string) ([]*models.ConnectionRequest, error) {
	rows, err := q(ctx, s.db).QueryContext(ctx,
		`SELECT `+requestColumns+` FROM connection_requests WHERE `+column+` = $1 ORDER BY created_at DESC`,
		value,
	)
	if err != nil {
		return nil, fmt.Errorf("list connection requests: %w", err)
	}
	defer rows.Close()

	var out []*models.ConnectionRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list connection requests: %w", err)
		}
		out = append(out, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list connection requests: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.ConnectionRequest, error) {
	var (
		request             models.ConnectionRequest
		requestID           string
		doctorID, patientID string
		initiatedBy         string
		method, status      string
	)
	err := row.Scan(
		&requestID, &doctorID, &patientID, &request.PatientEmail,
		&request.Doctor.Name, &request.Doctor.Email, &request.Doctor.Specialization, &request.Patient.Name,
		&method, &request.Message, &initiatedBy, &status, &request.CreatedAt, &request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	request.ID = domain.RequestID(requestID)
	request.DoctorID = domain.UserID(doctorID)
	request.PatientID = domain.UserID(patientID)
	request.InitiatedBy = domain.UserID(initiatedBy)
	request.Method = models.ConnectionMethod(method)
	request.Status = models.RequestStatus(status)
	request.Patient.Email = request.PatientEmail
	return &request, nil
}
