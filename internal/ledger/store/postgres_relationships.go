package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carelink/internal/ledger/models"
	"carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// PostgresRelationshipStore persists relationships in PostgreSQL. The
// partial unique index relationships_active_pair enforces the at-most-one-
// active invariant; CreateActiveIfAbsent leans on it via ON CONFLICT so two
// concurrent accepts cannot both insert.
type PostgresRelationshipStore struct {
	db *sql.DB
}

func NewPostgresRelationshipStore(db *sql.DB) *PostgresRelationshipStore {
	return &PostgresRelationshipStore{db: db}
}

const relationshipColumns = `
	id, patient_id, doctor_id,
	patient_name, patient_email, doctor_name, doctor_email, doctor_specialization,
	status, perm_prescriptions, perm_records, perm_emergency, created_at, updated_at`

func (s *PostgresRelationshipStore) CreateActiveIfAbsent(ctx context.Context, relationship *models.Relationship) (*models.Relationship, bool, error) {
	result, err := q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO relationships (
			id, patient_id, doctor_id,
			patient_name, patient_email, doctor_name, doctor_email, doctor_specialization,
			status, perm_prescriptions, perm_records, perm_emergency, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'active', $9, $10, $11, $12, $13)
		ON CONFLICT (patient_id, doctor_id) WHERE status = 'active' DO NOTHING`,
		relationship.ID.String(), relationship.PatientID.String(), relationship.DoctorID.String(),
		relationship.Patient.Name, relationship.Patient.Email,
		relationship.Doctor.Name, relationship.Doctor.Email, relationship.Doctor.Specialization,
		relationship.Permissions.Prescriptions, relationship.Permissions.Records, relationship.Permissions.Emergency,
		relationship.CreatedAt, relationship.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create relationship: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create relationship: %w", err)
	}
	if affected == 0 {
		// Lost the race or the grant already existed: hand back the winner.
		existing, err := s.FindActiveByPair(ctx, relationship.PatientID, relationship.DoctorID)
		if err != nil {
			return nil, false, fmt.Errorf("create relationship: load existing: %w", err)
		}
		return existing, false, nil
	}
	created := *relationship
	created.Status = models.RelationshipStatusActive
	return &created, true, nil
}

func (s *PostgresRelationshipStore) FindByID(ctx context.Context, relationshipID domain.RelationshipID) (*models.Relationship, error) {
	row := q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE id = $1`,
		relationshipID.String(),
	)
	relationship, err := scanRelationship(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find relationship: %w", err)
	}
	return relationship, nil
}

func (s *PostgresRelationshipStore) FindActiveByPair(ctx context.Context, patientID, doctorID domain.UserID) (*models.Relationship, error) {
	row := q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE patient_id = $1 AND doctor_id = $2 AND status = 'active'`,
		patientID.String(), doctorID.String(),
	)
	relationship, err := scanRelationship(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find active relationship: %w", err)
	}
	return relationship, nil
}

func (s *PostgresRelationshipStore) ListByPatient(ctx context.Context, patientID domain.UserID) ([]*models.Relationship, error) {
	rows, err := q(ctx, s.db).QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var out []*models.Relationship
	for rows.Next() {
		relationship, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("list relationships: %w", err)
		}
		out = append(out, relationship)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return out, nil
}

func (s *PostgresRelationshipStore) ListPatientIDs(ctx context.Context) ([]domain.UserID, error) {
	rows, err := q(ctx, s.db).QueryContext(ctx,
		`SELECT DISTINCT patient_id FROM relationships ORDER BY patient_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list patient ids: %w", err)
	}
	defer rows.Close()

	var out []domain.UserID
	for rows.Next() {
		var patientID string
		if err := rows.Scan(&patientID); err != nil {
			return nil, fmt.Errorf("list patient ids: %w", err)
		}
		out = append(out, domain.UserID(patientID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patient ids: %w", err)
	}
	return out, nil
}

func (s *PostgresRelationshipStore) UpdatePermissions(ctx context.Context, relationshipID domain.RelationshipID, permissions domain.Permissions, now time.Time) error {
	result, err := q(ctx, s.db).ExecContext(ctx, `
		UPDATE relationships
		SET perm_prescriptions = $2, perm_records = $3, perm_emergency = $4, updated_at = $5
		WHERE id = $1`,
		relationshipID.String(),
		permissions.Prescriptions, permissions.Records, permissions.Emergency, now,
	)
	if err != nil {
		return fmt.Errorf("update relationship permissions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update relationship permissions: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresRelationshipStore) SetRevoked(ctx context.Context, relationshipID domain.RelationshipID, now time.Time) (bool, error) {
	result, err := q(ctx, s.db).ExecContext(ctx, `
		UPDATE relationships
		SET status = 'revoked', updated_at = $2
		WHERE id = $1 AND status <> 'revoked'`,
		relationshipID.String(), now,
	)
	if err != nil {
		return false, fmt.Errorf("revoke relationship: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke relationship: %w", err)
	}
	if affected == 0 {
		var exists bool
		err := q(ctx, s.db).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM relationships WHERE id = $1)`,
			relationshipID.String(),
		).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("revoke relationship: %w", err)
		}
		if !exists {
			return false, sentinel.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

// DeleteBatch removes the listed relationships in one transaction. Either
// every listed record is deleted or none are; a missing ID aborts the batch.
func (s *PostgresRelationshipStore) DeleteBatch(ctx context.Context, relationshipIDs []domain.RelationshipID) error {
	if len(relationshipIDs) == 0 {
		return nil
	}

	ids := make([]string, len(relationshipIDs))
	for i, relationshipID := range relationshipIDs {
		ids[i] = relationshipID.String()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete batch: begin: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	result, err := sqlTx.ExecContext(ctx,
		`DELETE FROM relationships WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if affected != int64(len(ids)) {
		return sentinel.ErrNotFound
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("delete batch: commit: %w", err)
	}
	return nil
}

func scanRelationship(row rowScanner) (*models.Relationship, error) {
	var (
		relationship        models.Relationship
		relationshipID      string
		patientID, doctorID string
		status              string
	)
	err := row.Scan(
		&relationshipID, &patientID, &doctorID,
		&relationship.Patient.Name, &relationship.Patient.Email,
		&relationship.Doctor.Name, &relationship.Doctor.Email, &relationship.Doctor.Specialization,
		&status,
		&relationship.Permissions.Prescriptions, &relationship.Permissions.Records, &relationship.Permissions.Emergency,
		&relationship.CreatedAt, &relationship.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	relationship.ID = domain.RelationshipID(relationshipID)
	relationship.PatientID = domain.UserID(patientID)
	relationship.DoctorID = domain.UserID(doctorID)
	relationship.Status = models.RelationshipStatus(status)
	return &relationship, nil
}
