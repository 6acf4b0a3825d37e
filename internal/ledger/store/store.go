// Package store persists connection requests and relationships.
//
// Stores are interface-driven so the ledger service stays testable and the
// in-memory and Postgres implementations can be swapped without rewiring
// business code. Every mutating primitive is a precondition-checked
// conditional write: callers express the invariant ("no pending request for
// this pair", "no active relationship for this pair") and the store
// evaluates and applies it as one atomic unit. Implementations return
// pkg/platform/sentinel errors; the service translates them.
package store

import (
	"context"
	"time"

	"carelink/internal/ledger/models"
	"carelink/pkg/domain"
)

// RequestStore owns ConnectionRequest persistence.
type RequestStore interface {
	// CreateIfNoPending inserts the request unless a pending request
	// already exists for the (doctor, patient) pair, in which case it
	// returns sentinel.ErrConflict.
	CreateIfNoPending(ctx context.Context, request *models.ConnectionRequest) error

	FindByID(ctx context.Context, requestID domain.RequestID) (*models.ConnectionRequest, error)

	// UpdateStatusIfPending transitions the request out of pending.
	// Returns sentinel.ErrNotFound when absent and sentinel.ErrInvalidState
	// when the request already reached a terminal status.
	UpdateStatusIfPending(ctx context.Context, requestID domain.RequestID, status models.RequestStatus, now time.Time) error

	ListByPatient(ctx context.Context, patientID domain.UserID) ([]*models.ConnectionRequest, error)
	ListByDoctor(ctx context.Context, doctorID domain.UserID) ([]*models.ConnectionRequest, error)
}

// RelationshipStore owns Relationship persistence.
type RelationshipStore interface {
	// CreateActiveIfAbsent inserts an active relationship unless one
	// already exists for the (patient, doctor) pair. The bool result is
	// true when the insert won; on conflict the existing active
	// relationship is returned instead and no write occurs.
	CreateActiveIfAbsent(ctx context.Context, relationship *models.Relationship) (*models.Relationship, bool, error)

	FindByID(ctx context.Context, relationshipID domain.RelationshipID) (*models.Relationship, error)
	FindActiveByPair(ctx context.Context, patientID, doctorID domain.UserID) (*models.Relationship, error)

	// ListByPatient returns all relationships for a patient ordered by
	// CreatedAt descending.
	ListByPatient(ctx context.Context, patientID domain.UserID) ([]*models.Relationship, error)

	// ListPatientIDs returns the distinct patient IDs present in the
	// collection. Used by the global reconciliation sweep.
	ListPatientIDs(ctx context.Context) ([]domain.UserID, error)

	UpdatePermissions(ctx context.Context, relationshipID domain.RelationshipID, permissions domain.Permissions, now time.Time) error

	// SetRevoked marks the relationship revoked. Revoking an already
	// revoked relationship is a no-op; the bool result reports whether a
	// transition happened.
	SetRevoked(ctx context.Context, relationshipID domain.RelationshipID, now time.Time) (bool, error)

	// DeleteBatch removes the given relationships as one atomic unit:
	// either every listed record is deleted or none are.
	DeleteBatch(ctx context.Context, relationshipIDs []domain.RelationshipID) error
}
