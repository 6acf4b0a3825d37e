package models

import (
	"time"

	"carelink/pkg/domain"
)

// RelationshipStatus is the lifecycle state of a patient-doctor grant.
type RelationshipStatus string

const (
	RelationshipStatusActive  RelationshipStatus = "active"
	RelationshipStatusRevoked RelationshipStatus = "revoked"
)

// Relationship is the authoritative, durable grant of access from a patient
// to a doctor.
//
// Invariants:
//   - At most one active relationship exists per (patient, doctor) pair at
//     any observable instant; enforced by conditional writes in the store
//   - Revocation is terminal: a revoked relationship is never resurrected,
//     reconnecting creates a new record
type Relationship struct {
	ID          domain.RelationshipID `json:"id"`
	PatientID   domain.UserID         `json:"patient_id"`
	DoctorID    domain.UserID         `json:"doctor_id"`
	Patient     PartySnapshot         `json:"patient"`
	Doctor      PartySnapshot         `json:"doctor"`
	Status      RelationshipStatus    `json:"status"`
	Permissions domain.Permissions    `json:"permissions"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Active reports whether the grant is currently in force.
func (r *Relationship) Active() bool {
	return r.Status == RelationshipStatusActive
}

// Party reports whether the user is one of the two participants.
func (r *Relationship) Party(userID domain.UserID) bool {
	return userID == r.PatientID || userID == r.DoctorID
}
