package models

import (
	"time"

	"carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
)

// RequestStatus is the lifecycle state of a connection request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusExpired  RequestStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s != RequestStatusPending
}

// ConnectionMethod records how a request was initiated.
type ConnectionMethod string

const (
	MethodDirect     ConnectionMethod = "direct"
	MethodInviteLink ConnectionMethod = "invite-link"
	MethodEmail      ConnectionMethod = "email"
)

// Valid reports whether the method is known.
func (m ConnectionMethod) Valid() bool {
	switch m {
	case MethodDirect, MethodInviteLink, MethodEmail:
		return true
	}
	return false
}

// PartySnapshot is denormalized display data copied into a record at
// creation. Snapshots are a read cache with an explicit staleness contract:
// they are captured once and never synced with the directory afterwards.
type PartySnapshot struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Specialization string `json:"specialization,omitempty"`
}

// ConnectionRequest is a doctor- or patient-initiated offer to connect.
//
// Invariants:
//   - At most one pending request exists per (doctor, patient) pair
//   - Status transitions only out of pending; accepted/rejected/expired are
//     terminal
type ConnectionRequest struct {
	ID           domain.RequestID `json:"id"`
	DoctorID     domain.UserID    `json:"doctor_id"`
	PatientID    domain.UserID    `json:"patient_id"`
	PatientEmail string           `json:"patient_email"`
	Doctor       PartySnapshot    `json:"doctor"`
	Patient      PartySnapshot    `json:"patient"`
	Method       ConnectionMethod `json:"connection_method"`
	Message      string           `json:"message,omitempty"`
	InitiatedBy  domain.UserID    `json:"initiated_by"`
	Status       RequestStatus    `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// AddressedParty returns the participant the request is waiting on: the one
// who did not initiate it.
func (r *ConnectionRequest) AddressedParty() domain.UserID {
	if r.InitiatedBy == r.DoctorID {
		return r.PatientID
	}
	return r.DoctorID
}

// AddressedTo reports whether the actor is the party the request is waiting
// on.
func (r *ConnectionRequest) AddressedTo(actorID domain.UserID) bool {
	return actorID == r.AddressedParty()
}

// CanTransition checks that the request is still pending.
func (r *ConnectionRequest) CanTransition() error {
	if r.Status != RequestStatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "request is "+string(r.Status))
	}
	return nil
}
