// Package notify owns notification records and their fanout. It is the only
// writer of notifications; the ledger and family registry call it as a side
// effect of their own transitions and never touch the records directly.
package notify

import (
	"time"

	"carelink/pkg/domain"
)

// Type labels the transition that produced a notification. Clients route on
// it.
type Type string

const (
	TypeDoctorConnectionRequest Type = "doctor_connection_request"
	TypeConnectionAccepted      Type = "connection_accepted"
	TypeConnectionRejected      Type = "connection_rejected"
	TypeRelationshipRevoked     Type = "relationship_revoked"
	TypeFamilyEmergencyContact  Type = "family_emergency_contact"
)

// Priority orders client presentation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is a fire-and-forget, at-least-once delivery record.
//
// Read is monotone: once true it never reverts.
type Notification struct {
	ID          domain.NotificationID `json:"id"`
	RecipientID domain.UserID         `json:"recipient_id"`
	SenderID    domain.UserID         `json:"sender_id,omitempty"`
	Type        Type                  `json:"type"`
	Title       string                `json:"title"`
	Message     string                `json:"message"`
	Data        map[string]string     `json:"data,omitempty"`
	Read        bool                  `json:"read"`
	Priority    Priority              `json:"priority"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}
