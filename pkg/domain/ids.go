// Package domain defines the typed identifiers shared across modules.
//
// Identifiers are opaque strings issued by the identity provider (user IDs)
// or minted locally as UUIDs (entity IDs). Distinct types keep a doctor ID
// from being passed where a relationship ID is expected; the compiler does
// the checking.
package domain

import (
	"github.com/google/uuid"

	dErrors "carelink/pkg/domain-errors"
)

type (
	// UserID identifies a patient, doctor, or family member account.
	UserID string
	// RequestID identifies a connection request.
	RequestID string
	// RelationshipID identifies a patient-doctor relationship.
	RelationshipID string
	// MemberID identifies a family network member entry.
	MemberID string
	// NotificationID identifies a notification record.
	NotificationID string
)

func (id UserID) String() string         { return string(id) }
func (id RequestID) String() string      { return string(id) }
func (id RelationshipID) String() string { return string(id) }
func (id MemberID) String() string       { return string(id) }
func (id NotificationID) String() string { return string(id) }

// NewRequestID mints a fresh request identifier.
func NewRequestID() RequestID { return RequestID(uuid.NewString()) }

// NewRelationshipID mints a fresh relationship identifier.
func NewRelationshipID() RelationshipID { return RelationshipID(uuid.NewString()) }

// NewMemberID mints a fresh family member identifier.
func NewMemberID() MemberID { return MemberID(uuid.NewString()) }

// NewNotificationID mints a fresh notification identifier.
func NewNotificationID() NotificationID { return NotificationID(uuid.NewString()) }

// ParseUserID validates an externally supplied user ID. User IDs come from
// the identity provider and are opaque, so the only invariant is non-empty.
func ParseUserID(raw string) (UserID, error) {
	if raw == "" {
		return "", dErrors.New(dErrors.CodeValidation, "user id must not be empty")
	}
	return UserID(raw), nil
}
