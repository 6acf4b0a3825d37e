// Package audit keeps an append-only trail of trust transitions: who
// granted, revoked, or changed access to whose records.
package audit

import (
	"time"

	"github.com/google/uuid"

	"carelink/pkg/domain"
)

// Action labels a recorded transition.
type Action string

const (
	ActionRequestCreated  Action = "request_created"
	ActionRequestAccepted Action = "request_accepted"
	ActionRequestRejected Action = "request_rejected"
	ActionAccessGrant     Action = "access_grant"
	ActionAccessRevoke    Action = "access_revoke"
	ActionMemberAdded     Action = "member_added"
	ActionMemberRemoved   Action = "member_removed"
)

// Event is one appended trail entry. SubjectID is the patient whose records
// the transition concerns.
type Event struct {
	ID        string        `json:"id"`
	Action    Action        `json:"action"`
	ActorID   domain.UserID `json:"actor_id"`
	SubjectID domain.UserID `json:"subject_id"`
	Detail    string        `json:"detail,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewEvent constructs an event with a fresh ID.
func NewEvent(action Action, actorID, subjectID domain.UserID, detail string) Event {
	return Event{
		ID:        uuid.NewString(),
		Action:    action,
		ActorID:   actorID,
		SubjectID: subjectID,
		Detail:    detail,
	}
}
