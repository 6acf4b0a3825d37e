package notify

import (
	"context"

	"carelink/pkg/domain"
)

// Store persists notification records. Implementations return
// pkg/platform/sentinel errors.
type Store interface {
	Create(ctx context.Context, notification *Notification) error
	FindByID(ctx context.Context, notificationID domain.NotificationID) (*Notification, error)

	// ListByRecipient returns the recipient's notifications newest first.
	ListByRecipient(ctx context.Context, recipientID domain.UserID) ([]*Notification, error)

	// MarkRead flips read to true. Already-read records are a no-op, not an
	// error; read never transitions back to false.
	MarkRead(ctx context.Context, notificationID domain.NotificationID) error

	// MarkAllRead flips every unread record for the recipient in one atomic
	// per-user batch.
	MarkAllRead(ctx context.Context, recipientID domain.UserID) error

	UnreadCount(ctx context.Context, recipientID domain.UserID) (int, error)
}

// Sink is the external push/delivery collaborator. Delivery is best-effort;
// the stored record is authoritative whether or not the push lands.
type Sink interface {
	Deliver(ctx context.Context, recipientID domain.UserID, notification *Notification) error
}
