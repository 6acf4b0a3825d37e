package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/sentinel"
	"carelink/pkg/requestcontext"
)

var (
	notificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carelink_notifications_created_total",
		Help: "Notifications created, by type",
	}, []string{"type"})

	deliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_notification_deliveries_dropped_total",
		Help: "Deliveries dropped because the outbox channel was full",
	})
)

// Input describes one notification to fan out.
type Input struct {
	RecipientID domain.UserID
	SenderID    domain.UserID
	Type        Type
	Title       string
	Message     string
	Data        map[string]string
	Priority    Priority
}

// Service creates notification records and hands them to the delivery
// worker. Creation is synchronous with the transition that caused it;
// delivery is asynchronous and best-effort.
type Service struct {
	store  Store
	outbox chan *Notification
	logger *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithOutboxSize overrides the delivery buffer size.
func WithOutboxSize(size int) Option {
	return func(s *Service) {
		s.outbox = make(chan *Notification, size)
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		outbox: make(chan *Notification, 256),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outbox exposes the delivery channel for the worker.
func (s *Service) Outbox() <-chan *Notification {
	return s.outbox
}

// Notify creates exactly one notification record for a state transition and
// queues its delivery. Callers invoke it synchronously with the mutation
// that triggered it; a failure here must not roll that mutation back, so
// callers log and swallow the returned error.
func (s *Service) Notify(ctx context.Context, input Input) (*Notification, error) {
	if input.RecipientID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "recipient is required")
	}
	if input.Type == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "notification type is required")
	}
	if input.Priority == "" {
		input.Priority = PriorityNormal
	}

	now := requestcontext.Now(ctx)
	notification := &Notification{
		ID:          domain.NewNotificationID(),
		RecipientID: input.RecipientID,
		SenderID:    input.SenderID,
		Type:        input.Type,
		Title:       input.Title,
		Message:     input.Message,
		Data:        input.Data,
		Read:        false,
		Priority:    input.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, notification); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "store notification")
	}
	notificationsCreated.WithLabelValues(string(notification.Type)).Inc()

	select {
	case s.outbox <- notification:
	default:
		// The record is authoritative; losing the push is acceptable.
		deliveriesDropped.Inc()
		s.logger.Warn("notification outbox full, dropping delivery",
			"notification_id", notification.ID.String(),
			"recipient_id", notification.RecipientID.String())
	}

	return notification, nil
}

// MarkRead flips a notification to read. Idempotent: marking an already
// read notification is a no-op.
func (s *Service) MarkRead(ctx context.Context, notificationID domain.NotificationID) error {
	if err := s.store.MarkRead(ctx, notificationID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "mark notification read")
	}
	return nil
}

// MarkAllRead flips every unread notification for the recipient as one
// per-user batch.
func (s *Service) MarkAllRead(ctx context.Context, recipientID domain.UserID) error {
	if err := s.store.MarkAllRead(ctx, recipientID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "mark all notifications read")
	}
	return nil
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientID domain.UserID) ([]*Notification, error) {
	notifications, err := s.store.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list notifications")
	}
	return notifications, nil
}

// UnreadCount returns the recipient's unread total for inbox badges.
func (s *Service) UnreadCount(ctx context.Context, recipientID domain.UserID) (int, error) {
	count, err := s.store.UnreadCount(ctx, recipientID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "count unread notifications")
	}
	return count, nil
}
