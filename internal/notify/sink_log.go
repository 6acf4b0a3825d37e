package notify

import (
	"context"
	"log/slog"

	"carelink/pkg/domain"
)

// LogSink is the default delivery sink: it records the delivery in the
// structured log. Push transports (APNs, FCM, websockets) implement Sink
// behind the same interface.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, recipientID domain.UserID, notification *Notification) error {
	s.logger.Info("notification delivered",
		"notification_id", notification.ID.String(),
		"recipient_id", recipientID.String(),
		"type", string(notification.Type),
		"priority", string(notification.Priority))
	return nil
}
