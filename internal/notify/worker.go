package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_notification_deliveries_total",
		Help: "Notifications delivered to the sink",
	})

	deliveriesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carelink_notification_delivery_failures_total",
		Help: "Notifications whose delivery failed after all attempts",
	})
)

const (
	deliveryAttempts = 3
	deliveryBackoff  = 200 * time.Millisecond
)

// Worker consumes created notifications from the outbox and pushes them to
// the sink. Delivery is bounded best-effort: a notification that cannot be
// delivered after the retry budget is logged and dropped; the stored record
// remains authoritative.
type Worker struct {
	sink   Sink
	inbox  <-chan *Notification
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan *Notification, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notification := <-w.inbox:
			w.deliver(ctx, notification)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, notification *Notification) {
	backoff := deliveryBackoff
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		err := w.sink.Deliver(ctx, notification.RecipientID, notification)
		if err == nil {
			deliveriesSucceeded.Inc()
			return
		}
		w.logger.Warn("notification delivery failed",
			"notification_id", notification.ID.String(),
			"recipient_id", notification.RecipientID.String(),
			"attempt", attempt,
			"error", err)
		if attempt == deliveryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	deliveriesFailed.Inc()
}
