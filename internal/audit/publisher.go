package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher hands events to the worker through a buffered channel. Emission
// is fire-and-forget: a full buffer drops the event with a warning rather
// than blocking the mutation that produced it.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{inbox: make(chan Event, buffer), logger: logger}
}

// Inbox exposes the event channel for the worker.
func (p *Publisher) Inbox() <-chan Event {
	return p.inbox
}

func (p *Publisher) Emit(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("audit buffer full, dropping event",
			"action", string(event.Action),
			"subject_id", event.SubjectID.String())
	}
	return nil
}
