package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"carelink/pkg/domain"
)

// Store is an append-only event sink.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subjectID domain.UserID) ([]Event, error)
}

// InMemoryStore keeps events in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID domain.UserID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if event.SubjectID == subjectID {
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// PostgresStore appends events to the audit_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, actor_id, subject_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, string(event.Action), event.ActorID.String(), event.SubjectID.String(),
		event.Detail, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID domain.UserID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, actor_id, subject_id, detail, created_at
		FROM audit_events WHERE subject_id = $1 ORDER BY created_at DESC`,
		subjectID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			event            Event
			action           string
			actorID, subject string
		)
		if err := rows.Scan(&event.ID, &action, &actorID, &subject, &event.Detail, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("list audit events: %w", err)
		}
		event.Action = Action(action)
		event.ActorID = domain.UserID(actorID)
		event.SubjectID = domain.UserID(subject)
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
