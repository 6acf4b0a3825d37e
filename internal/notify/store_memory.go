package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

// InMemoryStore keeps notifications in process memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	notifications map[domain.NotificationID]*Notification
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{notifications: make(map[domain.NotificationID]*Notification)}
}

func (s *InMemoryStore) Create(_ context.Context, notification *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *notification
	s.notifications[notification.ID] = &clone
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, notificationID domain.NotificationID) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notification, ok := s.notifications[notificationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *notification
	return &clone, nil
}

func (s *InMemoryStore) ListByRecipient(_ context.Context, recipientID domain.UserID) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for _, notification := range s.notifications {
		if notification.RecipientID == recipientID {
			clone := *notification
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) MarkRead(_ context.Context, notificationID domain.NotificationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	notification, ok := s.notifications[notificationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !notification.Read {
		notification.Read = true
		notification.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) MarkAllRead(_ context.Context, recipientID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, notification := range s.notifications {
		if notification.RecipientID == recipientID && !notification.Read {
			notification.Read = true
			notification.UpdatedAt = now
		}
	}
	return nil
}

func (s *InMemoryStore) UnreadCount(_ context.Context, recipientID domain.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, notification := range s.notifications {
		if notification.RecipientID == recipientID && !notification.Read {
			count++
		}
	}
	return count, nil
}
