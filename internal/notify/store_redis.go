package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carelink/pkg/domain"
	"carelink/pkg/platform/sentinel"
)

const (
	notificationKeyPrefix = "notif:id:"
	inboxKeyPrefix        = "notif:inbox:"
)

// RedisStore is a Redis-backed notification store for distributed
// deployments where several instances share one inbox view. Records are
// JSON values keyed by ID; per-recipient inboxes are lists of IDs, newest
// first. Read marking is monotone, so the last-writer-wins semantics of
// plain SET are safe: every concurrent writer writes read=true.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed store. A zero ttl keeps records
// until explicit deletion.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Create(ctx context.Context, notification *Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, notificationKeyPrefix+notification.ID.String(), payload, s.ttl)
	pipe.LPush(ctx, inboxKeyPrefix+notification.RecipientID.String(), notification.ID.String())
	if s.ttl > 0 {
		pipe.Expire(ctx, inboxKeyPrefix+notification.RecipientID.String(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, notificationID domain.NotificationID) (*Notification, error) {
	payload, err := s.client.Get(ctx, notificationKeyPrefix+notificationID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load notification: %w", err)
	}
	var notification Notification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &notification, nil
}

func (s *RedisStore) ListByRecipient(ctx context.Context, recipientID domain.UserID) ([]*Notification, error) {
	ids, err := s.client.LRange(ctx, inboxKeyPrefix+recipientID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load inbox: %w", err)
	}
	out := make([]*Notification, 0, len(ids))
	for _, rawID := range ids {
		notification, err := s.FindByID(ctx, domain.NotificationID(rawID))
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				// Record expired out from under the inbox list.
				continue
			}
			return nil, err
		}
		out = append(out, notification)
	}
	return out, nil
}

func (s *RedisStore) MarkRead(ctx context.Context, notificationID domain.NotificationID) error {
	notification, err := s.FindByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if notification.Read {
		return nil
	}
	notification.Read = true
	notification.UpdatedAt = time.Now()
	return s.save(ctx, notification)
}

func (s *RedisStore) MarkAllRead(ctx context.Context, recipientID domain.UserID) error {
	notifications, err := s.ListByRecipient(ctx, recipientID)
	if err != nil {
		return err
	}

	now := time.Now()
	pipe := s.client.TxPipeline()
	for _, notification := range notifications {
		if notification.Read {
			continue
		}
		notification.Read = true
		notification.UpdatedAt = now
		payload, err := json.Marshal(notification)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		pipe.Set(ctx, notificationKeyPrefix+notification.ID.String(), payload, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

func (s *RedisStore) UnreadCount(ctx context.Context, recipientID domain.UserID) (int, error) {
	notifications, err := s.ListByRecipient(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, notification := range notifications {
		if !notification.Read {
			count++
		}
	}
	return count, nil
}

func (s *RedisStore) save(ctx context.Context, notification *Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.client.Set(ctx, notificationKeyPrefix+notification.ID.String(), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}
