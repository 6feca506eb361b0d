package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message is the JSON body published for each notification.
type Message struct {
	UserID  uuid.UUID      `json:"user_id"`
	Kind    Kind           `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// RedisNotifier publishes notifications on a per-user channel; delivery
// (push, SSE, email) subscribes downstream.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func Channel(userID uuid.UUID) string {
	return "notify:" + userID.String()
}

func (n *RedisNotifier) Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	data, err := json.Marshal(Message{
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, Channel(userID), data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
