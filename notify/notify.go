// Package notify delivers user-facing events raised by assignment and escalation.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	// Channel carries every notification for live listeners.
	Channel = "notifications"
	// InboxSize is how many notifications are kept per recipient.
	InboxSize = 100
)

// Sink accepts notifications. Delivery is fire-and-forget: a failing sink
// never undoes the state change that raised the notification.
type Sink interface {
	Notify(ctx context.Context, recipient primitive.ObjectID, title, message string, metadata map[string]interface{})
}

// Notification is the stored form of one event.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	Recipient string                 `json:"recipient"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

func inboxKey(recipient string) string {
	return fmt.Sprintf("notifications:%s", recipient)
}

// RedisSink keeps a capped inbox per recipient and publishes each event.
type RedisSink struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisSink(client *redis.Client, logger *zap.Logger) *RedisSink {
	return &RedisSink{client: client, logger: logger, now: time.Now}
}

func (s *RedisSink) Notify(ctx context.Context, recipient primitive.ObjectID, title, message string, metadata map[string]interface{}) {
	n := Notification{
		ID:        uuid.New(),
		Recipient: recipient.Hex(),
		Title:     title,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}

	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("notification encode failed", zap.String("recipient", n.Recipient), zap.Error(err))
		return
	}

	key := inboxKey(n.Recipient)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, InboxSize-1)
		pipe.Publish(ctx, Channel, data)
		return nil
	})
	if err != nil {
		s.logger.Warn("notification delivery failed",
			zap.String("recipient", n.Recipient),
			zap.String("title", title),
			zap.Error(err))
	}
}

// List returns up to limit notifications for recipient, newest first.
func (s *RedisSink) List(ctx context.Context, recipient primitive.ObjectID, limit int) ([]Notification, error) {
	if limit <= 0 || limit > InboxSize {
		limit = InboxSize
	}
	items, err := s.client.LRange(ctx, inboxKey(recipient.Hex()), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	out := make([]Notification, 0, len(items))
	for _, item := range items {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			s.logger.Warn("skipping malformed notification", zap.String("recipient", recipient.Hex()), zap.Error(err))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// LogSink writes notifications to the log only.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, recipient primitive.ObjectID, title, message string, metadata map[string]interface{}) {
	s.logger.Info("notification",
		zap.String("recipient", recipient.Hex()),
		zap.String("title", title),
		zap.String("message", message),
		zap.Any("metadata", metadata))
}

// Multi fans a notification out to every sink in order.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, recipient primitive.ObjectID, title, message string, metadata map[string]interface{}) {
	for _, s := range m {
		s.Notify(ctx, recipient, title, message, metadata)
	}
}
