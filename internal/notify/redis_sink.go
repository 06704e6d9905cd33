package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskreview/api/internal/model"
)

const recentLimit = 50

// RedisSink publishes each notification as JSON on "<prefix>:<recipient>" and
// keeps the most recent ones per recipient in a capped list under
// "<prefix>:<recipient>:recent" for clients that reconnect.
type RedisSink struct {
	client *redis.Client
	prefix string
}

func NewRedisSink(redisURL, prefix string) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSinkWithClient(client, prefix), nil
}

func NewRedisSinkWithClient(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Channel(recipientID string) string {
	return s.prefix + ":" + recipientID
}

func (s *RedisSink) Deliver(ctx context.Context, notification model.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	channel := s.Channel(notification.RecipientID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, channel+":recent", payload)
	pipe.LTrim(ctx, channel+":recent", 0, recentLimit-1)
	pipe.Publish(ctx, channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Recent returns the latest notifications kept for a recipient, newest first.
func (s *RedisSink) Recent(ctx context.Context, recipientID string) ([]model.Notification, error) {
	raw, err := s.client.LRange(ctx, s.Channel(recipientID)+":recent", 0, recentLimit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent notifications: %w", err)
	}
	items := make([]model.Notification, 0, len(raw))
	for _, entry := range raw {
		var notification model.Notification
		if err := json.Unmarshal([]byte(entry), &notification); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		items = append(items, notification)
	}
	return items, nil
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
