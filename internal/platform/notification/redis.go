package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes each message as JSON on a pub/sub channel of its
// own template, named <prefix>:<template id>.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier connects using a redis:// URL and verifies the connection.
func NewRedisNotifier(ctx context.Context, url, prefix string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisNotifierFromClient(client, prefix), nil
}

func NewRedisNotifierFromClient(client *redis.Client, prefix string) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: prefix}
}

// Channel names the channel a template's messages are published on.
func (r *RedisNotifier) Channel(templateID string) string {
	return r.prefix + ":" + templateID
}

func (r *RedisNotifier) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(msg.TemplateID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", msg.TemplateID, err)
	}
	return nil
}

// Subscribe listens on the channels of the given templates.
func (r *RedisNotifier) Subscribe(ctx context.Context, templateIDs ...string) *redis.PubSub {
	channels := make([]string, len(templateIDs))
	for i, id := range templateIDs {
		channels[i] = r.Channel(id)
	}
	return r.client.Subscribe(ctx, channels...)
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
