package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher appends events to a Redis stream.
type RedisStreamPublisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStreamPublisher(client redis.Cmdable, stream string) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: 100_000}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, eventType string, data any) error {
	eventJSON, err := json.Marshal(newEvent(eventType, data))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":  eventType,
			"event": eventJSON,
		},
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close is a no-op; the redis client is owned by the caller.
func (p *RedisStreamPublisher) Close() error {
	return nil
}
