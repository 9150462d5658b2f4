package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ridesaga/internal/service"
)

// RedisDeadLetter appends failed change records to a Redis stream.
type RedisDeadLetter struct {
	client *redis.Client
	stream string
}

// NewRedisDeadLetter creates a new RedisDeadLetter.
func NewRedisDeadLetter(client *redis.Client, stream string) *RedisDeadLetter {
	return &RedisDeadLetter{client: client, stream: stream}
}

// Write adds one stream entry per record.
func (d *RedisDeadLetter) Write(ctx context.Context, records []service.ChangeRecord, reason string) error {
	pipe := d.client.Pipeline()
	for _, r := range records {
		image, err := json.Marshal(r.NewImage)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", r.EventID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: d.stream,
			Values: map[string]any{
				"reason":     reason,
				"group":      "payment-stream",
				"event-id":   r.EventID,
				"event-name": r.EventName,
				"image":      string(image),
			},
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}
