// Package queue provides the broker-facing publisher adapter.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ryuqq/fileflow/config"
)

// RedisPublisher publishes outbox messages to Redis Streams. Destinations
// map to streams under the configured prefix; consumers read them with
// consumer groups and deduplicate by the message_id attribute.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
}

// NewRedisPublisher creates a publisher backed by the given Redis client.
func NewRedisPublisher(client redis.UniversalClient, cfg config.QueueConfig) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}

	return &RedisPublisher{
		client: client,
		prefix: cfg.StreamPrefix,
		maxLen: cfg.MaxLen,
	}, nil
}

// Publish appends the payload to the destination's stream. Attributes become
// stream fields alongside the payload so consumers can filter without
// decoding the body.
func (p *RedisPublisher) Publish(ctx context.Context, destination string, payload []byte, attributes map[string]string) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return errors.New("destination is required")
	}
	if len(payload) == 0 {
		return errors.New("payload is required")
	}

	values := make(map[string]any, len(attributes)+1)
	values["payload"] = payload
	for k, v := range attributes {
		if k == "payload" {
			continue
		}
		values[k] = v
	}

	stream := p.prefix + destination
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}
