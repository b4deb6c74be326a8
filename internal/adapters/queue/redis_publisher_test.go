package queue

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryuqq/fileflow/config"
	"github.com/ryuqq/fileflow/internal/testutil"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		StreamPrefix: "fileflow:test:stream:",
		MaxLen:       1000,
	}
}

func TestNewRedisPublisherRequiresClient(t *testing.T) {
	_, err := NewRedisPublisher(nil, testQueueConfig())
	assert.Error(t, err)
}

func TestRedisPublisherPublishValidation(t *testing.T) {
	publisher, err := NewRedisPublisher(redis.NewClient(&redis.Options{}), testQueueConfig())
	require.NoError(t, err)

	err = publisher.Publish(context.Background(), "", []byte(`{}`), nil)
	assert.Error(t, err)

	err = publisher.Publish(context.Background(), "   ", []byte(`{}`), nil)
	assert.Error(t, err)

	err = publisher.Publish(context.Background(), "upload-sessions", nil, nil)
	assert.Error(t, err)
}

func TestRedisPublisherAppendsToStream(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer client.Close()

	publisher, err := NewRedisPublisher(client, testQueueConfig())
	require.NoError(t, err)

	ctx := context.Background()
	payload := []byte(`{"operation_id":"op-123","type":"operation.enqueued"}`)
	attributes := map[string]string{
		"message_id":   "msg-1",
		"event_type":   "operation.enqueued",
		"operation_id": "op-123",
	}

	require.NoError(t, publisher.Publish(ctx, "external-downloads", payload, attributes))

	entries, err := client.XRange(ctx, "fileflow:test:stream:external-downloads", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, string(payload), values["payload"])
	assert.Equal(t, "msg-1", values["message_id"])
	assert.Equal(t, "operation.enqueued", values["event_type"])
	assert.Equal(t, "op-123", values["operation_id"])
}

func TestRedisPublisherReservesPayloadField(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer client.Close()

	publisher, err := NewRedisPublisher(client, testQueueConfig())
	require.NoError(t, err)

	ctx := context.Background()
	payload := []byte(`{"operation_id":"op-456"}`)

	// An attribute named payload must not clobber the message body.
	attributes := map[string]string{
		"payload":    "spoofed",
		"message_id": "msg-2",
	}

	require.NoError(t, publisher.Publish(ctx, "operations", payload, attributes))

	entries, err := client.XRange(ctx, "fileflow:test:stream:operations", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(payload), entries[0].Values["payload"])
	assert.Equal(t, "msg-2", entries[0].Values["message_id"])
}
