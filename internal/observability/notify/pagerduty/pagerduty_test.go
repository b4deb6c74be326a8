package pagerduty

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryuqq/fileflow/internal/observability/notify"
)

func TestNewClientRequiresRoutingKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)

	_, err = NewClient(Config{RoutingKey: "   "})
	assert.Error(t, err)
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	require.NoError(t, err)

	ev := client.buildEvent(notify.OperationFailurePayload{
		OperationID: "op-123",
		Kind:        "external_download",
		Status:      "failed",
		Attempts:    3,
		Error:       "boom",
		ErrorClass:  "err_class",
	})

	assert.Equal(t, "trigger", ev.Action)
	assert.Equal(t, "external_download:op-123", ev.DedupKey)
	assert.Equal(t, notify.SeverityCritical, ev.Payload.Severity)
	assert.Equal(t, "fileflow", ev.Payload.Source)
	assert.Equal(t, "fileflow", ev.Payload.Component)
	assert.Contains(t, ev.Payload.Summary, "op-123")

	for _, key := range []string{"operation_id", "kind", "status", "attempts", "reason", "error", "error_class"} {
		assert.Contains(t, ev.Payload.Details, key)
	}
}

func TestBuildEventStampsOccurredAt(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key"})
	require.NoError(t, err)

	occurred := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := client.buildEvent(notify.OperationFailurePayload{
		OperationID: "op-1",
		Kind:        "upload_session",
		OccurredAt:  occurred,
	})
	assert.Equal(t, "2025-06-01T12:00:00Z", ev.Payload.Timestamp)
}

func TestBuildEventMetadataMerge(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key"})
	require.NoError(t, err)

	ev := client.buildEvent(notify.OperationFailurePayload{
		OperationID: "op-9",
		Kind:        "upload_session",
		Metadata: map[string]string{
			"destination":  "upload-sessions",
			"operation_id": "spoofed",
		},
	})

	assert.Equal(t, "upload-sessions", ev.Payload.Details["destination"])
	assert.Equal(t, "op-9", ev.Payload.Details["operation_id"])
}
