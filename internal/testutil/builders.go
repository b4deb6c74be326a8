// Package testutil provides testing utilities and helpers for the fileflow
// orchestration engine.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/ryuqq/fileflow/internal/domain/model"
)

// OperationRequestBuilder provides a fluent interface for building CreateOperationRequest objects for testing.
type OperationRequestBuilder struct {
	req *model.CreateOperationRequest
}

// NewOperationRequest creates a new OperationRequestBuilder with sensible defaults.
func NewOperationRequest() *OperationRequestBuilder {
	return &OperationRequestBuilder{
		req: &model.CreateOperationRequest{
			Kind:        model.KindExternalDownload,
			Payload:     json.RawMessage(`{"url": "https://example.com/file.bin"}`),
			MaxAttempts: 3,
		},
	}
}

// WithKind sets the operation kind.
func (b *OperationRequestBuilder) WithKind(kind model.OperationKind) *OperationRequestBuilder {
	b.req.Kind = kind
	return b
}

// WithPayload sets the operation payload.
func (b *OperationRequestBuilder) WithPayload(payload json.RawMessage) *OperationRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the operation payload from a string.
func (b *OperationRequestBuilder) WithPayloadString(payload string) *OperationRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithIdempotencyKey sets the idempotency key.
func (b *OperationRequestBuilder) WithIdempotencyKey(key string) *OperationRequestBuilder {
	b.req.IdempotencyKey = &key
	return b
}

// WithMaxAttempts sets the retry budget.
func (b *OperationRequestBuilder) WithMaxAttempts(maxAttempts int) *OperationRequestBuilder {
	b.req.MaxAttempts = maxAttempts
	return b
}

// WithDeadline sets the session deadline.
func (b *OperationRequestBuilder) WithDeadline(deadline time.Time) *OperationRequestBuilder {
	b.req.Deadline = &deadline
	return b
}

// AsSession switches the builder to an upload session kind with a deadline,
// which session kinds require.
func (b *OperationRequestBuilder) AsSession(deadline time.Time) *OperationRequestBuilder {
	b.req.Kind = model.KindUploadSession
	b.req.Deadline = &deadline
	return b
}

// Build returns the constructed CreateOperationRequest.
func (b *OperationRequestBuilder) Build() *model.CreateOperationRequest {
	return b.req
}

// BuildOperation constructs an Operation from the request at the given time.
// It panics on validation failure; tests building invalid requests should use
// model.NewOperation directly and assert the error.
func (b *OperationRequestBuilder) BuildOperation(now time.Time) *model.Operation {
	op, err := model.NewOperation(b.req, now)
	if err != nil {
		panic("testutil: build operation: " + err.Error())
	}
	// Drain the enqueued event so tests start from a clean buffer.
	op.PollEvents()
	return op
}

// OutboxMessageBuilder provides a fluent interface for building OutboxMessage objects for testing.
type OutboxMessageBuilder struct {
	op          *model.Operation
	eventType   string
	destination string
	payload     json.RawMessage
	retryCount  int
	status      model.OutboxStatus
	availableAt *time.Time
}

// NewOutboxMessage creates a new OutboxMessageBuilder for the given operation.
func NewOutboxMessage(op *model.Operation) *OutboxMessageBuilder {
	return &OutboxMessageBuilder{
		op:          op,
		eventType:   "operation.enqueued",
		destination: "operations",
		payload:     json.RawMessage(`{"event":"operation.enqueued"}`),
		status:      model.OutboxStatusPending,
	}
}

// WithEventType sets the event type.
func (b *OutboxMessageBuilder) WithEventType(eventType string) *OutboxMessageBuilder {
	b.eventType = eventType
	return b
}

// WithDestination sets the destination stream.
func (b *OutboxMessageBuilder) WithDestination(destination string) *OutboxMessageBuilder {
	b.destination = destination
	return b
}

// WithPayload sets the message payload.
func (b *OutboxMessageBuilder) WithPayload(payload json.RawMessage) *OutboxMessageBuilder {
	b.payload = payload
	return b
}

// WithRetryCount sets the retry count.
func (b *OutboxMessageBuilder) WithRetryCount(retryCount int) *OutboxMessageBuilder {
	b.retryCount = retryCount
	return b
}

// WithStatus sets the delivery status.
func (b *OutboxMessageBuilder) WithStatus(status model.OutboxStatus) *OutboxMessageBuilder {
	b.status = status
	return b
}

// WithAvailableAt defers delivery until the given instant.
func (b *OutboxMessageBuilder) WithAvailableAt(at time.Time) *OutboxMessageBuilder {
	b.availableAt = &at
	return b
}

// Build returns the constructed OutboxMessage. It panics on invalid inputs.
func (b *OutboxMessageBuilder) Build(now time.Time) *model.OutboxMessage {
	msg, err := model.NewOutboxMessage(b.op, b.eventType, b.destination, b.payload, now)
	if err != nil {
		panic("testutil: build outbox message: " + err.Error())
	}
	msg.RetryCount = b.retryCount
	msg.Status = b.status
	if b.availableAt != nil {
		msg.AvailableAt = b.availableAt.UTC()
	}
	return msg
}
