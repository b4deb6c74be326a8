package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery state of an outbox message.
type OutboxStatus string

const (
	// OutboxStatusPending indicates the message has not been published yet.
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusSent indicates the message reached the queue.
	OutboxStatusSent OutboxStatus = "sent"
	// OutboxStatusFailed indicates the last publish attempt failed. The row
	// stays retry-eligible until RetryCount reaches the configured maximum,
	// after which it is kept for monitoring and never deleted automatically.
	OutboxStatusFailed OutboxStatus = "failed"
)

// Valid returns true if the OutboxStatus is one of the known states.
func (s OutboxStatus) Valid() bool {
	return s == OutboxStatusPending || s == OutboxStatusSent || s == OutboxStatusFailed
}

// OutboxMessage is a durable intent to notify the queue, written in the same
// transaction as the operation state change that produced it. If that
// transaction commits, the notification eventually happens even if the
// process dies before touching the broker.
type OutboxMessage struct {
	ID           string          `json:"id"                      db:"id"`
	OperationID  string          `json:"operation_id"            db:"operation_id"`
	EventType    string          `json:"event_type"              db:"event_type"`
	Destination  string          `json:"destination"             db:"destination"`
	Payload      json.RawMessage `json:"payload"                 db:"payload"`
	Status       OutboxStatus    `json:"status"                  db:"status"`
	RetryCount   int             `json:"retry_count"             db:"retry_count"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
	// AvailableAt is the earliest moment the publisher may deliver the
	// message. Requeue events push it past the operation's backoff window;
	// everything else is deliverable immediately.
	AvailableAt time.Time  `json:"available_at"            db:"available_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"  db:"processed_at"`
}

// NewOutboxMessage constructs a pending message for the given operation.
func NewOutboxMessage(op *Operation, eventType, destination string, payload json.RawMessage, now time.Time) (*OutboxMessage, error) {
	if op == nil {
		return nil, errors.New("operation is required")
	}
	if strings.TrimSpace(eventType) == "" {
		return nil, errors.New("event type is required")
	}
	if strings.TrimSpace(destination) == "" {
		return nil, errors.New("destination is required")
	}
	if len(payload) == 0 {
		return nil, errors.New("payload is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate outbox id: %w", err)
	}

	return &OutboxMessage{
		ID:          id.String(),
		OperationID: op.ID,
		EventType:   eventType,
		Destination: destination,
		Payload:     append(json.RawMessage(nil), payload...),
		Status:      OutboxStatusPending,
		CreatedAt:   now.UTC(),
		AvailableAt: now.UTC(),
	}, nil
}

// Exhausted reports whether the message has no publish attempts left.
func (m *OutboxMessage) Exhausted(maxRetryCount int) bool {
	return m.RetryCount >= maxRetryCount
}
