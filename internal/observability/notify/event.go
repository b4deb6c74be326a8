package notify

import (
	"context"
	"time"
)

// Severities every sink understands.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// OperationFailurePayload captures the canonical data we emit for operation failure notifications.
type OperationFailurePayload struct {
	OperationID string
	Kind        string
	Status      string
	Attempts    int
	Reason      string
	Error       string
	ErrorClass  string
	Severity    string
	OccurredAt  time.Time
	Metadata    map[string]string
}

// Sink describes a destination capable of consuming operation failure notifications.
type Sink interface {
	SendOperationFailure(ctx context.Context, payload OperationFailurePayload) error
}

// SinkFunc lets a bare function act as a Sink.
type SinkFunc func(ctx context.Context, payload OperationFailurePayload) error

func (f SinkFunc) SendOperationFailure(ctx context.Context, payload OperationFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
