package model

import "time"

// EventType names a domain event raised by an aggregate transition.
type EventType string

const (
	// EventOperationEnqueued is raised when an operation is created.
	EventOperationEnqueued EventType = "operation.enqueued"
	// EventOperationStarted is raised on queued → processing.
	EventOperationStarted EventType = "operation.started"
	// EventOperationCompleted is raised on processing → completed.
	EventOperationCompleted EventType = "operation.completed"
	// EventOperationFailed is raised when the retry budget is exhausted.
	EventOperationFailed EventType = "operation.failed"
	// EventOperationRequeued is raised on a retry or reaper re-enqueue.
	EventOperationRequeued EventType = "operation.requeued"
	// EventOperationExpired is raised when a session deadline elapses.
	EventOperationExpired EventType = "operation.expired"
	// EventOperationTimedOut is raised when the reaper gives up on an operation.
	EventOperationTimedOut EventType = "operation.timed_out"
	// EventPartUploaded is raised when a multipart session registers a part.
	EventPartUploaded EventType = "session.part_uploaded"
)

// Event is a transient domain event buffered on the aggregate until the
// persistence layer drains it after commit.
type Event struct {
	Type        EventType     `json:"type"`
	OperationID string        `json:"operation_id"`
	Kind        OperationKind `json:"kind"`
	OccurredAt  time.Time     `json:"occurred_at"`
}
