// Package model defines the core aggregates and value types of the fileflow
// orchestration engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationKind identifies the business action an Operation tracks.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type OperationKind string

// OperationStatus is the current state-machine position of an Operation.
type OperationStatus string

const (
	// KindUploadSession is a single-file upload session.
	KindUploadSession OperationKind = "upload_session"
	// KindMultipartUploadSession is a multipart upload session.
	KindMultipartUploadSession OperationKind = "multipart_upload_session"
	// KindExternalDownload is a download of an external URL into storage.
	KindExternalDownload OperationKind = "external_download"
	// KindTransformRequest is an image transform request.
	KindTransformRequest OperationKind = "transform_request"

	// StatusQueued indicates the operation is waiting for a worker.
	StatusQueued OperationStatus = "queued"
	// StatusProcessing indicates a worker is advancing the operation.
	StatusProcessing OperationStatus = "processing"
	// StatusCompleted indicates the operation finished successfully.
	StatusCompleted OperationStatus = "completed"
	// StatusFailed indicates the operation failed with no attempts left.
	StatusFailed OperationStatus = "failed"
	// StatusExpired indicates a session deadline elapsed before completion.
	StatusExpired OperationStatus = "expired"
	// StatusTimeout indicates the reaper gave up on a stuck operation.
	StatusTimeout OperationStatus = "timeout"
)

// UnmarshalText implements encoding.TextUnmarshaler for OperationKind to allow env parsing.
func (k *OperationKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	kind := OperationKind(v)
	if kind.Valid() {
		*k = kind
		return nil
	}
	return fmt.Errorf("invalid OperationKind: %q", v)
}

// Valid returns true if the OperationKind is one of the known kinds.
func (k OperationKind) Valid() bool {
	return k == KindUploadSession || k == KindMultipartUploadSession ||
		k == KindExternalDownload || k == KindTransformRequest
}

// SessionKind reports whether the kind carries a deadline and a cache mirror.
func (k OperationKind) SessionKind() bool {
	return k == KindUploadSession || k == KindMultipartUploadSession
}

// Valid returns true if the OperationStatus is one of the known states.
func (s OperationStatus) Valid() bool {
	return s == StatusQueued || s == StatusProcessing || s == StatusCompleted ||
		s == StatusFailed || s == StatusExpired || s == StatusTimeout
}

// Terminal reports whether the status is immutable once reached.
func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired || s == StatusTimeout
}

// InvalidTransitionError reports a state-machine violation. It is a
// programming or ordering error and is never retried.
type InvalidTransitionError struct {
	Op   string
	From OperationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s from %s", e.Op, e.From)
}

// ErrInvalidTransition matches any InvalidTransitionError via errors.Is.
var ErrInvalidTransition = errors.New("invalid state transition")

// Is makes errors.Is(err, ErrInvalidTransition) work for typed transition errors.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrOperationNotFound is returned when an operation does not exist.
var ErrOperationNotFound = errors.New("operation not found")

// ErrConcurrentTransition is returned when a guarded update matched no row
// because another writer transitioned the operation first.
var ErrConcurrentTransition = errors.New("operation was transitioned concurrently")

// ErrRetryBackoffPending is returned by Start when the operation was requeued
// after a failure and its backoff window has not elapsed yet.
var ErrRetryBackoffPending = errors.New("retry backoff has not elapsed")

// Operation is the aggregate tracking one asynchronous business action.
// State transitions are monotonic: terminal states are immutable, and the
// only backward edge is the explicit retry (processing → queued).
type Operation struct {
	ID             string          `json:"id"                        db:"id"`
	Kind           OperationKind   `json:"kind"                      db:"kind"`
	Status         OperationStatus `json:"status"                    db:"status"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"                   db:"payload"`
	Result         *string         `json:"result,omitempty"          db:"result"`
	AttemptCount   int             `json:"attempt_count"             db:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"              db:"max_attempts"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"   db:"next_retry_at"`
	LastError      *string         `json:"last_error,omitempty"      db:"last_error"`
	DeadlineAt     *time.Time      `json:"deadline_at,omitempty"     db:"deadline_at"`
	CreatedAt      time.Time       `json:"created_at"                db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                db:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"    db:"completed_at"`

	// pendingEvents buffers domain events raised by transitions until the
	// persistence layer drains them after a successful commit. Never persisted.
	pendingEvents []Event
}

// CreateOperationRequest carries the inputs for a new Operation.
type CreateOperationRequest struct {
	Kind           OperationKind   `json:"kind"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
}

// DefaultMaxAttempts applies when a request does not specify a retry budget.
const DefaultMaxAttempts = 3

// Validate checks the CreateOperationRequest fields.
func (r *CreateOperationRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid operation kind")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	if r.IdempotencyKey != nil && strings.TrimSpace(*r.IdempotencyKey) == "" {
		return errors.New("idempotency key must not be blank")
	}
	if r.Kind.SessionKind() && r.Deadline == nil {
		return errors.New("session operations require a deadline")
	}
	return nil
}

// NewOperation constructs a queued Operation from a validated request.
// IDs are UUIDv7 so sweeps can rely on time-sortable ordering.
func NewOperation(req *CreateOperationRequest, now time.Time) (*Operation, error) {
	if req == nil {
		return nil, errors.New("create operation request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate operation id: %w", err)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	op := &Operation{
		ID:             id.String(),
		Kind:           req.Kind,
		Status:         StatusQueued,
		IdempotencyKey: req.IdempotencyKey,
		Payload:        append(json.RawMessage(nil), req.Payload...),
		MaxAttempts:    maxAttempts,
		DeadlineAt:     req.Deadline,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
	op.raise(EventOperationEnqueued, now)
	return op, nil
}

// Start moves the operation from queued to processing. A requeued operation
// cannot start before its backoff window elapses.
func (o *Operation) Start(now time.Time) error {
	if o.Status != StatusQueued {
		return &InvalidTransitionError{Op: "start", From: o.Status}
	}
	if !o.RetryEligible(now) {
		return fmt.Errorf("%w: next retry at %s", ErrRetryBackoffPending, o.NextRetryAt.UTC().Format(time.RFC3339))
	}
	o.Status = StatusProcessing
	o.NextRetryAt = nil
	o.UpdatedAt = now.UTC()
	o.raise(EventOperationStarted, now)
	return nil
}

// Complete moves the operation from processing to completed and records the
// result reference.
func (o *Operation) Complete(result string, now time.Time) error {
	if o.Status != StatusProcessing {
		return &InvalidTransitionError{Op: "complete", From: o.Status}
	}
	o.Status = StatusCompleted
	o.Result = &result
	completedAt := now.UTC()
	o.CompletedAt = &completedAt
	o.UpdatedAt = completedAt
	o.LastError = nil
	o.NextRetryAt = nil
	o.raise(EventOperationCompleted, now)
	return nil
}

// Fail records a processing failure. While attempts remain the operation goes
// back to queued with a backoff-scheduled NextRetryAt; otherwise it is
// terminally failed. AttemptCount always increments.
func (o *Operation) Fail(reason string, policy RetryPolicy, now time.Time) error {
	if o.Status != StatusProcessing {
		return &InvalidTransitionError{Op: "fail", From: o.Status}
	}

	o.AttemptCount++
	o.LastError = &reason
	o.UpdatedAt = now.UTC()

	if o.AttemptCount < o.MaxAttempts {
		o.Status = StatusQueued
		retryAt := policy.NextRetryAt(now, o.AttemptCount)
		o.NextRetryAt = &retryAt
		o.raise(EventOperationRequeued, now)
		return nil
	}

	o.Status = StatusFailed
	completedAt := now.UTC()
	o.CompletedAt = &completedAt
	o.NextRetryAt = nil
	o.raise(EventOperationFailed, now)
	return nil
}

// Expire moves any non-terminal operation to expired. Calling it on a
// terminal operation is a no-op; the return value reports whether a
// transition happened.
func (o *Operation) Expire(now time.Time) bool {
	if o.Status.Terminal() {
		return false
	}
	o.Status = StatusExpired
	completedAt := now.UTC()
	o.CompletedAt = &completedAt
	o.UpdatedAt = completedAt
	o.raise(EventOperationExpired, now)
	return true
}

// MarkTimedOut terminally times out a stuck operation. No-op on terminal
// states, mirroring Expire.
func (o *Operation) MarkTimedOut(reason string, now time.Time) bool {
	if o.Status.Terminal() {
		return false
	}
	o.Status = StatusTimeout
	o.LastError = &reason
	completedAt := now.UTC()
	o.CompletedAt = &completedAt
	o.UpdatedAt = completedAt
	o.raise(EventOperationTimedOut, now)
	return true
}

// Requeue resets a stuck queued/processing operation back to queued for the
// zombie reaper. It consumes an attempt so repeatedly stuck operations
// eventually exhaust their budget and time out.
func (o *Operation) Requeue(now time.Time) error {
	if o.Status != StatusQueued && o.Status != StatusProcessing {
		return &InvalidTransitionError{Op: "requeue", From: o.Status}
	}
	if o.AttemptCount >= o.MaxAttempts {
		return fmt.Errorf("requeue: no attempts left (%d/%d)", o.AttemptCount, o.MaxAttempts)
	}
	o.AttemptCount++
	o.Status = StatusQueued
	o.NextRetryAt = nil
	o.UpdatedAt = now.UTC()
	o.raise(EventOperationRequeued, now)
	return nil
}

// DeadlinePassed reports whether the session deadline elapsed. Operations
// without a deadline never expire this way.
func (o *Operation) DeadlinePassed(now time.Time) bool {
	return o.DeadlineAt != nil && now.After(*o.DeadlineAt)
}

// RetryEligible reports whether a queued operation's backoff window elapsed.
func (o *Operation) RetryEligible(now time.Time) bool {
	if o.Status != StatusQueued {
		return false
	}
	return o.NextRetryAt == nil || !now.Before(*o.NextRetryAt)
}

// PollEvents drains and returns the pending-event buffer. Each event is
// delivered at most once to the caller.
func (o *Operation) PollEvents() []Event {
	events := o.pendingEvents
	o.pendingEvents = nil
	return events
}

// OperationStats holds per-status counts for one operation kind.
type OperationStats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Expired    int64 `json:"expired"`
	Timeout    int64 `json:"timeout"`
}

func (o *Operation) raise(eventType EventType, now time.Time) {
	o.pendingEvents = append(o.pendingEvents, Event{
		Type:        eventType,
		OperationID: o.ID,
		Kind:        o.Kind,
		OccurredAt:  now.UTC(),
	})
}
