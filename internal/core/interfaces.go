// Package core defines the ports of the fileflow orchestration engine.
// Services depend on these interfaces; the data and adapter layers provide
// the implementations.
package core

import (
	"context"
	"time"

	"github.com/ryuqq/fileflow/internal/domain/model"
)

// CreateOutcome is the typed result of an idempotent create: either a fresh
// operation or the one already registered under the same idempotency key.
type CreateOutcome struct {
	Operation *model.Operation
	// Created is false when the idempotency key matched an existing row.
	Created bool
}

// TransitionParams groups an aggregate state transition with the outbox
// messages that must commit atomically with it.
type TransitionParams struct {
	Operation *model.Operation
	Outbox    []*model.OutboxMessage
}

// StaleQuery selects operations stuck in non-terminal states past a
// staleness threshold, ordered by id (UUIDv7, so creation-time order).
type StaleQuery struct {
	Statuses  []model.OperationStatus
	StuckFor  time.Duration
	BatchSize int
}

// ListQuery filters the operator-facing operation listing. Zero-valued
// fields are unfiltered; Limit defaults to a page-sized cap at the
// repository layer.
type ListQuery struct {
	Statuses      []model.OperationStatus
	Kind          model.OperationKind
	TenantID      string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// OperationRepository persists Operation aggregates. Writes that carry outbox
// messages commit both in one transaction, which is what the at-least-once
// guarantee rests on.
type OperationRepository interface {
	// CreateOrGet inserts the operation along with its outbox messages. When
	// the idempotency key collides with an existing row, the stored operation
	// is returned instead and nothing is written.
	CreateOrGet(ctx context.Context, params TransitionParams) (CreateOutcome, error)
	GetByID(ctx context.Context, id string) (*model.Operation, error)
	// Update persists a transitioned aggregate and its new outbox messages
	// atomically. The row's previous status is used as an optimistic guard:
	// a concurrent transition makes Update return model.ErrConcurrentTransition.
	Update(ctx context.Context, expectedStatus model.OperationStatus, params TransitionParams) error
	// FindStale returns operations stuck past the threshold, oldest first.
	FindStale(ctx context.Context, q StaleQuery) ([]*model.Operation, error)
	// FindExpiredSessions returns session operations whose deadline passed
	// while still in a non-terminal state.
	FindExpiredSessions(ctx context.Context, now time.Time, batchSize int) ([]*model.Operation, error)
	// List returns operations matching the query, newest first.
	List(ctx context.Context, q ListQuery) ([]*model.Operation, error)
}

// OutboxRepository persists and sweeps outbox messages.
type OutboxRepository interface {
	// FindPending returns deliverable pending messages oldest-first, up to
	// limit. Rows deferred past their available_at are excluded.
	FindPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	// FindRetryable returns failed messages with retry budget left whose
	// last attempt is older than retryAfter.
	FindRetryable(ctx context.Context, maxRetryCount int, retryAfter time.Time, limit int) ([]*model.OutboxMessage, error)
	// FindStalePending returns pending messages created before the threshold
	// that were never picked up, which indicates a publisher crash.
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id string, processedAt time.Time) error
	// MarkFailed increments retry_count and records the publish error. The
	// row stays retry-eligible until the count reaches the sweep's maximum.
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// QueuePublisher is the thin wrapper over the external message broker.
type QueuePublisher interface {
	Publish(ctx context.Context, destination string, payload []byte, attributes map[string]string) error
}

// CacheRepository is the TTL cache backing the session mirror. The mirror is
// advisory: failures here never fail the owning transition.
type CacheRepository interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
}

// DistributedLock serializes racy sweeps across process instances. Backing
// implementations must be short-lease and crash-safe (the lease expires on
// its own if the holder dies).
type DistributedLock interface {
	// TryLock attempts to acquire the lock, polling for up to wait. The lock
	// auto-releases after lease.
	TryLock(ctx context.Context, key string, wait, lease time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	// IsHeld reports whether this process currently holds the key.
	IsHeld(key string) bool
}

// ExpirationEvents delivers cache key-expiration notifications. Best-effort:
// the channel may drop events (e.g. on cache failover), so consumers must be
// backed by a reconciliation sweep.
type ExpirationEvents interface {
	// Subscribe returns a channel of expired operation ids. The channel
	// closes when ctx is cancelled or the underlying subscription dies.
	Subscribe(ctx context.Context) (<-chan string, error)
}

// EventSink receives drained domain events after a successful commit.
type EventSink interface {
	Emit(ctx context.Context, events []model.Event)
}
