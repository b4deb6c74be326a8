package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ryuqq/fileflow/internal/core"
	"github.com/ryuqq/fileflow/internal/data/pgxutil"
	"github.com/ryuqq/fileflow/internal/domain/model"
	apperrors "github.com/ryuqq/fileflow/internal/errors"
)

// uqOperationsIdempotencyKey is the partial unique index backing the
// idempotency guard. Concurrent creates with the same key race on it and the
// loser falls back to fetching the winner's row.
const uqOperationsIdempotencyKey = "operations_idempotency_key_uq"

const insertOperationSQL = `
  INSERT INTO operations(id, kind, status, idempotency_key, payload, result, attempt_count, max_attempts, next_retry_at, last_error, deadline_at, created_at, updated_at, completed_at)
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
  RETURNING ` + operationColumns

const insertOutboxMessageSQL = `
  INSERT INTO outbox_messages(id, operation_id, event_type, destination, payload, status, retry_count, error_message, created_at, available_at, processed_at)
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`

// CreateOrGet inserts the operation together with its outbox messages in one
// transaction. When the idempotency key already exists, the stored operation
// is fetched and returned with Created=false.
func (r *OperationRepo) CreateOrGet(ctx context.Context, params core.TransitionParams) (core.CreateOutcome, error) {
	op := params.Operation
	if op == nil {
		return core.CreateOutcome{}, errors.New("operation is required")
	}
	if strings.TrimSpace(op.ID) == "" {
		return core.CreateOutcome{}, ErrOperationIDRequired
	}

	var created *model.Operation
	txErr := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		var insertErr error
		created, insertErr = r.insertOperationInTx(ctx, tx, params)
		return insertErr
	})
	if txErr == nil {
		return core.CreateOutcome{Operation: created, Created: true}, nil
	}

	if apperrors.IsUniqueViolation(txErr, uqOperationsIdempotencyKey) && op.IdempotencyKey != nil {
		existing, getErr := r.GetByIdempotencyKey(ctx, *op.IdempotencyKey)
		if getErr != nil {
			return core.CreateOutcome{}, fmt.Errorf("fetch existing operation after key conflict: %w", getErr)
		}
		return core.CreateOutcome{Operation: existing, Created: false}, nil
	}

	return core.CreateOutcome{}, apperrors.MapDBError(txErr)
}

// insertOperationInTx inserts the operation row and its outbox messages.
func (r *OperationRepo) insertOperationInTx(ctx context.Context, tx pgx.Tx, params core.TransitionParams) (*model.Operation, error) {
	op := params.Operation

	rows, err := tx.Query(ctx, insertOperationSQL,
		op.ID,
		op.Kind,
		op.Status,
		nullableString(op.IdempotencyKey),
		[]byte(op.Payload),
		nullableString(op.Result),
		op.AttemptCount,
		op.MaxAttempts,
		nullableTime(op.NextRetryAt),
		nullableString(op.LastError),
		nullableTime(op.DeadlineAt),
		op.CreatedAt.UTC(),
		op.UpdatedAt.UTC(),
		nullableTime(op.CompletedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert operation: %w", err)
	}
	inserted, collectErr := collectOperationFromRows(rows)
	rows.Close()
	if collectErr != nil {
		return nil, fmt.Errorf("collect operation: %w", collectErr)
	}

	if err := insertOutboxMessagesInTx(ctx, tx, params.Outbox); err != nil {
		return nil, err
	}

	return inserted, nil
}

// insertOutboxMessagesInTx inserts the given outbox rows within the caller's
// transaction. A nil or empty slice is a no-op.
func insertOutboxMessagesInTx(ctx context.Context, tx pgx.Tx, messages []*model.OutboxMessage) error {
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if _, err := tx.Exec(ctx, insertOutboxMessageSQL,
			msg.ID,
			msg.OperationID,
			msg.EventType,
			msg.Destination,
			[]byte(msg.Payload),
			msg.Status,
			msg.RetryCount,
			nullableString(msg.ErrorMessage),
			msg.CreatedAt.UTC(),
			outboxAvailableAt(msg),
			nullableTime(msg.ProcessedAt),
		); err != nil {
			return fmt.Errorf("insert outbox message %s: %w", msg.ID, err)
		}
	}
	return nil
}

// outboxAvailableAt falls back to CreatedAt for messages built before the
// deferral field existed, keeping them deliverable immediately.
func outboxAvailableAt(msg *model.OutboxMessage) time.Time {
	if msg.AvailableAt.IsZero() {
		return msg.CreatedAt.UTC()
	}
	return msg.AvailableAt.UTC()
}

const updateOperationSQL = `
  UPDATE operations
  SET
    status = $3,
    payload = $4,
    result = $5,
    attempt_count = $6,
    next_retry_at = $7,
    last_error = $8,
    updated_at = $9,
    completed_at = $10
  WHERE id = $1 AND status = $2
`

// Update persists a transitioned operation and its new outbox messages
// atomically. The previous status acts as an optimistic guard: when another
// writer already moved the row, Update returns model.ErrConcurrentTransition
// and writes nothing.
func (r *OperationRepo) Update(ctx context.Context, expectedStatus model.OperationStatus, params core.TransitionParams) error {
	op := params.Operation
	if op == nil {
		return errors.New("operation is required")
	}
	if strings.TrimSpace(op.ID) == "" {
		return ErrOperationIDRequired
	}
	if !expectedStatus.Valid() {
		return fmt.Errorf("invalid expected status: %s", expectedStatus)
	}

	txErr := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		tag, execErr := tx.Exec(ctx, updateOperationSQL,
			op.ID,
			expectedStatus,
			op.Status,
			[]byte(op.Payload),
			nullableString(op.Result),
			op.AttemptCount,
			nullableTime(op.NextRetryAt),
			nullableString(op.LastError),
			r.timeProvider.Now().UTC(),
			nullableTime(op.CompletedAt),
		)
		if execErr != nil {
			return fmt.Errorf("update operation: %w", execErr)
		}
		if tag.RowsAffected() == 0 {
			return r.classifyGuardMiss(ctx, tx, op.ID)
		}

		return insertOutboxMessagesInTx(ctx, tx, params.Outbox)
	})
	if txErr != nil {
		if errors.Is(txErr, model.ErrOperationNotFound) || errors.Is(txErr, model.ErrConcurrentTransition) {
			return txErr
		}
		return apperrors.MapDBError(txErr)
	}
	return nil
}

// classifyGuardMiss distinguishes a missing row from a concurrent transition
// after a guarded UPDATE matched nothing.
func (r *OperationRepo) classifyGuardMiss(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM operations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check operation existence: %w", err)
	}
	if !exists {
		return model.ErrOperationNotFound
	}
	return model.ErrConcurrentTransition
}
