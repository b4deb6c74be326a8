package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ryuqq/fileflow/internal/data/pgxutil"
	"github.com/ryuqq/fileflow/internal/domain/model"
)

// ErrOutboxMessageNotFound is returned when an outbox message does not exist
// or is no longer in a state the mutation applies to.
var ErrOutboxMessageNotFound = errors.New("outbox message not found")

// OutboxRepoConfig holds configuration options for the outbox repository.
type OutboxRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// OutboxRepo provides database operations for the outbox_messages table.
type OutboxRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewOutboxRepo creates a new OutboxRepo instance with the given database connection and configuration.
func NewOutboxRepo(db *sql.DB, cfg OutboxRepoConfig) *OutboxRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &OutboxRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const outboxColumns = `
  id,
  operation_id,
  event_type,
  destination,
  payload,
  status,
  retry_count,
  error_message,
  created_at,
  available_at,
  processed_at
`

type outboxRowData struct {
	payload      []byte
	errorMessage sql.NullString
	processedAt  sql.NullTime
}

func scanOutboxFromRow(scanner operationRowScanner) (*model.OutboxMessage, error) {
	msg := &model.OutboxMessage{}
	var data outboxRowData
	if err := scanner.Scan(
		&msg.ID,
		&msg.OperationID,
		&msg.EventType,
		&msg.Destination,
		&data.payload,
		&msg.Status,
		&msg.RetryCount,
		&data.errorMessage,
		&msg.CreatedAt,
		&msg.AvailableAt,
		&data.processedAt,
	); err != nil {
		return nil, err
	}

	msg.Payload = cloneJSON(data.payload)
	msg.ErrorMessage = cloneNullableString(data.errorMessage)
	msg.ProcessedAt = cloneNullableTime(data.processedAt)
	return msg, nil
}

func collectOutboxFromRows(rows pgx.Rows) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	for rows.Next() {
		msg, err := scanOutboxFromRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *OutboxRepo) query(ctx context.Context, sqlText string, args ...any) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, sqlText, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		messages, err = collectOutboxFromRows(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// FindPending returns deliverable pending messages oldest-first, up to limit.
// Rows whose available_at is still in the future are deferred requeues and
// stay invisible until their backoff window ends.
func (r *OutboxRepo) FindPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	messages, err := r.query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_messages
		WHERE status = 'pending'
		  AND available_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`, r.timeProvider.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find pending outbox messages: %w", err)
	}
	return messages, nil
}

// FindRetryable returns failed messages that still have retry budget and
// whose last attempt is older than retryAfter.
func (r *OutboxRepo) FindRetryable(ctx context.Context, maxRetryCount int, retryAfter time.Time, limit int) ([]*model.OutboxMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	messages, err := r.query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_messages
		WHERE status = 'failed'
		  AND retry_count < $1
		  AND (processed_at IS NULL OR processed_at < $2)
		ORDER BY created_at ASC
		LIMIT $3
	`, maxRetryCount, retryAfter.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find retryable outbox messages: %w", err)
	}
	return messages, nil
}

// FindStalePending returns pending messages created before the threshold.
// Pending rows that old mean a publisher crashed between pickup and send.
func (r *OutboxRepo) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.OutboxMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	messages, err := r.query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_messages
		WHERE status = 'pending'
		  AND created_at < $1
		  AND available_at <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, olderThan.UTC(), r.timeProvider.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find stale pending outbox messages: %w", err)
	}
	return messages, nil
}

// MarkSent marks a message as delivered to the broker.
func (r *OutboxRepo) MarkSent(ctx context.Context, id string, processedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return ErrMessageIDRequired
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'sent',
		    error_message = NULL,
		    processed_at = $2
		WHERE id = $1 AND status IN ('pending', 'failed')
	`, id, processedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message sent: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark sent rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrOutboxMessageNotFound
	}
	return nil
}

// MarkFailed records a publish failure, increments the retry counter, and
// stamps processed_at so FindRetryable can apply the backoff threshold.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMessageIDRequired
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'failed',
		    retry_count = retry_count + 1,
		    error_message = $2,
		    processed_at = $3
		WHERE id = $1 AND status IN ('pending', 'failed')
	`, id, errMsg, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message failed: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrOutboxMessageNotFound
	}
	return nil
}
