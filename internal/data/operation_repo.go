package data

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ryuqq/fileflow/internal/domain/model"
)

// OperationRepoConfig holds configuration options for the operation repository.
type OperationRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// OperationRepo provides database operations for the operations table.
type OperationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewOperationRepo creates a new OperationRepo instance with the given database connection and configuration.
func NewOperationRepo(db *sql.DB, cfg OperationRepoConfig) *OperationRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &OperationRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const operationColumns = `
  id,
  kind,
  status,
  idempotency_key,
  payload,
  result,
  attempt_count,
  max_attempts,
  next_retry_at,
  last_error,
  deadline_at,
  created_at,
  updated_at,
  completed_at
`

type operationRowScanner interface {
	Scan(dest ...any) error
}

type operationRowData struct {
	payload                            []byte
	idempotencyKey, result, lastError  sql.NullString
	nextRetryAt, deadlineAt, completed sql.NullTime
}

func (d *operationRowData) scanInto(scanner operationRowScanner, op *model.Operation) error {
	return scanner.Scan(
		&op.ID,
		&op.Kind,
		&op.Status,
		&d.idempotencyKey,
		&d.payload,
		&d.result,
		&op.AttemptCount,
		&op.MaxAttempts,
		&d.nextRetryAt,
		&d.lastError,
		&d.deadlineAt,
		&op.CreatedAt,
		&op.UpdatedAt,
		&d.completed,
	)
}

func (d *operationRowData) apply(op *model.Operation) {
	op.Payload = cloneJSON(d.payload)
	op.IdempotencyKey = cloneNullableString(d.idempotencyKey)
	op.Result = cloneNullableString(d.result)
	op.LastError = cloneNullableString(d.lastError)
	op.NextRetryAt = cloneNullableTime(d.nextRetryAt)
	op.DeadlineAt = cloneNullableTime(d.deadlineAt)
	op.CompletedAt = cloneNullableTime(d.completed)
}

func scanOperationFromRow(scanner operationRowScanner) (*model.Operation, error) {
	op := &model.Operation{}
	var data operationRowData
	if err := data.scanInto(scanner, op); err != nil {
		return nil, err
	}

	data.apply(op)
	return op, nil
}

// collectOperationFromRows collects a single operation from pgx rows.
func collectOperationFromRows(rows pgx.Rows) (*model.Operation, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	op, err := scanOperationFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return op, nil
}

// collectOperationsFromRows collects all operations from pgx rows.
func collectOperationsFromRows(rows pgx.Rows) ([]*model.Operation, error) {
	var ops []*model.Operation
	for rows.Next() {
		op, err := scanOperationFromRow(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
