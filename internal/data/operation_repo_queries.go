package data

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ryuqq/fileflow/internal/core"
	"github.com/ryuqq/fileflow/internal/data/database"
	"github.com/ryuqq/fileflow/internal/data/pgxutil"
	"github.com/ryuqq/fileflow/internal/domain/model"
)

const defaultListLimit = 100

// GetByID retrieves an operation by its ID.
func (r *OperationRepo) GetByID(ctx context.Context, id string) (*model.Operation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrOperationIDRequired
	}

	var op *model.Operation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+operationColumns+`
			FROM operations
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		op, err = collectOperationFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

// GetByIdempotencyKey retrieves the operation registered under the given
// idempotency key.
func (r *OperationRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.Operation, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("idempotency key is required")
	}

	var op *model.Operation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+operationColumns+`
			FROM operations
			WHERE idempotency_key = $1
		`, key)
		if err != nil {
			return err
		}
		defer rows.Close()
		op, err = collectOperationFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation by idempotency key: %w", err)
	}
	return op, nil
}

// FindStale returns operations stuck in the given statuses whose last update
// is older than the staleness threshold, oldest first. Ids are UUIDv7, so id
// order is creation order.
func (r *OperationRepo) FindStale(ctx context.Context, q core.StaleQuery) ([]*model.Operation, error) {
	if len(q.Statuses) == 0 {
		return nil, errors.New("at least one status is required")
	}
	for _, s := range q.Statuses {
		if !s.Valid() {
			return nil, fmt.Errorf("invalid status: %s", s)
		}
	}
	limit := q.BatchSize
	if limit <= 0 {
		limit = 100
	}

	statuses := make([]string, len(q.Statuses))
	for i, s := range q.Statuses {
		statuses[i] = string(s)
	}
	threshold := r.timeProvider.Now().Add(-q.StuckFor).UTC()

	var ops []*model.Operation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+operationColumns+`
			FROM operations
			WHERE status = ANY($1)
			  AND updated_at < $2
			ORDER BY id ASC
			LIMIT $3
		`, statuses, threshold, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		ops, err = collectOperationsFromRows(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find stale operations: %w", err)
	}
	return ops, nil
}

// FindExpiredSessions returns session operations still in a non-terminal
// state whose deadline has passed.
func (r *OperationRepo) FindExpiredSessions(ctx context.Context, now time.Time, batchSize int) ([]*model.Operation, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	kinds := []string{
		string(model.KindUploadSession),
		string(model.KindMultipartUploadSession),
	}

	var ops []*model.Operation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+operationColumns+`
			FROM operations
			WHERE kind = ANY($1)
			  AND status IN ('queued', 'processing')
			  AND deadline_at IS NOT NULL
			  AND deadline_at < $2
			ORDER BY deadline_at ASC
			LIMIT $3
		`, kinds, now.UTC(), batchSize)
		if err != nil {
			return err
		}
		defer rows.Close()
		ops, err = collectOperationsFromRows(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find expired sessions: %w", err)
	}
	return ops, nil
}

// List returns operations matching the query, newest first. Used by the
// operator-facing listing; all filters are optional.
func (r *OperationRepo) List(ctx context.Context, q core.ListQuery) ([]*model.Operation, error) {
	if q.Kind != "" && !q.Kind.Valid() {
		return nil, fmt.Errorf("invalid operation kind: %s", q.Kind)
	}
	for _, s := range q.Statuses {
		if !s.Valid() {
			return nil, fmt.Errorf("invalid status: %s", s)
		}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	sel := database.NewSelect("operations").
		Columns(
			"id", "kind", "status", "idempotency_key", "payload", "result",
			"attempt_count", "max_attempts", "next_retry_at", "last_error",
			"deadline_at", "created_at", "updated_at", "completed_at",
		).
		OrderBy("created_at", "DESC").
		Limit(limit)
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		sel.Where(database.Cond("status", database.In, statuses))
	}
	if q.Kind != "" {
		sel.Where(database.Cond("kind", database.Equal, string(q.Kind)))
	}
	if q.TenantID != "" {
		sel.Where(database.Raw("payload->>'tenant_id' = $1", q.TenantID))
	}
	if !q.CreatedAfter.IsZero() {
		sel.Where(database.Cond("created_at", database.GreaterThanOrEqual, q.CreatedAfter.UTC()))
	}
	if !q.CreatedBefore.IsZero() {
		sel.Where(database.Cond("created_at", database.LessThan, q.CreatedBefore.UTC()))
	}
	if q.Offset > 0 {
		sel.Offset(q.Offset)
	}

	query, args := sel.Build()

	var ops []*model.Operation
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		ops, err = collectOperationsFromRows(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}

// Stats returns counts of operations per status for the given kind.
func (r *OperationRepo) Stats(ctx context.Context, kind model.OperationKind) (*model.OperationStats, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid operation kind: %s", kind)
	}

	var s model.OperationStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'queued')     AS queued,
    count(*) FILTER (WHERE status = 'processing') AS processing,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed,
    count(*) FILTER (WHERE status = 'expired')    AS expired,
    count(*) FILTER (WHERE status = 'timeout')    AS timeout
  FROM operations
  WHERE kind = $1
  `, kind).Scan(
		&s.Queued,
		&s.Processing,
		&s.Completed,
		&s.Failed,
		&s.Expired,
		&s.Timeout,
	)
	if err != nil {
		return nil, fmt.Errorf("get operation stats: %w", err)
	}
	return &s, nil
}
