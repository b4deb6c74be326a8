package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Patterns for the Detail field Postgres attaches to constraint violations.
var (
	detailKey        = regexp.MustCompile(`Key \(([^)]+)\)=`)
	detailReferenced = regexp.MustCompile(`is still referenced from table "?([^"]+)"?`)
	detailMissing    = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// MapDBError translates a database error into an AppError: pgx.ErrNoRows
// becomes not_found, constraint violations become conflict, foreign_key, or
// validation, and context errors become timeout or canceled. Errors that are
// not database errors pass through unchanged.
func MapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: CodeTimeout, Message: "database request timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: CodeCanceled, Message: "database request canceled", Cause: err}
	case errors.Is(err, pgx.ErrNoRows):
		return &AppError{Code: CodeNotFound, Message: "resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:    CodeConflict,
			Message: "value already exists",
			Field:   violatedColumn(pgErr),
			Cause:   pgErr,
		}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{
			Code:    CodeForeignKey,
			Message: referenceMessage(pgErr),
			Cause:   pgErr,
		}
	case pgerrcode.NotNullViolation:
		return &AppError{
			Code:    CodeValidation,
			Message: "required field is missing",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	case pgerrcode.CheckViolation:
		return &AppError{
			Code:    CodeValidation,
			Message: "field has an invalid value",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	default:
		return &AppError{Code: CodeInternal, Message: "database error", Cause: pgErr}
	}
}

// IsUniqueViolation reports whether err is a unique violation on the named
// constraint. An empty constraint matches any unique violation. The
// idempotent-create path uses this to detect key collisions under races.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// violatedColumn recovers the column behind a unique violation, trying the
// error metadata, then the Detail message, then the constraint name.
func violatedColumn(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := detailKey.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return columnFromConstraint(pgErr.ConstraintName)
}

// referenceMessage phrases a foreign-key violation from the Detail text,
// distinguishing a still-referenced parent from a missing one.
func referenceMessage(pgErr *pgconn.PgError) string {
	if m := detailReferenced.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "cannot delete: row is still referenced from " + rowLabel(m[1])
	}
	if m := detailMissing.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "referenced " + rowLabel(m[1]) + " row does not exist"
	}
	if pgErr.TableName != "" {
		return "operation blocked by a reference from " + rowLabel(pgErr.TableName)
	}
	return "operation blocked by a row reference"
}

// columnFromConstraint peels the table prefix and index suffix off a
// constraint name, e.g. operations_idempotency_key_uq yields
// idempotency_key. Returns "" when the name does not follow that shape.
func columnFromConstraint(name string) string {
	for _, table := range []string{"operations_", "outbox_messages_"} {
		rest, ok := strings.CutPrefix(name, table)
		if !ok {
			continue
		}
		for _, suffix := range []string{"_key", "_uq", "_unique", "_idx"} {
			if col, ok := strings.CutSuffix(rest, suffix); ok {
				return col
			}
		}
	}
	return ""
}

func rowLabel(table string) string {
	switch strings.ToLower(strings.TrimSpace(table)) {
	case "operations":
		return "operation"
	case "outbox_messages":
		return "outbox message"
	default:
		return strings.ReplaceAll(strings.ToLower(table), "_", " ")
	}
}
