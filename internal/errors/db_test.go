package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDBErrorPassthrough(t *testing.T) {
	assert.NoError(t, MapDBError(nil))

	plain := errors.New("dial tcp: connection refused")
	assert.Same(t, plain, MapDBError(plain))
}

func TestMapDBErrorContext(t *testing.T) {
	assert.Equal(t, CodeTimeout, CodeOf(MapDBError(context.DeadlineExceeded)))
	assert.Equal(t, CodeCanceled, CodeOf(MapDBError(context.Canceled)))
	assert.Equal(t, CodeTimeout, CodeOf(MapDBError(fmt.Errorf("query: %w", context.DeadlineExceeded))))
}

func TestMapDBErrorNoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMapDBErrorUniqueViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name: "column metadata",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "operations_idempotency_key_uq",
				ColumnName:     "idempotency_key",
			},
			wantField: "idempotency_key",
		},
		{
			name: "detail message fallback",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "operations_idempotency_key_uq",
				Detail:         `Key (idempotency_key)=(upload-42) already exists.`,
			},
			wantField: "idempotency_key",
		},
		{
			name: "constraint name fallback",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "operations_idempotency_key_uq",
			},
			wantField: "idempotency_key",
		},
		{
			name: "unrecognized constraint yields no field",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "some_other_table_pkey",
			},
			wantField: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			assert.True(t, IsConflict(err))
			assert.Equal(t, tt.wantField, FieldOf(err))
			assert.ErrorIs(t, err, tt.pgErr)
		})
	}
}

func TestMapDBErrorForeignKeyViolation(t *testing.T) {
	stillReferenced := &pgconn.PgError{
		Code:   pgerrcode.ForeignKeyViolation,
		Detail: `Key (id)=(abc) is still referenced from table "outbox_messages".`,
	}
	err := MapDBError(stillReferenced)
	assert.Equal(t, CodeForeignKey, CodeOf(err))
	assert.Contains(t, err.Error(), "still referenced from outbox message")

	missingParent := &pgconn.PgError{
		Code:   pgerrcode.ForeignKeyViolation,
		Detail: `Key (operation_id)=(abc) is not present in table "operations".`,
	}
	err = MapDBError(missingParent)
	assert.Equal(t, CodeForeignKey, CodeOf(err))
	assert.Contains(t, err.Error(), "referenced operation row does not exist")

	noDetail := &pgconn.PgError{
		Code:      pgerrcode.ForeignKeyViolation,
		TableName: "outbox_messages",
	}
	err = MapDBError(noDetail)
	assert.Equal(t, CodeForeignKey, CodeOf(err))
	assert.Contains(t, err.Error(), "outbox message")
}

func TestMapDBErrorValidationViolations(t *testing.T) {
	notNull := &pgconn.PgError{
		Code:       pgerrcode.NotNullViolation,
		ColumnName: "kind",
	}
	err := MapDBError(notNull)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "kind", FieldOf(err))

	check := &pgconn.PgError{
		Code:       pgerrcode.CheckViolation,
		ColumnName: "attempt_count",
	}
	err = MapDBError(check)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "attempt_count", FieldOf(err))
}

func TestMapDBErrorUnhandledPgError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	err := MapDBError(pgErr)

	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.ErrorIs(t, err, pgErr)
}

func TestMapDBErrorWrappedPgError(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: "operations_idempotency_key_uq",
	}
	err := MapDBError(fmt.Errorf("insert operation: %w", pgErr))
	require.True(t, IsConflict(err))
}

func TestIsUniqueViolation(t *testing.T) {
	collision := &pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: "operations_idempotency_key_uq",
	}

	assert.True(t, IsUniqueViolation(collision, "operations_idempotency_key_uq"))
	assert.True(t, IsUniqueViolation(collision, ""))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", collision), "operations_idempotency_key_uq"))
	assert.False(t, IsUniqueViolation(collision, "operations_pkey"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}, ""))
	assert.False(t, IsUniqueViolation(errors.New("plain"), ""))
	assert.False(t, IsUniqueViolation(nil, ""))
}

func TestColumnFromConstraint(t *testing.T) {
	tests := []struct {
		constraint string
		want       string
	}{
		{"operations_idempotency_key_uq", "idempotency_key"},
		{"outbox_messages_event_type_idx", "event_type"},
		{"operations_kind_key", "kind"},
		{"operations_pkey", ""},
		{"unknown_table_name_uq", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, columnFromConstraint(tt.constraint), tt.constraint)
	}
}
