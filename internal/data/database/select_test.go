package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelect_Basic(t *testing.T) {
	query, args := NewSelect("operations").Build()

	assert.Equal(t, `SELECT * FROM "operations"`, query)
	assert.Empty(t, args)
}

func TestSelect_Columns(t *testing.T) {
	query, args := NewSelect("operations").
		Columns("id", "kind", "status").
		Build()

	assert.Equal(t, `SELECT "id", "kind", "status" FROM "operations"`, query)
	assert.Empty(t, args)
}

func TestSelect_QualifiedIdentifiers(t *testing.T) {
	query, _ := NewSelect("operations").
		Columns("operations.id", "operations.status").
		OrderBy("operations.created_at", "asc").
		Build()

	assert.Equal(t,
		`SELECT "operations"."id", "operations"."status" FROM "operations" ORDER BY "operations"."created_at" ASC`,
		query)
}

func TestSelect_IdentifierQuotingBlocksInjection(t *testing.T) {
	query, _ := NewSelect("operations").
		Columns(`id"; DROP TABLE operations; --`).
		Build()

	// The malicious name survives only as a quoted identifier.
	assert.Equal(t, `SELECT "id""; DROP TABLE operations; --" FROM "operations"`, query)
}

func TestSelect_Comparisons(t *testing.T) {
	query, args := NewSelect("operations").
		Where(Cond("status", Equal, "queued")).
		Where(Cond("attempt_count", LessThan, 3)).
		Where(Cond("created_at", GreaterThanOrEqual, "2025-06-01")).
		Build()

	assert.Equal(t,
		`SELECT * FROM "operations" WHERE "status" = $1 AND "attempt_count" < $2 AND "created_at" >= $3`,
		query)
	assert.Equal(t, []any{"queued", 3, "2025-06-01"}, args)
}

func TestSelect_In(t *testing.T) {
	query, args := NewSelect("operations").
		Where(Cond("status", In, []string{"queued", "processing"})).
		Build()

	assert.Equal(t, `SELECT * FROM "operations" WHERE "status" IN ($1, $2)`, query)
	assert.Equal(t, []any{"queued", "processing"}, args)
}

func TestSelect_InEmptySliceDropsPredicate(t *testing.T) {
	query, args := NewSelect("operations").
		Where(Cond("status", In, []string{})).
		Where(Cond("kind", Equal, "external_download")).
		Build()

	assert.Equal(t, `SELECT * FROM "operations" WHERE "kind" = $1`, query)
	assert.Equal(t, []any{"external_download"}, args)
}

func TestSelect_RawRenumbering(t *testing.T) {
	query, args := NewSelect("operations").
		Where(Cond("kind", Equal, "upload_session")).
		Where(Raw("payload->>'tenant_id' = $1", "acme")).
		Build()

	assert.Equal(t,
		`SELECT * FROM "operations" WHERE "kind" = $1 AND payload->>'tenant_id' = $2`,
		query)
	assert.Equal(t, []any{"upload_session", "acme"}, args)
}

func TestSelect_RawRepeatedPlaceholderBindsOnce(t *testing.T) {
	query, args := NewSelect("operations").
		Where(Raw("(last_error = $1 OR result = $1)", "oops")).
		Build()

	assert.Equal(t, `SELECT * FROM "operations" WHERE (last_error = $1 OR result = $1)`, query)
	assert.Equal(t, []any{"oops"}, args)
}

func TestSelect_RawOutOfRangePlaceholderLeftAlone(t *testing.T) {
	query, args := NewSelect("operations").
		Where(Raw("status = $2", "only-one")).
		Build()

	assert.Equal(t, `SELECT * FROM "operations" WHERE status = $2`, query)
	assert.Empty(t, args)
}

func TestSelect_Pagination(t *testing.T) {
	query, args := NewSelect("operations").
		Where(Cond("status", Equal, "queued")).
		OrderBy("created_at", "DESC").
		Limit(10).
		Offset(20).
		Build()

	assert.Equal(t,
		`SELECT * FROM "operations" WHERE "status" = $1 ORDER BY "created_at" DESC LIMIT $2 OFFSET $3`,
		query)
	assert.Equal(t, []any{"queued", 10, 20}, args)
}

func TestSelect_ZeroLimitAndOffsetEmitted(t *testing.T) {
	query, args := NewSelect("operations").
		Limit(0).
		Offset(0).
		Build()

	assert.Equal(t, `SELECT * FROM "operations" LIMIT $1 OFFSET $2`, query)
	assert.Equal(t, []any{0, 0}, args)
}

func TestSelect_NegativeLimitAndOffsetIgnored(t *testing.T) {
	query, args := NewSelect("operations").
		Limit(-1).
		Offset(-5).
		Build()

	assert.Equal(t, `SELECT * FROM "operations"`, query)
	assert.Empty(t, args)
}

func TestSelect_InvalidOrderDirectionDropped(t *testing.T) {
	query, _ := NewSelect("operations").
		OrderBy("created_at", "SIDEWAYS; DROP TABLE operations").
		Build()

	assert.Equal(t, `SELECT * FROM "operations" ORDER BY "created_at"`, query)
}

func TestSelect_CountOnly(t *testing.T) {
	query, args := NewSelect("operations").
		Columns("id", "kind").
		Where(Cond("status", Equal, "failed")).
		OrderBy("created_at", "DESC").
		Limit(10).
		CountOnly().
		Build()

	// Count suppresses the column list, ordering, and pagination.
	assert.Equal(t, `SELECT COUNT(*) FROM "operations" WHERE "status" = $1`, query)
	assert.Equal(t, []any{"failed"}, args)
}

func TestSelect_UnknownOperatorDropped(t *testing.T) {
	query, args := NewSelect("operations").
		Where(Cond("status", Op("LIKE"), "%x%")).
		Where(Cond("", Equal, "orphan")).
		Build()

	assert.Equal(t, `SELECT * FROM "operations"`, query)
	assert.Empty(t, args)
}
