// Package database builds parameterized SELECT statements with
// pgx-sanitized identifiers. It covers the narrow shape the repositories
// need: flat column lists, ANDed conditions, ordering, and pagination.
package database

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Op is a SQL comparison operator usable in a Where condition.
type Op string

const (
	Equal              Op = "="
	NotEqual           Op = "!="
	LessThan           Op = "<"
	LessThanOrEqual    Op = "<="
	GreaterThan        Op = ">"
	GreaterThanOrEqual Op = ">="
	In                 Op = "IN"
)

// unset marks limit/offset as not provided; zero is a legal value for both.
const unset = -1

// Where is one predicate of the WHERE clause. Build either a column
// comparison with Cond or a raw SQL fragment with Raw.
type Where struct {
	column string
	op     Op
	value  any
	raw    string
	params []any
}

// Cond builds a sanitized column comparison. In expects a slice value and
// expands to one placeholder per element; an empty slice drops the predicate.
func Cond(column string, op Op, value any) Where {
	return Where{column: column, op: op, value: value}
}

// Raw builds a predicate from a raw SQL fragment with $1..$n placeholders
// numbered relative to the fragment. Placeholders are renumbered into the
// statement's parameter sequence at build time. The fragment itself is not
// sanitized; never interpolate caller input into it.
func Raw(expr string, params ...any) Where {
	return Where{raw: expr, params: params}
}

// Select accumulates the parts of a SELECT statement.
type Select struct {
	table     string
	columns   []string
	where     []Where
	orderBy   string
	orderDir  string
	limit     int
	offset    int
	countOnly bool
}

// NewSelect starts a statement against the given table.
func NewSelect(table string) *Select {
	return &Select{table: table, limit: unset, offset: unset}
}

// Columns sets the select list. Plain and dot-qualified names are quoted;
// without columns the statement selects *.
func (s *Select) Columns(cols ...string) *Select {
	s.columns = cols
	return s
}

// Where appends a predicate. Predicates are ANDed.
func (s *Select) Where(w Where) *Select {
	s.where = append(s.where, w)
	return s
}

// OrderBy sets the ordering column and direction (ASC or DESC; anything else
// is dropped, leaving the database default).
func (s *Select) OrderBy(column, direction string) *Select {
	s.orderBy = column
	s.orderDir = direction
	return s
}

// Limit sets the LIMIT. Negative values leave it unset; zero is emitted.
func (s *Select) Limit(n int) *Select {
	if n >= 0 {
		s.limit = n
	}
	return s
}

// Offset sets the OFFSET. Negative values leave it unset; zero is emitted.
func (s *Select) Offset(n int) *Select {
	if n >= 0 {
		s.offset = n
	}
	return s
}

// CountOnly switches the select list to COUNT(*) and suppresses ordering and
// pagination.
func (s *Select) CountOnly() *Select {
	s.countOnly = true
	return s
}

// Build renders the statement and its positional arguments.
func (s *Select) Build() (string, []any) {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	sb.WriteString(s.selectList())
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(s.table))

	var args []any
	next := 1

	if clause, whereArgs, n := renderWhere(s.where, next); clause != "" {
		sb.WriteString(" ")
		sb.WriteString(clause)
		args = append(args, whereArgs...)
		next = n
	}

	if s.countOnly {
		return sb.String(), args
	}

	if s.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(quoteIdent(s.orderBy))
		if dir := strings.ToUpper(s.orderDir); dir == "ASC" || dir == "DESC" {
			sb.WriteString(" ")
			sb.WriteString(dir)
		}
	}
	if s.limit != unset {
		fmt.Fprintf(&sb, " LIMIT $%d", next)
		args = append(args, s.limit)
		next++
	}
	if s.offset != unset {
		fmt.Fprintf(&sb, " OFFSET $%d", next)
		args = append(args, s.offset)
	}

	return sb.String(), args
}

func (s *Select) selectList() string {
	if s.countOnly {
		return "COUNT(*)"
	}
	if len(s.columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(s.columns))
	for i, col := range s.columns {
		quoted[i] = quoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}

// quoteIdent quotes a plain or dot-qualified identifier part by part.
func quoteIdent(ident string) string {
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}

func renderWhere(predicates []Where, start int) (string, []any, int) {
	clauses := make([]string, 0, len(predicates))
	var args []any
	next := start

	for _, w := range predicates {
		var clause string
		var clauseArgs []any
		if w.raw != "" {
			clause, clauseArgs, next = renderRaw(w, next)
		} else if w.op == In {
			clause, clauseArgs, next = renderIn(w, next)
		} else {
			clause, clauseArgs, next = renderComparison(w, next)
		}
		if clause == "" {
			continue
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	if len(clauses) == 0 {
		return "", nil, next
	}
	return "WHERE " + strings.Join(clauses, " AND "), args, next
}

func renderComparison(w Where, next int) (string, []any, int) {
	if w.column == "" {
		return "", nil, next
	}
	switch w.op {
	case Equal, NotEqual, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
	default:
		return "", nil, next
	}
	clause := fmt.Sprintf("%s %s $%d", quoteIdent(w.column), w.op, next)
	return clause, []any{w.value}, next + 1
}

// renderIn expands any slice value into one placeholder per element. Empty or
// non-slice values drop the predicate rather than emit invalid SQL.
func renderIn(w Where, next int) (string, []any, int) {
	if w.column == "" {
		return "", nil, next
	}
	rv := reflect.ValueOf(w.value)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return "", nil, next
	}

	placeholders := make([]string, rv.Len())
	args := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		placeholders[i] = fmt.Sprintf("$%d", next)
		args[i] = rv.Index(i).Interface()
		next++
	}
	clause := fmt.Sprintf("%s IN (%s)", quoteIdent(w.column), strings.Join(placeholders, ", "))
	return clause, args, next
}

var rawPlaceholder = regexp.MustCompile(`\$(\d+)`)

// renderRaw renumbers the fragment's $n placeholders into the statement's
// parameter sequence. A placeholder may repeat; it binds one argument.
func renderRaw(w Where, next int) (string, []any, int) {
	var args []any
	seen := make(map[int]int)

	clause := rawPlaceholder.ReplaceAllStringFunc(w.raw, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil || n < 1 || n > len(w.params) {
			return m
		}
		if _, ok := seen[n]; !ok {
			seen[n] = next
			args = append(args, w.params[n-1])
			next++
		}
		return fmt.Sprintf("$%d", seen[n])
	})

	return clause, args, next
}
