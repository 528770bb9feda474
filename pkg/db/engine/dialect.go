package engine

import (
	"fmt"
	"strings"
)

// ColumnType is the portable type vocabulary of flat and catalog tables.
type ColumnType string

const (
	TypeInt      ColumnType = "int"
	TypeBigInt   ColumnType = "bigint"
	TypeSmallInt ColumnType = "smallint"
	TypeDecimal  ColumnType = "decimal"
	TypeVarchar  ColumnType = "varchar"
	TypeText     ColumnType = "text"
	TypeDatetime ColumnType = "datetime"
)

// Valid reports whether t is one of the known column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeInt, TypeBigInt, TypeSmallInt, TypeDecimal, TypeVarchar, TypeText, TypeDatetime:
		return true
	}
	return false
}

// Dialect isolates the SQL differences between supported engines. Everything
// else (INSERT ... SELECT, ON CONFLICT upserts, correlated UPDATE subqueries,
// ALTER TABLE ADD COLUMN) is written once in portable SQL.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// ColumnType returns the DDL type for t.
	ColumnType(t ColumnType) string
	// TypeMatches reports whether a type returned by DescribeQuery is what
	// ColumnType(t) creates.
	TypeMatches(t ColumnType, described string) bool
	// DescribeQuery returns a query yielding (name, type) rows in ordinal order.
	DescribeQuery(table string) (string, []any)
	// TableExistsQuery returns a query yielding one integer count.
	TableExistsQuery(table string) (string, []any)
	// DropColumn returns the statement that removes column from table.
	DropColumn(table, column string) string
	// DisableKeys and EnableKeys return bulk-load hints; empty means unsupported.
	DisableKeys(table string) string
	EnableKeys(table string) string
	// MaxParams is the largest number of bind arguments in one statement.
	MaxParams() int
}

// Quote quotes an identifier with ANSI double quotes, which both Postgres and
// SQLite accept.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteAll quotes every identifier and joins them with ", ".
func QuoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = Quote(id)
	}
	return strings.Join(quoted, ", ")
}

// Params accumulates bind arguments and hands out dialect placeholders.
type Params struct {
	d    Dialect
	args []any
}

// NewParams returns an empty argument list for d.
func NewParams(d Dialect) *Params {
	return &Params{d: d}
}

// Add appends v and returns its placeholder.
func (p *Params) Add(v any) string {
	p.args = append(p.args, v)
	return p.d.Placeholder(len(p.args))
}

// List appends every value and returns "ph1, ph2, ...".
func List[T any](p *Params, values []T) string {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = p.Add(v)
	}
	return strings.Join(marks, ", ")
}

// Args returns the accumulated arguments.
func (p *Params) Args() []any {
	return p.args
}

// Len returns how many arguments have been added.
func (p *Params) Len() int {
	return len(p.args)
}

// MustColumnType panics on an unknown type; used when rendering static DDL.
func MustColumnType(d Dialect, t ColumnType) string {
	if !t.Valid() {
		panic(fmt.Sprintf("engine: unknown column type %q", t))
	}
	return d.ColumnType(t)
}
