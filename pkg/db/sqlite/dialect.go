package sqlite

import (
	"fmt"
	"strings"

	"github.com/canopy-network/flatx/pkg/db/engine"
)

// Dialect renders SQLite specific SQL. SQLite keeps declared types verbatim,
// so TypeMatches compares against ColumnType output.
type Dialect struct{}

var columnTypes = map[engine.ColumnType]string{
	engine.TypeInt:      "INTEGER",
	engine.TypeBigInt:   "BIGINT",
	engine.TypeSmallInt: "SMALLINT",
	engine.TypeDecimal:  "NUMERIC(20,6)",
	engine.TypeVarchar:  "VARCHAR(255)",
	engine.TypeText:     "TEXT",
	engine.TypeDatetime: "DATETIME",
}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(t engine.ColumnType) string {
	return columnTypes[t]
}

func (Dialect) TypeMatches(t engine.ColumnType, described string) bool {
	return strings.EqualFold(strings.ReplaceAll(described, " ", ""), columnTypes[t])
}

func (Dialect) DescribeQuery(table string) (string, []any) {
	return "SELECT name, type FROM pragma_table_info(?) ORDER BY cid", []any{table}
}

func (Dialect) TableExistsQuery(table string) (string, []any) {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
}

func (Dialect) DropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", engine.Quote(table), engine.Quote(column))
}

// SQLite has no per-table key toggles.
func (Dialect) DisableKeys(string) string { return "" }

func (Dialect) EnableKeys(string) string { return "" }

// MaxParams stays below SQLITE_MAX_VARIABLE_NUMBER (32766 since 3.32).
func (Dialect) MaxParams() int { return 32000 }
