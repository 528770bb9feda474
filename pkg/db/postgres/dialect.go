package postgres

import (
	"fmt"
	"strconv"

	"github.com/canopy-network/flatx/pkg/db/engine"
)

// Dialect renders PostgreSQL specific SQL.
type Dialect struct{}

var columnTypes = map[engine.ColumnType]string{
	engine.TypeInt:      "INTEGER",
	engine.TypeBigInt:   "BIGINT",
	engine.TypeSmallInt: "SMALLINT",
	engine.TypeDecimal:  "NUMERIC(20,6)",
	engine.TypeVarchar:  "VARCHAR(255)",
	engine.TypeText:     "TEXT",
	engine.TypeDatetime: "TIMESTAMP",
}

// describedTypes are the information_schema.columns.data_type spellings.
var describedTypes = map[engine.ColumnType]string{
	engine.TypeInt:      "integer",
	engine.TypeBigInt:   "bigint",
	engine.TypeSmallInt: "smallint",
	engine.TypeDecimal:  "numeric",
	engine.TypeVarchar:  "character varying",
	engine.TypeText:     "text",
	engine.TypeDatetime: "timestamp without time zone",
}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) ColumnType(t engine.ColumnType) string { return columnTypes[t] }

func (Dialect) TypeMatches(t engine.ColumnType, described string) bool {
	return describedTypes[t] == described
}

func (Dialect) DescribeQuery(table string) (string, []any) {
	return `SELECT column_name::text, data_type::text
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, []any{table}
}

func (Dialect) TableExistsQuery(table string) (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1`, []any{table}
}

func (Dialect) DropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", engine.Quote(table), engine.Quote(column))
}

// DisableKeys turns WAL logging off for a staging table during bulk loads.
// Staging tables are rebuildable, so losing them on crash is acceptable.
func (Dialect) DisableKeys(table string) string {
	return "ALTER TABLE " + engine.Quote(table) + " SET UNLOGGED"
}

func (Dialect) EnableKeys(table string) string {
	return "ALTER TABLE " + engine.Quote(table) + " SET LOGGED"
}

func (Dialect) MaxParams() int { return 65000 }
