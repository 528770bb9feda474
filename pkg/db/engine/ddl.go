package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Column is one row of a describe-table result.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ColumnDef is a desired column of a managed table.
type ColumnDef struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
	NotNull    bool
}

// Names returns the column names of defs in order.
func Names(defs []ColumnDef) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

// SchemaChanges reports what SyncColumns did to a table.
type SchemaChanges struct {
	Created bool
	Added   []string
	Dropped []string
	Retyped []string
}

// Empty is true when the table already matched.
func (c SchemaChanges) Empty() bool {
	return !c.Created && len(c.Added) == 0 && len(c.Dropped) == 0 && len(c.Retyped) == 0
}

// Describe returns the columns of table in ordinal order; a missing table
// yields an empty slice.
func Describe(ctx context.Context, ex Executor, table string) ([]Column, error) {
	query, args := ex.Dialect().DescribeQuery(table)
	rows, err := ex.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("describe %s: scan: %w", table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	return cols, nil
}

// ColumnNames is Describe reduced to names.
func ColumnNames(ctx context.Context, ex Executor, table string) ([]string, error) {
	cols, err := Describe(ctx, ex, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

// TableExists checks the catalog of the connected database.
func TableExists(ctx context.Context, ex Executor, table string) (bool, error) {
	query, args := ex.Dialect().TableExistsQuery(table)
	var n int64
	if err := QueryScalar(ctx, ex, &n, query, args...); err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// CreateTableSQL renders CREATE TABLE IF NOT EXISTS for cols.
func CreateTableSQL(d Dialect, table string, cols []ColumnDef) string {
	var (
		defs []string
		pk   []string
	)
	for _, c := range cols {
		def := Quote(c.Name) + " " + MustColumnType(d, c.Type)
		if c.NotNull || c.PrimaryKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	if len(pk) > 0 {
		defs = append(defs, "PRIMARY KEY ("+QuoteAll(pk)+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", Quote(table), strings.Join(defs, ",\n\t"))
}

// CreateTable creates table if it does not exist yet.
func CreateTable(ctx context.Context, ex Executor, table string, cols []ColumnDef) error {
	if _, err := ex.Exec(ctx, CreateTableSQL(ex.Dialect(), table, cols)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// DropTable drops table if present.
func DropTable(ctx context.Context, ex Executor, table string) error {
	if _, err := ex.Exec(ctx, "DROP TABLE IF EXISTS "+Quote(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

// ClearTable deletes every row of table and returns how many were removed.
func ClearTable(ctx context.Context, ex Executor, table string) (int64, error) {
	n, err := ex.Exec(ctx, "DELETE FROM "+Quote(table))
	if err != nil {
		return 0, fmt.Errorf("clear table %s: %w", table, err)
	}
	return n, nil
}

// DiffColumns compares a described table with the desired definition.
// Primary key columns are never retyped.
func DiffColumns(d Dialect, existing []Column, desired []ColumnDef) (add []ColumnDef, drop []string, retype []ColumnDef) {
	have := make(map[string]Column, len(existing))
	for _, c := range existing {
		have[c.Name] = c
	}
	want := make(map[string]ColumnDef, len(desired))
	for _, def := range desired {
		want[def.Name] = def
		cur, ok := have[def.Name]
		switch {
		case !ok:
			add = append(add, def)
		case !def.PrimaryKey && !d.TypeMatches(def.Type, cur.Type):
			retype = append(retype, def)
		}
	}
	for _, c := range existing {
		if _, ok := want[c.Name]; !ok {
			drop = append(drop, c.Name)
		}
	}
	return add, drop, retype
}

// SyncColumns makes table's column set equal to cols: the table is created
// when missing, unknown columns are dropped, missing ones added, and columns
// whose type changed are dropped and re-added empty.
func SyncColumns(ctx context.Context, ex Executor, table string, cols []ColumnDef) (SchemaChanges, error) {
	var changes SchemaChanges

	exists, err := TableExists(ctx, ex, table)
	if err != nil {
		return changes, err
	}
	if !exists {
		if err := CreateTable(ctx, ex, table, cols); err != nil {
			return changes, err
		}
		changes.Created = true
		return changes, nil
	}

	existing, err := Describe(ctx, ex, table)
	if err != nil {
		return changes, err
	}

	d := ex.Dialect()
	add, drop, retype := DiffColumns(d, existing, cols)

	for _, name := range drop {
		if _, err := ex.Exec(ctx, d.DropColumn(table, name)); err != nil {
			return changes, fmt.Errorf("drop column %s.%s: %w", table, name, err)
		}
		changes.Dropped = append(changes.Dropped, name)
	}
	for _, def := range retype {
		if _, err := ex.Exec(ctx, d.DropColumn(table, def.Name)); err != nil {
			return changes, fmt.Errorf("retype column %s.%s: %w", table, def.Name, err)
		}
		add = append(add, def)
		changes.Retyped = append(changes.Retyped, def.Name)
	}
	for _, def := range add {
		// ADD COLUMN cannot carry NOT NULL without a default; flat columns are nullable.
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", Quote(table), Quote(def.Name), MustColumnType(d, def.Type))
		if _, err := ex.Exec(ctx, stmt); err != nil {
			return changes, fmt.Errorf("add column %s.%s: %w", table, def.Name, err)
		}
		if !slices.Contains(changes.Retyped, def.Name) {
			changes.Added = append(changes.Added, def.Name)
		}
	}
	return changes, nil
}

// SameColumns reports whether the described table has exactly the desired
// column names, ignoring order.
func SameColumns(existing []Column, desired []ColumnDef) bool {
	if len(existing) != len(desired) {
		return false
	}
	want := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		want[d.Name] = struct{}{}
	}
	for _, c := range existing {
		if _, ok := want[c.Name]; !ok {
			return false
		}
	}
	return true
}
