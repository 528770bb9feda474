package catalog

import (
	"context"
	"fmt"

	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/db/entities"
)

// Topology and metadata tables.
const (
	WebsiteTable   = "store_website"
	GroupTable     = "store_group"
	StoreTable     = "store"
	AttributeTable = "eav_attribute"
)

var topologyTables = []struct {
	name string
	cols []engine.ColumnDef
}{
	{WebsiteTable, []engine.ColumnDef{
		{Name: "website_id", Type: engine.TypeInt, PrimaryKey: true},
		{Name: "code", Type: engine.TypeVarchar, NotNull: true},
	}},
	{GroupTable, []engine.ColumnDef{
		{Name: "group_id", Type: engine.TypeInt, PrimaryKey: true},
		{Name: "website_id", Type: engine.TypeInt, NotNull: true},
		{Name: "name", Type: engine.TypeVarchar},
	}},
	{StoreTable, []engine.ColumnDef{
		{Name: "store_id", Type: engine.TypeInt, PrimaryKey: true},
		{Name: "code", Type: engine.TypeVarchar, NotNull: true},
		{Name: "website_id", Type: engine.TypeInt, NotNull: true},
		{Name: "group_id", Type: engine.TypeInt, NotNull: true},
		{Name: "is_active", Type: engine.TypeSmallInt, NotNull: true},
	}},
	{AttributeTable, []engine.ColumnDef{
		{Name: "attribute_id", Type: engine.TypeInt, PrimaryKey: true},
		{Name: "entity_type", Type: engine.TypeVarchar, NotNull: true},
		{Name: "attribute_code", Type: engine.TypeVarchar, NotNull: true},
		{Name: "backend_type", Type: engine.TypeVarchar, NotNull: true},
		{Name: "static_type", Type: engine.TypeVarchar},
		{Name: "is_global", Type: engine.TypeSmallInt, NotNull: true},
		{Name: "is_filterable", Type: engine.TypeSmallInt, NotNull: true},
		{Name: "used_in_listing", Type: engine.TypeSmallInt, NotNull: true},
		{Name: "used_for_sort", Type: engine.TypeSmallInt, NotNull: true},
		{Name: "is_required", Type: engine.TypeSmallInt, NotNull: true},
		{Name: "source_model", Type: engine.TypeVarchar},
		{Name: "label", Type: engine.TypeVarchar},
	}},
}

// EntityColumns are the static columns every entity table starts with.
// Additional static attributes add their own columns.
func EntityColumns(et entities.EntityType) []engine.ColumnDef {
	return []engine.ColumnDef{
		{Name: et.Definition().IDColumn, Type: engine.TypeInt, PrimaryKey: true},
		{Name: "attribute_set_id", Type: engine.TypeInt, NotNull: true},
		{Name: "type_id", Type: engine.TypeVarchar, NotNull: true},
		{Name: "sku", Type: engine.TypeVarchar},
		{Name: "created_at", Type: engine.TypeDatetime},
		{Name: "updated_at", Type: engine.TypeDatetime},
	}
}

// Install creates the topology, metadata, and per-entity-type source tables.
// It is idempotent. Production catalogs are migrated by their own tooling;
// Install serves local development and tests.
func Install(ctx context.Context, ex engine.Executor, types ...entities.EntityType) error {
	for _, t := range topologyTables {
		if err := engine.CreateTable(ctx, ex, t.name, t.cols); err != nil {
			return err
		}
	}

	for _, et := range types {
		def := et.Definition()
		if err := engine.CreateTable(ctx, ex, et.EntityTableName(), EntityColumns(et)); err != nil {
			return err
		}

		for _, bt := range ValueBackends {
			ct, _ := bt.ColumnType()
			cols := []engine.ColumnDef{
				{Name: def.IDColumn, Type: engine.TypeInt, PrimaryKey: true},
				{Name: "attribute_id", Type: engine.TypeInt, PrimaryKey: true},
				{Name: "store_id", Type: engine.TypeInt, PrimaryKey: true},
				{Name: "value", Type: ct},
			}
			if err := engine.CreateTable(ctx, ex, et.ValueTableName(string(bt)), cols); err != nil {
				return err
			}
		}

		websiteCols := []engine.ColumnDef{
			{Name: def.WebsiteEntityColumn, Type: engine.TypeInt, PrimaryKey: true},
			{Name: "website_id", Type: engine.TypeInt, PrimaryKey: true},
		}
		if err := engine.CreateTable(ctx, ex, et.WebsiteTableName(), websiteCols); err != nil {
			return err
		}
	}
	return nil
}

// AddStaticColumn adds the entity table column backing a static attribute.
func AddStaticColumn(ctx context.Context, ex engine.Executor, et entities.EntityType, code string, ct engine.ColumnType) error {
	cols, err := engine.ColumnNames(ctx, ex, et.EntityTableName())
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c == code {
			return nil
		}
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		engine.Quote(et.EntityTableName()), engine.Quote(code), engine.MustColumnType(ex.Dialect(), ct))
	if _, err := ex.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("add static column %s: %w", code, err)
	}
	return nil
}
