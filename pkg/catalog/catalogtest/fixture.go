// Package catalogtest builds small normalized catalogs for tests.
package catalogtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/db/entities"
	"github.com/canopy-network/flatx/pkg/utils"
)

// Fixture writes catalog rows through a real engine.Executor.
type Fixture struct {
	t     testing.TB
	ctx   context.Context
	DB    engine.Executor
	Type  entities.EntityType
	attrs map[string]catalog.Attribute
}

// New installs the catalog schema for et on db.
func New(t testing.TB, db engine.Executor, et entities.EntityType) *Fixture {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, catalog.Install(ctx, db, et))
	return &Fixture{t: t, ctx: ctx, DB: db, Type: et, attrs: map[string]catalog.Attribute{}}
}

func (f *Fixture) exec(query string, args ...any) {
	f.t.Helper()
	_, err := f.DB.Exec(f.ctx, query, args...)
	require.NoError(f.t, err, query)
}

// Website adds a website.
func (f *Fixture) Website(id catalog.WebsiteID, code string) {
	f.t.Helper()
	p := engine.NewParams(f.DB.Dialect())
	f.exec(fmt.Sprintf(`INSERT INTO %s ("website_id", "code") VALUES (%s, %s)`,
		engine.Quote(catalog.WebsiteTable), p.Add(int64(id)), p.Add(code)), p.Args()...)
}

// Group adds a store group.
func (f *Fixture) Group(id catalog.GroupID, website catalog.WebsiteID) {
	f.t.Helper()
	p := engine.NewParams(f.DB.Dialect())
	f.exec(fmt.Sprintf(`INSERT INTO %s ("group_id", "website_id", "name") VALUES (%s, %s, %s)`,
		engine.Quote(catalog.GroupTable), p.Add(int64(id)), p.Add(int64(website)), p.Add(fmt.Sprintf("group %d", id))),
		p.Args()...)
}

// Store adds or replaces a store.
func (f *Fixture) Store(s catalog.Store) {
	f.t.Helper()
	p := engine.NewParams(f.DB.Dialect())
	f.exec(fmt.Sprintf(`INSERT INTO %s ("store_id", "code", "website_id", "group_id", "is_active")
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT ("store_id") DO UPDATE SET "code" = excluded."code", "website_id" = excluded."website_id",
			"group_id" = excluded."group_id", "is_active" = excluded."is_active"`,
		engine.Quote(catalog.StoreTable), p.Add(int64(s.ID)), p.Add(s.Code), p.Add(int64(s.WebsiteID)),
		p.Add(int64(s.GroupID)), p.Add(utils.BoolToInt(s.IsActive))), p.Args()...)
}

// RemoveStore deletes a store row.
func (f *Fixture) RemoveStore(id catalog.StoreID) {
	f.t.Helper()
	p := engine.NewParams(f.DB.Dialect())
	f.exec(fmt.Sprintf(`DELETE FROM %s WHERE "store_id" = %s`, engine.Quote(catalog.StoreTable), p.Add(int64(id))), p.Args()...)
}

// Attribute adds or replaces attribute metadata. Static attributes also get
// their entity table column.
func (f *Fixture) Attribute(a catalog.Attribute) catalog.Attribute {
	f.t.Helper()
	require.NotZero(f.t, a.ID, "attribute %s needs an id", a.Code)
	a.EntityType = f.Type
	if a.IsStatic() {
		require.NoError(f.t, catalog.AddStaticColumn(f.ctx, f.DB, f.Type, a.Code, a.StaticType))
	}

	p := engine.NewParams(f.DB.Dialect())
	f.exec(fmt.Sprintf(`INSERT INTO %s ("attribute_id", "entity_type", "attribute_code", "backend_type", "static_type",
			"is_global", "is_filterable", "used_in_listing", "used_for_sort", "is_required", "source_model", "label")
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT ("attribute_id") DO UPDATE SET "backend_type" = excluded."backend_type",
			"static_type" = excluded."static_type", "is_global" = excluded."is_global",
			"is_filterable" = excluded."is_filterable", "used_in_listing" = excluded."used_in_listing",
			"used_for_sort" = excluded."used_for_sort", "is_required" = excluded."is_required",
			"source_model" = excluded."source_model", "label" = excluded."label"`,
		engine.Quote(catalog.AttributeTable),
		p.Add(int64(a.ID)), p.Add(string(a.EntityType)), p.Add(a.Code), p.Add(string(a.BackendType)),
		p.Add(string(a.StaticType)), p.Add(int64(a.Scope)), p.Add(utils.BoolToInt(a.IsFilterable)),
		p.Add(utils.BoolToInt(a.UsedInListing)), p.Add(utils.BoolToInt(a.UsedForSort)),
		p.Add(utils.BoolToInt(a.IsRequired)), p.Add(a.SourceModel), p.Add(a.Label)), p.Args()...)

	f.attrs[a.Code] = a
	return a
}

// Product adds an entity row assigned to the given websites.
func (f *Fixture) Product(id uint64, sku string, websites ...catalog.WebsiteID) {
	f.t.Helper()
	def := f.Type.Definition()
	p := engine.NewParams(f.DB.Dialect())
	f.exec(fmt.Sprintf(`INSERT INTO %s (%s, "attribute_set_id", "type_id", "sku") VALUES (%s, 4, 'simple', %s)`,
		engine.Quote(f.Type.EntityTableName()), engine.Quote(def.IDColumn), p.Add(int64(id)), p.Add(sku)), p.Args()...)
	for _, w := range websites {
		f.Assign(id, w)
	}
}

// Assign adds an entity to a website.
func (f *Fixture) Assign(id uint64, website catalog.WebsiteID) {
	f.t.Helper()
	p := engine.NewParams(f.DB.Dialect())
	f.exec(fmt.Sprintf(`INSERT INTO %s (%s, "website_id") VALUES (%s, %s)`,
		engine.Quote(f.Type.WebsiteTableName()), engine.Quote(f.Type.Definition().WebsiteEntityColumn),
		p.Add(int64(id)), p.Add(int64(website))), p.Args()...)
}

// Unassign removes an entity from a website.
func (f *Fixture) Unassign(id uint64, website catalog.WebsiteID) {
	f.t.Helper()
	p := engine.NewParams(f.DB.Dialect())
	f.exec(fmt.Sprintf(`DELETE FROM %s WHERE %s = %s AND "website_id" = %s`,
		engine.Quote(f.Type.WebsiteTableName()), engine.Quote(f.Type.Definition().WebsiteEntityColumn),
		p.Add(int64(id)), p.Add(int64(website))), p.Args()...)
}

// Value sets an attribute value of an entity. Static attributes are written
// to the entity table and ignore store.
func (f *Fixture) Value(id uint64, code string, store catalog.StoreID, value any) {
	f.t.Helper()
	a, ok := f.attrs[code]
	require.True(f.t, ok, "unknown attribute %s", code)
	def := f.Type.Definition()
	p := engine.NewParams(f.DB.Dialect())

	if a.IsStatic() {
		f.exec(fmt.Sprintf(`UPDATE %s SET %s = %s WHERE %s = %s`,
			engine.Quote(f.Type.EntityTableName()), engine.Quote(code), p.Add(value),
			engine.Quote(def.IDColumn), p.Add(int64(id))), p.Args()...)
		return
	}

	f.exec(fmt.Sprintf(`INSERT INTO %s (%s, "attribute_id", "store_id", "value") VALUES (%s, %s, %s, %s)
		ON CONFLICT (%s, "attribute_id", "store_id") DO UPDATE SET "value" = excluded."value"`,
		engine.Quote(f.Type.ValueTableName(string(a.BackendType))), engine.Quote(def.IDColumn),
		p.Add(int64(id)), p.Add(int64(a.ID)), p.Add(int64(store)), p.Add(value),
		engine.Quote(def.IDColumn)), p.Args()...)
}

// Attr returns a previously added attribute.
func (f *Fixture) Attr(code string) catalog.Attribute {
	f.t.Helper()
	a, ok := f.attrs[code]
	require.True(f.t, ok, "unknown attribute %s", code)
	return a
}

// Standard attribute ids of Default.
const (
	AttrName       uint32 = 71
	AttrPrice      uint32 = 75
	AttrStatus     uint32 = 96
	AttrVisibility uint32 = 99
	AttrColor      uint32 = 93
	AttrDesc       uint32 = 72
	AttrWeight     uint32 = 80
)

// Default builds one website (1) with group 1 holding stores 1 ("default")
// and 2 ("french"), plus the attributes most tests need:
//
//	name        varchar  listing
//	description text     not eligible
//	price       decimal  listing, sort, website scope
//	status      int      system, global
//	visibility  int      system
//	color       int      filterable only
//	weight      static   decimal, system
func Default(t testing.TB, db engine.Executor) *Fixture {
	t.Helper()
	f := New(t, db, entities.Product)
	f.Store(catalog.Store{ID: catalog.AdminStoreID, Code: "admin", IsActive: true})
	f.Website(1, "base")
	f.Group(1, 1)
	f.Store(catalog.Store{ID: 1, Code: "default", WebsiteID: 1, GroupID: 1, IsActive: true})
	f.Store(catalog.Store{ID: 2, Code: "french", WebsiteID: 1, GroupID: 1, IsActive: true})

	f.Attribute(catalog.Attribute{ID: AttrName, Code: "name", BackendType: catalog.BackendVarchar, UsedInListing: true, UsedForSort: true, Label: "Name"})
	f.Attribute(catalog.Attribute{ID: AttrDesc, Code: "description", BackendType: catalog.BackendText, Label: "Description"})
	f.Attribute(catalog.Attribute{ID: AttrPrice, Code: "price", BackendType: catalog.BackendDecimal, Scope: catalog.ScopeWebsite, UsedInListing: true, UsedForSort: true, Label: "Price"})
	f.Attribute(catalog.Attribute{ID: AttrStatus, Code: "status", BackendType: catalog.BackendInt, Scope: catalog.ScopeWebsite, Label: "Status"})
	f.Attribute(catalog.Attribute{ID: AttrVisibility, Code: "visibility", BackendType: catalog.BackendInt, Label: "Visibility"})
	f.Attribute(catalog.Attribute{ID: AttrColor, Code: "color", BackendType: catalog.BackendInt, IsFilterable: true, Label: "Color"})
	f.Attribute(catalog.Attribute{ID: AttrWeight, Code: "weight", BackendType: catalog.BackendStatic, StaticType: engine.TypeDecimal, Label: "Weight"})
	return f
}
