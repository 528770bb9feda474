package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/db/entities"
)

// Topology answers store/website/group membership questions.
type Topology interface {
	ActiveStores(ctx context.Context) ([]Store, error)
	Store(ctx context.Context, id StoreID) (Store, error)
	StoresByWebsite(ctx context.Context, id WebsiteID) ([]Store, error)
	StoresByGroup(ctx context.Context, id GroupID) ([]Store, error)
}

// AttributeSource is the attribute metadata accessor.
type AttributeSource interface {
	Attributes(ctx context.Context, et entities.EntityType) ([]Attribute, error)
	Attribute(ctx context.Context, et entities.EntityType, code string) (Attribute, error)
}

// SQLTopology reads the store tables created by Install.
type SQLTopology struct {
	DB engine.Executor
}

const storeColumns = `"store_id", "code", "website_id", "group_id", "is_active"`

// ActiveStores returns every active store except the admin store, ordered by id.
func (t SQLTopology) ActiveStores(ctx context.Context) ([]Store, error) {
	return t.query(ctx, `WHERE "store_id" > 0 AND "is_active" = 1`)
}

// Store returns one store, active or not.
func (t SQLTopology) Store(ctx context.Context, id StoreID) (Store, error) {
	p := engine.NewParams(t.DB.Dialect())
	stores, err := t.query(ctx, `WHERE "store_id" = `+p.Add(int64(id)), p.Args()...)
	if err != nil {
		return Store{}, err
	}
	if len(stores) == 0 {
		return Store{}, fmt.Errorf("%w: %d", ErrStoreNotFound, id)
	}
	return stores[0], nil
}

// StoresByWebsite returns the active stores of a website.
func (t SQLTopology) StoresByWebsite(ctx context.Context, id WebsiteID) ([]Store, error) {
	p := engine.NewParams(t.DB.Dialect())
	return t.query(ctx, `WHERE "store_id" > 0 AND "is_active" = 1 AND "website_id" = `+p.Add(int64(id)), p.Args()...)
}

// StoresByGroup returns the active stores of a store group.
func (t SQLTopology) StoresByGroup(ctx context.Context, id GroupID) ([]Store, error) {
	p := engine.NewParams(t.DB.Dialect())
	return t.query(ctx, `WHERE "store_id" > 0 AND "is_active" = 1 AND "group_id" = `+p.Add(int64(id)), p.Args()...)
}

func (t SQLTopology) query(ctx context.Context, where string, args ...any) ([]Store, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY "store_id"`, storeColumns, engine.Quote(StoreTable), where)
	rows, err := t.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query stores: %w", err)
	}
	defer rows.Close()

	var out []Store
	for rows.Next() {
		var (
			id, website, group, active int64
			s                          Store
		)
		if err := rows.Scan(&id, &s.Code, &website, &group, &active); err != nil {
			return nil, fmt.Errorf("scan store: %w", err)
		}
		s.ID, s.WebsiteID, s.GroupID, s.IsActive = StoreID(id), WebsiteID(website), GroupID(group), active == 1
		out = append(out, s)
	}
	return out, rows.Err()
}

// SQLAttributes reads attribute metadata from the eav_attribute table.
type SQLAttributes struct {
	DB engine.Executor
}

const attributeColumns = `"attribute_id", "entity_type", "attribute_code", "backend_type", "static_type",
	"is_global", "is_filterable", "used_in_listing", "used_for_sort", "is_required", "source_model", "label"`

// Attributes returns every attribute of et ordered by id.
func (s SQLAttributes) Attributes(ctx context.Context, et entities.EntityType) ([]Attribute, error) {
	p := engine.NewParams(s.DB.Dialect())
	return s.query(ctx, `WHERE "entity_type" = `+p.Add(string(et)), p.Args()...)
}

// Attribute returns one attribute by code.
func (s SQLAttributes) Attribute(ctx context.Context, et entities.EntityType, code string) (Attribute, error) {
	p := engine.NewParams(s.DB.Dialect())
	where := fmt.Sprintf(`WHERE "entity_type" = %s AND "attribute_code" = %s`, p.Add(string(et)), p.Add(code))
	attrs, err := s.query(ctx, where, p.Args()...)
	if err != nil {
		return Attribute{}, err
	}
	if len(attrs) == 0 {
		return Attribute{}, fmt.Errorf("%w: %s.%s", ErrAttributeNotFound, et, code)
	}
	return attrs[0], nil
}

func (s SQLAttributes) query(ctx context.Context, where string, args ...any) ([]Attribute, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY "attribute_id"`, attributeColumns, engine.Quote(AttributeTable), where)
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	var out []Attribute
	for rows.Next() {
		var (
			a                                                   Attribute
			id, scope, filterable, listing, sort, required      int64
			entityType, backend                                 string
			staticType, sourceModel, label                      sql.NullString
		)
		if err := rows.Scan(&id, &entityType, &a.Code, &backend, &staticType,
			&scope, &filterable, &listing, &sort, &required, &sourceModel, &label); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		a.ID = uint32(id)
		a.EntityType = entities.EntityType(entityType)
		a.BackendType = BackendType(backend)
		a.StaticType = engine.ColumnType(staticType.String)
		a.Scope = Scope(scope)
		a.IsFilterable = filterable > 0
		a.UsedInListing = listing == 1
		a.UsedForSort = sort == 1
		a.IsRequired = required == 1
		a.SourceModel = sourceModel.String
		a.Label = label.String
		out = append(out, a)
	}
	return out, rows.Err()
}
