// Package entities provides type-safe constants and helpers for the entity
// types that get a flat index.
//
// This package is the single source of truth for the table names an entity
// type owns in the normalized catalog (entity table, typed value tables,
// website assignment) and in the flat index (one flat table per store).
//
// Usage Example:
//
//	for _, et := range entities.All() {
//	    table := et.FlatTableName(storeID)
//	    ...
//	}
//
//	et, err := entities.FromString("catalog_product")
//	if err != nil {
//	    return fmt.Errorf("invalid entity type: %w", err)
//	}
//
// Thread Safety:
//
//	All functions and methods in this package are safe for concurrent use.
package entities

import (
	"fmt"
	"sort"
	"strings"
)

// EntityType names an entity type of the catalog (e.g. catalog_product).
//
// EntityType values should be treated as immutable constants. Use the
// package-level constants rather than constructing values directly.
type EntityType string

const (
	// Product is the catalog product entity type.
	// Entity table: catalog_product_entity
	// Value tables: catalog_product_entity_{int,decimal,varchar,text,datetime}
	// Website table: catalog_product_website
	// Flat tables: catalog_product_flat_{storeId}
	Product EntityType = "catalog_product"
)

// Definition carries the per-type knowledge the flat indexer needs beyond
// table naming.
type Definition struct {
	// IDColumn is the primary key of the entity table and of every flat table.
	IDColumn string
	// WebsiteEntityColumn links the website assignment table to the entity.
	WebsiteEntityColumn string
	// StatusAttribute is the attribute patched by status change events.
	StatusAttribute string
	// SystemAttributes are always materialized regardless of their flags.
	SystemAttributes []string
	// DimensionAttributes depend on cross-cutting dimensions (tax class,
	// customer group) and are refreshed by UpdateEventAttributes.
	DimensionAttributes []string
}

var definitions = map[EntityType]Definition{
	Product: {
		IDColumn:            "entity_id",
		WebsiteEntityColumn: "product_id",
		StatusAttribute:     "status",
		SystemAttributes:    []string{"status", "visibility", "required_options", "tax_class_id", "weight"},
		DimensionAttributes: []string{"price", "special_price", "tax_class_id"},
	},
}

// allEntities contains the complete list of valid entity types.
//
// IMPORTANT: When adding a new constant above, you MUST also add it here and
// give it a Definition. The package panics at initialization otherwise.
var allEntities = []EntityType{
	Product,
}

var entitySet map[EntityType]bool

func init() {
	entitySet = make(map[EntityType]bool, len(allEntities))
	for _, e := range allEntities {
		entitySet[e] = true
	}

	for _, e := range allEntities {
		if e == "" {
			panic("entities: empty entity type detected in allEntities")
		}
		if strings.ContainsAny(string(e), " \"") {
			panic(fmt.Sprintf("entities: entity type %q contains whitespace or quotes", e))
		}
		def, ok := definitions[e]
		if !ok {
			panic(fmt.Sprintf("entities: entity type %q has no definition", e))
		}
		if def.IDColumn == "" || def.StatusAttribute == "" {
			panic(fmt.Sprintf("entities: entity type %q has an incomplete definition", e))
		}
	}
}

// String returns the entity type code.
func (e EntityType) String() string {
	return string(e)
}

// Definition returns the indexer-facing description of e.
func (e EntityType) Definition() Definition {
	return definitions[e]
}

// EntityTableName returns the main entity table holding static attributes.
//
//	entities.Product.EntityTableName() // "catalog_product_entity"
func (e EntityType) EntityTableName() string {
	return string(e) + "_entity"
}

// ValueTableName returns the value table for a non-static backend type.
//
//	entities.Product.ValueTableName("decimal") // "catalog_product_entity_decimal"
func (e EntityType) ValueTableName(backendType string) string {
	return e.EntityTableName() + "_" + backendType
}

// WebsiteTableName returns the entity to website assignment table.
func (e EntityType) WebsiteTableName() string {
	return string(e) + "_website"
}

// FlatTablePrefix is the flat table name without the store suffix.
func (e EntityType) FlatTablePrefix() string {
	return string(e) + "_flat"
}

// FlatTableName returns the live flat table of one store.
//
//	entities.Product.FlatTableName(1) // "catalog_product_flat_1"
func (e EntityType) FlatTableName(storeID uint32) string {
	return fmt.Sprintf("%s_%d", e.FlatTablePrefix(), storeID)
}

// FlagCode is the build-state flag record key of this entity type's indexer.
func (e EntityType) FlagCode() string {
	return string(e) + "_flat"
}

// IsValid returns true if this entity type is registered.
func (e EntityType) IsValid() bool {
	return entitySet[e]
}

// MarshalText implements encoding.TextMarshaler.
func (e EntityType) MarshalText() ([]byte, error) {
	return []byte(e), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and validates the value.
func (e *EntityType) UnmarshalText(text []byte) error {
	et := EntityType(text)
	if !et.IsValid() {
		return fmt.Errorf("invalid entity type: %q", text)
	}
	*e = et
	return nil
}

// FromString converts a string to an EntityType and validates it.
func FromString(s string) (EntityType, error) {
	et := EntityType(s)
	if !et.IsValid() {
		return "", fmt.Errorf("unknown entity type %q, valid entity types: %s", s, validEntitiesString())
	}
	return et, nil
}

// All returns a copy of every registered entity type.
func All() []EntityType {
	result := make([]EntityType, len(allEntities))
	copy(result, allEntities)
	return result
}

// AllStrings returns all entity type codes as strings.
func AllStrings() []string {
	result := make([]string, len(allEntities))
	for i, e := range allEntities {
		result[i] = e.String()
	}
	return result
}

func validEntitiesString() string {
	names := AllStrings()
	sort.Strings(names)
	return strings.Join(names, ", ")
}
