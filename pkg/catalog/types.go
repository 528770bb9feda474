// Package catalog describes the normalized entity-attribute-value source the
// flat index is derived from: store topology, attribute metadata, and the
// table layout of entities and their typed values.
package catalog

import (
	"errors"
	"fmt"

	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/db/entities"
)

// AdminStoreID holds default (store-independent) attribute values.
const AdminStoreID StoreID = 0

var (
	ErrStoreNotFound     = errors.New("catalog: store not found")
	ErrAttributeNotFound = errors.New("catalog: attribute not found")
)

type (
	StoreID   uint32
	WebsiteID uint32
	GroupID   uint32
)

// Store is a storefront view; every store belongs to one group and one website.
type Store struct {
	ID        StoreID   `json:"storeId"`
	Code      string    `json:"code"`
	WebsiteID WebsiteID `json:"websiteId"`
	GroupID   GroupID   `json:"groupId"`
	IsActive  bool      `json:"isActive"`
}

// BackendType is where an attribute's values live.
type BackendType string

const (
	BackendStatic   BackendType = "static"
	BackendInt      BackendType = "int"
	BackendDecimal  BackendType = "decimal"
	BackendVarchar  BackendType = "varchar"
	BackendText     BackendType = "text"
	BackendDatetime BackendType = "datetime"
)

// ValueBackends are the backend types stored in per-type value tables.
var ValueBackends = []BackendType{BackendInt, BackendDecimal, BackendVarchar, BackendText, BackendDatetime}

// ColumnType maps a non-static backend to its column type.
func (b BackendType) ColumnType() (engine.ColumnType, error) {
	switch b {
	case BackendInt:
		return engine.TypeInt, nil
	case BackendDecimal:
		return engine.TypeDecimal, nil
	case BackendVarchar:
		return engine.TypeVarchar, nil
	case BackendText:
		return engine.TypeText, nil
	case BackendDatetime:
		return engine.TypeDatetime, nil
	}
	return "", fmt.Errorf("backend %q has no value table", b)
}

// Scope controls which store values an attribute may have.
type Scope int

const (
	ScopeStore   Scope = 0
	ScopeGlobal  Scope = 1
	ScopeWebsite Scope = 2
)

// Attribute is one attribute metadata snapshot.
type Attribute struct {
	ID            uint32              `json:"attributeId"`
	EntityType    entities.EntityType `json:"entityType"`
	Code          string              `json:"code"`
	BackendType   BackendType         `json:"backendType"`
	StaticType    engine.ColumnType   `json:"staticType,omitempty"`
	Scope         Scope               `json:"scope"`
	IsFilterable  bool                `json:"isFilterable"`
	UsedInListing bool                `json:"usedInListing"`
	UsedForSort   bool                `json:"usedForSort"`
	IsRequired    bool                `json:"isRequired"`
	SourceModel   string              `json:"sourceModel,omitempty"`
	Label         string              `json:"label,omitempty"`
}

// IsStatic reports whether the value is a column of the entity table.
func (a Attribute) IsStatic() bool {
	return a.BackendType == BackendStatic
}

// ColumnType is the flat column type for this attribute.
func (a Attribute) ColumnType() (engine.ColumnType, error) {
	if a.IsStatic() {
		if !a.StaticType.Valid() {
			return "", fmt.Errorf("static attribute %s has invalid column type %q", a.Code, a.StaticType)
		}
		return a.StaticType, nil
	}
	return a.BackendType.ColumnType()
}

// ValueAffecting reports whether the change from a to b can change the
// materialized values without changing the column definition.
func (a Attribute) ValueAffecting(b Attribute) bool {
	return a.Scope != b.Scope || a.SourceModel != b.SourceModel
}
