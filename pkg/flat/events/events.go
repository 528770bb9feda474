// Package events routes domain changes of the normalized catalog to the flat
// indexers. Events form a closed set: every type implementing DomainEvent is
// declared here and handled by Dispatcher.
package events

import (
	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/entities"
)

// Kind names an event on the wire and in metrics.
type Kind string

const (
	KindAttributeChanged           Kind = "attribute_changed"
	KindEntityStatusChanged        Kind = "entity_status_changed"
	KindWebsiteAssignmentAdded     Kind = "website_assignment_added"
	KindWebsiteAssignmentRemoved   Kind = "website_assignment_removed"
	KindEntitySaved                Kind = "entity_saved"
	KindStoreAdded                 Kind = "store_added"
	KindStoreEdited                Kind = "store_edited"
	KindStoreDeleted               Kind = "store_deleted"
	KindStoreGroupWebsiteChanged   Kind = "store_group_website_changed"
	KindImportCompleted            Kind = "import_completed"
	KindVisibilityDimensionChanged Kind = "visibility_dimension_changed"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	KindAttributeChanged,
	KindEntityStatusChanged,
	KindWebsiteAssignmentAdded,
	KindWebsiteAssignmentRemoved,
	KindEntitySaved,
	KindStoreAdded,
	KindStoreEdited,
	KindStoreDeleted,
	KindStoreGroupWebsiteChanged,
	KindImportCompleted,
	KindVisibilityDimensionChanged,
}

// DomainEvent is implemented only by the event types of this package.
type DomainEvent interface {
	Kind() Kind
	domainEvent()
}

// AttributeChanged carries both metadata snapshots of one attribute.
type AttributeChanged struct {
	EntityType entities.EntityType `json:"entityType"`
	Before     catalog.Attribute   `json:"before"`
	After      catalog.Attribute   `json:"after"`
}

// EntityStatusChanged sets the status of one entity, in one store or in all
// of them when StoreID is nil.
type EntityStatusChanged struct {
	EntityType entities.EntityType `json:"entityType"`
	ID         uint64              `json:"id"`
	Status     int                 `json:"status"`
	StoreID    *catalog.StoreID    `json:"storeId,omitempty"`
}

// WebsiteAssignmentAdded assigns entities to websites.
type WebsiteAssignmentAdded struct {
	EntityType entities.EntityType `json:"entityType"`
	IDs        []uint64            `json:"ids"`
	WebsiteIDs []catalog.WebsiteID `json:"websiteIds"`
}

// WebsiteAssignmentRemoved unassigns entities from websites.
type WebsiteAssignmentRemoved struct {
	EntityType entities.EntityType `json:"entityType"`
	IDs        []uint64            `json:"ids"`
	WebsiteIDs []catalog.WebsiteID `json:"websiteIds"`
}

// EntitySaved follows any save of one entity.
type EntitySaved struct {
	EntityType entities.EntityType `json:"entityType"`
	ID         uint64              `json:"id"`
}

// StoreAdded follows the creation of a store.
type StoreAdded struct {
	StoreID catalog.StoreID `json:"storeId"`
}

// StoreEdited follows a store update. Only a group change matters here.
type StoreEdited struct {
	StoreID      catalog.StoreID `json:"storeId"`
	GroupChanged bool            `json:"groupChanged"`
}

// StoreDeleted follows the deletion of a store.
type StoreDeleted struct {
	StoreID catalog.StoreID `json:"storeId"`
}

// StoreGroupWebsiteChanged follows a store group moving to another website.
type StoreGroupWebsiteChanged struct {
	GroupID catalog.GroupID `json:"groupId"`
}

// ImportCompleted follows a bulk import. An empty EntityType means all.
type ImportCompleted struct {
	EntityType entities.EntityType `json:"entityType,omitempty"`
}

// VisibilityDimensionChanged follows a change to a cross-cutting dimension,
// such as a customer group or tax class, that price-like columns depend on.
type VisibilityDimensionChanged struct {
	Dimension string `json:"dimension,omitempty"`
}

func (AttributeChanged) Kind() Kind           { return KindAttributeChanged }
func (EntityStatusChanged) Kind() Kind        { return KindEntityStatusChanged }
func (WebsiteAssignmentAdded) Kind() Kind     { return KindWebsiteAssignmentAdded }
func (WebsiteAssignmentRemoved) Kind() Kind   { return KindWebsiteAssignmentRemoved }
func (EntitySaved) Kind() Kind                { return KindEntitySaved }
func (StoreAdded) Kind() Kind                 { return KindStoreAdded }
func (StoreEdited) Kind() Kind                { return KindStoreEdited }
func (StoreDeleted) Kind() Kind               { return KindStoreDeleted }
func (StoreGroupWebsiteChanged) Kind() Kind   { return KindStoreGroupWebsiteChanged }
func (ImportCompleted) Kind() Kind            { return KindImportCompleted }
func (VisibilityDimensionChanged) Kind() Kind { return KindVisibilityDimensionChanged }

func (AttributeChanged) domainEvent()           {}
func (EntityStatusChanged) domainEvent()        {}
func (WebsiteAssignmentAdded) domainEvent()     {}
func (WebsiteAssignmentRemoved) domainEvent()   {}
func (EntitySaved) domainEvent()                {}
func (StoreAdded) domainEvent()                 {}
func (StoreEdited) domainEvent()                {}
func (StoreDeleted) domainEvent()               {}
func (StoreGroupWebsiteChanged) domainEvent()   {}
func (ImportCompleted) domainEvent()            {}
func (VisibilityDimensionChanged) domainEvent() {}
