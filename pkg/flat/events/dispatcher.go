package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/entities"
	"github.com/canopy-network/flatx/pkg/flat"
	"github.com/canopy-network/flatx/pkg/flat/staging"
	"github.com/canopy-network/flatx/pkg/metrics"
)

// Indexer is what the dispatcher calls on each flat indexer. Every method
// applies the indexer's own availability and build guard.
type Indexer interface {
	EntityType() entities.EntityType
	ApplyAttributeChange(ctx context.Context, before, after catalog.Attribute) error
	UpdateProductStatus(ctx context.Context, id uint64, status int, store *catalog.StoreID) error
	UpdateProduct(ctx context.Context, ids []uint64, store catalog.StoreID) error
	RemoveProduct(ctx context.Context, ids []uint64, store catalog.StoreID) error
	SaveProduct(ctx context.Context, id uint64) error
	Rebuild(ctx context.Context, store *catalog.StoreID, kind staging.Kind) error
	DeleteStore(ctx context.Context, store catalog.StoreID) error
	UpdateEventAttributes(ctx context.Context) error
}

// ErrUnhandledEvent is returned for a DomainEvent the dispatcher has no
// route for.
var ErrUnhandledEvent = errors.New("unhandled domain event")

// Dispatcher maps each domain event to indexer calls.
type Dispatcher struct {
	indexers []Indexer
	topology catalog.Topology
	locks    *flat.Locks
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher routes events to indexers. When locks is not nil every call
// on an indexer holds its entity type's lock, so hooks never run while a
// rebuild of the same flat tables does.
func NewDispatcher(topology catalog.Topology, locks *flat.Locks, logger *zap.Logger, m *metrics.Metrics, indexers ...Indexer) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		indexers: indexers,
		topology: topology,
		locks:    locks,
		logger:   logger.With(zap.String("component", "dispatcher")),
		metrics:  m,
	}
}

// Handle dispatches ev to every indexer it concerns.
func (d *Dispatcher) Handle(ctx context.Context, ev DomainEvent) error {
	err := d.dispatch(ctx, ev)
	kind := "unknown"
	if ev != nil {
		kind = string(ev.Kind())
	}
	d.metrics.Event(kind, err)
	if err != nil {
		d.logger.Error("event dispatch failed", zap.String("kind", kind), zap.Error(err))
		return err
	}
	d.logger.Debug("event dispatched", zap.String("kind", kind))
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, ev DomainEvent) error {
	switch e := ev.(type) {
	case AttributeChanged:
		return d.each(e.EntityType, func(ix Indexer) error {
			return ix.ApplyAttributeChange(ctx, e.Before, e.After)
		})
	case EntityStatusChanged:
		return d.each(e.EntityType, func(ix Indexer) error {
			return ix.UpdateProductStatus(ctx, e.ID, e.Status, e.StoreID)
		})
	case WebsiteAssignmentAdded:
		return d.eachWebsiteStore(ctx, e.EntityType, e.WebsiteIDs, func(ix Indexer, s catalog.Store) error {
			return ix.UpdateProduct(ctx, e.IDs, s.ID)
		})
	case WebsiteAssignmentRemoved:
		return d.eachWebsiteStore(ctx, e.EntityType, e.WebsiteIDs, func(ix Indexer, s catalog.Store) error {
			return ix.RemoveProduct(ctx, e.IDs, s.ID)
		})
	case EntitySaved:
		return d.each(e.EntityType, func(ix Indexer) error {
			return ix.SaveProduct(ctx, e.ID)
		})
	case StoreAdded:
		return d.rebuild(ctx, "", &e.StoreID)
	case StoreEdited:
		if !e.GroupChanged {
			return nil
		}
		return d.rebuild(ctx, "", &e.StoreID)
	case StoreDeleted:
		return d.each("", func(ix Indexer) error {
			return ix.DeleteStore(ctx, e.StoreID)
		})
	case StoreGroupWebsiteChanged:
		stores, err := d.topology.StoresByGroup(ctx, e.GroupID)
		if err != nil {
			return fmt.Errorf("stores of group %d: %w", e.GroupID, err)
		}
		var errs []error
		for _, s := range stores {
			errs = append(errs, d.rebuild(ctx, "", &s.ID))
		}
		return errors.Join(errs...)
	case ImportCompleted:
		return d.rebuild(ctx, e.EntityType, nil)
	case VisibilityDimensionChanged:
		return d.each("", func(ix Indexer) error {
			return ix.UpdateEventAttributes(ctx)
		})
	default:
		return fmt.Errorf("%w: %T", ErrUnhandledEvent, ev)
	}
}

// each calls fn on the indexers of et, or on all indexers when et is empty.
func (d *Dispatcher) each(et entities.EntityType, fn func(Indexer) error) error {
	var errs []error
	for _, ix := range d.indexers {
		if et != "" && ix.EntityType() != et {
			continue
		}
		if err := d.locked(ix, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ix.EntityType(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) eachWebsiteStore(ctx context.Context, et entities.EntityType, websites []catalog.WebsiteID, fn func(Indexer, catalog.Store) error) error {
	var stores []catalog.Store
	for _, w := range websites {
		ws, err := d.topology.StoresByWebsite(ctx, w)
		if err != nil {
			return fmt.Errorf("stores of website %d: %w", w, err)
		}
		stores = append(stores, ws...)
	}
	return d.each(et, func(ix Indexer) error {
		var errs []error
		for _, s := range stores {
			errs = append(errs, fn(ix, s))
		}
		return errors.Join(errs...)
	})
}

func (d *Dispatcher) locked(ix Indexer, fn func(Indexer) error) error {
	if d.locks != nil {
		unlock := d.locks.Lock(ix.EntityType().FlagCode())
		defer unlock()
	}
	return fn(ix)
}

func (d *Dispatcher) rebuild(ctx context.Context, et entities.EntityType, store *catalog.StoreID) error {
	return d.each(et, func(ix Indexer) error {
		return ix.Rebuild(ctx, store, staging.FullRebuild)
	})
}
