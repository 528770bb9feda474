package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/flat/staging"
	"github.com/canopy-network/flatx/pkg/utils"
)

// UpdateAttribute re-derives one attribute's column on every row of every
// built store. When the live tables share the staging database the column is
// refreshed in place with one statement per store; otherwise the store is
// rebuilt. Attributes that are not eligible are ignored.
func (ix *Indexer) UpdateAttribute(ctx context.Context, code string) error {
	return ix.guard(ctx, "update_attribute", func() error {
		return ix.updateAttribute(ctx, code)
	})
}

func (ix *Indexer) updateAttribute(ctx context.Context, code string) error {
	a, err := ix.ic.Attributes.Attribute(ctx, ix.et, code)
	if errors.Is(err, catalog.ErrAttributeNotFound) {
		ix.logger.Debug("attribute gone, nothing to refresh", zap.String("attribute", code))
		return nil
	}
	if err != nil {
		return err
	}
	if !ix.rule.Eligible(a) {
		ix.logger.Debug("attribute not eligible, nothing to refresh", zap.String("attribute", code))
		return nil
	}

	active, err := ix.ic.Topology.ActiveStores(ctx)
	if err != nil {
		return err
	}
	stores, err := ix.builtStores(ctx)
	if err != nil {
		return err
	}
	for _, s := range stores {
		if !ix.sameDatabase() {
			if err := ix.rebuildStore(ctx, s, staging.Incremental, active, ix.logger); err != nil {
				return err
			}
			continue
		}

		cols, err := ix.liveColumns(ctx, s.ID)
		if err != nil {
			return err
		}
		if !hasColumn(cols, a.Code) {
			if err := ix.PrepareDataStorage(ctx, s.ID); err != nil {
				return err
			}
		}

		live := ix.FlatTableName(s.ID)
		p := engine.NewParams(ix.ic.Target.Dialect())
		stmt := fmt.Sprintf("UPDATE %s SET %s = %s", engine.Quote(live), engine.Quote(a.Code), ix.valueExpr(p, live, s, a))
		n, err := ix.ic.Target.Exec(ctx, stmt, p.Args()...)
		if err != nil {
			return fmt.Errorf("refresh %s.%s: %w", live, a.Code, err)
		}
		ix.logger.Debug("attribute refreshed", zap.String("table", live), zap.String("attribute", a.Code), zap.Int64("rows", n))
	}
	return nil
}

// UpdateProductStatus patches the status column of one entity in store, or
// in every built store when store is nil. A missing row is left alone.
func (ix *Indexer) UpdateProductStatus(ctx context.Context, id uint64, status int, store *catalog.StoreID) error {
	return ix.guard(ctx, "update_status", func() error {
		stores, err := ix.hookStores(ctx, store)
		if err != nil {
			return err
		}
		col := ix.def.StatusAttribute
		for _, s := range stores {
			cols, err := ix.liveColumns(ctx, s.ID)
			if err != nil {
				return err
			}
			if !hasColumn(cols, col) {
				continue
			}
			p := engine.NewParams(ix.ic.Target.Dialect())
			live := ix.FlatTableName(s.ID)
			if _, err := ix.ic.Target.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
				engine.Quote(live), engine.Quote(col), p.Add(status), engine.Quote(ix.def.IDColumn), p.Add(int64(id))),
				p.Args()...); err != nil {
				return fmt.Errorf("update status in %s: %w", live, err)
			}
		}
		return nil
	})
}

// UpdateProduct inserts or refreshes the rows of ids in one store. Entities
// not assigned to the store's website end up without a row.
func (ix *Indexer) UpdateProduct(ctx context.Context, ids []uint64, store catalog.StoreID) error {
	return ix.guard(ctx, "update_product", func() error {
		stores, err := ix.hookStores(ctx, &store)
		if err != nil || len(stores) == 0 {
			return err
		}
		return ix.refreshRows(ctx, stores[0], utils.DedupUint64(ids))
	})
}

func (ix *Indexer) refreshRows(ctx context.Context, store catalog.Store, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	s, err := ix.desiredSchema(ctx)
	if err != nil {
		return err
	}
	live := ix.FlatTableName(store.ID)
	table, err := ix.prepareStaging(ctx, live, staging.Incremental, s)
	if err != nil {
		return err
	}
	if _, err := ix.populate(ctx, ix.ic.Source, table, store, s.attrs, ids); err != nil {
		return err
	}
	n, err := ix.staging.ReplaceRows(ctx, ix.ic.Source, table, ix.ic.Target, live, ix.def.IDColumn, ids)
	if err != nil {
		return err
	}
	if err := ix.staging.ClearStaging(ctx, ix.ic.Source, table); err != nil {
		ix.logger.Warn("failed to clear staging table", zap.String("table", table), zap.Error(err))
	}
	ix.logger.Debug("rows refreshed", zap.String("table", live), zap.Int("ids", len(ids)), zap.Int64("rows", n))
	return nil
}

// RemoveProduct deletes the rows of ids from one store.
func (ix *Indexer) RemoveProduct(ctx context.Context, ids []uint64, store catalog.StoreID) error {
	return ix.guard(ctx, "remove_product", func() error {
		stores, err := ix.hookStores(ctx, &store)
		if err != nil || len(stores) == 0 {
			return err
		}
		_, err = staging.DeleteIDs(ctx, ix.ic.Target, ix.FlatTableName(store), ix.def.IDColumn, utils.DedupUint64(ids))
		return err
	})
}

// SaveProduct re-derives one entity in every built store: refreshed where
// the entity is assigned to the store's website, removed elsewhere.
func (ix *Indexer) SaveProduct(ctx context.Context, id uint64) error {
	return ix.guard(ctx, "save_product", func() error {
		websites, err := ix.websitesOf(ctx, id)
		if err != nil {
			return err
		}
		stores, err := ix.builtStores(ctx)
		if err != nil {
			return err
		}
		for _, s := range stores {
			if slices.Contains(websites, s.WebsiteID) {
				if err := ix.refreshRows(ctx, s, []uint64{id}); err != nil {
					return err
				}
				continue
			}
			if _, err := staging.DeleteIDs(ctx, ix.ic.Target, ix.FlatTableName(s.ID), ix.def.IDColumn, []uint64{id}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ix *Indexer) websitesOf(ctx context.Context, id uint64) ([]catalog.WebsiteID, error) {
	p := engine.NewParams(ix.ic.Source.Dialect())
	raw, err := engine.CollectUint64(ctx, ix.ic.Source, fmt.Sprintf(`SELECT "website_id" FROM %s WHERE %s = %s`,
		engine.Quote(ix.et.WebsiteTableName()), engine.Quote(ix.def.WebsiteEntityColumn), p.Add(int64(id))), p.Args()...)
	if err != nil {
		return nil, fmt.Errorf("load website assignment of %d: %w", id, err)
	}
	out := make([]catalog.WebsiteID, len(raw))
	for i, w := range raw {
		out[i] = catalog.WebsiteID(w)
	}
	return out, nil
}

// hookStores resolves the stores a hook touches: the given store when it is
// active and built, or every built store when store is nil.
func (ix *Indexer) hookStores(ctx context.Context, store *catalog.StoreID) ([]catalog.Store, error) {
	if store == nil {
		return ix.builtStores(ctx)
	}
	built, err := ix.flag.IsStoreBuilt(ctx, *store)
	if err != nil || !built {
		return nil, err
	}
	s, err := ix.ic.Topology.Store(ctx, *store)
	if errors.Is(err, catalog.ErrStoreNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !s.IsActive {
		return nil, nil
	}
	return []catalog.Store{s}, nil
}

// DeleteStore drops the flat and staging tables of store and forgets its
// build bit.
func (ix *Indexer) DeleteStore(ctx context.Context, store catalog.StoreID) error {
	if !ix.IsAvailable() {
		return nil
	}
	live := ix.FlatTableName(store)
	if err := engine.DropTable(ctx, ix.ic.Target, live); err != nil {
		return err
	}
	for _, kind := range []staging.Kind{staging.Incremental, staging.FullRebuild} {
		if err := engine.DropTable(ctx, ix.ic.Source, staging.TableName(live, kind)); err != nil {
			return err
		}
	}

	if err := ix.flag.ClearStore(ctx, store); err != nil {
		return err
	}
	active, err := ix.ic.Topology.ActiveStores(ctx)
	if err != nil {
		return err
	}
	// The store row may still exist while its deletion is being processed.
	active = slices.DeleteFunc(active, func(s catalog.Store) bool { return s.ID == store })
	if err := ix.recompute(ctx, active); err != nil {
		return err
	}
	if ix.ic.Metrics != nil {
		ix.ic.Metrics.StoresBuilt.DeleteLabelValues(ix.et.String(), fmt.Sprint(store))
	}
	ix.logger.Info("store flat tables dropped", zap.Uint32("storeId", uint32(store)))
	return nil
}

// ApplyAttributeChange reacts to an attribute metadata change given the
// snapshots before and after it.
func (ix *Indexer) ApplyAttributeChange(ctx context.Context, before, after catalog.Attribute) error {
	return ix.guard(ctx, "attribute_changed", func() error {
		d := ix.rule.Decide(before, after)
		ix.logger.Debug("attribute change classified",
			zap.String("attribute", after.Code),
			zap.Stringer("change", d.Change),
			zap.Bool("prepare", d.Prepare),
			zap.Bool("refresh", d.Refresh))

		if d.Prepare {
			stores, err := ix.builtStores(ctx)
			if err != nil {
				return err
			}
			for _, s := range stores {
				if err := ix.PrepareDataStorage(ctx, s.ID); err != nil {
					return err
				}
			}
		}
		if d.Refresh {
			return ix.updateAttribute(ctx, after.Code)
		}
		return nil
	})
}

// UpdateEventAttributes re-derives the columns that depend on cross-cutting
// dimensions. If the flat layout no longer matches eligibility every store
// is rebuilt; otherwise each dimension attribute is refreshed.
func (ix *Indexer) UpdateEventAttributes(ctx context.Context) error {
	return ix.guard(ctx, "update_event_attributes", func() error {
		s, err := ix.desiredSchema(ctx)
		if err != nil {
			return err
		}
		stores, err := ix.builtStores(ctx)
		if err != nil {
			return err
		}
		for _, st := range stores {
			cols, err := ix.liveColumns(ctx, st.ID)
			if err != nil {
				return err
			}
			if !engine.SameColumns(cols, s.columns) {
				ix.logger.Info("flat layout changed, rebuilding every store", zap.Uint32("storeId", uint32(st.ID)))
				return ix.Rebuild(ctx, nil, staging.FullRebuild)
			}
		}

		for _, code := range ix.def.DimensionAttributes {
			if !slices.ContainsFunc(s.attrs, func(a catalog.Attribute) bool { return a.Code == code }) {
				continue
			}
			if err := ix.updateAttribute(ctx, code); err != nil {
				return err
			}
		}
		return nil
	})
}

// Teardown drops every flat and staging table of this entity type and
// deletes the build flag.
func (ix *Indexer) Teardown(ctx context.Context) error {
	if !ix.IsAvailable() {
		return nil
	}
	data, err := ix.flag.GetFlagData(ctx)
	if err != nil {
		return err
	}
	stores, err := ix.ic.Topology.ActiveStores(ctx)
	if err != nil {
		return err
	}
	ids := make(map[catalog.StoreID]struct{}, len(stores)+len(data.PerStoreBuilt))
	for _, s := range stores {
		ids[s.ID] = struct{}{}
	}
	for id := range data.PerStoreBuilt {
		ids[id] = struct{}{}
	}

	for id := range ids {
		live := ix.FlatTableName(id)
		if err := engine.DropTable(ctx, ix.ic.Target, live); err != nil {
			return err
		}
		for _, kind := range []staging.Kind{staging.Incremental, staging.FullRebuild} {
			if err := engine.DropTable(ctx, ix.ic.Source, staging.TableName(live, kind)); err != nil {
				return err
			}
		}
	}
	if err := ix.flag.Delete(ctx); err != nil {
		return err
	}
	ix.logger.Info("flat index torn down", zap.Int("stores", len(ids)))
	return nil
}
