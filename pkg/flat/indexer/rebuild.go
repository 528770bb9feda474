package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/flat"
	"github.com/canopy-network/flatx/pkg/flat/staging"
)

// Rebuild recomputes the flat table of store, or of every active store when
// store is nil, and swaps the result into place. A store is marked built only
// after its swap committed. Inactive stores are skipped.
func (ix *Indexer) Rebuild(ctx context.Context, store *catalog.StoreID, kind staging.Kind) error {
	if !ix.IsAvailable() {
		return nil
	}

	runID := uuid.NewString()
	logger := ix.logger.With(zap.String("runId", runID), zap.Stringer("kind", kind))

	active, err := ix.ic.Topology.ActiveStores(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: load stores: %w", err)
	}

	targets := active
	if store != nil {
		s, err := ix.ic.Topology.Store(ctx, *store)
		if err != nil {
			return fmt.Errorf("rebuild store %d: %w", *store, err)
		}
		if !s.IsActive || s.ID == catalog.AdminStoreID {
			logger.Info("rebuild skipped for inactive store", zap.Uint32("storeId", uint32(s.ID)))
			return nil
		}
		targets = []catalog.Store{s}
	}

	// New stores have no bit yet, so the global bit may drop here.
	if err := ix.recompute(ctx, active); err != nil {
		return err
	}

	logger.Info("rebuild started", zap.Int("stores", len(targets)))
	start := time.Now()

	pool := pond.NewPool(min(ix.cfg.Parallelism, max(1, len(targets))))
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, s := range targets {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			if err := ix.rebuildStore(groupCtx, s, kind, active, logger); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("store %d: %w", s.ID, err))
				mu.Unlock()
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		errs = append(errs, err)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("rebuild failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return fmt.Errorf("rebuild %s: %w", ix.et, err)
	}
	logger.Info("rebuild finished", zap.Int("stores", len(targets)), zap.Duration("duration", time.Since(start)))
	return nil
}

// rebuildStore rebuilds one store, restarting once after schema drift.
func (ix *Indexer) rebuildStore(ctx context.Context, store catalog.Store, kind staging.Kind, active []catalog.Store, logger *zap.Logger) error {
	logger = logger.With(zap.Uint32("storeId", uint32(store.ID)))
	start := time.Now()

	err := ix.rebuildOnce(ctx, store, kind, logger)
	var drift *flat.SchemaDriftError
	if errors.As(err, &drift) {
		logger.Warn("schema drift during rebuild, preparing storage and restarting",
			zap.Strings("missing", drift.Missing), zap.Strings("extra", drift.Extra))
		if ix.ic.Metrics != nil {
			ix.ic.Metrics.SchemaDrifts.WithLabelValues(ix.et.String()).Inc()
		}
		if err := ix.PrepareDataStorage(ctx, store.ID); err != nil {
			return err
		}
		err = ix.rebuildOnce(ctx, store, kind, logger)
	}
	ix.ic.Metrics.ObserveRebuild(ix.et.String(), start, err)
	if err != nil {
		return err
	}

	if err := ix.flag.SetStoreBuilt(ctx, store.ID, true); err != nil {
		return err
	}
	if err := ix.recompute(ctx, active); err != nil {
		return err
	}
	if ix.ic.Metrics != nil {
		ix.ic.Metrics.StoresBuilt.WithLabelValues(ix.et.String(), fmt.Sprint(store.ID)).Set(1)
	}
	logger.Info("store rebuilt", zap.Duration("duration", time.Since(start)))
	return nil
}

// rebuildOnce is prepare -> populate staging -> drift check -> swap.
func (ix *Indexer) rebuildOnce(ctx context.Context, store catalog.Store, kind staging.Kind, logger *zap.Logger) error {
	s, err := ix.desiredSchema(ctx)
	if err != nil {
		return err
	}
	if err := ix.prepare(ctx, store.ID, s); err != nil {
		return err
	}

	live := ix.FlatTableName(store.ID)
	table, err := ix.prepareStaging(ctx, live, kind, s)
	if err != nil {
		return err
	}

	if err := ix.staging.DisableKeys(ctx, ix.ic.Source, table); err != nil {
		logger.Warn("bulk load hint failed", zap.String("table", table), zap.Error(err))
	}
	rows, err := ix.populate(ctx, ix.ic.Source, table, store, s.attrs, nil)
	if hintErr := ix.staging.EnableKeys(ctx, ix.ic.Source, table); hintErr != nil {
		logger.Warn("bulk load hint revert failed", zap.String("table", table), zap.Error(hintErr))
	}
	if err != nil {
		return err
	}
	logger.Debug("staging populated", zap.String("table", table), zap.Int64("rows", rows))

	if err := ix.checkDrift(ctx, table); err != nil {
		return err
	}

	swapped, err := ix.staging.AtomicSwap(ctx, ix.ic.Source, table, ix.ic.Target, live)
	if err != nil {
		if ix.ic.Metrics != nil {
			ix.ic.Metrics.SwapFailures.WithLabelValues(ix.et.String()).Inc()
		}
		return err
	}
	if ix.ic.Metrics != nil {
		ix.ic.Metrics.RowsSwapped.WithLabelValues(ix.et.String()).Add(float64(swapped))
	}

	if err := engine.DropTable(ctx, ix.ic.Source, table); err != nil {
		logger.Warn("failed to drop staging table", zap.String("table", table), zap.Error(err))
	}
	return nil
}

// recompute refreshes the global bit for the given active stores and saves.
func (ix *Indexer) recompute(ctx context.Context, active []catalog.Store) error {
	ids := make([]catalog.StoreID, len(active))
	for i, s := range active {
		ids[i] = s.ID
	}
	if _, err := ix.flag.Recompute(ctx, ids); err != nil {
		return err
	}
	return ix.flag.Save(ctx)
}
