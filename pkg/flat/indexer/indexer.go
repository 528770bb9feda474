// Package indexer maintains the flat tables of one entity type: it derives
// their schema from attribute eligibility, rebuilds them from the normalized
// catalog through staging tables, and applies incremental changes.
//
// Every exported operation succeeds silently while the indexer is disabled,
// and every incremental hook succeeds silently until a rebuild has completed.
// Nothing builds on demand.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/db/entities"
	"github.com/canopy-network/flatx/pkg/flat"
	"github.com/canopy-network/flatx/pkg/flat/buildflag"
	"github.com/canopy-network/flatx/pkg/flat/eligibility"
	"github.com/canopy-network/flatx/pkg/flat/staging"
	"github.com/canopy-network/flatx/pkg/metrics"
)

// IndexerContext carries everything an indexer talks to.
type IndexerContext struct {
	// Source holds the normalized catalog and the staging tables.
	Source engine.Conn
	// Target holds the live flat tables. Nil means Source.
	Target     engine.Conn
	Attributes catalog.AttributeSource
	Topology   catalog.Topology
	// Flags persists the build-state flag.
	Flags   buildflag.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Config is the per-indexer configuration.
type Config struct {
	// Available enables the indexer. When false every operation is a no-op.
	Available bool
	// AddFilterable also materializes filterable attributes.
	AddFilterable bool
	// BatchSize bounds rows per read when staging and live tables live in
	// different databases.
	BatchSize int
	// Parallelism is how many stores Rebuild(nil) works on at once.
	Parallelism int
}

// Indexer maintains the flat tables of one entity type.
type Indexer struct {
	et      entities.EntityType
	def     entities.Definition
	ic      IndexerContext
	cfg     Config
	rule    eligibility.Rule
	flag    *buildflag.Flag
	staging *staging.Engine
	logger  *zap.Logger
}

// New returns the indexer of et.
func New(et entities.EntityType, ic IndexerContext, cfg Config) (*Indexer, error) {
	if !et.IsValid() {
		return nil, fmt.Errorf("unknown entity type %q", et)
	}
	if ic.Source == nil || ic.Attributes == nil || ic.Topology == nil || ic.Flags == nil {
		return nil, errors.New("indexer context needs a source connection, attributes, topology and a flag store")
	}
	if ic.Target == nil {
		ic.Target = ic.Source
	}
	if ic.Logger == nil {
		ic.Logger = zap.NewNop()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}

	def := et.Definition()
	logger := ic.Logger.With(zap.String("entityType", et.String()))
	return &Indexer{
		et:      et,
		def:     def,
		ic:      ic,
		cfg:     cfg,
		rule:    eligibility.Rule{AddFilterable: cfg.AddFilterable, SystemAttributes: def.SystemAttributes},
		flag:    buildflag.New(et.FlagCode(), ic.Flags, logger),
		staging: staging.New(logger, cfg.BatchSize),
		logger:  logger,
	}, nil
}

// EntityType is the type this indexer maintains.
func (ix *Indexer) EntityType() entities.EntityType { return ix.et }

// Eligibility is the rule deciding which attributes become columns.
func (ix *Indexer) Eligibility() eligibility.Rule { return ix.rule }

// Flag exposes the build-state flag.
func (ix *Indexer) Flag() *buildflag.Flag { return ix.flag }

// IsAvailable reports whether the indexer is enabled.
func (ix *Indexer) IsAvailable() bool { return ix.cfg.Available }

// IsBuilt reports whether every active store has been built.
func (ix *Indexer) IsBuilt(ctx context.Context) (bool, error) {
	return ix.flag.GetIsBuilt(ctx)
}

// IsStoreBuilt reports whether one store's flat table has been built.
func (ix *Indexer) IsStoreBuilt(ctx context.Context, store catalog.StoreID) (bool, error) {
	return ix.flag.IsStoreBuilt(ctx, store)
}

// FlatTableName is the live table of store.
func (ix *Indexer) FlatTableName(store catalog.StoreID) string {
	return ix.et.FlatTableName(uint32(store))
}

// ready is the guard of every incremental hook. It returns flat.ErrNotAvailable
// or flat.ErrNotBuilt, which callers turn into a silent success.
func (ix *Indexer) ready(ctx context.Context) error {
	if !ix.IsAvailable() {
		return flat.ErrNotAvailable
	}
	built, err := ix.IsBuilt(ctx)
	if err != nil {
		return err
	}
	if !built {
		return flat.ErrNotBuilt
	}
	return nil
}

// guard runs fn when the index is ready and swallows the not-ready errors.
func (ix *Indexer) guard(ctx context.Context, hook string, fn func() error) error {
	err := ix.ready(ctx)
	if errors.Is(err, flat.ErrNotAvailable) || errors.Is(err, flat.ErrNotBuilt) {
		ix.logger.Debug("hook skipped", zap.String("hook", hook), zap.String("reason", err.Error()))
		ix.ic.Metrics.Hook(ix.et.String(), hook, "skipped")
		return nil
	}
	if err != nil {
		return err
	}

	if err := fn(); err != nil {
		ix.ic.Metrics.Hook(ix.et.String(), hook, "error")
		return fmt.Errorf("%s: %w", hook, err)
	}
	ix.ic.Metrics.Hook(ix.et.String(), hook, "applied")
	return nil
}

func (ix *Indexer) activeStoreIDs(ctx context.Context) ([]catalog.StoreID, error) {
	stores, err := ix.ic.Topology.ActiveStores(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]catalog.StoreID, len(stores))
	for i, s := range stores {
		ids[i] = s.ID
	}
	return ids, nil
}

// builtStores returns the active stores whose flat table is built.
func (ix *Indexer) builtStores(ctx context.Context) ([]catalog.Store, error) {
	stores, err := ix.ic.Topology.ActiveStores(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]catalog.Store, 0, len(stores))
	for _, s := range stores {
		built, err := ix.flag.IsStoreBuilt(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		if built {
			out = append(out, s)
		}
	}
	return out, nil
}

// sameDatabase reports whether staging and live tables share a database.
func (ix *Indexer) sameDatabase() bool {
	return engine.SameDatabase(ix.ic.Source, ix.ic.Target)
}
