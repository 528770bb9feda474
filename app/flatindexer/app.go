// Package flatindexer wires the flat index engine into a long-running
// process: database and Redis connections, one indexer per entity type, the
// event bus fed by a Redis stream, a periodic rebuild and a status server.
package flatindexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/db/entities"
	"github.com/canopy-network/flatx/pkg/db/postgres"
	"github.com/canopy-network/flatx/pkg/db/sqlite"
	"github.com/canopy-network/flatx/pkg/flat"
	"github.com/canopy-network/flatx/pkg/flat/buildflag"
	"github.com/canopy-network/flatx/pkg/flat/events"
	"github.com/canopy-network/flatx/pkg/flat/indexer"
	"github.com/canopy-network/flatx/pkg/flat/staging"
	"github.com/canopy-network/flatx/pkg/metrics"
	"github.com/canopy-network/flatx/pkg/redis"
)

var _ events.Indexer = (*indexer.Indexer)(nil)

// App is one flat indexer process.
type App struct {
	Config Config

	DB       engine.Conn
	Redis    *redis.Client
	Topology catalog.Topology

	Indexers   []*indexer.Indexer
	Dispatcher *events.Dispatcher
	Bus        *events.Bus
	Locks      *flat.Locks
	Metrics    *metrics.Metrics

	// Cron runs the periodic rebuild when Config.RebuildCron is set.
	Cron *cron.Cron
	// Consumer feeds the bus from the Redis stream when Redis is enabled.
	Consumer *redis.StreamConsumer

	Logger *zap.Logger
	Server *http.Server
}

// Initialize connects everything Config names and builds the indexers.
func Initialize(ctx context.Context, cfg Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &App{
		Config:   cfg,
		DB:       db,
		Topology: catalog.SQLTopology{DB: db},
		Locks:    flat.NewLocks(),
		Metrics:  metrics.New(),
		Logger:   logger,
	}

	if err := app.init(ctx); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	if cfg.InstallCatalog {
		if err := catalog.Install(ctx, a.DB, entities.All()...); err != nil {
			return fmt.Errorf("install catalog: %w", err)
		}
		a.Logger.Info("Catalog tables installed")
	}

	if cfg.RedisEnabled {
		client, err := redis.NewClient(ctx, a.Logger, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = client
	}

	flags, err := a.flagStore(ctx)
	if err != nil {
		return err
	}

	available := map[entities.EntityType]bool{entities.Product: cfg.ProductAvailable}
	handlers := make([]events.Indexer, 0, len(available))
	for _, et := range entities.All() {
		ix, err := indexer.New(et, indexer.IndexerContext{
			Source:     a.DB,
			Attributes: catalog.SQLAttributes{DB: a.DB},
			Topology:   a.Topology,
			Flags:      flags,
			Logger:     a.Logger,
			Metrics:    a.Metrics,
		}, indexer.Config{
			Available:     available[et],
			AddFilterable: cfg.AddFilterable,
			BatchSize:     cfg.BatchSize,
			Parallelism:   cfg.Parallelism,
		})
		if err != nil {
			return err
		}
		a.Indexers = append(a.Indexers, ix)
		handlers = append(handlers, ix)
	}

	a.Dispatcher = events.NewDispatcher(a.Topology, a.Locks, a.Logger, a.Metrics, handlers...)
	a.Bus = events.NewBus(a.Dispatcher)

	if a.Redis != nil {
		consumer, err := redis.NewStreamConsumer(a.Redis, redis.StreamConsumerConfig{
			Stream:   cfg.EventsStream,
			Group:    cfg.EventsGroup,
			Consumer: cfg.EventConsumer,
			Logger:   a.Logger,
		})
		if err != nil {
			return err
		}
		a.Consumer = consumer
	}

	if cfg.RebuildCron != "" {
		if err := a.SetupScheduler(ctx, cfg.RebuildCron); err != nil {
			return err
		}
	}
	return nil
}

func openDB(ctx context.Context, cfg Config, logger *zap.Logger) (engine.Conn, error) {
	switch cfg.DBDriver {
	case DriverSQLite:
		return sqlite.Open(ctx, logger, cfg.SQLitePath)
	default:
		return postgres.New(ctx, logger, cfg.PostgresURL, postgres.DefaultPoolConfig("flatindexer"))
	}
}

func (a *App) flagStore(ctx context.Context) (buildflag.Store, error) {
	if a.Config.FlagStore == FlagStoreRedis {
		return buildflag.RedisStore{KV: a.Redis.GetClient()}, nil
	}
	return buildflag.NewSQLStore(ctx, a.DB)
}

// Indexer returns the indexer of et.
func (a *App) Indexer(et entities.EntityType) (*indexer.Indexer, bool) {
	for _, ix := range a.Indexers {
		if ix.EntityType() == et {
			return ix, true
		}
	}
	return nil, false
}

// Rebuild rebuilds store, or every active store, for every available
// indexer. It waits for rebuilds already running on the same flat tables.
func (a *App) Rebuild(ctx context.Context, store *catalog.StoreID) error {
	var errs []error
	for _, ix := range a.Indexers {
		if !ix.IsAvailable() {
			continue
		}
		unlock := a.Locks.Lock(ix.EntityType().FlagCode())
		err := ix.Rebuild(ctx, store, staging.FullRebuild)
		unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports every indexer.
func (a *App) Status(ctx context.Context) ([]indexer.Status, error) {
	out := make([]indexer.Status, 0, len(a.Indexers))
	for _, ix := range a.Indexers {
		st, err := ix.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("status of %s: %w", ix.EntityType(), err)
		}
		out = append(out, st)
	}
	return out, nil
}

// Ready reports whether the database, and Redis when enabled, answer.
func (a *App) Ready(ctx context.Context) error {
	if err := a.DB.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Start serves HTTP, runs the scheduler and the event consumer, and blocks
// until ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.Server != nil {
		go func() {
			if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("HTTP server stopped", zap.Error(err))
			}
		}()
	}
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Rebuild scheduler started", zap.String("cronSpec", a.Config.RebuildCron))
	}
	if a.Consumer != nil {
		go func() {
			err := a.Consumer.Run(ctx, events.StreamHandler(events.HandlerFunc(a.Bus.Publish), a.Logger))
			if err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("Event consumer stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	a.Stop()
}

// Stop shuts the server and the scheduler down and closes connections.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Server != nil {
		_ = a.Server.Shutdown(shutdownCtx)
	}
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	a.close()
	a.Logger.Info("さようなら!")
}

func (a *App) close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}
}
