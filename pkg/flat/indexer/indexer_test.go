package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/catalog/catalogtest"
	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/db/entities"
	"github.com/canopy-network/flatx/pkg/db/sqlite"
	"github.com/canopy-network/flatx/pkg/flat"
	"github.com/canopy-network/flatx/pkg/flat/buildflag"
	"github.com/canopy-network/flatx/pkg/flat/staging"
	"github.com/canopy-network/flatx/pkg/metrics"
)

type testEnv struct {
	db      *sqlite.Client
	target  engine.Conn
	f       *catalogtest.Fixture
	ix      *Indexer
	metrics *metrics.Metrics
}

type envOption func(*IndexerContext, *Config)

func openDB(t *testing.T, name string) *sqlite.Client {
	t.Helper()
	db, err := sqlite.Open(context.Background(), zaptest.NewLogger(t), filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newEnv builds the default two-store catalog with three products:
//
//	1 "Widget"  website 1, price 10.5 default, 19.99 store 1, 24.5 store 2,
//	            name "Bidule" in store 2, weight 1.25, color 7
//	2 "Gadget"  website 1, price 5.25, weight 3.5
//	3 "Orphan"  no website
func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	db := openDB(t, "catalog.db")
	f := catalogtest.Default(t, db)

	f.Product(1, "widget", 1)
	f.Value(1, "name", catalog.AdminStoreID, "Widget")
	f.Value(1, "name", 2, "Bidule")
	f.Value(1, "price", catalog.AdminStoreID, 10.5)
	f.Value(1, "price", 1, 19.99)
	f.Value(1, "price", 2, 24.5)
	f.Value(1, "status", catalog.AdminStoreID, 1)
	f.Value(1, "visibility", catalog.AdminStoreID, 4)
	f.Value(1, "color", catalog.AdminStoreID, 7)
	f.Value(1, "weight", catalog.AdminStoreID, 1.25)

	f.Product(2, "gadget", 1)
	f.Value(2, "name", catalog.AdminStoreID, "Gadget")
	f.Value(2, "price", catalog.AdminStoreID, 5.25)
	f.Value(2, "status", catalog.AdminStoreID, 1)
	f.Value(2, "weight", catalog.AdminStoreID, 3.5)

	f.Product(3, "orphan")
	f.Value(3, "name", catalog.AdminStoreID, "Orphan")

	flags, err := buildflag.NewSQLStore(context.Background(), db)
	require.NoError(t, err)

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	ic := IndexerContext{
		Source:     db,
		Attributes: catalog.SQLAttributes{DB: db},
		Topology:   catalog.SQLTopology{DB: db},
		Flags:      flags,
		Logger:     zaptest.NewLogger(t),
		Metrics:    m,
	}
	cfg := Config{Available: true}
	for _, opt := range opts {
		opt(&ic, &cfg)
	}

	ix, err := New(entities.Product, ic, cfg)
	require.NoError(t, err)
	return &testEnv{db: db, target: ix.ic.Target, f: f, ix: ix, metrics: m}
}

func (e *testEnv) rebuild(t *testing.T) {
	t.Helper()
	require.NoError(t, e.ix.Rebuild(context.Background(), nil, staging.FullRebuild))
}

func scalar[T any](t *testing.T, ex engine.Executor, query string, args ...any) T {
	t.Helper()
	var v T
	require.NoError(t, engine.QueryScalar(context.Background(), ex, &v, query, args...))
	return v
}

func rowCount(t *testing.T, ex engine.Executor, table string) int64 {
	t.Helper()
	return scalar[int64](t, ex, "SELECT COUNT(*) FROM "+engine.Quote(table))
}

func tableExists(t *testing.T, ex engine.Executor, table string) bool {
	t.Helper()
	ok, err := engine.TableExists(context.Background(), ex, table)
	require.NoError(t, err)
	return ok
}

func columns(t *testing.T, ex engine.Executor, table string) []string {
	t.Helper()
	cols, err := engine.ColumnNames(context.Background(), ex, table)
	require.NoError(t, err)
	return cols
}

// dump renders every row of table, ordered by id, for exact comparisons.
func dump(t *testing.T, ex engine.Executor, table string) string {
	t.Helper()
	cols := columns(t, ex, table)
	rows, err := ex.Query(context.Background(), fmt.Sprintf(`SELECT %s FROM %s ORDER BY "entity_id"`, engine.QuoteAll(cols), engine.Quote(table)))
	require.NoError(t, err)
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		for i, c := range cols {
			fmt.Fprintf(&b, "%s=%v ", c, vals[i])
		}
		b.WriteString("\n")
	}
	require.NoError(t, rows.Err())
	return b.String()
}

func storeBuilt(t *testing.T, ix *Indexer, id catalog.StoreID) bool {
	t.Helper()
	built, err := ix.IsStoreBuilt(context.Background(), id)
	require.NoError(t, err)
	return built
}

func isBuilt(t *testing.T, ix *Indexer) bool {
	t.Helper()
	built, err := ix.IsBuilt(context.Background())
	require.NoError(t, err)
	return built
}

func TestRebuildTwoStorePrices(t *testing.T) {
	e := newEnv(t)
	e.rebuild(t)

	assert.True(t, storeBuilt(t, e.ix, 1))
	assert.True(t, storeBuilt(t, e.ix, 2))
	assert.True(t, isBuilt(t, e.ix))

	for store, want := range map[string]float64{"catalog_product_flat_1": 19.99, "catalog_product_flat_2": 24.5} {
		assert.Equal(t, int64(1), scalar[int64](t, e.target, `SELECT COUNT(*) FROM "`+store+`" WHERE "entity_id" = 1`), store)
		assert.InDelta(t, want, scalar[float64](t, e.target, `SELECT "price" FROM "`+store+`" WHERE "entity_id" = 1`), 1e-9, store)
		assert.Equal(t, int64(2), rowCount(t, e.target, store), "the unassigned product is not indexed")
		assert.False(t, tableExists(t, e.db, store+"_idx"), "staging is dropped after the swap")
	}

	assert.Equal(t, "Widget", scalar[string](t, e.target, `SELECT "name" FROM "catalog_product_flat_1" WHERE "entity_id" = 1`))
	assert.Equal(t, "Bidule", scalar[string](t, e.target, `SELECT "name" FROM "catalog_product_flat_2" WHERE "entity_id" = 1`))
	assert.InDelta(t, 5.25, scalar[float64](t, e.target, `SELECT "price" FROM "catalog_product_flat_2" WHERE "entity_id" = 2`), 1e-9,
		"default value fills stores without their own")
	assert.InDelta(t, 1.25, scalar[float64](t, e.target, `SELECT "weight" FROM "catalog_product_flat_1" WHERE "entity_id" = 1`), 1e-9)

	cols := columns(t, e.target, "catalog_product_flat_1")
	assert.Equal(t, []string{"entity_id", "attribute_set_id", "type_id", "name", "price", "status", "visibility", "weight"}, cols)

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.RebuildsTotal.WithLabelValues("catalog_product", "ok")))
}

func TestRebuildIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.rebuild(t)
	first := dump(t, e.target, "catalog_product_flat_2")
	e.rebuild(t)
	assert.Equal(t, first, dump(t, e.target, "catalog_product_flat_2"))
	assert.NotEmpty(t, first)
}

func TestRebuildMatchesFromScratchDerivation(t *testing.T) {
	e := newEnv(t)
	e.rebuild(t)
	first := dump(t, e.target, "catalog_product_flat_1")

	require.NoError(t, e.ix.Teardown(context.Background()))
	e.rebuild(t)
	assert.Equal(t, first, dump(t, e.target, "catalog_product_flat_1"))
}

func TestRebuildOneStore(t *testing.T) {
	e := newEnv(t)
	store := catalog.StoreID(2)
	require.NoError(t, e.ix.Rebuild(context.Background(), &store, staging.FullRebuild))

	assert.False(t, storeBuilt(t, e.ix, 1))
	assert.True(t, storeBuilt(t, e.ix, 2))
	assert.False(t, isBuilt(t, e.ix), "one of two stores is only partially built")
	assert.False(t, tableExists(t, e.target, "catalog_product_flat_1"))
}

func TestRebuildNewStore(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.rebuild(t)

	e.f.Store(catalog.Store{ID: 3, Code: "german", WebsiteID: 1, GroupID: 1, IsActive: true})
	store := catalog.StoreID(3)
	require.NoError(t, e.ix.Rebuild(ctx, &store, staging.FullRebuild))

	assert.True(t, storeBuilt(t, e.ix, 3))
	assert.True(t, isBuilt(t, e.ix))
	assert.InDelta(t, 10.5, scalar[float64](t, e.target, `SELECT "price" FROM "catalog_product_flat_3" WHERE "entity_id" = 1`), 1e-9)
}

func TestRebuildSkipsInactiveStore(t *testing.T) {
	e := newEnv(t)
	e.f.Store(catalog.Store{ID: 4, Code: "closed", WebsiteID: 1, GroupID: 1, IsActive: false})
	store := catalog.StoreID(4)
	require.NoError(t, e.ix.Rebuild(context.Background(), &store, staging.FullRebuild))
	assert.False(t, tableExists(t, e.target, "catalog_product_flat_4"))
}

func TestRebuildInParallel(t *testing.T) {
	e := newEnv(t, func(_ *IndexerContext, cfg *Config) { cfg.Parallelism = 2 })
	e.rebuild(t)
	assert.True(t, isBuilt(t, e.ix))
	assert.Equal(t, int64(2), rowCount(t, e.target, "catalog_product_flat_1"))
	assert.Equal(t, int64(2), rowCount(t, e.target, "catalog_product_flat_2"))
}

func TestRebuildIntoSeparateDatabase(t *testing.T) {
	ctx := context.Background()
	var target *sqlite.Client
	e := newEnv(t, func(ic *IndexerContext, cfg *Config) {
		target = openDB(t, "flat.db")
		ic.Target = target
		cfg.BatchSize = 1
	})
	e.rebuild(t)

	assert.True(t, isBuilt(t, e.ix))
	assert.InDelta(t, 24.5, scalar[float64](t, target, `SELECT "price" FROM "catalog_product_flat_2" WHERE "entity_id" = 1`), 1e-9)
	assert.False(t, tableExists(t, e.db, "catalog_product_flat_1"), "live tables live in the target database")

	// Without a shared database the attribute refresh goes through a rebuild.
	e.f.Value(2, "price", catalog.AdminStoreID, 6.75)
	require.NoError(t, e.ix.UpdateAttribute(ctx, "price"))
	assert.InDelta(t, 6.75, scalar[float64](t, target, `SELECT "price" FROM "catalog_product_flat_1" WHERE "entity_id" = 2`), 1e-9)
	assert.True(t, isBuilt(t, e.ix))
}

func TestUnavailableIndexerDoesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, func(_ *IndexerContext, cfg *Config) { cfg.Available = false })

	require.NoError(t, e.ix.Rebuild(ctx, nil, staging.FullRebuild))
	require.NoError(t, e.ix.PrepareDataStorage(ctx, 1))
	require.NoError(t, e.ix.SaveProduct(ctx, 1))
	require.NoError(t, e.ix.DeleteStore(ctx, 1))
	require.NoError(t, e.ix.Teardown(ctx))

	assert.False(t, tableExists(t, e.target, "catalog_product_flat_1"))
	assert.False(t, isBuilt(t, e.ix))
}

func TestPrepareDataStorageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.ix.PrepareDataStorage(ctx, 1))
	first := columns(t, e.target, "catalog_product_flat_1")
	require.NoError(t, e.ix.PrepareDataStorage(ctx, 1))
	assert.Equal(t, first, columns(t, e.target, "catalog_product_flat_1"))
	assert.Zero(t, rowCount(t, e.target, "catalog_product_flat_1"))
}

func TestAddFilterableWidensSchema(t *testing.T) {
	e := newEnv(t, func(_ *IndexerContext, cfg *Config) { cfg.AddFilterable = true })
	e.rebuild(t)
	assert.Contains(t, columns(t, e.target, "catalog_product_flat_1"), "color")
	assert.Equal(t, int64(7), scalar[int64](t, e.target, `SELECT "color" FROM "catalog_product_flat_1" WHERE "entity_id" = 1`))
}

// driftingAttributes returns the real metadata but, from call flipAt on,
// reports color as used in listings. toggle flips on every call instead.
type driftingAttributes struct {
	catalog.AttributeSource
	calls  int
	flipAt int
	toggle bool
}

func (d *driftingAttributes) Attributes(ctx context.Context, et entities.EntityType) ([]catalog.Attribute, error) {
	d.calls++
	attrs, err := d.AttributeSource.Attributes(ctx, et)
	if err != nil {
		return nil, err
	}
	flip := d.calls >= d.flipAt
	if d.toggle {
		flip = d.calls%2 == 0
	}
	if flip {
		for i := range attrs {
			if attrs[i].Code == "color" {
				attrs[i].UsedInListing = true
			}
		}
	}
	return attrs, nil
}

func TestSchemaDriftRestartsOnce(t *testing.T) {
	var src *driftingAttributes
	e := newEnv(t, func(ic *IndexerContext, _ *Config) {
		src = &driftingAttributes{AttributeSource: ic.Attributes, flipAt: 2}
		ic.Attributes = src
	})
	store := catalog.StoreID(1)
	require.NoError(t, e.ix.Rebuild(context.Background(), &store, staging.FullRebuild))

	assert.True(t, storeBuilt(t, e.ix, 1))
	assert.Contains(t, columns(t, e.target, "catalog_product_flat_1"), "color")
	assert.Equal(t, int64(7), scalar[int64](t, e.target, `SELECT "color" FROM "catalog_product_flat_1" WHERE "entity_id" = 1`))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.SchemaDrifts.WithLabelValues("catalog_product")))
}

func TestSchemaDriftTwiceFails(t *testing.T) {
	e := newEnv(t, func(ic *IndexerContext, _ *Config) {
		ic.Attributes = &driftingAttributes{AttributeSource: ic.Attributes, toggle: true}
	})
	store := catalog.StoreID(1)
	err := e.ix.Rebuild(context.Background(), &store, staging.FullRebuild)
	require.Error(t, err)

	var drift *flat.SchemaDriftError
	require.ErrorAs(t, err, &drift)
	assert.False(t, storeBuilt(t, e.ix, 1))
}

// failingConn makes inserts into one live table fail inside transactions.
type failingConn struct {
	*sqlite.Client
	table string
	fail  bool
}

func (c *failingConn) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := c.Client.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{Tx: tx, conn: c}, nil
}

type failingTx struct {
	engine.Tx
	conn *failingConn
}

func (tx *failingTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if tx.conn.fail && strings.HasPrefix(query, "INSERT INTO "+engine.Quote(tx.conn.table)) {
		return 0, fmt.Errorf("injected failure")
	}
	return tx.Tx.Exec(ctx, query, args...)
}

func TestSwapFailureKeepsLiveTable(t *testing.T) {
	ctx := context.Background()
	var conn *failingConn
	e := newEnv(t, func(ic *IndexerContext, _ *Config) {
		conn = &failingConn{Client: ic.Source.(*sqlite.Client), table: "catalog_product_flat_1"}
		ic.Target = conn
	})
	e.rebuild(t)
	before := dump(t, e.target, "catalog_product_flat_1")

	e.f.Value(1, "price", 1, 99.5)
	conn.fail = true
	store := catalog.StoreID(1)
	err := e.ix.Rebuild(ctx, &store, staging.FullRebuild)
	require.Error(t, err)

	var txErr *flat.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, before, dump(t, e.target, "catalog_product_flat_1"), "rolled back swap leaves live rows")
	assert.True(t, storeBuilt(t, e.ix, 1), "the previous build is still being served")
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.SwapFailures.WithLabelValues("catalog_product")))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	store := catalog.StoreID(1)
	require.NoError(t, e.ix.Rebuild(ctx, &store, staging.FullRebuild))

	st, err := e.ix.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Available)
	assert.False(t, st.Built)
	require.Len(t, st.Stores, 2)
	assert.True(t, st.Stores[0].Built)
	assert.Equal(t, int64(2), st.Stores[0].Rows)
	assert.False(t, st.Stores[1].Built)
	assert.Empty(t, st.Stores[1].Columns)
}
