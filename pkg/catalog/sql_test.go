package catalog_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/catalog/catalogtest"
	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/db/entities"
	"github.com/canopy-network/flatx/pkg/db/sqlite"
)

func openDB(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.Open(context.Background(), zaptest.NewLogger(t), filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInstallIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	require.NoError(t, catalog.Install(ctx, db, entities.Product))
	require.NoError(t, catalog.Install(ctx, db, entities.Product))

	for _, table := range []string{"store", "eav_attribute", "catalog_product_entity", "catalog_product_entity_decimal", "catalog_product_website"} {
		ok, err := engine.TableExists(ctx, db, table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}
}

func TestSQLTopology(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	f := catalogtest.Default(t, db)
	f.Website(2, "outlet")
	f.Group(2, 2)
	f.Store(catalog.Store{ID: 3, Code: "outlet", WebsiteID: 2, GroupID: 2, IsActive: true})
	f.Store(catalog.Store{ID: 4, Code: "closed", WebsiteID: 2, GroupID: 2, IsActive: false})

	topo := catalog.SQLTopology{DB: db}

	active, err := topo.ActiveStores(ctx)
	require.NoError(t, err)
	ids := make([]catalog.StoreID, len(active))
	for i, s := range active {
		ids[i] = s.ID
	}
	assert.Equal(t, []catalog.StoreID{1, 2, 3}, ids, "admin and inactive stores are excluded")

	byWebsite, err := topo.StoresByWebsite(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byWebsite, 2)

	byGroup, err := topo.StoresByGroup(ctx, 2)
	require.NoError(t, err)
	require.Len(t, byGroup, 1)
	assert.Equal(t, "outlet", byGroup[0].Code)

	closed, err := topo.Store(ctx, 4)
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	assert.Equal(t, catalog.WebsiteID(2), closed.WebsiteID)

	_, err = topo.Store(ctx, 99)
	assert.True(t, errors.Is(err, catalog.ErrStoreNotFound))
}

func TestSQLAttributes(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	catalogtest.Default(t, db)

	src := catalog.SQLAttributes{DB: db}
	attrs, err := src.Attributes(ctx, entities.Product)
	require.NoError(t, err)
	assert.Len(t, attrs, 7)

	price, err := src.Attribute(ctx, entities.Product, "price")
	require.NoError(t, err)
	assert.Equal(t, catalog.BackendDecimal, price.BackendType)
	assert.Equal(t, catalog.ScopeWebsite, price.Scope)
	assert.True(t, price.UsedInListing)
	assert.False(t, price.IsFilterable)

	weight, err := src.Attribute(ctx, entities.Product, "weight")
	require.NoError(t, err)
	assert.True(t, weight.IsStatic())
	ct, err := weight.ColumnType()
	require.NoError(t, err)
	assert.Equal(t, engine.TypeDecimal, ct)

	_, err = src.Attribute(ctx, entities.Product, "missing")
	assert.ErrorIs(t, err, catalog.ErrAttributeNotFound)
}

func TestAttributeValueAffecting(t *testing.T) {
	a := catalog.Attribute{Code: "price", BackendType: catalog.BackendDecimal, Scope: catalog.ScopeGlobal}
	b := a
	b.Label = "Price (net)"
	assert.False(t, a.ValueAffecting(b))

	b.Scope = catalog.ScopeWebsite
	assert.True(t, a.ValueAffecting(b))

	_, err := catalog.Attribute{Code: "x", BackendType: catalog.BackendStatic}.ColumnType()
	assert.Error(t, err)
}
