package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/flatx/pkg/db/engine"
)

func openTestDB(t *testing.T) *Client {
	t.Helper()
	c, err := Open(context.Background(), zaptest.NewLogger(t), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSyncColumnsLifecycle(t *testing.T) {
	ctx := context.Background()
	c := openTestDB(t)

	cols := []engine.ColumnDef{
		{Name: "entity_id", Type: engine.TypeInt, PrimaryKey: true},
		{Name: "name", Type: engine.TypeVarchar},
		{Name: "price", Type: engine.TypeDecimal},
	}

	changes, err := engine.SyncColumns(ctx, c, "flat_1", cols)
	require.NoError(t, err)
	assert.True(t, changes.Created)

	changes, err = engine.SyncColumns(ctx, c, "flat_1", cols)
	require.NoError(t, err)
	assert.True(t, changes.Empty(), "second sync must be a no-op")

	next := []engine.ColumnDef{
		{Name: "entity_id", Type: engine.TypeInt, PrimaryKey: true},
		{Name: "name", Type: engine.TypeText},
		{Name: "color", Type: engine.TypeInt},
	}
	changes, err = engine.SyncColumns(ctx, c, "flat_1", next)
	require.NoError(t, err)
	assert.Equal(t, []string{"price"}, changes.Dropped)
	assert.Equal(t, []string{"name"}, changes.Retyped)
	assert.Equal(t, []string{"color"}, changes.Added)

	described, err := engine.Describe(ctx, c, "flat_1")
	require.NoError(t, err)
	assert.True(t, engine.SameColumns(described, next))
}

func TestTableExists(t *testing.T) {
	ctx := context.Background()
	c := openTestDB(t)

	ok, err := engine.TableExists(ctx, c, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, engine.CreateTable(ctx, c, "present", []engine.ColumnDef{{Name: "id", Type: engine.TypeInt, PrimaryKey: true}}))
	ok, err = engine.TableExists(ctx, c, "present")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, engine.DropTable(ctx, c, "present"))
	ok, err = engine.TableExists(ctx, c, "present")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	c := openTestDB(t)
	require.NoError(t, engine.CreateTable(ctx, c, "t", []engine.ColumnDef{{Name: "id", Type: engine.TypeInt, PrimaryKey: true}}))

	boom := errors.New("boom")
	err := engine.InTx(ctx, c, func(tx engine.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO "t" ("id") VALUES (?)`, 1)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int64
	require.NoError(t, engine.QueryScalar(ctx, c, &n, `SELECT COUNT(*) FROM "t"`))
	assert.Zero(t, n)
}

func TestSameDatabase(t *testing.T) {
	ctx := context.Background()
	a := openTestDB(t)
	b := openTestDB(t)

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	assert.True(t, engine.SameDatabase(a, tx))
	assert.False(t, engine.SameDatabase(a, b))
}
