package indexer

import (
	"context"
	"fmt"
	"strings"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/utils"
)

// populate derives the flat rows of store into table from the normalized
// catalog. Only entities assigned to the store's website are written. When
// ids is non-empty only those entities are derived.
//
// Rows are inserted with the identity and static columns first, then every
// value attribute is filled by one correlated UPDATE. A store value wins
// over the default (admin store) value; global attributes only read the
// default.
func (ix *Indexer) populate(ctx context.Context, ex engine.Executor, table string, store catalog.Store, attrs []catalog.Attribute, ids []uint64) (int64, error) {
	for _, chunk := range idChunks(ex.Dialect(), ids) {
		if err := ix.insertStatic(ctx, ex, table, store, attrs, chunk); err != nil {
			return 0, err
		}
	}

	for _, a := range attrs {
		if a.IsStatic() {
			continue
		}
		for _, chunk := range idChunks(ex.Dialect(), ids) {
			if err := ix.updateValue(ctx, ex, table, store, a, chunk); err != nil {
				return 0, err
			}
		}
	}

	var n int64
	if err := engine.QueryScalar(ctx, ex, &n, "SELECT COUNT(*) FROM "+engine.Quote(table)); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// idChunks splits ids to fit the bind limit. No ids yields one nil chunk,
// which means every entity.
func idChunks(d engine.Dialect, ids []uint64) [][]uint64 {
	if len(ids) == 0 {
		return [][]uint64{nil}
	}
	return utils.Chunk(ids, max(1, d.MaxParams()-64))
}

func (ix *Indexer) insertStatic(ctx context.Context, ex engine.Executor, table string, store catalog.Store, attrs []catalog.Attribute, ids []uint64) error {
	cols := engine.Names(ix.identityColumns())
	for _, a := range attrs {
		if a.IsStatic() {
			cols = append(cols, a.Code)
		}
	}
	selected := make([]string, len(cols))
	for i, c := range cols {
		selected[i] = "e." + engine.Quote(c)
	}

	p := engine.NewParams(ex.Dialect())
	id := engine.Quote(ix.def.IDColumn)
	where := fmt.Sprintf(`EXISTS (SELECT 1 FROM %s w WHERE w.%s = e.%s AND w."website_id" = %s)`,
		engine.Quote(ix.et.WebsiteTableName()), engine.Quote(ix.def.WebsiteEntityColumn), id, p.Add(int64(store.WebsiteID)))
	if len(ids) > 0 {
		where += fmt.Sprintf(" AND e.%s IN (%s)", id, engine.List(p, toInt64(ids)))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s e WHERE %s",
		engine.Quote(table), engine.QuoteAll(cols), strings.Join(selected, ", "),
		engine.Quote(ix.et.EntityTableName()), where)
	if _, err := ex.Exec(ctx, stmt, p.Args()...); err != nil {
		return fmt.Errorf("insert entities into %s: %w", table, err)
	}
	return nil
}

// valueExpr renders the scalar subquery resolving attribute a of the row of
// table for store.
func (ix *Indexer) valueExpr(p *engine.Params, table string, store catalog.Store, a catalog.Attribute) string {
	id := engine.Quote(ix.def.IDColumn)
	if a.IsStatic() {
		return fmt.Sprintf("(SELECT e.%s FROM %s e WHERE e.%s = %s.%s)",
			engine.Quote(a.Code), engine.Quote(ix.et.EntityTableName()), id, engine.Quote(table), id)
	}

	valueTable := engine.Quote(ix.et.ValueTableName(string(a.BackendType)))
	lookup := func(storeID catalog.StoreID) string {
		return fmt.Sprintf(`(SELECT v."value" FROM %s v WHERE v.%s = %s.%s AND v."attribute_id" = %s AND v."store_id" = %s)`,
			valueTable, id, engine.Quote(table), id, p.Add(int64(a.ID)), p.Add(int64(storeID)))
	}
	if a.Scope == catalog.ScopeGlobal || store.ID == catalog.AdminStoreID {
		return lookup(catalog.AdminStoreID)
	}
	return fmt.Sprintf("COALESCE(%s, %s)", lookup(store.ID), lookup(catalog.AdminStoreID))
}

func (ix *Indexer) updateValue(ctx context.Context, ex engine.Executor, table string, store catalog.Store, a catalog.Attribute, ids []uint64) error {
	p := engine.NewParams(ex.Dialect())
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s", engine.Quote(table), engine.Quote(a.Code), ix.valueExpr(p, table, store, a))
	if len(ids) > 0 {
		stmt += fmt.Sprintf(" WHERE %s IN (%s)", engine.Quote(ix.def.IDColumn), engine.List(p, toInt64(ids)))
	}
	if _, err := ex.Exec(ctx, stmt, p.Args()...); err != nil {
		return fmt.Errorf("derive %s.%s: %w", table, a.Code, err)
	}
	return nil
}

func toInt64(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
