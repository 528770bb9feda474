package indexer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/flat"
	"github.com/canopy-network/flatx/pkg/flat/staging"
)

// schema is the column layout a flat table should have right now.
type schema struct {
	columns []engine.ColumnDef
	// attrs are the eligible attributes backing columns after the identity ones.
	attrs []catalog.Attribute
}

// identityColumns are copied from the entity table into every flat table.
func (ix *Indexer) identityColumns() []engine.ColumnDef {
	return []engine.ColumnDef{
		{Name: ix.def.IDColumn, Type: engine.TypeInt, PrimaryKey: true},
		{Name: "attribute_set_id", Type: engine.TypeInt},
		{Name: "type_id", Type: engine.TypeVarchar},
	}
}

// desiredSchema derives the flat layout from the current attribute metadata.
// Attribute columns are ordered by code so layouts are stable.
func (ix *Indexer) desiredSchema(ctx context.Context) (schema, error) {
	all, err := ix.ic.Attributes.Attributes(ctx, ix.et)
	if err != nil {
		return schema{}, fmt.Errorf("load attributes: %w", err)
	}

	cols := ix.identityColumns()
	reserved := engine.Names(cols)
	eligible := ix.rule.Filter(all)
	slices.SortFunc(eligible, func(a, b catalog.Attribute) int { return strings.Compare(a.Code, b.Code) })

	attrs := make([]catalog.Attribute, 0, len(eligible))
	for _, a := range eligible {
		if slices.Contains(reserved, a.Code) {
			continue
		}
		ct, err := a.ColumnType()
		if err != nil {
			return schema{}, err
		}
		cols = append(cols, engine.ColumnDef{Name: a.Code, Type: ct})
		attrs = append(attrs, a)
	}
	return schema{columns: cols, attrs: attrs}, nil
}

// PrepareDataStorage makes the live flat table of store, and any staging
// table of it that exists, match the current eligibility. Columns of
// attributes that lost eligibility are dropped. It is idempotent.
func (ix *Indexer) PrepareDataStorage(ctx context.Context, store catalog.StoreID) error {
	if !ix.IsAvailable() {
		return nil
	}
	s, err := ix.desiredSchema(ctx)
	if err != nil {
		return err
	}
	return ix.prepare(ctx, store, s)
}

func (ix *Indexer) prepare(ctx context.Context, store catalog.StoreID, s schema) error {
	live := ix.FlatTableName(store)
	changes, err := engine.SyncColumns(ctx, ix.ic.Target, live, s.columns)
	if err != nil {
		return err
	}
	if !changes.Empty() {
		ix.logger.Info("flat table schema updated",
			zap.String("table", live),
			zap.Bool("created", changes.Created),
			zap.Strings("added", changes.Added),
			zap.Strings("dropped", changes.Dropped),
			zap.Strings("retyped", changes.Retyped))
	}

	for _, kind := range []staging.Kind{staging.Incremental, staging.FullRebuild} {
		table := staging.TableName(live, kind)
		exists, err := engine.TableExists(ctx, ix.ic.Source, table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if _, err := engine.SyncColumns(ctx, ix.ic.Source, table, s.columns); err != nil {
			return err
		}
	}
	return nil
}

// prepareStaging readies the staging table of kind for live: columns are
// synced and old rows cleared. A full rebuild also drops the incremental
// table. Incremental work leaves a full rebuild table alone, since another
// process may be filling it.
func (ix *Indexer) prepareStaging(ctx context.Context, live string, kind staging.Kind, s schema) (string, error) {
	if kind == staging.FullRebuild {
		if err := engine.DropTable(ctx, ix.ic.Source, staging.TableName(live, staging.Incremental)); err != nil {
			return "", err
		}
	}
	table := staging.TableName(live, kind)
	if _, err := engine.SyncColumns(ctx, ix.ic.Source, table, s.columns); err != nil {
		return "", err
	}
	if err := ix.staging.ClearStaging(ctx, ix.ic.Source, table); err != nil {
		return "", err
	}
	return table, nil
}

// checkDrift compares a staging table against a freshly derived schema.
func (ix *Indexer) checkDrift(ctx context.Context, table string) error {
	want, err := ix.desiredSchema(ctx)
	if err != nil {
		return err
	}
	have, err := engine.Describe(ctx, ix.ic.Source, table)
	if err != nil {
		return err
	}
	if engine.SameColumns(have, want.columns) {
		return nil
	}

	drift := &flat.SchemaDriftError{Table: table}
	haveNames := make([]string, len(have))
	for i, c := range have {
		haveNames[i] = c.Name
	}
	for _, c := range want.columns {
		if !slices.Contains(haveNames, c.Name) {
			drift.Missing = append(drift.Missing, c.Name)
		}
	}
	wantNames := engine.Names(want.columns)
	for _, name := range haveNames {
		if !slices.Contains(wantNames, name) {
			drift.Extra = append(drift.Extra, name)
		}
	}
	return drift
}

// liveColumns lists the columns of store's live table; nil when missing.
func (ix *Indexer) liveColumns(ctx context.Context, store catalog.StoreID) ([]engine.Column, error) {
	return engine.Describe(ctx, ix.ic.Target, ix.FlatTableName(store))
}

func hasColumn(cols []engine.Column, name string) bool {
	return slices.ContainsFunc(cols, func(c engine.Column) bool { return c.Name == name })
}
