package indexer

import (
	"context"

	"github.com/canopy-network/flatx/pkg/catalog"
	"github.com/canopy-network/flatx/pkg/db/engine"
)

// StoreStatus is the read-only state of one store's flat table.
type StoreStatus struct {
	StoreID catalog.StoreID `json:"storeId"`
	Code    string          `json:"code"`
	Table   string          `json:"table"`
	Built   bool            `json:"built"`
	Rows    int64           `json:"rows"`
	Columns []string        `json:"columns,omitempty"`
}

// Status is the read-only state of an indexer.
type Status struct {
	EntityType string        `json:"entityType"`
	Available  bool          `json:"available"`
	Built      bool          `json:"built"`
	Stores     []StoreStatus `json:"stores"`
}

// Status reports the build state and size of every active store.
func (ix *Indexer) Status(ctx context.Context) (Status, error) {
	st := Status{EntityType: ix.et.String(), Available: ix.IsAvailable()}
	if !st.Available {
		return st, nil
	}

	data, err := ix.flag.GetFlagData(ctx)
	if err != nil {
		return st, err
	}
	st.Built = data.GlobalBuilt

	stores, err := ix.ic.Topology.ActiveStores(ctx)
	if err != nil {
		return st, err
	}
	for _, s := range stores {
		ss := StoreStatus{StoreID: s.ID, Code: s.Code, Table: ix.FlatTableName(s.ID), Built: data.PerStoreBuilt[s.ID]}
		cols, err := engine.ColumnNames(ctx, ix.ic.Target, ss.Table)
		if err != nil {
			return st, err
		}
		if len(cols) > 0 {
			ss.Columns = cols
			if err := engine.QueryScalar(ctx, ix.ic.Target, &ss.Rows, "SELECT COUNT(*) FROM "+engine.Quote(ss.Table)); err != nil {
				return st, err
			}
		}
		st.Stores = append(st.Stores, ss)
	}
	return st, nil
}
