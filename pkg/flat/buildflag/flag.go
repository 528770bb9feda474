// Package buildflag persists whether a flat index is ready to serve, as a
// whole and per store.
//
// The state moves NeverBuilt -> PartiallyBuilt -> FullyBuilt. Only the flat
// indexer mutates it; the record is created on first save and removed by
// indexer teardown.
package buildflag

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/catalog"
)

// Data is the persisted payload of a flag.
type Data struct {
	GlobalBuilt   bool
	PerStoreBuilt map[catalog.StoreID]bool
}

// wire is the encoded form. Store ids become string keys so every codec
// (JSON, msgpack) handles the map the same way.
type wire struct {
	IsBuilt      bool            `json:"is_built" msgpack:"is_built"`
	IsStoreBuilt map[string]bool `json:"is_store_built" msgpack:"is_store_built"`
}

func toWire(d Data) wire {
	w := wire{IsBuilt: d.GlobalBuilt, IsStoreBuilt: make(map[string]bool, len(d.PerStoreBuilt))}
	for id, built := range d.PerStoreBuilt {
		w.IsStoreBuilt[strconv.FormatUint(uint64(id), 10)] = built
	}
	return w
}

func fromWire(w wire) (Data, error) {
	d := Data{GlobalBuilt: w.IsBuilt, PerStoreBuilt: make(map[catalog.StoreID]bool, len(w.IsStoreBuilt))}
	for key, built := range w.IsStoreBuilt {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return Data{}, fmt.Errorf("invalid store id %q in flag data: %w", key, err)
		}
		d.PerStoreBuilt[catalog.StoreID(id)] = built
	}
	return d, nil
}

// Store persists flag records by code.
type Store interface {
	// Load returns the record; found is false when it was never saved.
	Load(ctx context.Context, code string) (data Data, found bool, err error)
	Save(ctx context.Context, code string, data Data) error
	Delete(ctx context.Context, code string) error
}

// Flag is one process's view of a record shared with other processes. Every
// read goes to the store and overlays the changes made here since the last
// Save. Save re-reads the record and writes back only those changes, so bits
// persisted by another process in the meantime survive. Flag is safe for
// concurrent use.
type Flag struct {
	code   string
	store  Store
	logger *zap.Logger

	mu sync.Mutex
	// stores holds unsaved per-store changes; a nil value clears the store.
	stores map[catalog.StoreID]*bool
	global *bool
	// active is the store set of the last Recompute. Save recomputes the
	// global bit against it after merging.
	active []catalog.StoreID
}

// New returns the flag stored under code.
func New(code string, store Store, logger *zap.Logger) *Flag {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flag{
		code:   code,
		store:  store,
		logger: logger.With(zap.String("flag", code)),
		stores: map[catalog.StoreID]*bool{},
	}
}

// Code is the record key.
func (f *Flag) Code() string { return f.code }

// load reads the persisted record. Callers hold mu.
func (f *Flag) load(ctx context.Context) (Data, error) {
	data, found, err := f.store.Load(ctx, f.code)
	if err != nil {
		return Data{}, fmt.Errorf("load flag %s: %w", f.code, err)
	}
	if !found || data.PerStoreBuilt == nil {
		data.PerStoreBuilt = map[catalog.StoreID]bool{}
	}
	return data, nil
}

// apply overlays the unsaved changes on data. Callers hold mu.
func (f *Flag) apply(data Data) Data {
	for id, built := range f.stores {
		if built == nil {
			delete(data.PerStoreBuilt, id)
			continue
		}
		data.PerStoreBuilt[id] = *built
	}
	if f.active != nil {
		data.GlobalBuilt = globalBuilt(data, f.active)
	} else if f.global != nil {
		data.GlobalBuilt = *f.global
	}
	return data
}

// view is the persisted record with local changes applied. Callers hold mu.
func (f *Flag) view(ctx context.Context) (Data, error) {
	data, err := f.load(ctx)
	if err != nil {
		return Data{}, err
	}
	return f.apply(data), nil
}

func (f *Flag) reset() {
	f.stores = map[catalog.StoreID]*bool{}
	f.global = nil
	f.active = nil
}

func globalBuilt(data Data, active []catalog.StoreID) bool {
	if len(active) == 0 {
		return false
	}
	for _, id := range active {
		if !data.PerStoreBuilt[id] {
			return false
		}
	}
	return true
}

// GetFlagData returns the current payload; an unsaved flag is empty.
func (f *Flag) GetFlagData(ctx context.Context) (Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view(ctx)
}

// IsStoreBuilt reports a store's bit. Unseen stores are not built.
func (f *Flag) IsStoreBuilt(ctx context.Context, id catalog.StoreID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.view(ctx)
	if err != nil {
		return false, err
	}
	return data.PerStoreBuilt[id], nil
}

// SetStoreBuilt sets a store's bit.
func (f *Flag) SetStoreBuilt(_ context.Context, id catalog.StoreID, built bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores[id] = &built
	return nil
}

// ClearStore forgets a store entirely.
func (f *Flag) ClearStore(_ context.Context, id catalog.StoreID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores[id] = nil
	return nil
}

// GetIsBuilt reports the global bit.
func (f *Flag) GetIsBuilt(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.view(ctx)
	if err != nil {
		return false, err
	}
	return data.GlobalBuilt, nil
}

// SetIsBuilt sets the global bit directly, replacing a pending Recompute.
// Recompute is usually what callers want.
func (f *Flag) SetIsBuilt(_ context.Context, built bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global = &built
	f.active = nil
	return nil
}

// Recompute sets the global bit to whether every active store is built. No
// active stores means nothing can be served, so the bit is false. Save
// repeats the computation on the record it merges into.
func (f *Flag) Recompute(ctx context.Context, active []catalog.StoreID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.view(ctx)
	if err != nil {
		return false, err
	}
	before := data.GlobalBuilt
	f.active = append(make([]catalog.StoreID, 0, len(active)), active...)
	f.global = nil
	built := globalBuilt(data, f.active)
	if built != before {
		f.logger.Info("global build state changed", zap.Bool("built", built), zap.Int("activeStores", len(active)))
	}
	return built, nil
}

// Save merges the unsaved changes into the persisted record.
func (f *Flag) Save(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.view(ctx)
	if err != nil {
		return err
	}
	if err := f.store.Save(ctx, f.code, data); err != nil {
		return fmt.Errorf("save flag %s: %w", f.code, err)
	}
	f.reset()
	return nil
}

// Reload drops the unsaved changes.
func (f *Flag) Reload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset()
}

// Delete removes the record and drops the unsaved changes.
func (f *Flag) Delete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.store.Delete(ctx, f.code); err != nil {
		return fmt.Errorf("delete flag %s: %w", f.code, err)
	}
	f.reset()
	return nil
}
