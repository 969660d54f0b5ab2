package engine

import (
	"context"

	"github.com/confluxhq/conflux/internal/bus"
	"github.com/confluxhq/conflux/internal/metrics"
	"github.com/confluxhq/conflux/internal/store"
	"github.com/google/uuid"
)

// Store is the persistence surface the engine writes through. The
// concrete pgx store satisfies it; tests substitute an in-memory fake.
type Store interface {
	ListDatasets(ctx context.Context) ([]store.Dataset, error)
	UpsertTable(ctx context.Context, datasetID uuid.UUID, key, name string) (store.Table, error)
	GetRow(ctx context.Context, tableID uuid.UUID, sourceID string) (store.Row, bool, error)
	UpsertRow(ctx context.Context, tableID uuid.UUID, sourceID string, data []byte) (store.Row, error)
	FindRowByTableKey(ctx context.Context, datasetID uuid.UUID, tableKey, sourceID string) (store.Row, bool, error)
	GetObject(ctx context.Context, datasetID uuid.UUID, objectType string) (store.DatasetObject, bool, error)
	UpsertObject(ctx context.Context, datasetID uuid.UUID, objectType, sourceID string, data []byte) (store.DatasetObject, error)
}

// Upserter is the fingerprint-based create-or-update layer shared by
// polling sync and webhook dispatch. It implements registry.Env so
// webhook handlers converge on the same invariants.
type Upserter struct {
	Store  Store
	Bus    *bus.Bus
	Origin string // "poll" or "webhook", metrics label only
}

func NewUpserter(st Store, b *bus.Bus, origin string) *Upserter {
	if origin == "" {
		origin = "poll"
	}
	return &Upserter{Store: st, Bus: b, Origin: origin}
}

// UpsertRow writes the record snapshot under (tableID, sourceID) unless
// the stored snapshot is already structurally equal. It reports whether
// a write happened and emits one row operation per write.
func (u *Upserter) UpsertRow(ctx context.Context, tableID uuid.UUID, sourceID string, record any) (bool, error) {
	data, err := marshalRecord(record)
	if err != nil {
		return false, err
	}

	existing, found, err := u.Store.GetRow(ctx, tableID, sourceID)
	if err != nil {
		return false, err
	}
	if found && jsonEqual(existing.Data, data) {
		return false, nil
	}

	if _, err := u.Store.UpsertRow(ctx, tableID, sourceID, data); err != nil {
		return false, err
	}
	metrics.RowsUpsertedTotal.WithLabelValues(u.Origin).Inc()
	u.emit(bus.Operation{Kind: bus.KindRow, TableID: tableID, Data: data})
	return true, nil
}

// UpsertObject is the singleton counterpart keyed on
// (datasetID, objectType). A nil record stores JSON null, so "became
// empty" is distinguishable from "already empty".
func (u *Upserter) UpsertObject(ctx context.Context, datasetID uuid.UUID, objectType string, record any, sourceID string) (bool, error) {
	data, err := marshalRecord(record)
	if err != nil {
		return false, err
	}

	existing, found, err := u.Store.GetObject(ctx, datasetID, objectType)
	if err != nil {
		return false, err
	}
	if found && jsonEqual(existing.Data, data) {
		return false, nil
	}

	if _, err := u.Store.UpsertObject(ctx, datasetID, objectType, sourceID, data); err != nil {
		return false, err
	}
	metrics.ObjectsUpsertedTotal.WithLabelValues(u.Origin).Inc()
	u.emit(bus.Operation{Kind: bus.KindObject, DatasetID: datasetID, ObjectType: objectType, Data: data})
	return true, nil
}

// EnsureTable creates or refreshes the table record for (datasetID, key).
func (u *Upserter) EnsureTable(ctx context.Context, datasetID uuid.UUID, key, name string) (store.Table, error) {
	return u.Store.UpsertTable(ctx, datasetID, key, name)
}

// FindRow resolves a previously-synced row through the table key, e.g. a
// webhook subscription record by external subscription id.
func (u *Upserter) FindRow(ctx context.Context, datasetID uuid.UUID, tableKey, sourceID string) (store.Row, bool, error) {
	return u.Store.FindRowByTableKey(ctx, datasetID, tableKey, sourceID)
}

func (u *Upserter) emit(op bus.Operation) {
	if u.Bus == nil {
		return
	}
	metrics.OperationsEmittedTotal.WithLabelValues(string(op.Kind)).Inc()
	u.Bus.Emit(op)
}
