// Package engine runs sync passes: it walks configured datasets, pulls
// each integration's objects and tables, and converges stored snapshots
// through the fingerprint-based upsert layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/confluxhq/conflux/internal/bus"
	"github.com/confluxhq/conflux/internal/credentials"
	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/metrics"
	"github.com/confluxhq/conflux/internal/store"
)

// TokenResolver yields a bearer token for a dataset, or empty when the
// dataset carries no usable credential.
type TokenResolver interface {
	ResolveToken(ctx context.Context, ds *store.Dataset, oauth *registry.OAuthEndpoint) (string, error)
}

// Engine is the sync orchestrator. One Engine serves the whole process;
// passes may run concurrently because all state lives in the store.
type Engine struct {
	store      Store
	bus        *bus.Bus
	registry   *registry.Registry
	creds      TokenResolver
	upserter   *Upserter
	httpClient *http.Client

	// FetchTimeout bounds each individual fetch call, not the pass.
	FetchTimeout time.Duration
}

func New(st Store, b *bus.Bus, reg *registry.Registry, creds TokenResolver) *Engine {
	return &Engine{
		store:        st,
		bus:          b,
		registry:     reg,
		creds:        creds,
		upserter:     NewUpserter(st, b, "poll"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		FetchTimeout: 60 * time.Second,
	}
}

// Env returns the upsert surface for callers outside the polling path,
// e.g. the webhook dispatcher.
func (e *Engine) Env(origin string) registry.Env {
	return NewUpserter(e.store, e.bus, origin)
}

// SyncAll runs one sync pass over every dataset, sequentially and in
// listing order. A failing dataset is logged and skipped; only the
// initial dataset listing can fail the pass itself.
func (e *Engine) SyncAll(ctx context.Context) error {
	datasets, err := e.store.ListDatasets(ctx)
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}

	slog.Info("sync pass starting", "datasets", len(datasets))
	for i := range datasets {
		ds := &datasets[i]
		if err := e.SyncDataset(ctx, ds); err != nil {
			slog.Error("dataset sync failed", "dataset_id", ds.ID, "integration_type", ds.IntegrationType, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	slog.Info("sync pass finished", "datasets", len(datasets))
	return nil
}

// SyncDataset syncs one dataset: resolves the token once, then syncs
// every declared object and table. A failing unit never prevents its
// siblings from running; unit errors are joined into the result.
//
// Datasets without an integration type or without any credential marker
// are skipped silently with no fetch and no write.
func (e *Engine) SyncDataset(ctx context.Context, ds *store.Dataset) error {
	if ds.IntegrationType == "" {
		return nil
	}
	integration, ok := e.registry.Resolve(ds.IntegrationType)
	if !ok {
		slog.Warn("dataset references unknown integration type", "dataset_id", ds.ID, "integration_type", ds.IntegrationType)
		return nil
	}

	creds, err := credentials.Decode(ds.Credentials)
	if err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	if !creds.HasUsable() {
		slog.Debug("dataset has no usable credential, skipping", "dataset_id", ds.ID)
		return nil
	}

	start := time.Now()
	token, err := e.creds.ResolveToken(ctx, ds, integration.OAuth)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(ds.IntegrationType, "error").Inc()
		return fmt.Errorf("resolve token: %w", err)
	}

	fc := registry.FetchContext{Dataset: ds, Token: token, Client: e.httpClient}

	var errs []error
	for _, obj := range integration.Objects {
		if err := e.SyncObject(ctx, ds, obj, fc); err != nil {
			slog.Error("object sync failed", "dataset_id", ds.ID, "object_type", obj.Key, "error", err)
			errs = append(errs, fmt.Errorf("object %s: %w", obj.Key, err))
		}
	}
	for _, table := range integration.Tables {
		if err := e.SyncTable(ctx, ds, table, fc); err != nil {
			slog.Error("table sync failed", "dataset_id", ds.ID, "table_key", table.Key, "error", err)
			errs = append(errs, fmt.Errorf("table %s: %w", table.Key, err))
		}
	}

	metrics.SyncDuration.WithLabelValues(ds.IntegrationType).Observe(time.Since(start).Seconds())
	if len(errs) > 0 {
		metrics.SyncRunsTotal.WithLabelValues(ds.IntegrationType, "error").Inc()
		return errors.Join(errs...)
	}
	metrics.SyncRunsTotal.WithLabelValues(ds.IntegrationType, "success").Inc()
	metrics.SyncLastSuccessTimestamp.WithLabelValues(ds.IntegrationType).SetToCurrentTime()
	return nil
}

// SyncObject fetches and converges one singleton object. A nil fetch
// result is stored as JSON null so consumers can observe "became empty".
func (e *Engine) SyncObject(ctx context.Context, ds *store.Dataset, obj registry.ObjectDefinition, fc registry.FetchContext) error {
	if obj.Get == nil {
		return nil
	}

	fetchCtx, cancel := e.fetchContext(ctx)
	record, err := obj.Get(fetchCtx, fc)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	sourceID := ""
	if record != nil && obj.ObjectID != nil {
		sourceID = obj.ObjectID(ds, record)
	}
	_, err = e.upserter.UpsertObject(ctx, ds.ID, obj.Key, record, sourceID)
	return err
}

// SyncTable fetches and converges one table. The table record is ensured
// before the fetch, and exactly one table operation is announced per
// attempt, success or not, so stream consumers can track pass boundaries.
func (e *Engine) SyncTable(ctx context.Context, ds *store.Dataset, def registry.TableDefinition, fc registry.FetchContext) (err error) {
	// Fetch-less tables are only written through webhooks or setup
	// routines; polling has nothing to do and signals nothing.
	if def.Get == nil {
		return nil
	}

	table, err := e.upserter.EnsureTable(ctx, ds.ID, def.Key, def.Name)
	if err != nil {
		return fmt.Errorf("ensure table: %w", err)
	}
	defer func() {
		if e.bus == nil {
			return
		}
		metrics.OperationsEmittedTotal.WithLabelValues(string(bus.KindTable)).Inc()
		e.bus.Emit(bus.Operation{Kind: bus.KindTable, DatasetID: ds.ID, TableID: table.ID})
	}()

	fetchCtx, cancel := e.fetchContext(ctx)
	result, err := def.Get(fetchCtx, fc)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	records, ok := asSequence(result)
	if !ok {
		slog.Error("table fetch returned a non-sequence, aborting table", "dataset_id", ds.ID, "table_key", def.Key)
		return nil
	}

	for _, record := range records {
		sourceID, idErr := e.rowSourceID(ds, def, record)
		if idErr != nil {
			return idErr
		}
		if _, err := e.upserter.UpsertRow(ctx, table.ID, sourceID, record); err != nil {
			return fmt.Errorf("upsert row %s: %w", sourceID, err)
		}
	}
	return nil
}

// rowSourceID derives the external identity of a record: the
// integration's identity function, falling back to the record's "id"
// member, falling back to a content hash. Identical records always map
// to the same identity.
func (e *Engine) rowSourceID(ds *store.Dataset, def registry.TableDefinition, record any) (string, error) {
	if def.RowID != nil {
		if id := def.RowID(ds, record); id != "" {
			return id, nil
		}
	}
	if id := registry.RecordField(record, "id"); id != "" {
		return id, nil
	}
	data, err := marshalRecord(record)
	if err != nil {
		return "", err
	}
	return contentFingerprint(data), nil
}

func (e *Engine) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.FetchTimeout)
}
