package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluxhq/conflux/internal/bus"
	"github.com/confluxhq/conflux/internal/integrations/registry"
	"github.com/confluxhq/conflux/internal/store"
	"github.com/google/uuid"
)

// fakeStore is an in-memory Store for engine tests. It counts writes so
// tests can assert on convergence, not just final state.
type fakeStore struct {
	mu sync.Mutex

	datasets []store.Dataset
	tables   map[string]store.Table           // datasetID/key
	rows     map[uuid.UUID]map[string]store.Row
	objects  map[uuid.UUID]map[string]store.DatasetObject

	rowWrites    int
	objectWrites int

	listErr error
}

func newFakeStore(datasets ...store.Dataset) *fakeStore {
	return &fakeStore{
		datasets: datasets,
		tables:   make(map[string]store.Table),
		rows:     make(map[uuid.UUID]map[string]store.Row),
		objects:  make(map[uuid.UUID]map[string]store.DatasetObject),
	}
}

func (f *fakeStore) ListDatasets(context.Context) ([]store.Dataset, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]store.Dataset(nil), f.datasets...), nil
}

func (f *fakeStore) UpsertTable(_ context.Context, datasetID uuid.UUID, key, name string) (store.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mapKey := datasetID.String() + "/" + key
	t, ok := f.tables[mapKey]
	if !ok {
		t = store.Table{ID: uuid.New(), DatasetID: datasetID, Key: key}
	}
	t.Name = name
	f.tables[mapKey] = t
	return t, nil
}

func (f *fakeStore) GetRow(_ context.Context, tableID uuid.UUID, sourceID string) (store.Row, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[tableID][sourceID]
	return r, ok, nil
}

func (f *fakeStore) UpsertRow(_ context.Context, tableID uuid.UUID, sourceID string, data []byte) (store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rowWrites++
	if f.rows[tableID] == nil {
		f.rows[tableID] = make(map[string]store.Row)
	}
	r, ok := f.rows[tableID][sourceID]
	if !ok {
		r = store.Row{ID: uuid.New(), TableID: tableID, SourceID: sourceID}
	}
	r.Data = data
	f.rows[tableID][sourceID] = r
	return r, nil
}

func (f *fakeStore) FindRowByTableKey(_ context.Context, datasetID uuid.UUID, tableKey, sourceID string) (store.Row, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[datasetID.String()+"/"+tableKey]
	if !ok {
		return store.Row{}, false, nil
	}
	r, ok := f.rows[t.ID][sourceID]
	return r, ok, nil
}

func (f *fakeStore) GetObject(_ context.Context, datasetID uuid.UUID, objectType string) (store.DatasetObject, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[datasetID][objectType]
	return o, ok, nil
}

func (f *fakeStore) UpsertObject(_ context.Context, datasetID uuid.UUID, objectType, sourceID string, data []byte) (store.DatasetObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objectWrites++
	if f.objects[datasetID] == nil {
		f.objects[datasetID] = make(map[string]store.DatasetObject)
	}
	o, ok := f.objects[datasetID][objectType]
	if !ok {
		o = store.DatasetObject{ID: uuid.New(), DatasetID: datasetID, ObjectType: objectType}
	}
	o.SourceID = sourceID
	o.Data = data
	f.objects[datasetID][objectType] = o
	return o, nil
}

// staticResolver hands back the dataset's raw token field without any
// refresh or vault traffic.
type staticResolver struct {
	token string
	calls int
}

func (s *staticResolver) ResolveToken(context.Context, *store.Dataset, *registry.OAuthEndpoint) (string, error) {
	s.calls++
	return s.token, nil
}

func testDataset(integrationType string, creds string) store.Dataset {
	return store.Dataset{ID: uuid.New(), Name: "test", IntegrationType: integrationType, Credentials: []byte(creds)}
}

func newTestEngine(t *testing.T, st Store, integrations ...*registry.Integration) (*Engine, *bus.Bus) {
	t.Helper()
	reg := registry.NewRegistry()
	for _, i := range integrations {
		if err := reg.Register(i); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	b := bus.New()
	return New(st, b, reg, &staticResolver{token: "tok"}), b
}

func collectOps(b *bus.Bus) *[]bus.Operation {
	var ops []bus.Operation
	b.Subscribe(func(op bus.Operation) {
		if op.Kind != bus.KindPing {
			ops = append(ops, op)
		}
	})
	return &ops
}

func TestSyncTableIsIdempotent(t *testing.T) {
	t.Parallel()

	ds := testDataset("fake", `{"token":"t"}`)
	st := newFakeStore(ds)
	integration := &registry.Integration{
		Type:      "fake",
		Available: true,
		Tables: []registry.TableDefinition{{
			Key:  "items",
			Name: "Items",
			Get: func(context.Context, registry.FetchContext) (any, error) {
				return []any{map[string]any{"id": "a", "n": 1.0}}, nil
			},
		}},
	}
	e, b := newTestEngine(t, st, integration)
	ops := collectOps(b)

	for i := 0; i < 2; i++ {
		if err := e.SyncDataset(context.Background(), &ds); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	if st.rowWrites != 1 {
		t.Fatalf("identical record must be written once, got %d writes", st.rowWrites)
	}

	var rowOps, tableOps int
	for _, op := range *ops {
		switch op.Kind {
		case bus.KindRow:
			rowOps++
		case bus.KindTable:
			tableOps++
		}
	}
	if rowOps != 1 {
		t.Fatalf("expected 1 row operation, got %d", rowOps)
	}
	if tableOps != 2 {
		t.Fatalf("expected one table operation per pass, got %d", tableOps)
	}
}

func TestSyncTableDetectsStructuralChange(t *testing.T) {
	t.Parallel()

	records := []any{map[string]any{"id": "a", "v": 1.0}}
	ds := testDataset("fake", `{"token":"t"}`)
	st := newFakeStore(ds)
	e, _ := newTestEngine(t, st, &registry.Integration{
		Type:      "fake",
		Available: true,
		Tables: []registry.TableDefinition{{
			Key: "items",
			Get: func(context.Context, registry.FetchContext) (any, error) { return records, nil },
		}},
	})

	if err := e.SyncDataset(context.Background(), &ds); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	records[0] = map[string]any{"id": "a", "v": 2.0}
	if err := e.SyncDataset(context.Background(), &ds); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if st.rowWrites != 2 {
		t.Fatalf("changed record must be rewritten, got %d writes", st.rowWrites)
	}
}

func TestSyncDatasetSkipsWithoutCredentialMarker(t *testing.T) {
	t.Parallel()

	fetched := false
	ds := testDataset("fake", `{}`)
	st := newFakeStore(ds)
	resolver := &staticResolver{}
	reg := registry.NewRegistry()
	_ = reg.Register(&registry.Integration{
		Type:      "fake",
		Available: true,
		Tables: []registry.TableDefinition{{
			Key: "items",
			Get: func(context.Context, registry.FetchContext) (any, error) {
				fetched = true
				return []any{}, nil
			},
		}},
	})
	e := New(st, bus.New(), reg, resolver)

	if err := e.SyncDataset(context.Background(), &ds); err != nil {
		t.Fatalf("SyncDataset: %v", err)
	}
	if fetched || resolver.calls != 0 {
		t.Fatal("dataset without credential marker must not fetch or resolve")
	}
	if st.rowWrites != 0 || len(st.tables) != 0 {
		t.Fatal("dataset without credential marker must not write")
	}
}

func TestSyncObjectNullTransition(t *testing.T) {
	t.Parallel()

	var result any = map[string]any{"name": "acme"}
	ds := testDataset("fake", `{"token":"t"}`)
	st := newFakeStore(ds)
	e, b := newTestEngine(t, st, &registry.Integration{
		Type:      "fake",
		Available: true,
		Objects: []registry.ObjectDefinition{{
			Key: "profile",
			Get: func(context.Context, registry.FetchContext) (any, error) { return result, nil },
		}},
	})
	ops := collectOps(b)

	if err := e.SyncDataset(context.Background(), &ds); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	result = nil
	if err := e.SyncDataset(context.Background(), &ds); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if st.objectWrites != 2 {
		t.Fatalf("nil result must overwrite the stored object, got %d writes", st.objectWrites)
	}
	obj := st.objects[ds.ID]["profile"]
	if string(obj.Data) != "null" {
		t.Fatalf("stored data = %s, want null", obj.Data)
	}
	last := (*ops)[len(*ops)-1]
	if last.Kind != bus.KindObject || string(last.Data) != "null" {
		t.Fatalf("last operation = %+v, want object with null data", last)
	}

	// A third pass with the same nil result must not rewrite.
	if err := e.SyncDataset(context.Background(), &ds); err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if st.objectWrites != 2 {
		t.Fatalf("already-null object must not be rewritten, got %d writes", st.objectWrites)
	}
}

func TestSyncTableEmitsTableOperationOnFetchFailure(t *testing.T) {
	t.Parallel()

	ds := testDataset("fake", `{"token":"t"}`)
	st := newFakeStore(ds)
	e, b := newTestEngine(t, st, &registry.Integration{
		Type:      "fake",
		Available: true,
		Tables: []registry.TableDefinition{{
			Key: "items",
			Get: func(context.Context, registry.FetchContext) (any, error) {
				return nil, errors.New("upstream down")
			},
		}},
	})
	ops := collectOps(b)

	if err := e.SyncDataset(context.Background(), &ds); err == nil {
		t.Fatal("expected fetch failure to surface")
	}
	var tableOps int
	for _, op := range *ops {
		if op.Kind == bus.KindTable {
			tableOps++
		}
	}
	if tableOps != 1 {
		t.Fatalf("expected exactly one table operation, got %d", tableOps)
	}
	if len(st.tables) != 1 {
		t.Fatal("table record must be ensured before the fetch")
	}
}

func TestSyncTableNonSequenceAborted(t *testing.T) {
	t.Parallel()

	ds := testDataset("fake", `{"token":"t"}`)
	st := newFakeStore(ds)
	e, _ := newTestEngine(t, st, &registry.Integration{
		Type:      "fake",
		Available: true,
		Tables: []registry.TableDefinition{{
			Key: "items",
			Get: func(context.Context, registry.FetchContext) (any, error) {
				return map[string]any{"not": "a sequence"}, nil
			},
		}},
	})

	if err := e.SyncDataset(context.Background(), &ds); err != nil {
		t.Fatalf("non-sequence result must be logged, not an error: %v", err)
	}
	if st.rowWrites != 0 {
		t.Fatalf("non-sequence result must not write rows, got %d", st.rowWrites)
	}
}

func TestSyncDatasetIsolatesFailingUnits(t *testing.T) {
	t.Parallel()

	ds := testDataset("fake", `{"token":"t"}`)
	st := newFakeStore(ds)
	e, _ := newTestEngine(t, st, &registry.Integration{
		Type:      "fake",
		Available: true,
		Objects: []registry.ObjectDefinition{{
			Key: "profile",
			Get: func(context.Context, registry.FetchContext) (any, error) {
				return nil, errors.New("object endpoint down")
			},
		}},
		Tables: []registry.TableDefinition{
			{
				Key: "broken",
				Get: func(context.Context, registry.FetchContext) (any, error) {
					return nil, errors.New("table endpoint down")
				},
			},
			{
				Key: "healthy",
				Get: func(context.Context, registry.FetchContext) (any, error) {
					return []any{map[string]any{"id": "x"}}, nil
				},
			},
		},
	})

	err := e.SyncDataset(context.Background(), &ds)
	if err == nil {
		t.Fatal("expected joined unit errors")
	}
	if st.rowWrites != 1 {
		t.Fatalf("healthy sibling must still sync, got %d row writes", st.rowWrites)
	}
}

func TestSyncAllSkipsFailingDataset(t *testing.T) {
	t.Parallel()

	bad := testDataset("fake", `{"token":"t"}`)
	good := testDataset("fake", `{"token":"t"}`)
	st := newFakeStore(bad, good)
	e, _ := newTestEngine(t, st, &registry.Integration{
		Type:      "fake",
		Available: true,
		Tables: []registry.TableDefinition{{
			Key: "items",
			Get: func(_ context.Context, fc registry.FetchContext) (any, error) {
				if fc.Dataset.ID == bad.ID {
					return nil, errors.New("boom")
				}
				return []any{map[string]any{"id": "ok"}}, nil
			},
		}},
	})

	if err := e.SyncAll(context.Background()); err != nil {
		t.Fatalf("SyncAll must not fail on one bad dataset: %v", err)
	}
	if st.rowWrites != 1 {
		t.Fatalf("second dataset must sync despite the first failing, got %d writes", st.rowWrites)
	}
}

func TestRowSourceIDFallbacks(t *testing.T) {
	t.Parallel()

	e := &Engine{}
	ds := &store.Dataset{ID: uuid.New()}

	withFn := registry.TableDefinition{RowID: func(_ *store.Dataset, record any) string {
		return registry.RecordField(record, "slug")
	}}
	id, err := e.rowSourceID(ds, withFn, map[string]any{"slug": "alpha", "id": "ignored"})
	if err != nil || id != "alpha" {
		t.Fatalf("identity fn: %q, %v", id, err)
	}

	id, err = e.rowSourceID(ds, registry.TableDefinition{}, map[string]any{"id": 42.0})
	if err != nil || id != "42" {
		t.Fatalf("id member fallback: %q, %v", id, err)
	}

	record := map[string]any{"b": 2.0, "a": 1.0}
	id1, err := e.rowSourceID(ds, registry.TableDefinition{}, record)
	if err != nil {
		t.Fatalf("content hash: %v", err)
	}
	id2, _ := e.rowSourceID(ds, registry.TableDefinition{}, map[string]any{"a": 1.0, "b": 2.0})
	if id1 == "" || id1 != id2 {
		t.Fatalf("content hash must be stable across member order: %q vs %q", id1, id2)
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	runs := make(chan struct{}, 8)
	s := &Scheduler{Runner: runnerFunc(func(context.Context) error {
		runs <- struct{}{}
		return nil
	}), Interval: time.Hour}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	<-runs // startup run
	cancel()
	<-done
}

type runnerFunc func(context.Context) error

func (f runnerFunc) RunOnce(ctx context.Context) error { return f(ctx) }
