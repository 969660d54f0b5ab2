package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// These tests need a migrated Postgres database and are skipped unless
// TEST_DATABASE_URL is set.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	return New(pool)
}

func TestDatasetLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ds, err := s.CreateDataset(ctx, "acme github", "github", []byte(`{"token":"t"}`))
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteDataset(context.Background(), ds.ID) })

	got, err := s.GetDataset(ctx, ds.ID)
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.IntegrationType != "github" || got.Name != "acme github" {
		t.Fatalf("unexpected dataset %+v", got)
	}

	if err := s.UpdateDatasetCredentials(ctx, ds.ID, []byte(`{"token":"t2"}`)); err != nil {
		t.Fatalf("UpdateDatasetCredentials: %v", err)
	}

	if err := s.DeleteDataset(ctx, ds.ID); err != nil {
		t.Fatalf("DeleteDataset: %v", err)
	}
	if _, err := s.GetDataset(ctx, ds.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpsertsTargetUniqueKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ds, err := s.CreateDataset(ctx, "upserts", "github", []byte(`{}`))
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteDataset(context.Background(), ds.ID) })

	tbl1, err := s.UpsertTable(ctx, ds.ID, "repos", "Repositories")
	if err != nil {
		t.Fatalf("UpsertTable: %v", err)
	}
	tbl2, err := s.UpsertTable(ctx, ds.ID, "repos", "Repos")
	if err != nil {
		t.Fatalf("UpsertTable again: %v", err)
	}
	if tbl1.ID != tbl2.ID {
		t.Fatalf("table upsert must converge on one record: %s vs %s", tbl1.ID, tbl2.ID)
	}
	if tbl2.Name != "Repos" {
		t.Fatalf("table name not refreshed: %q", tbl2.Name)
	}

	r1, err := s.UpsertRow(ctx, tbl1.ID, "1", []byte(`{"id":1}`))
	if err != nil {
		t.Fatalf("UpsertRow: %v", err)
	}
	r2, err := s.UpsertRow(ctx, tbl1.ID, "1", []byte(`{"id":1,"name":"a"}`))
	if err != nil {
		t.Fatalf("UpsertRow again: %v", err)
	}
	if r1.ID != r2.ID {
		t.Fatalf("row upsert must converge on one record")
	}

	found, ok, err := s.FindRowByTableKey(ctx, ds.ID, "repos", "1")
	if err != nil || !ok {
		t.Fatalf("FindRowByTableKey: ok=%v err=%v", ok, err)
	}
	if found.ID != r1.ID {
		t.Fatalf("FindRowByTableKey resolved wrong row")
	}

	o1, err := s.UpsertObject(ctx, ds.ID, "profile", "7", []byte(`{"id":7}`))
	if err != nil {
		t.Fatalf("UpsertObject: %v", err)
	}
	o2, err := s.UpsertObject(ctx, ds.ID, "profile", "", []byte(`null`))
	if err != nil {
		t.Fatalf("UpsertObject null: %v", err)
	}
	if o1.ID != o2.ID {
		t.Fatalf("object upsert must converge on one record")
	}
	if string(o2.Data) != "null" {
		t.Fatalf("expected stored null, got %q", string(o2.Data))
	}

	if _, ok, err := s.GetRow(ctx, uuid.New(), "1"); err != nil || ok {
		t.Fatalf("GetRow on unknown table: ok=%v err=%v", ok, err)
	}
}
