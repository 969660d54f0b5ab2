// Package store is the relational persistence layer the sync engine
// writes through. Every write targets a named unique key with
// insert-or-update-on-conflict semantics; synced rows and objects are
// never deleted here.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: not found")

// Dataset is one configured connection to an integration.
type Dataset struct {
	ID              uuid.UUID
	Name            string
	IntegrationType string // empty when unconfigured
	Credentials     []byte // opaque structured blob, engine-side codec
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Table is the materialized instance of a table definition for one
// dataset. Unique on (dataset_id, key).
type Table struct {
	ID        uuid.UUID
	DatasetID uuid.UUID
	Key       string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Row is one synced record. Unique on (table_id, source_id); SourceID is
// the fingerprint derived by the integration's row identity function.
type Row struct {
	ID        uuid.UUID
	TableID   uuid.UUID
	SourceID  string
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DatasetObject is a singleton record per (dataset_id, object_type).
// Data may legitimately hold JSON null when the source reports no
// current object.
type DatasetObject struct {
	ID         uuid.UUID
	DatasetID  uuid.UUID
	ObjectType string
	SourceID   string
	Data       []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store wraps a pgx pool with the queries the engine depends on.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const datasetColumns = `id, name, coalesce(integration_type, ''), credentials, created_at, updated_at`

func scanDataset(row pgx.Row) (Dataset, error) {
	var d Dataset
	err := row.Scan(&d.ID, &d.Name, &d.IntegrationType, &d.Credentials, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// CreateDataset inserts a dataset. An empty integrationType is stored as
// NULL so the unconfigured state survives round trips.
func (s *Store) CreateDataset(ctx context.Context, name, integrationType string, credentials []byte) (Dataset, error) {
	if len(credentials) == 0 {
		credentials = []byte("{}")
	}
	return scanDataset(s.pool.QueryRow(ctx, `
		INSERT INTO datasets (id, name, integration_type, credentials)
		VALUES ($1, $2, nullif($3, ''), $4)
		RETURNING `+datasetColumns,
		uuid.New(), name, integrationType, credentials))
}

func (s *Store) GetDataset(ctx context.Context, id uuid.UUID) (Dataset, error) {
	d, err := scanDataset(s.pool.QueryRow(ctx, `
		SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Dataset{}, ErrNotFound
	}
	return d, err
}

func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+datasetColumns+` FROM datasets ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDatasetCredentials persists a refreshed credential blob.
func (s *Store) UpdateDatasetCredentials(ctx context.Context, id uuid.UUID, credentials []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE datasets SET credentials = $2, updated_at = now() WHERE id = $1`,
		id, credentials)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDataset removes a dataset; tables, rows and objects cascade at
// the schema level.
func (s *Store) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const tableColumns = `id, dataset_id, key, name, created_at, updated_at`

func scanTable(row pgx.Row) (Table, error) {
	var t Table
	err := row.Scan(&t.ID, &t.DatasetID, &t.Key, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// UpsertTable creates or refreshes the table record for (datasetID, key).
func (s *Store) UpsertTable(ctx context.Context, datasetID uuid.UUID, key, name string) (Table, error) {
	return scanTable(s.pool.QueryRow(ctx, `
		INSERT INTO dataset_tables (id, dataset_id, key, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset_id, key)
		DO UPDATE SET name = EXCLUDED.name, updated_at = now()
		RETURNING `+tableColumns,
		uuid.New(), datasetID, key, name))
}

func (s *Store) GetTableByKey(ctx context.Context, datasetID uuid.UUID, key string) (Table, error) {
	t, err := scanTable(s.pool.QueryRow(ctx, `
		SELECT `+tableColumns+` FROM dataset_tables WHERE dataset_id = $1 AND key = $2`,
		datasetID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Table{}, ErrNotFound
	}
	return t, err
}

func (s *Store) ListTables(ctx context.Context, datasetID uuid.UUID) ([]Table, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tableColumns+` FROM dataset_tables WHERE dataset_id = $1 ORDER BY key`,
		datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const rowColumns = `id, table_id, source_id, data, created_at, updated_at`

func scanRow(row pgx.Row) (Row, error) {
	var r Row
	err := row.Scan(&r.ID, &r.TableID, &r.SourceID, &r.Data, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) GetRow(ctx context.Context, tableID uuid.UUID, sourceID string) (Row, bool, error) {
	r, err := scanRow(s.pool.QueryRow(ctx, `
		SELECT `+rowColumns+` FROM dataset_rows WHERE table_id = $1 AND source_id = $2`,
		tableID, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	return r, true, nil
}

// UpsertRow writes the latest snapshot for (tableID, sourceID).
func (s *Store) UpsertRow(ctx context.Context, tableID uuid.UUID, sourceID string, data []byte) (Row, error) {
	return scanRow(s.pool.QueryRow(ctx, `
		INSERT INTO dataset_rows (id, table_id, source_id, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (table_id, source_id)
		DO UPDATE SET data = EXCLUDED.data, source_id = EXCLUDED.source_id, updated_at = now()
		RETURNING `+rowColumns,
		uuid.New(), tableID, sourceID, data))
}

func (s *Store) ListRows(ctx context.Context, tableID uuid.UUID) ([]Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+rowColumns+` FROM dataset_rows WHERE table_id = $1 ORDER BY created_at, id`,
		tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindRowByTableKey resolves a row through the table key instead of the
// table id. Webhook handlers use it to locate previously-synced
// subscription records by external id.
func (s *Store) FindRowByTableKey(ctx context.Context, datasetID uuid.UUID, tableKey, sourceID string) (Row, bool, error) {
	r, err := scanRow(s.pool.QueryRow(ctx, `
		SELECT r.id, r.table_id, r.source_id, r.data, r.created_at, r.updated_at
		FROM dataset_rows r
		JOIN dataset_tables t ON t.id = r.table_id
		WHERE t.dataset_id = $1 AND t.key = $2 AND r.source_id = $3`,
		datasetID, tableKey, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	return r, true, nil
}

const objectColumns = `id, dataset_id, object_type, source_id, data, created_at, updated_at`

func scanObject(row pgx.Row) (DatasetObject, error) {
	var o DatasetObject
	err := row.Scan(&o.ID, &o.DatasetID, &o.ObjectType, &o.SourceID, &o.Data, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *Store) GetObject(ctx context.Context, datasetID uuid.UUID, objectType string) (DatasetObject, bool, error) {
	o, err := scanObject(s.pool.QueryRow(ctx, `
		SELECT `+objectColumns+` FROM dataset_objects WHERE dataset_id = $1 AND object_type = $2`,
		datasetID, objectType))
	if errors.Is(err, pgx.ErrNoRows) {
		return DatasetObject{}, false, nil
	}
	if err != nil {
		return DatasetObject{}, false, err
	}
	return o, true, nil
}

// UpsertObject writes the latest snapshot for (datasetID, objectType).
// data is the serialized record and may be JSON null.
func (s *Store) UpsertObject(ctx context.Context, datasetID uuid.UUID, objectType, sourceID string, data []byte) (DatasetObject, error) {
	return scanObject(s.pool.QueryRow(ctx, `
		INSERT INTO dataset_objects (id, dataset_id, object_type, source_id, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dataset_id, object_type)
		DO UPDATE SET data = EXCLUDED.data, source_id = EXCLUDED.source_id, updated_at = now()
		RETURNING `+objectColumns,
		uuid.New(), datasetID, objectType, sourceID, data))
}

func (s *Store) ListObjects(ctx context.Context, datasetID uuid.UUID) ([]DatasetObject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+objectColumns+` FROM dataset_objects WHERE dataset_id = $1 ORDER BY object_type`,
		datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DatasetObject
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
