package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tracefield/tracefield/errors"
)

// SchemaColumn is one named, typed column of a dataset's declared schema.
// Order is significant and preserved.
type SchemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Dataset represents an ingested source file's registration. The schema is
// immutable after creation; only descriptive metadata may change.
type Dataset struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Schema    []SchemaColumn `json:"schema"`
	License   string         `json:"license,omitempty"`
	Source    string         `json:"source,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DatasetStore provides database operations for datasets.
type DatasetStore struct {
	db DBTX
}

// NewDatasetStore creates a new dataset store.
func NewDatasetStore(db DBTX) *DatasetStore {
	return &DatasetStore{db: db}
}

// Create inserts a new dataset. A missing ID is generated.
func (s *DatasetStore) Create(ds *Dataset) error {
	if ds.Name == "" {
		return errors.New("dataset name is required")
	}
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.UpdatedAt = now

	schemaJSON, err := json.Marshal(ds.Schema)
	if err != nil {
		return errors.Wrap(err, "failed to marshal dataset schema")
	}
	if ds.Schema == nil {
		schemaJSON = []byte("[]")
	}

	query := `
		INSERT INTO datasets (id, name, schema_json, license, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		ds.ID,
		ds.Name,
		string(schemaJSON),
		nullString(ds.License),
		nullString(ds.Source),
		ds.CreatedAt,
		ds.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create dataset %s", ds.ID)
	}

	return nil
}

// Get retrieves a dataset by ID.
func (s *DatasetStore) Get(id string) (*Dataset, error) {
	query := `
		SELECT id, name, schema_json, license, source, created_at, updated_at
		FROM datasets WHERE id = ?
	`

	var ds Dataset
	var schemaJSON string
	var license, source sql.NullString

	err := s.db.QueryRow(query, id).Scan(
		&ds.ID, &ds.Name, &schemaJSON, &license, &source, &ds.CreatedAt, &ds.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "dataset %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get dataset %s", id)
	}

	if err := json.Unmarshal([]byte(schemaJSON), &ds.Schema); err != nil {
		return nil, errors.Wrapf(err, "corrupt schema for dataset %s", id)
	}
	ds.License = fromNullString(license)
	ds.Source = fromNullString(source)

	return &ds, nil
}

// UpdateMetadata changes the descriptive fields of a dataset. The schema
// cannot be altered after creation.
func (s *DatasetStore) UpdateMetadata(id, name, license, source string) error {
	query := `
		UPDATE datasets SET name = ?, license = ?, source = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.Exec(query, name, nullString(license), nullString(source), time.Now().UTC(), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update dataset %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "dataset %s", id)
	}
	return nil
}

// List returns all datasets ordered by creation time.
func (s *DatasetStore) List() ([]*Dataset, error) {
	query := `
		SELECT id, name, schema_json, license, source, created_at, updated_at
		FROM datasets ORDER BY created_at, id
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list datasets")
	}
	defer rows.Close()

	var out []*Dataset
	for rows.Next() {
		var ds Dataset
		var schemaJSON string
		var license, source sql.NullString
		if err := rows.Scan(&ds.ID, &ds.Name, &schemaJSON, &license, &source, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan dataset")
		}
		if err := json.Unmarshal([]byte(schemaJSON), &ds.Schema); err != nil {
			return nil, errors.Wrapf(err, "corrupt schema for dataset %s", ds.ID)
		}
		ds.License = fromNullString(license)
		ds.Source = fromNullString(source)
		out = append(out, &ds)
	}
	return out, rows.Err()
}
