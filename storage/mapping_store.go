package storage

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tracefield/tracefield/errors"
)

// Resolution methods recorded on a mapping.
const (
	MethodExact    = "exact"
	MethodSemantic = "semantic"
	MethodManual   = "manual"
	MethodCreated  = "created"
)

// Mapping links one source record in a dataset to a canonical entity.
// At most one mapping exists per (dataset, source record).
type Mapping struct {
	ID             string    `json:"id"`
	DatasetID      string    `json:"dataset_id"`
	EntityID       string    `json:"entity_id"`
	SourceRecordID string    `json:"source_record_id"`
	SourceKeys     string    `json:"source_keys,omitempty"`
	Method         string    `json:"method"`
	Score          *float64  `json:"score,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MappingStore provides database operations for record-to-entity mappings.
type MappingStore struct {
	db DBTX
}

// NewMappingStore creates a new mapping store.
func NewMappingStore(db DBTX) *MappingStore {
	return &MappingStore{db: db}
}

// Upsert writes a mapping, replacing any existing mapping for the same
// (dataset, source record). Re-running a resolution therefore updates rows
// in place instead of accumulating duplicates.
func (s *MappingStore) Upsert(m *Mapping) error {
	if m.DatasetID == "" || m.EntityID == "" || m.SourceRecordID == "" {
		return errors.New("mapping requires dataset, entity and source record ids")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	var score sql.NullFloat64
	if m.Score != nil {
		score = sql.NullFloat64{Float64: *m.Score, Valid: true}
	}

	query := `
		INSERT INTO entity_map (
			id, dataset_id, entity_id, source_record_id,
			source_keys, method, score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dataset_id, source_record_id) DO UPDATE SET
			entity_id = excluded.entity_id,
			source_keys = excluded.source_keys,
			method = excluded.method,
			score = excluded.score,
			updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query,
		m.ID,
		m.DatasetID,
		m.EntityID,
		m.SourceRecordID,
		nullString(m.SourceKeys),
		m.Method,
		score,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert mapping for record %s in dataset %s",
			m.SourceRecordID, m.DatasetID)
	}

	return nil
}

// GetByRecord retrieves the mapping for one source record, if any.
func (s *MappingStore) GetByRecord(datasetID, sourceRecordID string) (*Mapping, error) {
	query := `
		SELECT id, dataset_id, entity_id, source_record_id,
		       source_keys, method, score, created_at, updated_at
		FROM entity_map
		WHERE dataset_id = ? AND source_record_id = ?
	`
	m, err := scanMapping(s.db.QueryRow(query, datasetID, sourceRecordID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "mapping for record %s in dataset %s",
			sourceRecordID, datasetID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get mapping for record %s", sourceRecordID)
	}
	return m, nil
}

// ListByDataset returns all mappings for a dataset ordered by source record.
func (s *MappingStore) ListByDataset(datasetID string) ([]*Mapping, error) {
	query := `
		SELECT id, dataset_id, entity_id, source_record_id,
		       source_keys, method, score, created_at, updated_at
		FROM entity_map
		WHERE dataset_id = ?
		ORDER BY source_record_id
	`
	rows, err := s.db.Query(query, datasetID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list mappings for dataset %s", datasetID)
	}
	defer rows.Close()

	var out []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan mapping")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountByMethod returns how many of a dataset's mappings used each method.
func (s *MappingStore) CountByMethod(datasetID string) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT method, COUNT(*) FROM entity_map WHERE dataset_id = ? GROUP BY method`,
		datasetID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to count mappings for dataset %s", datasetID)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var method string
		var n int
		if err := rows.Scan(&method, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan mapping count")
		}
		counts[method] = n
	}
	return counts, rows.Err()
}

type mappingScanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row mappingScanner) (*Mapping, error) {
	var m Mapping
	var sourceKeys sql.NullString
	var score sql.NullFloat64
	err := row.Scan(
		&m.ID, &m.DatasetID, &m.EntityID, &m.SourceRecordID,
		&sourceKeys, &m.Method, &score, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.SourceKeys = fromNullString(sourceKeys)
	if score.Valid {
		v := score.Float64
		m.Score = &v
	}
	return &m, nil
}
