package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tracefield/tracefield/errors"
)

// Entity is a canonical real-world subject that records from multiple
// datasets resolve to.
type Entity struct {
	ID          string            `json:"id"`
	EntityType  string            `json:"entity_type"`
	DisplayName string            `json:"display_name"`
	ExternalIDs map[string]string `json:"external_ids"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// EntityStore provides database operations for canonical entities.
// Entities are never deleted through this store.
type EntityStore struct {
	db DBTX
}

// NewEntityStore creates a new entity store.
func NewEntityStore(db DBTX) *EntityStore {
	return &EntityStore{db: db}
}

// Create inserts a new entity. A missing ID is generated.
func (s *EntityStore) Create(e *Entity) error {
	if e.EntityType == "" {
		return errors.New("entity type is required")
	}
	if e.DisplayName == "" {
		return errors.New("entity display name is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	if e.ExternalIDs == nil {
		e.ExternalIDs = map[string]string{}
	}
	extJSON, err := json.Marshal(e.ExternalIDs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal external ids")
	}

	query := `
		INSERT INTO entities (id, entity_type, display_name, external_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query, e.ID, e.EntityType, e.DisplayName, string(extJSON), e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to create entity %s", e.ID)
	}

	return nil
}

// Get retrieves an entity by ID.
func (s *EntityStore) Get(id string) (*Entity, error) {
	query := `
		SELECT id, entity_type, display_name, external_ids, created_at, updated_at
		FROM entities WHERE id = ?
	`
	var e Entity
	var extJSON string
	err := s.db.QueryRow(query, id).Scan(
		&e.ID, &e.EntityType, &e.DisplayName, &extJSON, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "entity %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get entity %s", id)
	}
	if err := json.Unmarshal([]byte(extJSON), &e.ExternalIDs); err != nil {
		return nil, errors.Wrapf(err, "corrupt external ids for entity %s", id)
	}
	return &e, nil
}

// ListByType returns all entities of one type ordered by creation time, then
// ID. Callers that pick "earliest wins" among equally scored candidates rely
// on this ordering.
func (s *EntityStore) ListByType(entityType string) ([]*Entity, error) {
	query := `
		SELECT id, entity_type, display_name, external_ids, created_at, updated_at
		FROM entities WHERE entity_type = ?
		ORDER BY created_at, id
	`
	rows, err := s.db.Query(query, entityType)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list entities of type %s", entityType)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		var e Entity
		var extJSON string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.DisplayName, &extJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan entity")
		}
		if err := json.Unmarshal([]byte(extJSON), &e.ExternalIDs); err != nil {
			return nil, errors.Wrapf(err, "corrupt external ids for entity %s", e.ID)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
