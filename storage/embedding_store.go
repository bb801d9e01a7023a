package storage

import (
	"database/sql"
	"time"

	"github.com/tracefield/tracefield/errors"
)

// Embedding is a stored vector for one entity under one model. Recomputing
// with the same model overwrites the previous vector.
type Embedding struct {
	EntityID   string    `json:"entity_id"`
	ModelName  string    `json:"model_name"`
	Vector     []byte    `json:"-"` // FLOAT32 little-endian blob
	Dimensions int       `json:"dimensions"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EmbeddingStore provides database operations for entity embeddings.
type EmbeddingStore struct {
	db DBTX
}

// NewEmbeddingStore creates a new embedding store.
func NewEmbeddingStore(db DBTX) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

// Save upserts an embedding keyed by (entity, model).
func (s *EmbeddingStore) Save(e *Embedding) error {
	if e.EntityID == "" || e.ModelName == "" {
		return errors.New("embedding requires entity id and model name")
	}
	if len(e.Vector) == 0 {
		return errors.New("embedding vector is empty")
	}
	e.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO embeddings (entity_id, model_name, vector, dimensions, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, model_name) DO UPDATE SET
			vector = excluded.vector,
			dimensions = excluded.dimensions,
			updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query, e.EntityID, e.ModelName, e.Vector, e.Dimensions, e.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to save embedding for entity %s model %s",
			e.EntityID, e.ModelName)
	}

	return nil
}

// GetByEntity retrieves the embedding for one entity under one model.
func (s *EmbeddingStore) GetByEntity(entityID, modelName string) (*Embedding, error) {
	query := `
		SELECT entity_id, model_name, vector, dimensions, updated_at
		FROM embeddings
		WHERE entity_id = ? AND model_name = ?
	`
	var e Embedding
	err := s.db.QueryRow(query, entityID, modelName).Scan(
		&e.EntityID, &e.ModelName, &e.Vector, &e.Dimensions, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "embedding for entity %s model %s",
			entityID, modelName)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get embedding for entity %s", entityID)
	}
	return &e, nil
}

// ListByEntityType returns embeddings for every entity of one type under one
// model, ordered by the entity's creation time so equally scored matches
// resolve to the earliest entity.
func (s *EmbeddingStore) ListByEntityType(entityType, modelName string) ([]*Embedding, error) {
	query := `
		SELECT em.entity_id, em.model_name, em.vector, em.dimensions, em.updated_at
		FROM embeddings em
		JOIN entities e ON e.id = em.entity_id
		WHERE e.entity_type = ? AND em.model_name = ?
		ORDER BY e.created_at, e.id
	`
	rows, err := s.db.Query(query, entityType, modelName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list embeddings for type %s", entityType)
	}
	defer rows.Close()

	var out []*Embedding
	for rows.Next() {
		var e Embedding
		if err := rows.Scan(&e.EntityID, &e.ModelName, &e.Vector, &e.Dimensions, &e.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan embedding")
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
