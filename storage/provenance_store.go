package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tracefield/tracefield/errors"
)

// ProvenanceEvent is one append-only audit record. Events are never updated
// or deleted; failures while writing the rest of a job roll events back with
// the same transaction.
type ProvenanceEvent struct {
	ID        int64           `json:"id"`
	Stage     string          `json:"stage"`
	Status    string          `json:"status"`
	Detail    json.RawMessage `json:"detail"`
	EntityID  string          `json:"entity_id,omitempty"`
	DatasetID string          `json:"dataset_id,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProvenanceStore appends and reads audit events.
type ProvenanceStore struct {
	db DBTX
}

// NewProvenanceStore creates a new provenance store.
func NewProvenanceStore(db DBTX) *ProvenanceStore {
	return &ProvenanceStore{db: db}
}

// Append writes one event. The generated row ID is set on the event.
func (s *ProvenanceStore) Append(ev *ProvenanceEvent) error {
	if ev.Stage == "" || ev.Status == "" {
		return errors.New("provenance event requires stage and status")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	detail := ev.Detail
	if len(detail) == 0 {
		detail = json.RawMessage("{}")
	}

	query := `
		INSERT INTO provenance_event (stage, status, detail, entity_id, dataset_id, job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.Exec(query,
		ev.Stage,
		ev.Status,
		string(detail),
		nullString(ev.EntityID),
		nullString(ev.DatasetID),
		nullString(ev.JobID),
		ev.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to append provenance event for stage %s", ev.Stage)
	}

	ev.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to read provenance event id")
	}
	return nil
}

// ListByJob returns a job's events in insertion order.
func (s *ProvenanceStore) ListByJob(jobID string) ([]*ProvenanceEvent, error) {
	query := `
		SELECT id, stage, status, detail, entity_id, dataset_id, job_id, created_at
		FROM provenance_event
		WHERE job_id = ?
		ORDER BY id
	`
	rows, err := s.db.Query(query, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list provenance events for job %s", jobID)
	}
	defer rows.Close()

	var out []*ProvenanceEvent
	for rows.Next() {
		var ev ProvenanceEvent
		var detail string
		var entityID, datasetID, eventJobID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Stage, &ev.Status, &detail, &entityID, &datasetID, &eventJobID, &ev.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan provenance event")
		}
		ev.Detail = json.RawMessage(detail)
		ev.EntityID = fromNullString(entityID)
		ev.DatasetID = fromNullString(datasetID)
		ev.JobID = fromNullString(eventJobID)
		out = append(out, &ev)
	}
	return out, rows.Err()
}
