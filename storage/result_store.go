package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tracefield/tracefield/errors"
)

// AnalysisResult is one statistical finding produced by an analysis job,
// typically one feature pair or one grouped comparison.
type AnalysisResult struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	FeatureXID  string          `json:"feature_x_id,omitempty"`
	FeatureYID  string          `json:"feature_y_id,omitempty"`
	Stats       json.RawMessage `json:"stats"`
	PValue      *float64        `json:"p_value,omitempty"`
	EffectSize  *float64        `json:"effect_size,omitempty"`
	Correction  string          `json:"correction,omitempty"`
	Significant *bool           `json:"significant,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ResultStore provides database operations for analysis results.
type ResultStore struct {
	db DBTX
}

// NewResultStore creates a new result store.
func NewResultStore(db DBTX) *ResultStore {
	return &ResultStore{db: db}
}

// InsertBatch writes a job's results. Callers pass a store constructed over
// the job transaction so either every result lands or none do.
func (s *ResultStore) InsertBatch(results []*AnalysisResult) error {
	query := `
		INSERT INTO analysis_results (
			id, job_id, feature_x_id, feature_y_id,
			stats_json, p_value, effect_size, correction, significant, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	for _, r := range results {
		if r.JobID == "" {
			return errors.New("analysis result requires a job id")
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		stats := r.Stats
		if len(stats) == 0 {
			stats = json.RawMessage("{}")
		}

		var significant interface{}
		if r.Significant != nil {
			significant = *r.Significant
		}
		var pValue, effectSize interface{}
		if r.PValue != nil {
			pValue = *r.PValue
		}
		if r.EffectSize != nil {
			effectSize = *r.EffectSize
		}

		_, err := s.db.Exec(query,
			r.ID,
			r.JobID,
			nullString(r.FeatureXID),
			nullString(r.FeatureYID),
			string(stats),
			pValue,
			effectSize,
			nullString(r.Correction),
			significant,
			r.CreatedAt,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to insert analysis result for job %s", r.JobID)
		}
	}
	return nil
}

// ListByJob returns a job's results ordered by feature pair then ID, a fixed
// order the export writer depends on.
// DeleteByJob removes every result a job wrote. Re-executing a requeued
// job calls this in the same transaction as the fresh InsertBatch, so one
// job id never accumulates rows from two runs.
func (s *ResultStore) DeleteByJob(jobID string) error {
	if _, err := s.db.Exec(`DELETE FROM analysis_results WHERE job_id = ?`, jobID); err != nil {
		return errors.Wrapf(err, "failed to delete results for job %s", jobID)
	}
	return nil
}

func (s *ResultStore) ListByJob(jobID string) ([]*AnalysisResult, error) {
	query := `
		SELECT id, job_id, feature_x_id, feature_y_id,
		       stats_json, p_value, effect_size, correction, significant
		FROM analysis_results
		WHERE job_id = ?
		ORDER BY feature_x_id, feature_y_id, id
	`
	rows, err := s.db.Query(query, jobID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list analysis results for job %s", jobID)
	}
	defer rows.Close()

	var out []*AnalysisResult
	for rows.Next() {
		var r AnalysisResult
		var featureX, featureY, correction sql.NullString
		var stats string
		var pValue, effectSize sql.NullFloat64
		var significant sql.NullBool
		if err := rows.Scan(&r.ID, &r.JobID, &featureX, &featureY, &stats, &pValue, &effectSize, &correction, &significant); err != nil {
			return nil, errors.Wrap(err, "failed to scan analysis result")
		}
		r.FeatureXID = fromNullString(featureX)
		r.FeatureYID = fromNullString(featureY)
		r.Correction = fromNullString(correction)
		r.Stats = json.RawMessage(stats)
		if pValue.Valid {
			v := pValue.Float64
			r.PValue = &v
		}
		if effectSize.Valid {
			v := effectSize.Float64
			r.EffectSize = &v
		}
		if significant.Valid {
			v := significant.Bool
			r.Significant = &v
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
