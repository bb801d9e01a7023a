package queue

import (
	"database/sql"
	"time"

	"github.com/tracefield/tracefield/errors"
)

// Store handles persistence of jobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Enqueue inserts a new job with status=queued.
func (s *Store) Enqueue(job *Job) error {
	if job.Status != StatusQueued {
		return errors.Newf("can only enqueue queued jobs, got status %q", job.Status)
	}

	query := `
		INSERT INTO jobs (
			id, kind, name, status,
			dataset_id, entity_type, config,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	datasetID := sql.NullString{String: job.DatasetID, Valid: job.DatasetID != ""}
	entityType := sql.NullString{String: job.EntityType, Valid: job.EntityType != ""}

	_, err := s.db.Exec(query,
		job.ID,
		job.Kind,
		job.Name,
		job.Status,
		datasetID,
		entityType,
		string(job.Config),
		job.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to enqueue job %s", job.ID)
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = ?`

	var job Job
	err := scanJob(s.db.QueryRow(query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}

	return &job, nil
}

// ClaimNext atomically selects the oldest queued job of the given kind and
// transitions it to running. The SELECT and the guarded UPDATE run in one
// transaction, so concurrent workers polling the same kind never claim the
// same job: the loser of a race sees zero rows affected and walks away.
// Connections opened through db.Open begin transactions IMMEDIATE, so the
// race is settled at BEGIN rather than on a write upgrade mid-transaction.
// Returns (nil, nil) when no queued job exists.
func (s *Store) ClaimNext(kind Kind) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE kind = ? AND status = 'queued'
		ORDER BY created_at, id
		LIMIT 1`

	var job Job
	err = scanJob(tx.QueryRow(query, kind), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Nothing queued
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select queued job")
	}

	now := time.Now().UTC()
	res, err := tx.Exec(
		`UPDATE jobs SET status = 'running', started_at = ? WHERE id = ? AND status = 'queued'`,
		now, job.ID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mark job %s running", job.ID)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		// Another worker won the race between SELECT and UPDATE
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "failed to commit claim of job %s", job.ID)
	}

	job.Status = StatusRunning
	job.StartedAt = &now
	return &job, nil
}

// Complete transitions a running job to completed and stores its result
// summary. Calling Complete on an already-terminal job is a no-op, not an
// error, so a worker that crashes between finalize and ack can safely
// repeat the call.
func (s *Store) Complete(id string, summary []byte) error {
	var resultSummary sql.NullString
	if len(summary) > 0 {
		resultSummary = sql.NullString{String: string(summary), Valid: true}
	}

	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'completed', result_summary = ?, ended_at = ?
		 WHERE id = ? AND status = 'running'`,
		resultSummary, time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to complete job %s", id)
	}
	return s.checkExit(res, id)
}

// Fail transitions a running job to failed, recording a structured error
// detail (cause plus retryable flag) in exc_info. Idempotent like Complete.
func (s *Store) Fail(id string, cause error) error {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'failed', exc_info = ?, ended_at = ?
		 WHERE id = ? AND status = 'running'`,
		MarshalExcDetail(cause), time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s as failed", id)
	}
	return s.checkExit(res, id)
}

// checkExit verifies a terminal transition touched a row; when it did not,
// an existing terminal job is absorbed silently and a missing job is an
// error (the only other possibility, "still queued", means the caller
// never claimed the job and deserves the not-found report too).
func (s *Store) checkExit(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows > 0 {
		return nil
	}

	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil // Already finalized: idempotent no-op
	}
	return errors.Newf("job %s is not running (status: %s)", id, job.Status)
}

// ListJobs returns jobs of a kind, optionally filtered by status, newest first.
func (s *Store) ListJobs(kind Kind, status *Status, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE kind = ?`
	if status != nil {
		query = baseQuery + ` AND status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{kind, *status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{kind, limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := scanJob(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}

	return jobs, nil
}

// CountByStatus returns job counts per status for one kind.
func (s *Store) CountByStatus(kind Kind) (map[Status]int, error) {
	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM jobs WHERE kind = ? GROUP BY status`, kind,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}
	return counts, nil
}

// ResetStale requeues running jobs whose started_at is older than the given
// age. A crash mid-execution leaves a job running forever; this is the
// reaper that external operators run (or schedule) to recover such jobs.
// Returns the number of jobs requeued.
func (s *Store) ResetStale(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	res, err := s.db.Exec(
		`UPDATE jobs SET status = 'queued', started_at = NULL, exc_info = NULL
		 WHERE status = 'running' AND started_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset stale jobs")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}
