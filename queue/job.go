// Package queue provides the durable job table and the claim protocol that
// lets many independent workers safely execute units of work exactly once.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tracefield/tracefield/errors"
)

// Kind identifies which worker executes a job.
type Kind string

const (
	KindResolution Kind = "resolution"
	KindAnalysis   Kind = "analysis"
)

// IsValidKind returns true if the kind string is a valid Kind
func IsValidKind(s string) bool {
	switch Kind(s) {
	case KindResolution, KindAnalysis:
		return true
	default:
		return false
	}
}

// Status represents the current state of a job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
// queued -> running -> {completed, failed}; failed jobs are never
// auto-retried, resubmission is a fresh job row.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents one unit of work in the jobs table.
//
// The queue is domain-agnostic: Config carries the kind-specific payload
// (resolution or analysis config), validated by the handler at the queue
// boundary. External submitters insert rows with status=queued; only a
// worker of the matching kind mutates the row afterwards.
type Job struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Name          string          `json:"name"`
	Status        Status          `json:"status"`
	DatasetID     string          `json:"dataset_id,omitempty"`
	EntityType    string          `json:"entity_type,omitempty"`
	Config        json.RawMessage `json:"config,omitempty"`
	ResultSummary json.RawMessage `json:"result_summary,omitempty"`
	ExcInfo       string          `json:"exc_info,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
}

// NewJob creates a queued job with a fresh ID.
func NewJob(kind Kind, name string, config json.RawMessage) (*Job, error) {
	if !IsValidKind(string(kind)) {
		return nil, errors.Newf("invalid job kind: %q", kind)
	}
	if name == "" {
		return nil, errors.New("job name cannot be empty")
	}
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		Status:    StatusQueued,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ExcDetail is the structured error detail persisted on a failed job.
// Retryable tells the submitter whether resubmitting the same config as a
// fresh job is worthwhile (dependency failures) or pointless (config and
// data failures).
type ExcDetail struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// MarshalExcDetail renders the failure detail stored in jobs.exc_info.
func MarshalExcDetail(cause error) string {
	detail := ExcDetail{
		Error:     cause.Error(),
		Retryable: errors.Retryable(cause),
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return cause.Error()
	}
	return string(data)
}
