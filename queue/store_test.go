package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefield/tracefield/errors"
	tftest "github.com/tracefield/tracefield/internal/testing"
)

func enqueueTestJob(t *testing.T, store *Store, kind Kind, name string) *Job {
	t.Helper()
	job, err := NewJob(kind, name, json.RawMessage(`{"threshold": 0.85}`))
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(job))
	return job
}

func TestEnqueueAndGet(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	job := enqueueTestJob(t, store, KindResolution, "resolve test-survey-2024")

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, KindResolution, loaded.Kind)
	assert.Equal(t, StatusQueued, loaded.Status)
	assert.JSONEq(t, `{"threshold": 0.85}`, string(loaded.Config))
	assert.Nil(t, loaded.StartedAt)
	assert.Nil(t, loaded.EndedAt)
}

func TestGetJobNotFound(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.GetJob("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestClaimNextOldestFirst(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	first, err := NewJob(KindAnalysis, "first", nil)
	require.NoError(t, err)
	first.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Enqueue(first))

	second, err := NewJob(KindAnalysis, "second", nil)
	require.NoError(t, err)
	second.CreatedAt = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Enqueue(second))

	claimed, err := store.ClaimNext(KindAnalysis)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "first", claimed.Name)
	assert.Equal(t, StatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)
}

func TestClaimNextFiltersByKind(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	enqueueTestJob(t, store, KindResolution, "resolve people")

	claimed, err := store.ClaimNext(KindAnalysis)
	require.NoError(t, err)
	assert.Nil(t, claimed, "analysis worker must not claim resolution jobs")
}

func TestClaimNextEmptyQueue(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	claimed, err := store.ClaimNext(KindResolution)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimGrantsExclusiveExecution(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	enqueueTestJob(t, store, KindResolution, "only one winner")

	first, err := store.ClaimNext(KindResolution)
	require.NoError(t, err)
	require.NotNil(t, first)

	// The job is running now; a second claim must come up empty
	second, err := store.ClaimNext(KindResolution)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestCompletePersistsSummary(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	job := enqueueTestJob(t, store, KindResolution, "resolve")
	_, err := store.ClaimNext(KindResolution)
	require.NoError(t, err)

	summary := json.RawMessage(`{"exact":2,"semantic":1,"created":0,"unmatched":0}`)
	require.NoError(t, store.Complete(job.ID, summary))

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.JSONEq(t, string(summary), string(loaded.ResultSummary))
	require.NotNil(t, loaded.EndedAt)
}

func TestCompleteIsIdempotent(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	job := enqueueTestJob(t, store, KindAnalysis, "analyze")
	_, err := store.ClaimNext(KindAnalysis)
	require.NoError(t, err)

	require.NoError(t, store.Complete(job.ID, nil))
	// Second completion of a terminal job is a no-op, not an error
	require.NoError(t, store.Complete(job.ID, nil))
	// So is failing an already-completed job
	require.NoError(t, store.Fail(job.ID, errors.New("stale failure")))

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.Empty(t, loaded.ExcInfo)
}

func TestCompleteRequiresClaim(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	job := enqueueTestJob(t, store, KindAnalysis, "never claimed")

	err := store.Complete(job.ID, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestFailRecordsRetryableDetail(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	job := enqueueTestJob(t, store, KindResolution, "resolve")
	_, err := store.ClaimNext(KindResolution)
	require.NoError(t, err)

	cause := errors.NewDependencyError(errors.New("connection refused"), "embedding provider")
	require.NoError(t, store.Fail(job.ID, cause))

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, loaded.Status)

	var detail ExcDetail
	require.NoError(t, json.Unmarshal([]byte(loaded.ExcInfo), &detail))
	assert.True(t, detail.Retryable)
	assert.Contains(t, detail.Error, "connection refused")
}

func TestFailConfigErrorNotRetryable(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	job := enqueueTestJob(t, store, KindAnalysis, "bad config")
	_, err := store.ClaimNext(KindAnalysis)
	require.NoError(t, err)

	require.NoError(t, store.Fail(job.ID, errors.NewConfigError("unknown test type: %q", "chi2")))

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)

	var detail ExcDetail
	require.NoError(t, json.Unmarshal([]byte(loaded.ExcInfo), &detail))
	assert.False(t, detail.Retryable)
}

func TestResetStale(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	stale := enqueueTestJob(t, store, KindResolution, "stale runner")
	fresh := enqueueTestJob(t, store, KindResolution, "fresh runner")

	// Claim both, then age the first one's started_at past the cutoff
	_, err := store.ClaimNext(KindResolution)
	require.NoError(t, err)
	_, err = store.ClaimNext(KindResolution)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-2 * time.Hour)
	_, err = db.Exec(`UPDATE jobs SET started_at = ? WHERE id = ?`, old, stale.ID)
	require.NoError(t, err)

	reset, err := store.ResetStale(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	staleLoaded, err := store.GetJob(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, staleLoaded.Status)
	assert.Nil(t, staleLoaded.StartedAt)

	freshLoaded, err := store.GetJob(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, freshLoaded.Status)
}

func TestListJobsAndCounts(t *testing.T) {
	db := tftest.CreateTestDB(t)
	store := NewStore(db)

	enqueueTestJob(t, store, KindAnalysis, "a1")
	enqueueTestJob(t, store, KindAnalysis, "a2")
	claimed, err := store.ClaimNext(KindAnalysis)
	require.NoError(t, err)
	require.NoError(t, store.Complete(claimed.ID, nil))

	all, err := store.ListJobs(KindAnalysis, nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	queued := StatusQueued
	queuedJobs, err := store.ListJobs(KindAnalysis, &queued, 10)
	require.NoError(t, err)
	assert.Len(t, queuedJobs, 1)

	counts, err := store.CountByStatus(KindAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusQueued])
	assert.Equal(t, 1, counts[StatusCompleted])
}
