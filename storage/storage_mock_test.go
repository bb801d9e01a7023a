package storage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Driver-level failure injection: the sqlite tests cover the happy paths,
// sqlmock covers what happens when the database misbehaves mid-operation.

func TestDatasetListQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, name, schema_json").
		WillReturnError(sqlmock.ErrCancelled)

	_, err = NewDatasetStore(db).List()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list datasets")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMappingUpsertExecFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO entity_map").
		WillReturnError(sqlmock.ErrCancelled)

	err = NewMappingStore(db).Upsert(&Mapping{
		DatasetID:      "d1",
		EntityID:       "e1",
		SourceRecordID: "rec-001",
		Method:         MethodExact,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert mapping")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultListScanFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "job_id", "feature_x_id", "feature_y_id",
		"stats_json", "p_value", "effect_size", "correction", "significant",
	}).AddRow("r1", "job-1", nil, nil, "{}", "not-a-float", nil, nil, nil)

	mock.ExpectQuery("SELECT id, job_id, feature_x_id").
		WithArgs("job-1").
		WillReturnRows(rows)

	_, err = NewResultStore(db).ListByJob("job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to scan analysis result")
	assert.NoError(t, mock.ExpectationsWereMet())
}
