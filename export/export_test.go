package export

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefield/tracefield/errors"
	tftest "github.com/tracefield/tracefield/internal/testing"
	"github.com/tracefield/tracefield/storage"
)

func seedResults(t *testing.T, db *sql.DB) string {
	t.Helper()

	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO jobs (id, kind, name, status, created_at)
		VALUES ('job-1', 'analysis', 'corr', 'completed', ?)
	`, now)
	require.NoError(t, err)

	for _, d := range []struct{ id, name string }{
		{"fd-1", "score"}, {"fd-2", "age"}, {"fd-3", "income"},
	} {
		_, err := db.Exec(`
			INSERT INTO feature_definitions (id, name, value_type, created_at)
			VALUES (?, ?, 'number', ?)
		`, d.id, d.name, now)
		require.NoError(t, err)
	}

	p1, p2 := 0.012345678, 0.5
	r1, r2 := 0.87654321, -0.25
	sig1, sig2 := true, false
	require.NoError(t, storage.NewResultStore(db).InsertBatch([]*storage.AnalysisResult{
		{
			JobID: "job-1", FeatureXID: "fd-1", FeatureYID: "fd-2",
			Stats:  json.RawMessage(`{"n": 10, "pearson_r": 0.87654321}`),
			PValue: &p1, EffectSize: &r1, Correction: "bonferroni", Significant: &sig1,
		},
		{
			JobID: "job-1", FeatureXID: "fd-2", FeatureYID: "fd-3",
			Stats:  json.RawMessage(`{"n": 10, "pearson_r": -0.25}`),
			PValue: &p2, EffectSize: &r2, Correction: "bonferroni", Significant: &sig2,
		},
	}))
	return "job-1"
}

func TestExportCSVDeterministic(t *testing.T) {
	db := tftest.CreateTestDB(t)
	jobID := seedResults(t, db)
	exporter := NewExporter(db)

	var first, second bytes.Buffer
	require.NoError(t, exporter.Write(&first, jobID, FormatCSV))
	require.NoError(t, exporter.Write(&second, jobID, FormatCSV))
	assert.Equal(t, first.Bytes(), second.Bytes(), "re-export must be byte-identical")

	lines := strings.Split(strings.TrimSpace(first.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "feature_x,feature_y,p_value,effect_size,correction,significant,n,pearson_r", lines[0])

	// Rows sort by feature name pair: (age,income) before (score,age).
	assert.True(t, strings.HasPrefix(lines[1], "age,income,"))
	assert.True(t, strings.HasPrefix(lines[2], "score,age,"))

	// Fixed 6-decimal formatting.
	assert.Contains(t, lines[2], "0.012346")
	assert.Contains(t, lines[2], "0.876543")
	assert.Contains(t, lines[2], "true")
}

func TestExportJSONDeterministic(t *testing.T) {
	db := tftest.CreateTestDB(t)
	jobID := seedResults(t, db)
	exporter := NewExporter(db)

	var first, second bytes.Buffer
	require.NoError(t, exporter.Write(&first, jobID, FormatJSON))
	require.NoError(t, exporter.Write(&second, jobID, FormatJSON))
	assert.Equal(t, first.Bytes(), second.Bytes())

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(first.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "age", decoded[0]["feature_x"])
	assert.Equal(t, "score", decoded[1]["feature_x"])

	stats, ok := decoded[1]["stats"].(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 0.876543, stats["pearson_r"], 1e-9)

	// The raw bytes carry the fixed-precision rendering.
	assert.Contains(t, first.String(), "0.876543")
}

func TestExportUnknownJob(t *testing.T) {
	db := tftest.CreateTestDB(t)
	exporter := NewExporter(db)

	err := exporter.Write(&bytes.Buffer{}, "missing", FormatCSV)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestExportUnknownFormat(t *testing.T) {
	db := tftest.CreateTestDB(t)
	jobID := seedResults(t, db)

	err := NewExporter(db).Write(&bytes.Buffer{}, jobID, "xml")
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}
