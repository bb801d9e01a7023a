package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	t.Run("successfully opens database and runs migrations", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		conn, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, conn)
		defer conn.Close()

		for _, table := range []string{
			"schema_migrations", "datasets", "entities", "entity_map",
			"feature_definitions", "features", "embeddings",
			"provenance_event", "jobs", "analysis_results",
		} {
			var exists int
			err = conn.QueryRow(
				"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
			).Scan(&exists)
			require.NoError(t, err)
			assert.Equal(t, 1, exists, "table %s should exist after migrations", table)
		}
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		conn, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Applying again must be a no-op
		require.NoError(t, Migrate(conn, nil))

		var count int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Equal(t, 4, count)
	})
}

func TestEntityMapUniqueness(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	conn, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(`INSERT INTO datasets (id, name, created_at, updated_at) VALUES ('d1', 'survey', '2024-01-01', '2024-01-01')`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO entities (id, entity_type, display_name, created_at, updated_at) VALUES ('e1', 'person', 'Alice', '2024-01-01', '2024-01-01')`)
	require.NoError(t, err)

	_, err = conn.Exec(`INSERT INTO entity_map (id, dataset_id, entity_id, source_record_id, method, created_at, updated_at)
		VALUES ('m1', 'd1', 'e1', 'rec-001', 'exact', '2024-01-01', '2024-01-01')`)
	require.NoError(t, err)

	// Second mapping for the same (dataset, source record) must be rejected
	_, err = conn.Exec(`INSERT INTO entity_map (id, dataset_id, entity_id, source_record_id, method, created_at, updated_at)
		VALUES ('m2', 'd1', 'e1', 'rec-001', 'semantic', '2024-01-01', '2024-01-01')`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE")
}
