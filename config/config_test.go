package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tracefield.db", cfg.Database.Path)
	assert.Equal(t, 100, cfg.Worker.PollFloorMS)
	assert.Equal(t, 2000, cfg.Worker.PollCapMS)
	assert.Equal(t, int64(42), cfg.Analysis.KMeansSeed)
	assert.Equal(t, 100, cfg.Analysis.KMeansMaxIter)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracefield.toml")
	content := `
[database]
path = "/tmp/research.db"

[worker]
poll_floor_ms = 50
poll_cap_ms = 1000

[embeddings]
model = "bge-large-en-v1.5"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/research.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Worker.PollFloorMS)
	assert.Equal(t, 1000, cfg.Worker.PollCapMS)
	assert.Equal(t, "bge-large-en-v1.5", cfg.Embeddings.Model)
	// Untouched sections keep defaults
	assert.Equal(t, 900, cfg.Worker.StaleAfterSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.toml")
	require.Error(t, err)
}

func TestValidateRejectsBadPollWindow(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Worker.PollCapMS = 10 // below floor
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_cap_ms")
}

func TestValidateRejectsZeroTimeout(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Embeddings.TimeoutSeconds = 0
	require.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, cfg.Worker.PollFloor()*20, cfg.Worker.PollCap())
	assert.Equal(t, float64(30), cfg.Embeddings.Timeout().Seconds())
}
