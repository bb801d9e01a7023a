package config

import "github.com/tracefield/tracefield/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	if c.Worker.PollFloorMS <= 0 {
		return errors.Newf("worker.poll_floor_ms must be > 0, got %d", c.Worker.PollFloorMS)
	}
	if c.Worker.PollCapMS < c.Worker.PollFloorMS {
		return errors.Newf("worker.poll_cap_ms must be >= poll_floor_ms, got %d < %d",
			c.Worker.PollCapMS, c.Worker.PollFloorMS)
	}
	if c.Worker.StaleAfterSeconds <= 0 {
		return errors.Newf("worker.stale_after_seconds must be > 0, got %d", c.Worker.StaleAfterSeconds)
	}

	if c.Embeddings.BaseURL == "" {
		return errors.New("embeddings.base_url cannot be empty")
	}
	if c.Embeddings.Model == "" {
		return errors.New("embeddings.model cannot be empty")
	}
	if c.Embeddings.TimeoutSeconds <= 0 {
		return errors.Newf("embeddings.timeout_seconds must be > 0, got %d", c.Embeddings.TimeoutSeconds)
	}
	if c.Embeddings.RequestsPerSec < 0 {
		return errors.Newf("embeddings.requests_per_sec must be >= 0, got %f", c.Embeddings.RequestsPerSec)
	}

	if c.Analysis.KMeansMaxIter <= 0 {
		return errors.Newf("analysis.kmeans_max_iter must be > 0, got %d", c.Analysis.KMeansMaxIter)
	}

	return nil
}
