// Package config defines the tracefield configuration.
//
// Configuration is loaded once at startup into an explicit Config value and
// passed to each component constructor. Nothing in this repository reads
// configuration from ambient global state.
package config

import "time"

// Config represents the core tracefield configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// WorkerConfig configures the job polling loop
type WorkerConfig struct {
	// PollFloorMS is the idle backoff floor in milliseconds. A worker that
	// finds no queued job sleeps this long, doubling up to PollCapMS, and
	// resets to the floor as soon as a job is claimed.
	PollFloorMS int `mapstructure:"poll_floor_ms"`
	PollCapMS   int `mapstructure:"poll_cap_ms"`

	// StaleAfterSeconds bounds how long a job may sit in "running" before
	// the reaper considers its worker dead and requeues it.
	StaleAfterSeconds int `mapstructure:"stale_after_seconds"`
}

// EmbeddingsConfig configures the external embedding provider
type EmbeddingsConfig struct {
	BaseURL        string  `mapstructure:"base_url"` // OpenAI-compatible endpoint, e.g. "http://localhost:11434/v1"
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"` // 0 = unlimited
}

// AnalysisConfig configures the statistics engine
type AnalysisConfig struct {
	// KMeansSeed fixes the clustering RNG so identical input yields
	// identical cluster assignments across runs.
	KMeansSeed    int64 `mapstructure:"kmeans_seed"`
	KMeansMaxIter int   `mapstructure:"kmeans_max_iter"`
}

// PollFloor returns the idle backoff floor as a duration.
func (w WorkerConfig) PollFloor() time.Duration {
	return time.Duration(w.PollFloorMS) * time.Millisecond
}

// PollCap returns the idle backoff cap as a duration.
func (w WorkerConfig) PollCap() time.Duration {
	return time.Duration(w.PollCapMS) * time.Millisecond
}

// StaleAfter returns the running-job staleness cutoff as a duration.
func (w WorkerConfig) StaleAfter() time.Duration {
	return time.Duration(w.StaleAfterSeconds) * time.Second
}

// Timeout returns the embedding request timeout as a duration.
func (e EmbeddingsConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}
