package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/tracefield/tracefield/errors"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "tracefield.db")

	// Worker defaults: 100ms floor doubling to a 2s cap bounds idle CPU
	// without adding latency under load
	v.SetDefault("worker.poll_floor_ms", 100)
	v.SetDefault("worker.poll_cap_ms", 2000)
	v.SetDefault("worker.stale_after_seconds", 900)

	// Embedding provider defaults (OpenAI-compatible endpoint)
	v.SetDefault("embeddings.base_url", "http://localhost:11434/v1")
	v.SetDefault("embeddings.model", "bge-small-en-v1.5")
	v.SetDefault("embeddings.timeout_seconds", 30)
	v.SetDefault("embeddings.requests_per_sec", 10.0)

	// Analysis defaults
	v.SetDefault("analysis.kmeans_seed", 42)
	v.SetDefault("analysis.kmeans_max_iter", 100)
}

// Load reads configuration from the given TOML file (empty path means
// defaults only) plus TRACEFIELD_* environment overrides, and returns a
// validated Config. Callers hold the returned value and pass it to
// component constructors; it is never cached globally.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("TRACEFIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
