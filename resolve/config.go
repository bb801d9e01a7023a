// Package resolve implements entity resolution: matching source records to
// canonical entities by exact join keys, then semantic similarity, then
// optionally creating new entities.
package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/tracefield/tracefield/errors"
)

// Record is one source row to resolve. Keys holds the record's field values
// relevant to matching (join keys and semantic fields).
type Record struct {
	SourceRecordID string            `json:"source_record_id"`
	Keys           map[string]string `json:"keys"`
}

// Config is the resolution job payload carried in the job's config column.
type Config struct {
	// JoinKeys name the fields compared for exact matching against entity
	// external ids. All of them must be equal for a match.
	JoinKeys []string `json:"join_keys"`

	// SemanticFields name the fields concatenated into the lookup text for
	// embedding similarity.
	SemanticFields []string `json:"semantic_fields"`

	// Threshold is the minimum cosine similarity for a semantic match.
	Threshold float64 `json:"threshold"`

	// CreateIfNoMatch creates a new entity for records nothing matched.
	CreateIfNoMatch bool `json:"create_if_no_match"`

	Records []Record `json:"records"`
}

// Validate checks the config before any record is touched. A failure here is
// a config error: the job fails with zero side effects.
func (c *Config) Validate() error {
	if len(c.JoinKeys) == 0 && len(c.SemanticFields) == 0 {
		return errors.NewConfigError("resolution config needs join_keys or semantic_fields")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return errors.NewConfigError("threshold must be in [0, 1], got %g", c.Threshold)
	}
	if len(c.Records) == 0 {
		return errors.NewConfigError("resolution config has no records")
	}
	return nil
}

// Hash returns a short stable fingerprint of the config, recorded in
// provenance so identical configs are recognizable across jobs.
func (c *Config) Hash() string {
	// Struct field order is fixed and map keys marshal sorted, so the JSON
	// form is canonical.
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// ParseConfig decodes and validates a job config payload.
func ParseConfig(raw json.RawMessage) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.NewConfigError("malformed resolution config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
