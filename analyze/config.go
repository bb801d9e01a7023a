// Package analyze implements the statistics engine: pairwise correlations,
// one-way ANOVA and embedding clustering over resolved entity features, with
// multiple-testing correction per job.
package analyze

import (
	"encoding/json"
	"time"

	"github.com/tracefield/tracefield/errors"
)

// Analysis test kinds.
const (
	TestCorrelation = "correlation"
	TestANOVA       = "anova"
	TestClustering  = "embedding_clustering"
)

// defaultAlpha is the significance level when the config leaves it unset.
const defaultAlpha = 0.05

// Window pins a feature read to values recorded in [from, to). A zero
// bound leaves that side open; without a window the newest value wins.
type Window struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// FeatureSelector names one feature; vector features additionally select
// one scalar component by index, and an optional window pins the read to
// a time range instead of the latest value.
type FeatureSelector struct {
	Name      string  `json:"name"`
	Dimension *int    `json:"dimension,omitempty"`
	Window    *Window `json:"window,omitempty"`
}

func (s FeatureSelector) validateWindow() error {
	w := s.Window
	if w == nil || w.From.IsZero() || w.To.IsZero() {
		return nil
	}
	if !w.From.Before(w.To) {
		return errors.NewConfigError("feature %q has an empty window: from %s is not before to %s",
			s.Name, w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}
	return nil
}

// CorrelationSpec requests pairwise correlation over every unordered pair
// of the listed features.
type CorrelationSpec struct {
	Features []FeatureSelector `json:"features"`
}

// ANOVASpec requests a one-way comparison of a numeric outcome across the
// values of a text grouping feature.
type ANOVASpec struct {
	Outcome FeatureSelector `json:"outcome"`
	GroupBy string          `json:"group_by"`
}

// ClusteringSpec requests k-means over entity embeddings, optionally
// concatenated with scalar covariates, followed by an ANOVA of the outcome
// across cluster labels.
type ClusteringSpec struct {
	K          int               `json:"k"`
	ModelName  string            `json:"model_name"`
	Outcome    FeatureSelector   `json:"outcome"`
	Covariates []FeatureSelector `json:"covariates,omitempty"`
}

// Config is the analysis job payload: one tagged variant per test kind,
// validated before the engine touches any data.
type Config struct {
	Test       string  `json:"test"`
	Correction string  `json:"correction,omitempty"`
	Alpha      float64 `json:"alpha,omitempty"`

	Correlation *CorrelationSpec `json:"correlation,omitempty"`
	ANOVA       *ANOVASpec       `json:"anova,omitempty"`
	Clustering  *ClusteringSpec  `json:"clustering,omitempty"`
}

// Validate checks the variant matches the test kind and fills defaults.
func (c *Config) Validate() error {
	if c.Correction == "" {
		c.Correction = CorrectionNone
	}
	switch c.Correction {
	case CorrectionNone, CorrectionBonferroni, CorrectionBH:
	default:
		return errors.NewConfigError("unknown correction method: %q", c.Correction)
	}
	if c.Alpha == 0 {
		c.Alpha = defaultAlpha
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return errors.NewConfigError("alpha must be in (0, 1), got %g", c.Alpha)
	}

	switch c.Test {
	case TestCorrelation:
		if c.Correlation == nil || len(c.Correlation.Features) < 2 {
			return errors.NewConfigError("correlation needs at least two features")
		}
		for _, sel := range c.Correlation.Features {
			if err := sel.validateWindow(); err != nil {
				return err
			}
		}
	case TestANOVA:
		if c.ANOVA == nil || c.ANOVA.Outcome.Name == "" || c.ANOVA.GroupBy == "" {
			return errors.NewConfigError("anova needs an outcome feature and a group_by feature")
		}
		if err := c.ANOVA.Outcome.validateWindow(); err != nil {
			return err
		}
	case TestClustering:
		if c.Clustering == nil || c.Clustering.K < 2 {
			return errors.NewConfigError("embedding_clustering needs k of at least 2")
		}
		if c.Clustering.ModelName == "" {
			return errors.NewConfigError("embedding_clustering needs a model_name")
		}
		if c.Clustering.Outcome.Name == "" {
			return errors.NewConfigError("embedding_clustering needs an outcome feature")
		}
		for _, sel := range append([]FeatureSelector{c.Clustering.Outcome}, c.Clustering.Covariates...) {
			if err := sel.validateWindow(); err != nil {
				return err
			}
		}
	default:
		return errors.NewConfigError("unknown test type: %q", c.Test)
	}
	return nil
}

// ParseConfig decodes and validates an analysis job payload.
func ParseConfig(raw json.RawMessage) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.NewConfigError("malformed analysis config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
