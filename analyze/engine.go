package analyze

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tracefield/tracefield/config"
	"github.com/tracefield/tracefield/embed"
	"github.com/tracefield/tracefield/errors"
	"github.com/tracefield/tracefield/storage"
)

// Summary is the analysis job's result_summary payload.
type Summary struct {
	Test        string `json:"test"`
	Results     int    `json:"results"`
	Significant int    `json:"significant"`
	Skipped     int    `json:"skipped"`
}

// Engine runs one analysis job's statistics over the entity graph. All
// result writes go through the DBTX handed to Run.
type Engine struct {
	analysisCfg config.AnalysisConfig
	logger      *zap.SugaredLogger
}

// NewEngine creates an analysis engine.
func NewEngine(analysisCfg config.AnalysisConfig, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		analysisCfg: analysisCfg,
		logger:      logger.Named("analyze"),
	}
}

// Run dispatches on the config's test kind, applies the configured
// multiple-testing correction over exactly this job's p-values, and inserts
// all result rows. The caller owns the transaction.
func (e *Engine) Run(ctx context.Context, tx storage.DBTX, jobID, entityType string, cfg *Config) (*Summary, error) {
	start := time.Now()

	var results []*storage.AnalysisResult
	var err error
	switch cfg.Test {
	case TestCorrelation:
		results, err = e.runCorrelation(tx, jobID, cfg)
	case TestANOVA:
		results, err = e.runANOVA(tx, jobID, cfg)
	case TestClustering:
		results, err = e.runClustering(tx, jobID, entityType, cfg)
	default:
		err = errors.NewConfigError("unknown test type: %q", cfg.Test)
	}
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "analysis interrupted")
	default:
	}

	summary, err := e.correctAndCount(cfg, results)
	if err != nil {
		return nil, err
	}

	// A reaped job runs again from scratch, so drop anything a prior
	// interrupted execution already committed for this job id.
	resultStore := storage.NewResultStore(tx)
	if err := resultStore.DeleteByJob(jobID); err != nil {
		return nil, err
	}
	if err := resultStore.InsertBatch(results); err != nil {
		return nil, err
	}

	detail, _ := json.Marshal(map[string]interface{}{
		"test":        cfg.Test,
		"correction":  cfg.Correction,
		"results":     summary.Results,
		"significant": summary.Significant,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err := storage.NewProvenanceStore(tx).Append(&storage.ProvenanceEvent{
		Stage:  "analysis.job",
		Status: "completed",
		Detail: detail,
		JobID:  jobID,
	}); err != nil {
		return nil, err
	}

	e.logger.Infow("Analysis finished",
		"job_id", jobID,
		"test", cfg.Test,
		"results", summary.Results,
		"significant", summary.Significant,
	)
	return summary, nil
}

// correctAndCount applies the job-scoped correction to every result that
// produced a p-value and tallies the summary. The p_value column holds the
// corrected value; the raw p stays inside stats_json.
func (e *Engine) correctAndCount(cfg *Config, results []*storage.AnalysisResult) (*Summary, error) {
	summary := &Summary{Test: cfg.Test, Results: len(results)}

	var withP []int
	var ps []float64
	for i, r := range results {
		if r.PValue != nil {
			withP = append(withP, i)
			ps = append(ps, *r.PValue)
		} else {
			summary.Skipped++
		}
	}
	if len(ps) == 0 {
		return summary, nil
	}

	corrected, err := ApplyCorrection(cfg.Correction, cfg.Alpha, ps)
	if err != nil {
		return nil, err
	}
	for j, i := range withP {
		c := corrected[j]
		p := c.P
		sig := c.Significant
		results[i].PValue = &p
		results[i].Significant = &sig
		results[i].Correction = cfg.Correction
		if sig {
			summary.Significant++
		}
	}
	return summary, nil
}

// scalarSeries is one feature's latest numeric value per entity.
type scalarSeries struct {
	def    *storage.FeatureDefinition
	values map[string]float64
}

// timeWindow converts the selector's optional pin for the feature store.
func (s FeatureSelector) timeWindow() *storage.TimeWindow {
	if s.Window == nil {
		return nil
	}
	return &storage.TimeWindow{From: s.Window.From, To: s.Window.To}
}

// loadScalar reads a feature as per-entity scalars. Vector features need a
// dimension index; text features are not scalars.
func loadScalar(tx storage.DBTX, sel FeatureSelector) (*scalarSeries, error) {
	def, err := storage.NewFeatureDefinitionStore(tx).GetByName(sel.Name)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, errors.NewConfigError("unknown feature: %q", sel.Name)
		}
		return nil, err
	}

	rows, err := storage.NewFeatureStore(tx).LatestByDefinition(def.ID, sel.timeWindow())
	if err != nil {
		return nil, err
	}

	values := make(map[string]float64, len(rows))
	switch def.ValueType {
	case storage.ValueTypeNumber:
		for _, fv := range rows {
			if fv.Num != nil {
				values[fv.EntityID] = *fv.Num
			}
		}
	case storage.ValueTypeBoolean:
		for _, fv := range rows {
			if fv.Bool != nil {
				if *fv.Bool {
					values[fv.EntityID] = 1
				} else {
					values[fv.EntityID] = 0
				}
			}
		}
	case storage.ValueTypeVector:
		if sel.Dimension == nil {
			return nil, errors.NewConfigError("vector feature %q needs a dimension index", sel.Name)
		}
		d := *sel.Dimension
		for _, fv := range rows {
			if len(fv.Vec) == 0 {
				continue
			}
			vec, err := embed.Deserialize(fv.Vec)
			if err != nil {
				return nil, errors.Wrapf(err, "corrupt vector for feature %q entity %s", sel.Name, fv.EntityID)
			}
			if d < 0 || d >= len(vec) {
				return nil, errors.NewConfigError("dimension %d out of range for feature %q (%d components)",
					d, sel.Name, len(vec))
			}
			values[fv.EntityID] = float64(vec[d])
		}
	default:
		return nil, errors.NewConfigError("feature %q has type %s, want a scalar", sel.Name, def.ValueType)
	}

	return &scalarSeries{def: def, values: values}, nil
}

// loadText reads a text feature as per-entity group labels.
func loadText(tx storage.DBTX, name string) (*storage.FeatureDefinition, map[string]string, error) {
	def, err := storage.NewFeatureDefinitionStore(tx).GetByName(name)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return nil, nil, errors.NewConfigError("unknown feature: %q", name)
		}
		return nil, nil, err
	}
	if def.ValueType != storage.ValueTypeText {
		return nil, nil, errors.NewConfigError("group_by feature %q has type %s, want text", name, def.ValueType)
	}

	rows, err := storage.NewFeatureStore(tx).LatestByDefinition(def.ID, nil)
	if err != nil {
		return nil, nil, err
	}
	labels := make(map[string]string, len(rows))
	for _, fv := range rows {
		if fv.Text != nil && *fv.Text != "" {
			labels[fv.EntityID] = *fv.Text
		}
	}
	return def, labels, nil
}

func (e *Engine) runCorrelation(tx storage.DBTX, jobID string, cfg *Config) ([]*storage.AnalysisResult, error) {
	series := make([]*scalarSeries, len(cfg.Correlation.Features))
	for i, sel := range cfg.Correlation.Features {
		s, err := loadScalar(tx, sel)
		if err != nil {
			return nil, err
		}
		series[i] = s
	}

	var results []*storage.AnalysisResult
	for i := 0; i < len(series); i++ {
		for j := i + 1; j < len(series); j++ {
			x, y := pairedSample(series[i].values, series[j].values)
			corr := Correlate(x, y)

			stats, err := json.Marshal(corr)
			if err != nil {
				return nil, errors.Wrap(err, "failed to marshal correlation stats")
			}
			r := &storage.AnalysisResult{
				JobID:      jobID,
				FeatureXID: series[i].def.ID,
				FeatureYID: series[j].def.ID,
				Stats:      stats,
			}
			if corr.PValue != nil {
				p := *corr.PValue
				r.PValue = &p
			}
			if corr.Pearson != nil {
				effect := *corr.Pearson
				r.EffectSize = &effect
			}
			results = append(results, r)
		}
	}
	return results, nil
}

func (e *Engine) runANOVA(tx storage.DBTX, jobID string, cfg *Config) ([]*storage.AnalysisResult, error) {
	outcome, err := loadScalar(tx, cfg.ANOVA.Outcome)
	if err != nil {
		return nil, err
	}
	groupDef, labels, err := loadText(tx, cfg.ANOVA.GroupBy)
	if err != nil {
		return nil, err
	}

	groups := groupOutcomes(outcome.values, labels)
	res := OneWayANOVA(groups)

	stats, err := json.Marshal(res)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal anova stats")
	}
	row := &storage.AnalysisResult{
		JobID:      jobID,
		FeatureXID: outcome.def.ID,
		FeatureYID: groupDef.ID,
		Stats:      stats,
	}
	if res.PValue != nil {
		p := *res.PValue
		row.PValue = &p
	}
	if res.EtaSquared != nil {
		effect := *res.EtaSquared
		row.EffectSize = &effect
	}
	return []*storage.AnalysisResult{row}, nil
}

func (e *Engine) runClustering(tx storage.DBTX, jobID, entityType string, cfg *Config) ([]*storage.AnalysisResult, error) {
	if entityType == "" {
		return nil, errors.NewConfigError("embedding_clustering job needs an entity_type")
	}
	spec := cfg.Clustering

	stored, err := storage.NewEmbeddingStore(tx).ListByEntityType(entityType, spec.ModelName)
	if err != nil {
		return nil, err
	}
	if len(stored) < spec.K {
		return nil, errors.NewDataError("only %d embeddings for entity type %q, need at least k=%d",
			len(stored), entityType, spec.K)
	}

	covariates := make([]*scalarSeries, len(spec.Covariates))
	for i, sel := range spec.Covariates {
		s, err := loadScalar(tx, sel)
		if err != nil {
			return nil, err
		}
		covariates[i] = s
	}
	outcome, err := loadScalar(tx, spec.Outcome)
	if err != nil {
		return nil, err
	}

	// Build the point matrix in a fixed entity order, dropping entities
	// missing any covariate. Outcome gaps only exclude an entity from the
	// group comparison, not from clustering.
	var entityIDs []string
	var points [][]float64
	for _, em := range stored {
		vec, err := embed.Deserialize(em.Vector)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt embedding for entity %s", em.EntityID)
		}
		point := make([]float64, 0, len(vec)+len(covariates))
		for _, v := range vec {
			point = append(point, float64(v))
		}
		missing := false
		for _, cov := range covariates {
			v, ok := cov.values[em.EntityID]
			if !ok {
				missing = true
				break
			}
			point = append(point, v)
		}
		if missing {
			continue
		}
		entityIDs = append(entityIDs, em.EntityID)
		points = append(points, point)
	}
	if len(points) < spec.K {
		return nil, errors.NewDataError("only %d complete points for clustering, need at least k=%d",
			len(points), spec.K)
	}

	km, err := KMeans(points, spec.K, e.analysisCfg.KMeansSeed, e.analysisCfg.KMeansMaxIter)
	if err != nil {
		return nil, err
	}

	// Cluster labels become the grouping for an ANOVA of the outcome.
	assignments := make(map[string]int, len(entityIDs))
	groups := make(map[string][]float64)
	for i, id := range entityIDs {
		c := km.Assignments[i]
		assignments[id] = c
		if v, ok := outcome.values[id]; ok {
			groups[clusterLabel(c)] = append(groups[clusterLabel(c)], v)
		}
	}
	comparison := OneWayANOVA(groups)

	stats, err := json.Marshal(map[string]interface{}{
		"k":           spec.K,
		"model_name":  spec.ModelName,
		"iterations":  km.Iterations,
		"centroids":   km.Centroids,
		"assignments": assignments,
		"comparison":  comparison,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal clustering stats")
	}

	row := &storage.AnalysisResult{
		JobID:      jobID,
		FeatureXID: outcome.def.ID,
		Stats:      stats,
	}
	if comparison.PValue != nil {
		p := *comparison.PValue
		row.PValue = &p
	}
	if comparison.EtaSquared != nil {
		effect := *comparison.EtaSquared
		row.EffectSize = &effect
	}
	return []*storage.AnalysisResult{row}, nil
}

// pairedSample intersects two series over entity ID in sorted order so the
// same data always produces the same sample vectors.
func pairedSample(a, b map[string]float64) ([]float64, []float64) {
	ids := make([]string, 0, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	x := make([]float64, len(ids))
	y := make([]float64, len(ids))
	for i, id := range ids {
		x[i] = a[id]
		y[i] = b[id]
	}
	return x, y
}

func groupOutcomes(values map[string]float64, labels map[string]string) map[string][]float64 {
	ids := make([]string, 0, len(values))
	for id := range values {
		if _, ok := labels[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	groups := make(map[string][]float64)
	for _, id := range ids {
		groups[labels[id]] = append(groups[labels[id]], values[id])
	}
	return groups
}

func clusterLabel(c int) string {
	return "cluster_" + strconv.Itoa(c)
}
