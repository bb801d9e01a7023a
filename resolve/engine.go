package resolve

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracefield/tracefield/embed"
	"github.com/tracefield/tracefield/errors"
	"github.com/tracefield/tracefield/storage"
)

// Summary tallies how each record of a resolution job was handled.
type Summary struct {
	Exact     int `json:"exact"`
	Semantic  int `json:"semantic"`
	Created   int `json:"created"`
	Unmatched int `json:"unmatched"`
}

// Engine resolves one job's records against the entity graph. All writes go
// through the DBTX handed to Run, so the caller controls atomicity.
type Engine struct {
	provider embed.Provider
	logger   *zap.SugaredLogger
}

// NewEngine creates a resolution engine.
func NewEngine(provider embed.Provider, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		provider: provider,
		logger:   logger.Named("resolve"),
	}
}

// candidate is one existing entity with its match material preloaded.
type candidate struct {
	entity *storage.Entity
	vector []float32
}

// Run resolves every record in cfg for one job. The record walk is:
// exact join-key match, then semantic similarity, then create-if-no-match,
// then unmatched. One provenance event is appended per record.
//
// A per-record provider failure degrades that record to unmatched; if the
// provider failed for every record that needed it, the whole batch is
// considered unreachable and Run returns a retryable dependency error,
// rolling the transaction back.
func (e *Engine) Run(ctx context.Context, tx storage.DBTX, jobID, datasetID, entityType string, cfg *Config) (*Summary, error) {
	if datasetID == "" || entityType == "" {
		return nil, errors.NewConfigError("resolution job needs dataset_id and entity_type")
	}

	entities := storage.NewEntityStore(tx)
	mappings := storage.NewMappingStore(tx)
	embeddings := storage.NewEmbeddingStore(tx)
	provenance := storage.NewProvenanceStore(tx)

	pool, err := e.loadCandidates(entities, embeddings, entityType)
	if err != nil {
		return nil, err
	}

	// exactIndex maps the composite join-key value to the earliest matching
	// entity; the pool is ordered by creation time, so first write wins.
	exactIndex := make(map[string]*candidate)
	for _, c := range pool {
		if key, ok := joinKeyOf(cfg.JoinKeys, c.entity.ExternalIDs); ok {
			if _, exists := exactIndex[key]; !exists {
				exactIndex[key] = c
			}
		}
	}

	jobStart := time.Now()
	summary := &Summary{}
	embedAttempts, embedFailures := 0, 0

	for _, rec := range cfg.Records {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "resolution interrupted")
		default:
		}

		recordID := rec.SourceRecordID
		if recordID == "" {
			recordID = uuid.NewString()
		}
		start := time.Now()

		outcome, err := e.resolveRecord(ctx, &recordState{
			record:     rec,
			recordID:   recordID,
			datasetID:  datasetID,
			entityType: entityType,
			cfg:        cfg,
			pool:       &pool,
			exactIndex: exactIndex,
			entities:   entities,
			mappings:   mappings,
			embeddings: embeddings,
		})
		if err != nil {
			return nil, err
		}
		if outcome.embedAttempted {
			embedAttempts++
			if outcome.embedFailed {
				embedFailures++
			}
		}

		switch outcome.method {
		case storage.MethodExact:
			summary.Exact++
		case storage.MethodSemantic:
			summary.Semantic++
		case storage.MethodCreated:
			summary.Created++
		default:
			summary.Unmatched++
		}

		if err := provenance.Append(&storage.ProvenanceEvent{
			Stage:     "resolution.record",
			Status:    outcome.status(),
			Detail:    outcome.detail(recordID, time.Since(start)),
			EntityID:  outcome.entityID,
			DatasetID: datasetID,
			JobID:     jobID,
		}); err != nil {
			return nil, err
		}
	}

	if embedAttempts > 0 && embedFailures == embedAttempts {
		return nil, errors.NewDependencyError(
			errors.Newf("embedding provider failed for all %d lookups", embedAttempts),
			"embedding provider")
	}

	summaryJSON, _ := json.Marshal(summary)
	detail, _ := json.Marshal(map[string]interface{}{
		"summary":     json.RawMessage(summaryJSON),
		"config_hash": cfg.Hash(),
		"records":     len(cfg.Records),
		"duration_ms": time.Since(jobStart).Milliseconds(),
	})
	if err := provenance.Append(&storage.ProvenanceEvent{
		Stage:     "resolution.job",
		Status:    "completed",
		Detail:    detail,
		DatasetID: datasetID,
		JobID:     jobID,
	}); err != nil {
		return nil, err
	}

	e.logger.Infow("Resolution finished",
		"job_id", jobID,
		"exact", summary.Exact,
		"semantic", summary.Semantic,
		"created", summary.Created,
		"unmatched", summary.Unmatched,
	)
	return summary, nil
}

// recordState bundles everything resolveRecord needs for one record.
type recordState struct {
	record     Record
	recordID   string
	datasetID  string
	entityType string
	cfg        *Config
	pool       *[]*candidate
	exactIndex map[string]*candidate
	entities   *storage.EntityStore
	mappings   *storage.MappingStore
	embeddings *storage.EmbeddingStore
}

// outcome describes how one record was handled.
type outcome struct {
	method         string // empty means unmatched
	entityID       string
	score          *float64
	note           string
	embedAttempted bool
	embedFailed    bool
}

func (o *outcome) status() string {
	if o.method == "" {
		return "unmatched"
	}
	return o.method
}

func (o *outcome) detail(recordID string, elapsed time.Duration) json.RawMessage {
	m := map[string]interface{}{
		"source_record_id": recordID,
		"duration_ms":      elapsed.Milliseconds(),
	}
	if o.method != "" {
		m["method"] = o.method
	}
	if o.score != nil {
		m["score"] = *o.score
	}
	if o.note != "" {
		m["note"] = o.note
	}
	data, _ := json.Marshal(m)
	return data
}

func (e *Engine) resolveRecord(ctx context.Context, st *recordState) (*outcome, error) {
	// Step 1: exact join-key match.
	if key, ok := joinKeyOf(st.cfg.JoinKeys, st.record.Keys); ok {
		if c, found := st.exactIndex[key]; found {
			score := 1.0
			if err := st.mappings.Upsert(&storage.Mapping{
				DatasetID:      st.datasetID,
				EntityID:       c.entity.ID,
				SourceRecordID: st.recordID,
				SourceKeys:     sourceKeysJSON(st.cfg.JoinKeys, st.record.Keys),
				Method:         storage.MethodExact,
				Score:          &score,
			}); err != nil {
				return nil, err
			}
			return &outcome{method: storage.MethodExact, entityID: c.entity.ID, score: &score}, nil
		}
	}

	// Step 2: semantic similarity.
	var lookupVec []float32
	lookupText := lookupTextOf(st.cfg.SemanticFields, st.record.Keys)
	out := &outcome{}
	if lookupText != "" {
		out.embedAttempted = true
		vec, err := e.provider.Embed(ctx, lookupText)
		if err != nil {
			// Degrade this record rather than failing the job; the caller
			// escalates when every lookup in the batch failed.
			e.logger.Warnw("Embedding lookup failed, record unmatched",
				"source_record_id", st.recordID, "error", err)
			out.embedFailed = true
			out.note = "embedding lookup failed: " + err.Error()
			return out, nil
		}
		lookupVec = vec

		if best, sim := bestMatch(*st.pool, vec); best != nil && sim >= st.cfg.Threshold {
			if err := st.mappings.Upsert(&storage.Mapping{
				DatasetID:      st.datasetID,
				EntityID:       best.entity.ID,
				SourceRecordID: st.recordID,
				SourceKeys:     sourceKeysJSON(st.cfg.SemanticFields, st.record.Keys),
				Method:         storage.MethodSemantic,
				Score:          &sim,
			}); err != nil {
				return nil, err
			}
			out.method = storage.MethodSemantic
			out.entityID = best.entity.ID
			out.score = &sim
			return out, nil
		}
	}

	// Step 3: create-if-no-match.
	if st.cfg.CreateIfNoMatch {
		entity := &storage.Entity{
			EntityType:  st.entityType,
			DisplayName: displayNameOf(st.cfg, st.record.Keys, st.recordID),
			ExternalIDs: externalIDsOf(st.cfg.JoinKeys, st.record.Keys),
		}
		if err := st.entities.Create(entity); err != nil {
			return nil, err
		}

		c := &candidate{entity: entity}
		if lookupVec != nil {
			blob, err := embed.Serialize(lookupVec)
			if err != nil {
				return nil, err
			}
			if err := st.embeddings.Save(&storage.Embedding{
				EntityID:   entity.ID,
				ModelName:  e.provider.ModelName(),
				Vector:     blob,
				Dimensions: len(lookupVec),
			}); err != nil {
				return nil, err
			}
			c.vector = lookupVec
		}

		// Later records in this batch can match the new entity.
		*st.pool = append(*st.pool, c)
		if key, ok := joinKeyOf(st.cfg.JoinKeys, entity.ExternalIDs); ok {
			if _, exists := st.exactIndex[key]; !exists {
				st.exactIndex[key] = c
			}
		}

		if err := st.mappings.Upsert(&storage.Mapping{
			DatasetID:      st.datasetID,
			EntityID:       entity.ID,
			SourceRecordID: st.recordID,
			SourceKeys:     sourceKeysJSON(st.cfg.JoinKeys, st.record.Keys),
			Method:         storage.MethodCreated,
		}); err != nil {
			return nil, err
		}
		out.method = storage.MethodCreated
		out.entityID = entity.ID
		return out, nil
	}

	// Step 4: unmatched, no mapping written.
	return out, nil
}

// loadCandidates reads all entities of the type and joins in their stored
// vectors under the provider's model.
func (e *Engine) loadCandidates(entities *storage.EntityStore, embeddings *storage.EmbeddingStore, entityType string) ([]*candidate, error) {
	all, err := entities.ListByType(entityType)
	if err != nil {
		return nil, err
	}

	stored, err := embeddings.ListByEntityType(entityType, e.provider.ModelName())
	if err != nil {
		return nil, err
	}
	vectors := make(map[string][]float32, len(stored))
	for _, em := range stored {
		vec, err := embed.Deserialize(em.Vector)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt embedding for entity %s", em.EntityID)
		}
		vectors[em.EntityID] = vec
	}

	pool := make([]*candidate, 0, len(all))
	for _, ent := range all {
		pool = append(pool, &candidate{entity: ent, vector: vectors[ent.ID]})
	}
	return pool, nil
}

// bestMatch returns the highest-similarity candidate with a stored vector.
// The pool is ordered by entity creation time and the comparison is strict,
// so equal similarities resolve to the earliest entity.
func bestMatch(pool []*candidate, vec []float32) (*candidate, float64) {
	var best *candidate
	bestSim := 0.0
	for _, c := range pool {
		if c.vector == nil {
			continue
		}
		sim := embed.Cosine(vec, c.vector)
		if best == nil || sim > bestSim {
			best = c
			bestSim = sim
		}
	}
	return best, bestSim
}

// joinKeyOf builds the composite exact-match key from the values of every
// join key. Any missing or empty value means no exact match is possible.
func joinKeyOf(joinKeys []string, values map[string]string) (string, bool) {
	if len(joinKeys) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(joinKeys))
	for _, k := range joinKeys {
		v, ok := values[k]
		if !ok || v == "" {
			return "", false
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "\x1f"), true
}

// lookupTextOf concatenates the record's semantic field values in config
// order, skipping blanks.
func lookupTextOf(semanticFields []string, keys map[string]string) string {
	var parts []string
	for _, f := range semanticFields {
		if v := keys[f]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// displayNameOf derives a new entity's name: semantic text, then the first
// join key value, then the record id.
func displayNameOf(cfg *Config, keys map[string]string, recordID string) string {
	if text := lookupTextOf(cfg.SemanticFields, keys); text != "" {
		return text
	}
	for _, k := range cfg.JoinKeys {
		if v := keys[k]; v != "" {
			return v
		}
	}
	return recordID
}

func externalIDsOf(joinKeys []string, keys map[string]string) map[string]string {
	out := make(map[string]string)
	for _, k := range joinKeys {
		if v := keys[k]; v != "" {
			out[k] = v
		}
	}
	return out
}

func sourceKeysJSON(fields []string, keys map[string]string) string {
	m := make(map[string]string)
	for _, f := range fields {
		if v := keys[f]; v != "" {
			m[f] = v
		}
	}
	if len(m) == 0 {
		return ""
	}
	data, _ := json.Marshal(m)
	return string(data)
}
