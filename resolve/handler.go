package resolve

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tracefield/tracefield/embed"
	"github.com/tracefield/tracefield/errors"
	"github.com/tracefield/tracefield/queue"
)

// Handler adapts the resolution engine to the job queue. Each job runs in
// one transaction: mappings, new entities, embeddings and provenance all
// commit together or not at all.
type Handler struct {
	db     *sql.DB
	engine *Engine
	logger *zap.SugaredLogger
}

// NewHandler creates a resolution job handler.
func NewHandler(db *sql.DB, provider embed.Provider, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		db:     db,
		engine: NewEngine(provider, logger),
		logger: logger.Named("resolve-handler"),
	}
}

// Kind returns the job kind this handler executes.
func (h *Handler) Kind() queue.Kind { return queue.KindResolution }

// Execute runs one resolution job and returns its summary.
func (h *Handler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	// Config validation happens before the transaction opens, so a bad
	// config fails with zero side effects.
	cfg, err := ParseConfig(job.Config)
	if err != nil {
		return nil, err
	}

	tx, err := h.db.Begin()
	if err != nil {
		return nil, errors.NewDependencyError(err, "database")
	}
	defer tx.Rollback()

	summary, err := h.engine.Run(ctx, tx, job.ID, job.DatasetID, job.EntityType, cfg)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewDependencyError(err, "database")
	}

	return json.Marshal(summary)
}
