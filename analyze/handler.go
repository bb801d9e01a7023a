package analyze

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tracefield/tracefield/config"
	"github.com/tracefield/tracefield/errors"
	"github.com/tracefield/tracefield/queue"
)

// Handler adapts the analysis engine to the job queue. Result rows and the
// job's provenance commit in one transaction; any error rolls everything
// back so a job never leaves partial results.
type Handler struct {
	db     *sql.DB
	engine *Engine
	logger *zap.SugaredLogger
}

// NewHandler creates an analysis job handler.
func NewHandler(db *sql.DB, analysisCfg config.AnalysisConfig, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		db:     db,
		engine: NewEngine(analysisCfg, logger),
		logger: logger.Named("analyze-handler"),
	}
}

// Kind returns the job kind this handler executes.
func (h *Handler) Kind() queue.Kind { return queue.KindAnalysis }

// Execute runs one analysis job and returns its summary.
func (h *Handler) Execute(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
	cfg, err := ParseConfig(job.Config)
	if err != nil {
		return nil, err
	}

	tx, err := h.db.Begin()
	if err != nil {
		return nil, errors.NewDependencyError(err, "database")
	}
	defer tx.Rollback()

	summary, err := h.engine.Run(ctx, tx, job.ID, job.EntityType, cfg)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewDependencyError(err, "database")
	}

	return json.Marshal(summary)
}
