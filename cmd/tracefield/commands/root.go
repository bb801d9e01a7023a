// Package commands holds the tracefield CLI subcommands.
package commands

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/tracefield/tracefield/config"
	"github.com/tracefield/tracefield/db"
	"github.com/tracefield/tracefield/errors"
	"github.com/tracefield/tracefield/logger"
)

// Flags shared by every subcommand, bound on the root command.
var (
	ConfigPath string
	JSONLogs   bool
)

// setup loads configuration and builds the logger. Every command starts
// here so there is no global state to initialize.
func setup() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(ConfigPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	log, err := logger.New(JSONLogs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize logger")
	}

	return cfg, log, nil
}

// openDatabase opens the configured SQLite database with migrations applied.
func openDatabase(cfg *config.Config, log *zap.SugaredLogger) (*sql.DB, error) {
	return db.OpenWithMigrations(cfg.Database.Path, log)
}
