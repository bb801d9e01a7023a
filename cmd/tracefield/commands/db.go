package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracefield/tracefield/db"
	"github.com/tracefield/tracefield/errors"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the tracefield database",
	Long: `db - Manage tracefield database operations

Examples:
  tracefield db migrate    # Apply pending schema migrations
  tracefield db stats      # Show row counts per table`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, log); err != nil {
		return errors.Wrap(err, "migration failed")
	}
	fmt.Println("Migrations applied")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	tables := []string{
		"datasets", "entities", "entity_map", "feature_definitions",
		"features", "embeddings", "jobs", "analysis_results", "provenance_event",
	}
	fmt.Printf("Database: %s\n\n", cfg.Database.Path)
	for _, table := range tables {
		var n int
		if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to count %s", table)
		}
		fmt.Printf("  %-20s %d\n", table, n)
	}
	return nil
}
