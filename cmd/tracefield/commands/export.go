package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tracefield/tracefield/errors"
	"github.com/tracefield/tracefield/export"
)

// ExportCmd writes a job's analysis results to stdout or a file.
var ExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a job's analysis results",
	Long: `export - Serialize analysis results deterministically

Feature pairs are ordered by name, stat keys are sorted and numbers carry a
fixed 6-decimal precision, so exporting the same results twice produces
byte-identical output.

Examples:
  tracefield export --job <id> --format csv
  tracefield export --job <id> --format json --out results.json`,
	RunE: runExport,
}

var (
	exportJobFlag    string
	exportFormatFlag string
	exportOutFlag    string
)

func init() {
	ExportCmd.Flags().StringVar(&exportJobFlag, "job", "", "Job ID to export (required)")
	ExportCmd.Flags().StringVar(&exportFormatFlag, "format", export.FormatCSV, "Output format (csv|json)")
	ExportCmd.Flags().StringVar(&exportOutFlag, "out", "", "Output file (default stdout)")
	_ = ExportCmd.MarkFlagRequired("job")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	out := os.Stdout
	if exportOutFlag != "" {
		f, err := os.Create(exportOutFlag)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", exportOutFlag)
		}
		defer f.Close()
		out = f
	}

	return export.NewExporter(database).Write(out, exportJobFlag, exportFormatFlag)
}
