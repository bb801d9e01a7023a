package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracefield/tracefield/queue"
)

// JobsCmd groups job queue operations.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage the job queue",
	Long: `jobs - Job queue operations

Examples:
  tracefield jobs ls                       # List recent jobs of both kinds
  tracefield jobs ls --kind resolution     # Only resolution jobs
  tracefield jobs reap --older-than 15m    # Requeue stale running jobs`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs and their status",
	RunE:  runJobsLs,
}

var jobsReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Requeue running jobs older than a cutoff",
	Long: `Requeues jobs stuck in running, typically left behind by a crashed
worker. A requeued job is claimed again by the next available worker.`,
	RunE: runJobsReap,
}

var (
	jobsKindFlag      string
	jobsStatusFlag    string
	jobsLimitFlag     int
	jobsOlderThanFlag time.Duration
)

func init() {
	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsReapCmd)

	jobsLsCmd.Flags().StringVar(&jobsKindFlag, "kind", "", "Filter by job kind (resolution|analysis)")
	jobsLsCmd.Flags().StringVar(&jobsStatusFlag, "status", "", "Filter by status (queued|running|completed|failed)")
	jobsLsCmd.Flags().IntVar(&jobsLimitFlag, "limit", 20, "Maximum jobs to list per kind")
	jobsReapCmd.Flags().DurationVar(&jobsOlderThanFlag, "older-than", 15*time.Minute, "Requeue running jobs started before this cutoff")
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	store := queue.NewStore(database)

	kinds := []queue.Kind{queue.KindResolution, queue.KindAnalysis}
	if jobsKindFlag != "" {
		if !queue.IsValidKind(jobsKindFlag) {
			return fmt.Errorf("unknown job kind: %q", jobsKindFlag)
		}
		kinds = []queue.Kind{queue.Kind(jobsKindFlag)}
	}

	var statusFilter *queue.Status
	if jobsStatusFlag != "" {
		if !queue.IsValidStatus(jobsStatusFlag) {
			return fmt.Errorf("unknown job status: %q", jobsStatusFlag)
		}
		status := queue.Status(jobsStatusFlag)
		statusFilter = &status
	}

	for _, kind := range kinds {
		counts, err := store.CountByStatus(kind)
		if err != nil {
			return err
		}
		fmt.Printf("%s jobs  (queued: %d, running: %d, completed: %d, failed: %d)\n",
			kind,
			counts[queue.StatusQueued],
			counts[queue.StatusRunning],
			counts[queue.StatusCompleted],
			counts[queue.StatusFailed],
		)

		jobs, err := store.ListJobs(kind, statusFilter, jobsLimitFlag)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			line := fmt.Sprintf("  %s  %-9s  %s", job.ID, job.Status, job.Name)
			if job.Status == queue.StatusFailed && job.ExcInfo != "" {
				line += "  " + job.ExcInfo
			}
			if len(job.ResultSummary) > 0 {
				line += "  " + string(job.ResultSummary)
			}
			fmt.Println(line)
		}
		fmt.Println()
	}
	return nil
}

func runJobsReap(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := queue.NewStore(database).ResetStale(jobsOlderThanFlag)
	if err != nil {
		return err
	}
	fmt.Printf("Requeued %d stale job(s)\n", n)
	return nil
}
