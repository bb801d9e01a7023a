package commands

import (
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracefield/tracefield/analyze"
	"github.com/tracefield/tracefield/embed"
	"github.com/tracefield/tracefield/queue"
	"github.com/tracefield/tracefield/resolve"
)

// WorkerCmd runs the job-processing workers.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run resolution and analysis workers",
	Long: `worker - Process queued jobs

Starts one resolution worker and one analysis worker against the configured
database. Each worker polls with exponential backoff, claims the oldest
queued job of its kind, executes it, and records the outcome. Stale running
jobs left behind by a crashed worker are requeued periodically.

Stop with SIGINT or SIGTERM; a job interrupted mid-execution stays running
and is picked up again after the stale timeout.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	provider, err := embed.NewOpenAIProvider(cfg.Embeddings, log)
	if err != nil {
		return err
	}

	store := queue.NewStore(database)
	backoff := queue.BackoffPolicy{Floor: cfg.Worker.PollFloor(), Cap: cfg.Worker.PollCap()}
	workers := []*queue.Worker{
		queue.NewWorkerWithClock(store, resolve.NewHandler(database, provider, log), backoff, queue.RealClock{}, log),
		queue.NewWorkerWithClock(store, analyze.NewHandler(database, cfg.Analysis, log), backoff, queue.RealClock{}, log),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *queue.Worker) {
			defer wg.Done()
			_ = w.Run(ctx)
		}(w)
	}

	// Reaper: requeue running jobs whose worker died.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.Worker.StaleAfter() / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := store.ResetStale(cfg.Worker.StaleAfter())
				if err != nil {
					log.Errorw("Failed to reset stale jobs", "error", err)
					continue
				}
				if n > 0 {
					log.Warnw("Requeued stale running jobs", "count", n)
				}
			}
		}
	}()

	log.Infow("Workers running", "database", cfg.Database.Path)
	<-ctx.Done()
	wg.Wait()
	log.Infow("Shutdown complete")
	return nil
}
