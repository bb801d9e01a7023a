package queue

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tracefield/tracefield/errors"
)

// Handler executes jobs of one kind.
//
// Execute returns the result summary to persist on completion, or an error
// classified by the errors package taxonomy: config errors and dependency
// errors fail the job (the latter flagged retryable); data-level
// degradation never surfaces here, it lands in the summary instead.
type Handler interface {
	// Kind returns the job kind this handler executes.
	Kind() Kind

	// Execute runs the job. Handlers must check ctx and abandon work on
	// cancellation; a job interrupted this way stays running until the
	// reaper requeues it.
	Execute(ctx context.Context, job *Job) (json.RawMessage, error)
}

// Worker runs a blocking poll -> claim -> execute -> finalize loop for one
// job kind. Multiple workers of the same kind may run concurrently and
// contend for the same queued jobs; the claim transition arbitrates.
// Each worker is single-threaded with respect to job execution.
type Worker struct {
	store   *Store
	handler Handler
	backoff BackoffPolicy
	clock   Clock
	logger  *zap.SugaredLogger
}

// NewWorker creates a worker with the default backoff policy and real clock.
func NewWorker(store *Store, handler Handler, logger *zap.SugaredLogger) *Worker {
	return NewWorkerWithClock(store, handler, DefaultBackoff(), RealClock{}, logger)
}

// NewWorkerWithClock creates a worker with explicit backoff and clock.
// Tests inject a fake clock here to simulate idle time without sleeping.
func NewWorkerWithClock(store *Store, handler Handler, backoff BackoffPolicy, clock Clock, logger *zap.SugaredLogger) *Worker {
	return &Worker{
		store:   store,
		handler: handler,
		backoff: backoff,
		clock:   clock,
		logger:  logger.Named("worker").With("kind", handler.Kind()),
	}
}

// Run blocks until ctx is cancelled, claiming and executing jobs.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Infow("Worker started",
		"poll_floor", w.backoff.Floor,
		"poll_cap", w.backoff.Cap,
	)

	delay := w.backoff.Floor
	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("Worker stopped")
			return nil
		default:
		}

		job, err := w.store.ClaimNext(w.handler.Kind())
		if err != nil {
			w.logger.Errorw("Failed to claim job", "error", err)
			w.clock.Sleep(ctx, delay)
			delay = w.backoff.Next(delay)
			continue
		}

		if job == nil {
			w.clock.Sleep(ctx, delay)
			delay = w.backoff.Next(delay)
			continue
		}

		// Found work: reset backoff to the floor
		delay = w.backoff.Floor
		w.process(ctx, job)
	}
}

// process executes one claimed job and finalizes its status. Complete and
// Fail are the only legal exits from running.
func (w *Worker) process(ctx context.Context, job *Job) {
	log := w.logger.With("job_id", job.ID, "job_name", job.Name)
	log.Infow("Executing job")

	summary, execErr := w.handler.Execute(ctx, job)
	if execErr != nil {
		if ctx.Err() != nil {
			// Shutdown mid-execution: leave the job running for the reaper
			// rather than recording a spurious failure.
			log.Warnw("Job interrupted by shutdown, leaving for reaper")
			return
		}
		log.Errorw("Job failed",
			"error", execErr,
			"retryable", errors.Retryable(execErr),
		)
		if err := w.store.Fail(job.ID, execErr); err != nil {
			log.Errorw("Failed to finalize failed job", "error", err)
		}
		return
	}

	if err := w.store.Complete(job.ID, summary); err != nil {
		log.Errorw("Failed to finalize completed job", "error", err)
		return
	}
	log.Infow("Job completed")
}
