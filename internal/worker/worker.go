package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/queue"
)

// Handler processes one claimed task.
type Handler func(ctx context.Context, t *queue.Task) error

// Queue is the subset of the queue bridge a worker consumes.
type Queue interface {
	Claim(ctx context.Context, lease time.Duration) (*queue.Task, error)
	Complete(ctx context.Context, t *queue.Task) error
	Fail(ctx context.Context, t *queue.Task, cause error) (bool, error)
}

// JobStore is the subset of the job store a worker needs to guard tasks.
type JobStore interface {
	GetJobByID(ctx context.Context, id string) (*model.EnrichmentJob, error)
	Fail(ctx context.Context, id, reason string) (model.Status, error)
}

// Worker pulls tasks off the queue one at a time. Any number of workers, in
// one process or many, can share a queue.
type Worker struct {
	name         string
	queue        Queue
	jobs         JobStore
	handlers     map[queue.Kind]Handler
	pollInterval time.Duration
	lease        time.Duration
	logger       *slog.Logger
}

// NewWorker creates a worker dispatching claimed tasks to handlers by kind.
func NewWorker(name string, q Queue, jobs JobStore, handlers map[queue.Kind]Handler, pollInterval, lease time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		name:         name,
		queue:        q,
		jobs:         jobs,
		handlers:     handlers,
		pollInterval: pollInterval,
		lease:        lease,
		logger:       logger.With("worker", name),
	}
}

// Run processes tasks until ctx is cancelled, sleeping for the poll interval
// whenever the queue is idle. It returns nil on graceful shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting worker", "poll_interval", w.pollInterval.String())

	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("processing task", "error", err)
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("shutting down worker")
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessOne claims and handles a single task. It reports whether a task was claimed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Claim(ctx, w.lease)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	logger := w.logger.With("task_id", task.ID, "kind", task.Kind, "job_id", task.JobID, "attempt", task.Attempts)

	if task.JobID != "" {
		job, err := w.jobs.GetJobByID(ctx, task.JobID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			return true, w.fail(ctx, logger, task, queue.Permanent(err))
		case err != nil:
			return true, w.fail(ctx, logger, task, err)
		case job.Status.IsTerminal():
			logger.Info("skipping task for finished job", "status", job.Status)
			return true, w.complete(ctx, logger, task)
		}
	}

	handler, ok := w.handlers[task.Kind]
	if !ok {
		return true, w.fail(ctx, logger, task, queue.Permanent(fmt.Errorf("no handler for task kind %q", task.Kind)))
	}

	start := time.Now()
	if err := handler(ctx, task); err != nil {
		if ctx.Err() != nil {
			// Interrupted by shutdown; the lease expires and another worker picks it up.
			return true, err
		}
		return true, w.fail(ctx, logger, task, err)
	}

	logger.Info("task done", "duration", time.Since(start).Round(time.Millisecond).String())
	return true, w.complete(ctx, logger, task)
}

func (w *Worker) complete(ctx context.Context, logger *slog.Logger, task *queue.Task) error {
	err := w.queue.Complete(ctx, task)
	if errors.Is(err, queue.ErrLeaseLost) {
		logger.Warn("task lease lost before completion")
		return nil
	}
	return err
}

// fail records a task failure. A dead-lettered task fails its job, so no job
// waits on work that will never run.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, task *queue.Task, cause error) error {
	dead, err := w.queue.Fail(ctx, task, cause)
	if errors.Is(err, queue.ErrLeaseLost) {
		logger.Warn("task lease lost before failure was recorded", "error", cause)
		return nil
	}
	if err != nil {
		return err
	}
	if !dead {
		logger.Warn("task failed, will retry", "error", cause)
		return nil
	}

	logger.Error("task dead-lettered", "error", cause)
	if task.JobID == "" {
		return nil
	}
	reason := fmt.Sprintf("%s task failed: %s", task.Kind, model.Redact(cause.Error()))
	if _, err := w.jobs.Fail(ctx, task.JobID, reason); err != nil && !errors.Is(err, model.ErrStaleState) && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("failing job %s: %w", task.JobID, err)
	}
	return nil
}
