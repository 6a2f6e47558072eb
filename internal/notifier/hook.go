package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

// Counter loads what a finished job produced.
type Counter interface {
	RecordsForSnapshot(ctx context.Context, snapshotID string, ids []int64) (map[int64]model.EnrichmentRecord, error)
	ResultsForProfiles(ctx context.Context, qualificationID int64, ids []int64) (map[int64]model.QualificationResult, error)
}

// Hook turns terminal job transitions into notifications.
type Hook struct {
	notifier model.Notifier
	counter  Counter
	timeout  time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewHook creates a hook delivering to n.
func NewHook(n model.Notifier, counter Counter, logger *slog.Logger) *Hook {
	return &Hook{notifier: n, counter: counter, timeout: 30 * time.Second, logger: logger}
}

// Event builds the notification for a finished job.
func (h *Hook) Event(ctx context.Context, job model.EnrichmentJob) (model.JobEvent, error) {
	event := model.JobEvent{Job: job}
	records, err := h.counter.RecordsForSnapshot(ctx, job.Snapshot(), job.ProfileIDs)
	if err != nil {
		return event, err
	}
	event.Enriched = len(records)

	if job.QualificationID != nil {
		results, err := h.counter.ResultsForProfiles(ctx, *job.QualificationID, job.ProfileIDs)
		if err != nil {
			return event, err
		}
		for _, r := range results {
			if r.JobID != job.ID {
				continue
			}
			event.Scored++
			if r.Passed {
				event.Passed++
			}
		}
	}
	return event, nil
}

// Notify builds and sends the event for job, logging failures.
func (h *Hook) Notify(ctx context.Context, job model.EnrichmentJob) {
	event, err := h.Event(ctx, job)
	if err != nil {
		h.logger.Error("building job notification", "job_id", job.ID, "error", err)
		return
	}
	if err := h.notifier.Notify(ctx, []model.JobEvent{event}); err != nil {
		h.logger.Error("sending job notification", "job_id", job.ID, "error", err)
	}
}

// OnTerminal notifies in the background so the transition that finished the
// job is not held up by the notification channel. It matches the store's
// terminal hook signature.
func (h *Hook) OnTerminal(ctx context.Context, job model.EnrichmentJob) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()
		h.Notify(nctx, job)
	}()
}

// Wait blocks until background notifications have been sent.
func (h *Hook) Wait() {
	h.wg.Wait()
}
