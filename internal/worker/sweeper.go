package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

// SweepStore is the subset of the job store the sweeper reads and writes.
type SweepStore interface {
	ListStaleJobs(ctx context.Context, status model.Status, cutoff time.Time) ([]model.EnrichmentJob, error)
	RecordsForSnapshot(ctx context.Context, snapshotID string, ids []int64) (map[int64]model.EnrichmentRecord, error)
	Transition(ctx context.Context, id string, from, to model.Status, opts model.TransitionOpts) error
}

// Advancer moves jobs past enrichment.
type Advancer interface {
	Advance(ctx context.Context, job *model.EnrichmentJob) (model.Status, error)
	Resume(ctx context.Context, job *model.EnrichmentJob) (model.Status, error)
}

// PendingTimeout bounds how long a job may stay pending. Dispatch moves a job
// out of pending before it returns, so an older pending job was orphaned by a
// crash during submission.
const PendingTimeout = 15 * time.Minute

// Sweeper ends jobs whose provider never finished delivering, fails jobs
// orphaned in pending, and resumes jobs stranded in enriching by a crash
// between two transitions.
type Sweeper struct {
	store          SweepStore
	advancer       Advancer
	timeout        time.Duration
	pendingTimeout time.Duration
	interval       time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// NewSweeper creates a sweeper that checks every interval for jobs scraping longer than timeout.
func NewSweeper(store SweepStore, advancer Advancer, timeout, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:          store,
		advancer:       advancer,
		timeout:        timeout,
		pendingTimeout: PendingTimeout,
		interval:       interval,
		now:            time.Now,
		logger:         logger,
	}
}

// Run sweeps once immediately, then on every interval. It returns nil when
// ctx is cancelled (graceful shutdown).
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("starting sweeper",
		"interval", s.interval.String(),
		"scrape_timeout", s.timeout.String(),
	)

	s.sweepAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down sweeper")
			return nil
		case <-time.After(s.interval):
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("sweep finished", "jobs", n)
	}
}

// Sweep handles every overdue job once and returns how many it touched.
// Pending jobs past the pending bound fail. Scraping jobs with at least one
// record delivered for their snapshot continue as if the provider had
// delivered; scraping jobs with none fail.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	touched := 0
	var errs []error

	orphaned, err := s.store.ListStaleJobs(ctx, model.StatusPending, s.now().Add(-s.pendingTimeout))
	if err != nil {
		return 0, err
	}
	for i := range orphaned {
		job := &orphaned[i]
		err := s.store.Transition(ctx, job.ID, model.StatusPending, model.StatusFailed,
			model.TransitionOpts{Error: "provider submission did not complete"})
		if errors.Is(err, model.ErrStaleState) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		s.logger.Warn("failed orphaned pending job", "job_id", job.ID)
		touched++
	}

	stale, err := s.store.ListStaleJobs(ctx, model.StatusScraping, s.now().Add(-s.timeout))
	if err != nil {
		return touched, errors.Join(append(errs, err)...)
	}
	for i := range stale {
		if ctx.Err() != nil {
			return touched, ctx.Err()
		}
		job := &stale[i]
		if err := s.expire(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		touched++
	}

	stranded, err := s.store.ListStaleJobs(ctx, model.StatusEnriching, s.now().Add(-s.interval))
	if err != nil {
		return touched, errors.Join(append(errs, err)...)
	}
	for i := range stranded {
		job := &stranded[i]
		status, err := s.advancer.Resume(ctx, job)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		s.logger.Info("resumed stranded job", "job_id", job.ID, "status", status)
		touched++
	}

	return touched, errors.Join(errs...)
}

func (s *Sweeper) expire(ctx context.Context, job *model.EnrichmentJob) error {
	records, err := s.store.RecordsForSnapshot(ctx, job.Snapshot(), job.ProfileIDs)
	if err != nil {
		return err
	}

	if len(records) > 0 {
		status, err := s.advancer.Advance(ctx, job)
		if err != nil {
			return err
		}
		s.logger.Info("scrape timed out with partial data", "job_id", job.ID,
			"enriched", len(records), "profiles", len(job.ProfileIDs), "status", status)
		return nil
	}

	reason := fmt.Sprintf("no provider delivery within %s", s.timeout)
	err = s.store.Transition(ctx, job.ID, model.StatusScraping, model.StatusFailed, model.TransitionOpts{Error: reason})
	if errors.Is(err, model.ErrStaleState) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Warn("scrape timed out", "job_id", job.ID, "snapshot_id", deref(job.SnapshotID))
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
