package qualify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/retry"
)

// Store is the subset of the job store the engine reads and writes.
type Store interface {
	GetJobByID(ctx context.Context, id string) (*model.EnrichmentJob, error)
	GetQualification(ctx context.Context, orgID, id int64) (*model.Qualification, error)
	RecordsForSnapshot(ctx context.Context, snapshotID string, ids []int64) (map[int64]model.EnrichmentRecord, error)
	UpsertResult(ctx context.Context, r model.QualificationResult) error
	Transition(ctx context.Context, id string, from, to model.Status, opts model.TransitionOpts) error
}

// Options tunes scoring throughput and per-profile retries.
type Options struct {
	Concurrency  int
	RateLimitRPS float64
	MaxRetries   int
	RetryBase    time.Duration
}

// Engine scores a job's enriched profiles against its qualification.
type Engine struct {
	store   Store
	scorer  Scorer
	tmpl    *template.Template
	limiter *rate.Limiter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates an engine. A zero RateLimitRPS disables rate limiting.
func NewEngine(store Store, scorer Scorer, opts Options, logger *slog.Logger) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}
	return &Engine{
		store:   store,
		scorer:  scorer,
		tmpl:    QualifyTemplate,
		limiter: limiter,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

type promptData struct {
	Qualification *model.Qualification
	Criteria      model.Criteria
	Record        model.EnrichmentRecord
	Threshold     int
}

type outcome struct {
	result    model.QualificationResult
	err       error
	transient bool
}

// QualifyJob moves an enriching job through qualifying to completed or
// failed. A job already in qualifying is resumed: the queue only hands the
// task out again after the previous holder's lease expired. When every
// profile failed with a transient error the job is left in qualifying and a
// *model.TransientError is returned so the task is retried.
func (e *Engine) QualifyJob(ctx context.Context, jobID string) error {
	job, err := e.store.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	logger := e.logger.With("job_id", job.ID)

	switch job.Status {
	case model.StatusEnriching:
		err := e.store.Transition(ctx, job.ID, model.StatusEnriching, model.StatusQualifying, model.TransitionOpts{})
		if errors.Is(err, model.ErrStaleState) {
			logger.Debug("job claimed by another writer")
			return nil
		}
		if err != nil {
			return err
		}
	case model.StatusQualifying:
		logger.Info("resuming qualification")
	default:
		logger.Info("skipping qualification", "status", job.Status)
		return nil
	}

	if job.QualificationID == nil {
		return e.finish(ctx, job, model.StatusFailed, model.TransitionOpts{Error: "job has no qualification"})
	}
	qual, err := e.store.GetQualification(ctx, job.OrganizationID, *job.QualificationID)
	if errors.Is(err, model.ErrNotFound) {
		return e.finish(ctx, job, model.StatusFailed, model.TransitionOpts{Error: "qualification no longer exists"})
	}
	if err != nil {
		return err
	}

	records, err := e.store.RecordsForSnapshot(ctx, job.Snapshot(), job.ProfileIDs)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		logger.Info("no enriched profiles to score")
		return e.finish(ctx, job, model.StatusCompleted, model.TransitionOpts{})
	}

	outcomes, err := e.scoreAll(ctx, job, qual, records)
	if err != nil {
		return err
	}

	failures := make(map[int64]string)
	allTransient := true
	scored := 0
	for profileID, o := range outcomes {
		if o.err != nil {
			failures[profileID] = model.Redact(o.err.Error())
			allTransient = allTransient && o.transient
			continue
		}
		if err := e.store.UpsertResult(ctx, o.result); err != nil {
			if errors.Is(err, model.ErrCriteriaChanged) {
				// Nothing was stored under the old criteria; score again from the top.
				logger.Warn("criteria edited while scoring, retrying", "qualification_id", qual.ID)
				return &model.TransientError{Err: err}
			}
			return fmt.Errorf("storing result for profile %d: %w", profileID, err)
		}
		scored++
	}

	logger.Info("qualification scored", "scored", scored, "failed", len(failures), "not_enriched", len(job.ProfileIDs)-len(records))

	if scored == 0 {
		scoringErr := &model.ScoringError{JobID: job.ID, Failures: failures}
		if allTransient {
			return &model.TransientError{Err: scoringErr}
		}
		return e.finish(ctx, job, model.StatusFailed, model.TransitionOpts{Error: scoringErr.Error(), ScoringErrors: failures})
	}
	var opts model.TransitionOpts
	if len(failures) > 0 {
		opts.ScoringErrors = failures
	}
	return e.finish(ctx, job, model.StatusCompleted, opts)
}

func (e *Engine) finish(ctx context.Context, job *model.EnrichmentJob, to model.Status, opts model.TransitionOpts) error {
	err := e.store.Transition(ctx, job.ID, model.StatusQualifying, to, opts)
	if errors.Is(err, model.ErrStaleState) {
		e.logger.Info("job left qualifying before scoring finished", "job_id", job.ID)
		return nil
	}
	if err != nil {
		return err
	}
	e.logger.Info("qualification finished", "job_id", job.ID, "status", to)
	return nil
}

func (e *Engine) scoreAll(ctx context.Context, job *model.EnrichmentJob, qual *model.Qualification, records map[int64]model.EnrichmentRecord) (map[int64]outcome, error) {
	ids := make([]int64, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var (
		mu       sync.Mutex
		outcomes = make(map[int64]outcome, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, id := range ids {
		rec := records[id]
		g.Go(func() error {
			o, err := e.scoreProfile(gctx, job, qual, rec)
			if err != nil {
				return err
			}
			mu.Lock()
			outcomes[rec.ProfileID] = o
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// scoreProfile returns an error only when ctx is done; scoring failures are
// reported in the outcome.
func (e *Engine) scoreProfile(ctx context.Context, job *model.EnrichmentJob, qual *model.Qualification, rec model.EnrichmentRecord) (outcome, error) {
	var prompt bytes.Buffer
	if err := e.tmpl.Execute(&prompt, promptData{
		Qualification: qual,
		Criteria:      qual.Criteria,
		Record:        rec,
		Threshold:     qual.PassThreshold,
	}); err != nil {
		return outcome{err: fmt.Errorf("render prompt: %w", err)}, nil
	}

	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retry.Backoff(e.opts.RetryBase, attempt, lastErr)
			e.logger.Warn("retrying scoring",
				"job_id", job.ID, "profile_id", rec.ProfileID, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return outcome{}, ctx.Err()
			case <-time.After(delay):
			}
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return outcome{}, err
			}
		}

		raw, err := e.scorer.Complete(ctx, prompt.String())
		if err != nil {
			if ctx.Err() != nil {
				return outcome{}, ctx.Err()
			}
			lastErr = err
			if !model.IsTransient(err) {
				break
			}
			continue
		}
		v, err := parseVerdict(raw, qual.PassThreshold)
		if err != nil {
			lastErr = err
			continue
		}
		if v.LowConfidence {
			e.logger.Warn("coerced scorer output", "job_id", job.ID, "profile_id", rec.ProfileID, "score", v.Score)
		}
		return outcome{result: model.QualificationResult{
			ProfileID:       rec.ProfileID,
			QualificationID: qual.ID,
			JobID:           job.ID,
			Score:           v.Score,
			Passed:          v.Passed,
			Reasoning:       v.Reasoning,
			LowConfidence:   v.LowConfidence,
			CriteriaHash:    qual.CriteriaHash,
			Model:           e.scorer.Model(),
			EvaluatedAt:     e.now(),
		}}, nil
	}

	e.logger.Error("scoring failed", "job_id", job.ID, "profile_id", rec.ProfileID, "error", lastErr)
	return outcome{err: lastErr, transient: model.IsTransient(lastErr)}, nil
}
