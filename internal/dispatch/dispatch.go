package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/queue"
)

// Store is the subset of the job store the dispatcher writes to.
type Store interface {
	ResolveProfiles(ctx context.Context, orgID int64, ids []int64) ([]model.Profile, error)
	GetQualification(ctx context.Context, orgID, id int64) (*model.Qualification, error)
	CreateJob(ctx context.Context, job *model.EnrichmentJob) error
	GetJob(ctx context.Context, orgID int64, id string) (*model.EnrichmentJob, error)
	Transition(ctx context.Context, id string, from, to model.Status, opts model.TransitionOpts) error
	Fail(ctx context.Context, id, reason string) (model.Status, error)
}

// Providers resolves an organization's configured provider clients.
type Providers interface {
	DeepScrape(orgID int64) (model.ScrapeSubmitter, bool)
	Lookup(orgID int64) (model.LookupProvider, bool)
}

// Enqueuer hands work to the background workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload queue.Payload, dedupeKey string) (bool, error)
}

// Request asks for a batch of profiles to be enriched and optionally qualified.
type Request struct {
	OrganizationID  int64
	ProfileIDs      []int64
	QualificationID *int64
}

// Receipt identifies the job created for a request.
type Receipt struct {
	JobID        string `json:"jobId"`
	SnapshotID   string `json:"snapshotId,omitempty"`
	ProfileCount int    `json:"profileCount"`
}

// AbandonReason is recorded on jobs the caller gave up on.
const AbandonReason = "abandoned by caller"

// writeTimeout bounds job writes made after the caller's context is gone.
const writeTimeout = 10 * time.Second

// Dispatcher validates enrichment requests, creates jobs and submits them to a provider.
type Dispatcher struct {
	store          Store
	providers      Providers
	queue          Enqueuer
	scoringEnabled bool
	logger         *slog.Logger
}

// NewDispatcher creates a dispatcher wired with all its dependencies.
func NewDispatcher(store Store, providers Providers, q Enqueuer, scoringEnabled bool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:          store,
		providers:      providers,
		queue:          q,
		scoringEnabled: scoringEnabled,
		logger:         logger,
	}
}

// Dispatch creates a job for req and submits it. Validation and configuration
// errors return before any job exists. A provider failure is recorded on the
// job, which is returned in the receipt alongside the error. When Dispatch
// returns, the job is never left pending.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Receipt, error) {
	if len(req.ProfileIDs) == 0 {
		return Receipt{}, &model.ValidationError{Field: "profileIds", Message: "at least one profile id is required"}
	}

	deep, hasDeep := d.providers.DeepScrape(req.OrganizationID)
	_, hasLookup := d.providers.Lookup(req.OrganizationID)
	if !hasDeep && !hasLookup {
		return Receipt{}, &model.NotConfiguredError{OrganizationID: req.OrganizationID}
	}

	if req.QualificationID != nil {
		if !d.scoringEnabled {
			return Receipt{}, &model.ValidationError{Field: "qualificationId", Message: "qualification scoring is not configured"}
		}
		if _, err := d.store.GetQualification(ctx, req.OrganizationID, *req.QualificationID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return Receipt{}, &model.ValidationError{Field: "qualificationId", Message: "qualification not found"}
			}
			return Receipt{}, fmt.Errorf("loading qualification: %w", err)
		}
	}

	profiles, err := d.store.ResolveProfiles(ctx, req.OrganizationID, req.ProfileIDs)
	if err != nil {
		return Receipt{}, fmt.Errorf("resolving profiles: %w", err)
	}
	if len(profiles) == 0 {
		return Receipt{}, &model.ValidationError{Field: "profileIds", Message: "no profiles found"}
	}

	job := &model.EnrichmentJob{
		ID:              uuid.NewString(),
		OrganizationID:  req.OrganizationID,
		QualificationID: req.QualificationID,
		Provider:        model.ProviderLookup,
	}
	if hasDeep {
		job.Provider = model.ProviderDeepScrape
	}
	for _, p := range profiles {
		job.ProfileIDs = append(job.ProfileIDs, p.ID)
		job.ProfileURLs = append(job.ProfileURLs, p.CanonicalURL)
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		return Receipt{}, err
	}

	logger := d.logger.With("job_id", job.ID, "organization_id", job.OrganizationID, "provider", job.Provider)
	receipt := Receipt{JobID: job.ID, ProfileCount: len(profiles)}

	if hasDeep {
		snapshotID, err := d.submitDeepScrape(ctx, deep, job)
		if err != nil {
			logger.Error("deep scrape submission failed", "error", err)
			return receipt, fmt.Errorf("job %s: %w", job.ID, err)
		}
		receipt.SnapshotID = snapshotID
	} else {
		snapshotID, err := d.submitLookup(ctx, job, profiles)
		if err != nil {
			logger.Error("lookup submission failed", "error", err)
			return receipt, fmt.Errorf("job %s: %w", job.ID, err)
		}
		receipt.SnapshotID = snapshotID
	}

	logger.Info("job dispatched", "snapshot_id", receipt.SnapshotID, "profiles", receipt.ProfileCount)
	return receipt, nil
}

func (d *Dispatcher) submitDeepScrape(ctx context.Context, deep model.ScrapeSubmitter, job *model.EnrichmentJob) (string, error) {
	snapshotID, err := deep.Submit(ctx, job.ProfileURLs)
	if err != nil {
		d.failPending(ctx, job.ID, "deep scrape submission failed: "+err.Error())
		return "", err
	}
	// The provider accepted the snapshot; record it even if the caller went away.
	wctx, cancel := detach(ctx)
	defer cancel()
	if err := d.store.Transition(wctx, job.ID, model.StatusPending, model.StatusScraping,
		model.TransitionOpts{SnapshotID: &snapshotID}); err != nil {
		d.failPending(ctx, job.ID, "recording snapshot failed: "+err.Error())
		return "", fmt.Errorf("recording snapshot %s: %w", snapshotID, err)
	}
	return snapshotID, nil
}

// submitLookup moves the job to scraping under a local snapshot id first, so a
// worker never sees the task before the job is ready for ingestion.
func (d *Dispatcher) submitLookup(ctx context.Context, job *model.EnrichmentJob, profiles []model.Profile) (string, error) {
	snapshotID := "lookup-" + uuid.NewString()
	if err := d.store.Transition(ctx, job.ID, model.StatusPending, model.StatusScraping,
		model.TransitionOpts{SnapshotID: &snapshotID}); err != nil {
		d.failPending(ctx, job.ID, "recording snapshot failed: "+err.Error())
		return "", fmt.Errorf("recording snapshot %s: %w", snapshotID, err)
	}

	targets := make([]queue.LookupTarget, len(profiles))
	for i, p := range profiles {
		targets[i] = queue.LookupTarget{ProfileID: p.ID, URL: p.CanonicalURL, Name: p.FullName, Company: p.Company}
	}
	payload := queue.Payload{
		JobID:           job.ID,
		OrganizationID:  job.OrganizationID,
		SnapshotID:      snapshotID,
		Targets:         targets,
		QualificationID: job.QualificationID,
	}
	if _, err := d.queue.Enqueue(ctx, queue.KindLookup, payload, "lookup:"+job.ID); err != nil {
		wctx, cancel := detach(ctx)
		defer cancel()
		if _, ferr := d.store.Fail(wctx, job.ID, "queueing lookup failed: "+err.Error()); ferr != nil {
			d.logger.Error("failed to mark job failed", "job_id", job.ID, "error", ferr)
		}
		return "", fmt.Errorf("queueing lookup: %w", err)
	}
	return snapshotID, nil
}

// detach returns a context for writes that must land after ctx is cancelled.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

func (d *Dispatcher) failPending(ctx context.Context, jobID, reason string) {
	ctx, cancel := detach(ctx)
	defer cancel()
	err := d.store.Transition(ctx, jobID, model.StatusPending, model.StatusFailed, model.TransitionOpts{Error: reason})
	if err != nil {
		d.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

// Abandon marks a caller's in-flight job failed. The provider request is not
// retracted; a late delivery for the job is discarded by the ingestor.
func (d *Dispatcher) Abandon(ctx context.Context, orgID int64, jobID string) (*model.EnrichmentJob, error) {
	job, err := d.store.GetJob(ctx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, fmt.Errorf("job %s: %w: already %s", jobID, model.ErrStaleState, job.Status)
	}
	if _, err := d.store.Fail(ctx, jobID, AbandonReason); err != nil {
		return nil, err
	}
	d.logger.Info("job abandoned", "job_id", jobID, "organization_id", orgID, "previous_status", job.Status)
	return d.store.GetJob(ctx, orgID, jobID)
}
