package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/queue"
)

// Store is the subset of the job store the ingestor reads and writes.
type Store interface {
	GetJobBySnapshot(ctx context.Context, snapshotID string) (*model.EnrichmentJob, error)
	UpsertRecords(ctx context.Context, records []model.EnrichmentRecord) error
	RecordsForSnapshot(ctx context.Context, snapshotID string, ids []int64) (map[int64]model.EnrichmentRecord, error)
	Transition(ctx context.Context, id string, from, to model.Status, opts model.TransitionOpts) error
	Fail(ctx context.Context, id, reason string) (model.Status, error)
}

// Enqueuer hands qualification work to the background workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload queue.Payload, dedupeKey string) (bool, error)
}

// Delivery is a batch of provider records for one snapshot.
type Delivery struct {
	SnapshotID string
	Records    []json.RawMessage
	// ProfileIDs optionally names the profile each record belongs to, by index.
	// Zero entries, or a nil slice, fall back to URL matching.
	ProfileIDs []int64
	Source     model.Provider
	// Final means no further records will arrive for the snapshot.
	Final bool
}

// Summary describes what an Ingest call did.
type Summary struct {
	JobID      string       `json:"jobId,omitempty"`
	SnapshotID string       `json:"snapshotId"`
	Stored     int          `json:"stored"`
	Unmatched  int          `json:"unmatched"`
	Invalid    int          `json:"invalid"`
	Missing    []int64      `json:"missing,omitempty"`
	Discarded  bool         `json:"discarded"`
	Status     model.Status `json:"status,omitempty"`
}

// Ingestor persists provider deliveries and advances their jobs.
type Ingestor struct {
	store  Store
	queue  Enqueuer
	now    func() time.Time
	logger *slog.Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(store Store, q Enqueuer, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, queue: q, now: time.Now, logger: logger}
}

// Ingest stores the records of d against the job that owns its snapshot. A
// delivery for an unknown snapshot, or for a job that already left scraping, is
// discarded without error, so redelivery is harmless.
func (i *Ingestor) Ingest(ctx context.Context, d Delivery) (Summary, error) {
	summary := Summary{SnapshotID: d.SnapshotID}
	logger := i.logger.With("snapshot_id", d.SnapshotID, "source", d.Source)

	job, err := i.store.GetJobBySnapshot(ctx, d.SnapshotID)
	if errors.Is(err, model.ErrNotFound) {
		logger.Warn("discarding delivery for unknown snapshot", "records", len(d.Records))
		summary.Discarded = true
		return summary, nil
	}
	if err != nil {
		return summary, fmt.Errorf("loading job for snapshot %s: %w", d.SnapshotID, err)
	}
	summary.JobID = job.ID
	summary.Status = job.Status
	logger = logger.With("job_id", job.ID)

	if job.Status != model.StatusScraping {
		logger.Info("discarding delivery for job no longer scraping", "status", job.Status)
		summary.Discarded = true
		return summary, nil
	}

	byURL := make(map[string]int64, len(job.ProfileIDs))
	inJob := make(map[int64]bool, len(job.ProfileIDs))
	for idx, id := range job.ProfileIDs {
		inJob[id] = true
		if idx < len(job.ProfileURLs) {
			byURL[NormalizeURL(job.ProfileURLs[idx])] = id
		}
	}

	records := make(map[int64]model.EnrichmentRecord)
	enrichedAt := i.now()
	for idx, raw := range d.Records {
		profileURL, rec, err := normalize(d.Source, raw)
		if err != nil {
			logger.Warn("skipping provider record", "url", profileURL, "error", err)
			summary.Invalid++
			continue
		}

		var profileID int64
		if idx < len(d.ProfileIDs) && inJob[d.ProfileIDs[idx]] {
			profileID = d.ProfileIDs[idx]
		} else {
			profileID = byURL[NormalizeURL(profileURL)]
		}
		if profileID == 0 {
			logger.Warn("skipping record for profile not in job", "url", profileURL)
			summary.Unmatched++
			continue
		}

		rec.ProfileID = profileID
		rec.Source = d.Source
		rec.SnapshotID = d.SnapshotID
		rec.RawPayload = raw
		rec.EnrichedAt = enrichedAt
		records[profileID] = rec
	}

	if len(records) > 0 {
		batch := make([]model.EnrichmentRecord, 0, len(records))
		for _, rec := range records {
			batch = append(batch, rec)
		}
		sort.Slice(batch, func(a, b int) bool { return batch[a].ProfileID < batch[b].ProfileID })
		if err := i.store.UpsertRecords(ctx, batch); err != nil {
			return summary, fmt.Errorf("storing records for job %s: %w", job.ID, err)
		}
		summary.Stored = len(batch)
	}

	missing, err := i.missingProfiles(ctx, job)
	if err != nil {
		return summary, err
	}
	summary.Missing = missing
	logger.Info("delivery stored", "stored", summary.Stored, "unmatched", summary.Unmatched,
		"invalid", summary.Invalid, "missing", len(missing))

	if len(missing) > 0 && !d.Final {
		return summary, nil
	}
	if len(missing) == len(job.ProfileIDs) {
		return i.failEmpty(ctx, job, summary, "provider delivered no data for any profile")
	}
	if len(missing) > 0 {
		logger.Info("partial delivery", "error", &model.PartialDeliveryError{JobID: job.ID, Missing: missing})
	}

	status, err := i.Advance(ctx, job)
	if err != nil {
		return summary, err
	}
	summary.Status = status
	return summary, nil
}

func (i *Ingestor) failEmpty(ctx context.Context, job *model.EnrichmentJob, summary Summary, reason string) (Summary, error) {
	err := i.store.Transition(ctx, job.ID, model.StatusScraping, model.StatusFailed, model.TransitionOpts{Error: reason})
	if errors.Is(err, model.ErrStaleState) {
		return summary, nil
	}
	if err != nil {
		return summary, err
	}
	i.logger.Warn("job failed", "job_id", job.ID, "reason", reason)
	summary.Status = model.StatusFailed
	return summary, nil
}

func (i *Ingestor) missingProfiles(ctx context.Context, job *model.EnrichmentJob) ([]int64, error) {
	existing, err := i.store.RecordsForSnapshot(ctx, job.Snapshot(), job.ProfileIDs)
	if err != nil {
		return nil, fmt.Errorf("loading records for job %s: %w", job.ID, err)
	}
	var missing []int64
	for _, id := range job.ProfileIDs {
		if _, ok := existing[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Advance moves a scraping job to enriching and on to completion, or hands it
// to the qualification workers. It returns the status the job was left in. A
// job another writer already moved is left alone.
func (i *Ingestor) Advance(ctx context.Context, job *model.EnrichmentJob) (model.Status, error) {
	logger := i.logger.With("job_id", job.ID)

	err := i.store.Transition(ctx, job.ID, model.StatusScraping, model.StatusEnriching, model.TransitionOpts{})
	if errors.Is(err, model.ErrStaleState) {
		logger.Debug("job already advanced by another writer")
		return job.Status, nil
	}
	if err != nil {
		return job.Status, err
	}
	return i.Resume(ctx, job)
}

// Resume finishes a job that is already in enriching: completes it, or hands
// it to the qualification workers. Queueing is idempotent per job, so resuming
// a job whose qualification is already queued is harmless.
func (i *Ingestor) Resume(ctx context.Context, job *model.EnrichmentJob) (model.Status, error) {
	logger := i.logger.With("job_id", job.ID)

	if job.QualificationID == nil {
		err := i.store.Transition(ctx, job.ID, model.StatusEnriching, model.StatusCompleted, model.TransitionOpts{})
		if errors.Is(err, model.ErrStaleState) {
			return model.StatusEnriching, nil
		}
		if err != nil {
			return model.StatusEnriching, err
		}
		logger.Info("job completed")
		return model.StatusCompleted, nil
	}

	payload := queue.Payload{
		JobID:           job.ID,
		OrganizationID:  job.OrganizationID,
		QualificationID: job.QualificationID,
	}
	if _, err := i.queue.Enqueue(ctx, queue.KindQualify, payload, "qualify:"+job.ID); err != nil {
		if _, ferr := i.store.Fail(ctx, job.ID, "queueing qualification failed: "+err.Error()); ferr != nil {
			logger.Error("failed to mark job failed", "error", ferr)
		}
		return model.StatusFailed, fmt.Errorf("queueing qualification for job %s: %w", job.ID, err)
	}
	logger.Info("job queued for qualification", "qualification_id", *job.QualificationID)
	return model.StatusEnriching, nil
}
