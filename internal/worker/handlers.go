package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amishk599/leadflow/internal/ingest"
	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/queue"
)

// LookupSource resolves an organization's lookup client.
type LookupSource interface {
	Lookup(orgID int64) (model.LookupProvider, bool)
}

// Ingester stores provider deliveries.
type Ingester interface {
	Ingest(ctx context.Context, d ingest.Delivery) (ingest.Summary, error)
}

// Qualifier scores a job against its qualification.
type Qualifier interface {
	QualifyJob(ctx context.Context, jobID string) error
}

// ObjectFetcher reads a delivered snapshot file from object storage.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, object string) ([]byte, error)
}

// Handlers implements the task kinds of the queue bridge.
type Handlers struct {
	lookups   LookupSource
	ingestor  Ingester
	qualifier Qualifier
	objects   ObjectFetcher
	logger    *slog.Logger
}

// NewHandlers wires task handlers. qualifier and objects may be nil when
// scoring or object-storage delivery is not configured; their tasks then
// dead-letter.
func NewHandlers(lookups LookupSource, ingestor Ingester, qualifier Qualifier, objects ObjectFetcher, logger *slog.Logger) *Handlers {
	return &Handlers{
		lookups:   lookups,
		ingestor:  ingestor,
		qualifier: qualifier,
		objects:   objects,
		logger:    logger,
	}
}

// Map returns the handler table for NewWorker.
func (h *Handlers) Map() map[queue.Kind]Handler {
	return map[queue.Kind]Handler{
		queue.KindLookup:       h.Lookup,
		queue.KindQualify:      h.Qualify,
		queue.KindIngestObject: h.IngestObject,
	}
}

// Lookup resolves each target through the organization's lookup client and
// ingests the results as one final delivery. Profiles the provider does not
// know, or that keep failing after the client's own retries, are left without
// a record. If nothing was found and something failed, the task fails so the
// queue can retry it or fail the job.
func (h *Handlers) Lookup(ctx context.Context, t *queue.Task) error {
	client, ok := h.lookups.Lookup(t.Payload.OrganizationID)
	if !ok {
		return queue.Permanent(&model.NotConfiguredError{OrganizationID: t.Payload.OrganizationID})
	}

	var (
		records  []json.RawMessage
		ids      []int64
		lastErr  error
		notFound int
	)
	for _, target := range t.Payload.Targets {
		res, err := client.Lookup(ctx, model.LookupQuery{
			ProfileURL: target.URL,
			Name:       target.Name,
			Company:    target.Company,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Warn("lookup failed", "job_id", t.JobID, "profile_id", target.ProfileID, "error", err)
			lastErr = err
			continue
		}
		if !res.Found || len(res.Data) == 0 {
			notFound++
			continue
		}
		records = append(records, res.Data)
		ids = append(ids, target.ProfileID)
	}

	if len(records) == 0 && lastErr != nil {
		return fmt.Errorf("no lookups succeeded: %w", lastErr)
	}

	summary, err := h.ingestor.Ingest(ctx, ingest.Delivery{
		SnapshotID: t.Payload.SnapshotID,
		Records:    records,
		ProfileIDs: ids,
		Source:     model.ProviderLookup,
		Final:      true,
	})
	if err != nil {
		return err
	}
	h.logger.Info("lookups ingested", "job_id", t.JobID, "found", len(records), "not_found", notFound,
		"status", summary.Status)
	return nil
}

// Qualify runs the qualification engine for the task's job.
func (h *Handlers) Qualify(ctx context.Context, t *queue.Task) error {
	if h.qualifier == nil {
		return queue.Permanent(errors.New("qualification scoring is not configured"))
	}
	return h.qualifier.QualifyJob(ctx, t.Payload.JobID)
}

// IngestObject fetches a delivered snapshot file and ingests it as a final delivery.
func (h *Handlers) IngestObject(ctx context.Context, t *queue.Task) error {
	if h.objects == nil {
		return queue.Permanent(errors.New("object storage delivery is not configured"))
	}
	body, err := h.objects.Fetch(ctx, t.Payload.Bucket, t.Payload.Object)
	if err != nil {
		return err
	}
	records, err := ingest.ParseRecords(body)
	if err != nil {
		return queue.Permanent(fmt.Errorf("gs://%s/%s: %w", t.Payload.Bucket, t.Payload.Object, err))
	}

	summary, err := h.ingestor.Ingest(ctx, ingest.Delivery{
		SnapshotID: t.Payload.SnapshotID,
		Records:    records,
		Source:     model.ProviderDeepScrape,
		Final:      true,
	})
	if err != nil {
		return err
	}
	h.logger.Info("snapshot object ingested", "object", t.Payload.Object, "job_id", summary.JobID,
		"stored", summary.Stored, "discarded", summary.Discarded)
	return nil
}
