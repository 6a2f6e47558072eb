package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/amishk599/leadflow/internal/ingest"
	"github.com/amishk599/leadflow/internal/model"
)

func (f fixture) sweeper(timeout time.Duration, now time.Time) *Sweeper {
	s := NewSweeper(f.store, f.ingestor, timeout, time.Minute, discardLogger())
	s.now = func() time.Time { return now }
	return s
}

func TestSweeper_TimedOutJobWithPartialDataCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids, _ := f.scrapingJob(t, "job-1", "s_1", model.ProviderDeepScrape, "ada", "alan")

	if _, err := f.ingestor.Ingest(ctx, ingest.Delivery{
		SnapshotID: "s_1",
		Source:     model.ProviderDeepScrape,
		Records:    []json.RawMessage{json.RawMessage(`{"input_url":"https://www.linkedin.com/in/ada","name":"Ada"}`)},
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := f.job(t, "job-1").Status; got != model.StatusScraping {
		t.Fatalf("status = %s, want scraping before sweep", got)
	}

	n, err := f.sweeper(6*time.Hour, time.Now().Add(7*time.Hour)).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d jobs, want 1", n)
	}
	if got := f.job(t, "job-1").Status; got != model.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
	records, _ := f.store.RecordsForSnapshot(ctx, "s_1", ids)
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}
}

func TestSweeper_TimedOutJobWithoutDataFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.scrapingJob(t, "job-1", "s_1", model.ProviderDeepScrape, "ada")

	if _, err := f.sweeper(6*time.Hour, time.Now().Add(7*time.Hour)).Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	job := f.job(t, "job-1")
	if job.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.Error != "no provider delivery within 6h0m0s" {
		t.Errorf("error = %q", job.Error)
	}
}

func TestSweeper_LeavesRecentJobsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.scrapingJob(t, "job-1", "s_1", model.ProviderDeepScrape, "ada")

	n, err := f.sweeper(6*time.Hour, time.Now().Add(time.Hour)).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("swept %d jobs, want 0", n)
	}
	if got := f.job(t, "job-1").Status; got != model.StatusScraping {
		t.Errorf("status = %s, want scraping", got)
	}
}

func TestSweeper_ResumesStrandedEnrichingJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.scrapingJob(t, "job-1", "s_1", model.ProviderDeepScrape, "ada")
	if err := f.store.Transition(ctx, "job-1", model.StatusScraping, model.StatusEnriching, model.TransitionOpts{}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	if _, err := f.sweeper(6*time.Hour, time.Now().Add(10*time.Minute)).Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := f.job(t, "job-1").Status; got != model.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}

func TestSweeper_TimedOutJobIgnoresEarlierJobsRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.scrapingJob(t, "job-old", "s_old", model.ProviderDeepScrape, "ada")
	if _, err := f.ingestor.Ingest(ctx, ingest.Delivery{
		SnapshotID: "s_old",
		Source:     model.ProviderDeepScrape,
		Records:    []json.RawMessage{json.RawMessage(`{"input_url":"https://www.linkedin.com/in/ada","name":"Ada"}`)},
		Final:      true,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	f.scrapingJob(t, "job-new", "s_new", model.ProviderDeepScrape, "ada")

	if _, err := f.sweeper(6*time.Hour, time.Now().Add(7*time.Hour)).Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := f.job(t, "job-new").Status; got != model.StatusFailed {
		t.Errorf("job-new status = %s, want failed", got)
	}
	if got := f.job(t, "job-old").Status; got != model.StatusCompleted {
		t.Errorf("job-old status = %s, want completed", got)
	}
}

func TestSweeper_FailsOrphanedPendingJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.UpsertProfile(ctx, model.Profile{OrganizationID: 1, CanonicalURL: "https://www.linkedin.com/in/ada"})
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	job := &model.EnrichmentJob{ID: "job-1", OrganizationID: 1, Provider: model.ProviderDeepScrape, ProfileIDs: []int64{id}}
	if err := f.store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	n, err := f.sweeper(6*time.Hour, time.Now().Add(time.Minute)).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 0 || f.job(t, "job-1").Status != model.StatusPending {
		t.Fatalf("recent pending job was swept")
	}

	n, err = f.sweeper(6*time.Hour, time.Now().Add(PendingTimeout+time.Minute)).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d jobs, want 1", n)
	}
	got := f.job(t, "job-1")
	if got.Status != model.StatusFailed || got.Error != "provider submission did not complete" {
		t.Errorf("job = %s %q", got.Status, got.Error)
	}
}
