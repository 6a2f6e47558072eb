package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/queue"
	"github.com/amishk599/leadflow/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubmitter struct {
	snapshotID string
	err        error
	urls       []string
}

func (f *fakeSubmitter) Submit(_ context.Context, urls []string) (string, error) {
	f.urls = urls
	return f.snapshotID, f.err
}

// cancellingSubmitter cancels the caller's context during submission, as a
// client disconnecting mid-request does.
type cancellingSubmitter struct {
	cancel     context.CancelFunc
	snapshotID string
	err        error
}

func (c cancellingSubmitter) Submit(context.Context, []string) (string, error) {
	c.cancel()
	return c.snapshotID, c.err
}

type fakeLookup struct{}

func (fakeLookup) Lookup(context.Context, model.LookupQuery) (model.LookupResult, error) {
	return model.LookupResult{}, nil
}

type fakeProviders struct {
	deep   model.ScrapeSubmitter
	lookup model.LookupProvider
}

func (f fakeProviders) DeepScrape(int64) (model.ScrapeSubmitter, bool) { return f.deep, f.deep != nil }
func (f fakeProviders) Lookup(int64) (model.LookupProvider, bool)      { return f.lookup, f.lookup != nil }

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, queue.Kind, queue.Payload, string) (bool, error) {
	return false, errors.New("disk full")
}

type fixture struct {
	store *store.SQLiteStore
	queue *queue.Queue
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	q, err := queue.New(s.DB(), queue.Options{})
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	return fixture{store: s, queue: q}
}

func (f fixture) profile(t *testing.T, orgID int64, url string) int64 {
	t.Helper()
	id, err := f.store.UpsertProfile(context.Background(), model.Profile{OrganizationID: orgID, CanonicalURL: url, FullName: "Grace"})
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	return id
}

func TestDispatch_DeepScrapeSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.profile(t, 1, "https://www.linkedin.com/in/grace")
	p2 := f.profile(t, 1, "https://www.linkedin.com/in/alan")

	sub := &fakeSubmitter{snapshotID: "s_abc"}
	d := NewDispatcher(f.store, fakeProviders{deep: sub, lookup: fakeLookup{}}, f.queue, false, discardLogger())

	receipt, err := d.Dispatch(ctx, Request{OrganizationID: 1, ProfileIDs: []int64{p1, p2}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if receipt.SnapshotID != "s_abc" || receipt.ProfileCount != 2 {
		t.Errorf("receipt = %+v", receipt)
	}
	if len(sub.urls) != 2 || sub.urls[0] != "https://www.linkedin.com/in/grace" {
		t.Errorf("submitted urls = %v", sub.urls)
	}

	job, err := f.store.GetJob(ctx, 1, receipt.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != model.StatusScraping {
		t.Errorf("status = %s, want scraping", job.Status)
	}
	if job.Provider != model.ProviderDeepScrape {
		t.Errorf("provider = %s", job.Provider)
	}
	if job.SnapshotID == nil || *job.SnapshotID != "s_abc" {
		t.Errorf("snapshot = %v", job.SnapshotID)
	}
}

func TestDispatch_ProviderFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.profile(t, 1, "https://www.linkedin.com/in/grace")

	provErr := &model.ProviderError{Provider: "deep_scrape", StatusCode: 500, Body: "upstream down"}
	d := NewDispatcher(f.store, fakeProviders{deep: &fakeSubmitter{err: provErr}}, f.queue, false, discardLogger())

	receipt, err := d.Dispatch(ctx, Request{OrganizationID: 1, ProfileIDs: []int64{p1}})
	var pe *model.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if receipt.JobID == "" {
		t.Fatal("expected job id in receipt")
	}

	job, err := f.store.GetJob(ctx, 1, receipt.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.Error == "" {
		t.Error("expected failure reason on job")
	}
}

func TestDispatch_CancelledCallerNeverLeavesJobPending(t *testing.T) {
	tests := []struct {
		name       string
		snapshotID string
		err        error
		want       model.Status
	}{
		{"submission fails", "", &model.ProviderError{Provider: "deep_scrape", StatusCode: 502}, model.StatusFailed},
		{"submission accepted", "s_accepted", nil, model.StatusScraping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p1 := f.profile(t, 1, "https://www.linkedin.com/in/grace")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sub := cancellingSubmitter{cancel: cancel, snapshotID: tt.snapshotID, err: tt.err}
			d := NewDispatcher(f.store, fakeProviders{deep: sub}, f.queue, false, discardLogger())

			receipt, _ := d.Dispatch(ctx, Request{OrganizationID: 1, ProfileIDs: []int64{p1}})
			if receipt.JobID == "" {
				t.Fatal("expected job id in receipt")
			}
			job, err := f.store.GetJob(context.Background(), 1, receipt.JobID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if job.Status != tt.want {
				t.Errorf("status = %s, want %s", job.Status, tt.want)
			}
		})
	}
}

func TestDispatch_LookupFallbackEnqueuesTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.profile(t, 1, "https://www.linkedin.com/in/grace")

	d := NewDispatcher(f.store, fakeProviders{lookup: fakeLookup{}}, f.queue, false, discardLogger())
	receipt, err := d.Dispatch(ctx, Request{OrganizationID: 1, ProfileIDs: []int64{p1}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	job, _ := f.store.GetJob(ctx, 1, receipt.JobID)
	if job.Status != model.StatusScraping || job.Provider != model.ProviderLookup {
		t.Errorf("job = %s/%s, want scraping/lookup", job.Status, job.Provider)
	}

	task, err := f.queue.Claim(ctx, 0)
	if err != nil || task == nil {
		t.Fatalf("Claim: %v, %v", task, err)
	}
	if task.Kind != queue.KindLookup || task.Payload.JobID != receipt.JobID {
		t.Errorf("task = %+v", task)
	}
	if len(task.Payload.Targets) != 1 || task.Payload.Targets[0].ProfileID != p1 {
		t.Errorf("targets = %+v", task.Payload.Targets)
	}
	if task.Payload.SnapshotID != receipt.SnapshotID {
		t.Errorf("payload snapshot = %q, receipt = %q", task.Payload.SnapshotID, receipt.SnapshotID)
	}
}

func TestDispatch_EnqueueFailureMarksJobFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.profile(t, 1, "https://www.linkedin.com/in/grace")

	d := NewDispatcher(f.store, fakeProviders{lookup: fakeLookup{}}, failingQueue{}, false, discardLogger())
	receipt, err := d.Dispatch(ctx, Request{OrganizationID: 1, ProfileIDs: []int64{p1}})
	if err == nil {
		t.Fatal("expected error")
	}
	job, _ := f.store.GetJob(ctx, 1, receipt.JobID)
	if job.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
}

func TestDispatch_RejectsBeforeCreatingJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	own := f.profile(t, 1, "https://www.linkedin.com/in/grace")
	other := f.profile(t, 2, "https://www.linkedin.com/in/alan")
	qualID := int64(99)

	tests := []struct {
		name      string
		providers fakeProviders
		scoring   bool
		req       Request
		check     func(error) bool
	}{
		{
			name:      "empty profile list",
			providers: fakeProviders{lookup: fakeLookup{}},
			req:       Request{OrganizationID: 1},
			check:     isValidation,
		},
		{
			name:      "profiles from another organization",
			providers: fakeProviders{lookup: fakeLookup{}},
			req:       Request{OrganizationID: 1, ProfileIDs: []int64{other}},
			check:     isValidation,
		},
		{
			name:      "no provider configured",
			providers: fakeProviders{},
			req:       Request{OrganizationID: 1, ProfileIDs: []int64{own}},
			check: func(err error) bool {
				var nc *model.NotConfiguredError
				return errors.As(err, &nc)
			},
		},
		{
			name:      "unknown qualification",
			providers: fakeProviders{lookup: fakeLookup{}},
			scoring:   true,
			req:       Request{OrganizationID: 1, ProfileIDs: []int64{own}, QualificationID: &qualID},
			check:     isValidation,
		},
		{
			name:      "qualification without scoring backend",
			providers: fakeProviders{lookup: fakeLookup{}},
			req:       Request{OrganizationID: 1, ProfileIDs: []int64{own}, QualificationID: &qualID},
			check:     isValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(f.store, tt.providers, f.queue, tt.scoring, discardLogger())
			receipt, err := d.Dispatch(ctx, tt.req)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if receipt.JobID != "" {
				t.Errorf("job %s created for rejected request", receipt.JobID)
			}
		})
	}

	jobs, err := f.store.ListJobs(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("found %d jobs, want 0", len(jobs))
	}
}

func isValidation(err error) bool {
	var ve *model.ValidationError
	return errors.As(err, &ve)
}

func TestAbandon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.profile(t, 1, "https://www.linkedin.com/in/grace")

	d := NewDispatcher(f.store, fakeProviders{deep: &fakeSubmitter{snapshotID: "s_1"}}, f.queue, false, discardLogger())
	receipt, err := d.Dispatch(ctx, Request{OrganizationID: 1, ProfileIDs: []int64{p1}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if _, err := d.Abandon(ctx, 2, receipt.JobID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("cross-tenant abandon err = %v, want ErrNotFound", err)
	}

	job, err := d.Abandon(ctx, 1, receipt.JobID)
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if job.Status != model.StatusFailed || job.Error != AbandonReason {
		t.Errorf("job = %s %q", job.Status, job.Error)
	}

	if _, err := d.Abandon(ctx, 1, receipt.JobID); !errors.Is(err, model.ErrStaleState) {
		t.Errorf("second abandon err = %v, want ErrStaleState", err)
	}
}
