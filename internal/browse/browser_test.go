package browse

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amishk599/leadflow/internal/model"
)

type fakeSource struct {
	jobs    []model.EnrichmentJob
	records map[int64]model.EnrichmentRecord
	results map[int64]model.QualificationResult
	lists   int
}

func (f *fakeSource) ListJobs(_ context.Context, orgID int64, _ int) ([]model.EnrichmentJob, error) {
	f.lists++
	var out []model.EnrichmentJob
	for _, j := range f.jobs {
		if j.OrganizationID == orgID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeSource) RecordsForSnapshot(_ context.Context, snapshotID string, _ []int64) (map[int64]model.EnrichmentRecord, error) {
	out := make(map[int64]model.EnrichmentRecord)
	for id, r := range f.records {
		if r.SnapshotID == snapshotID {
			out[id] = r
		}
	}
	return out, nil
}

func (f *fakeSource) ResultsForProfiles(context.Context, int64, []int64) (map[int64]model.QualificationResult, error) {
	return f.results, nil
}

func testSource() *fakeSource {
	qualID := int64(7)
	created := time.Now().Add(-time.Hour)
	snapshot := "s_b"
	return &fakeSource{
		jobs: []model.EnrichmentJob{
			{
				ID: "job-b", OrganizationID: 1, Status: model.StatusCompleted, Provider: model.ProviderDeepScrape,
				ProfileIDs: []int64{1, 2, 3}, ProfileURLs: []string{"linkedin.com/in/ada", "linkedin.com/in/grace", "linkedin.com/in/alan"},
				QualificationID: &qualID, SnapshotID: &snapshot, ScoringErrors: map[int64]string{3: "scoring backend returned HTTP 400"},
				CreatedAt: created,
			},
			{ID: "job-a", OrganizationID: 1, Status: model.StatusScraping, Provider: model.ProviderLookup, ProfileIDs: []int64{4}, CreatedAt: created},
			{ID: "job-other", OrganizationID: 2, Status: model.StatusFailed, CreatedAt: created},
		},
		records: map[int64]model.EnrichmentRecord{
			1: {ProfileID: 1, SnapshotID: "s_b", FullName: "Ada Lovelace", CurrentTitle: "CTO", CurrentCompany: "Engines"},
			2: {ProfileID: 2, SnapshotID: "s_b", FullName: "Grace Hopper"},
		},
		results: map[int64]model.QualificationResult{
			1: {ProfileID: 1, JobID: "job-b", Score: 40},
			2: {ProfileID: 2, JobID: "job-b", Score: 91, Passed: true, LowConfidence: true},
		},
	}
}

// run feeds msg to m and executes the returned command once, returning the
// model after both messages were applied.
func run(t *testing.T, m browserModel, msg tea.Msg) (browserModel, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(browserModel)
	if cmd == nil {
		return m, nil
	}
	return m, cmd()
}

func loaded(t *testing.T, src *fakeSource) browserModel {
	t.Helper()
	m := newBrowserModel(src, 1)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m = next.(browserModel)
	next, _ = m.Update(m.Init()())
	return next.(browserModel)
}

func TestBrowser_LoadsOrganizationJobs(t *testing.T) {
	m := loaded(t, testSource())

	if len(m.jobs) != 2 {
		t.Fatalf("jobs = %d, want 2 for organization 1", len(m.jobs))
	}
	view := m.View()
	for _, want := range []string{"2 jobs", "1 scraping", "1 completed", "job-b"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "job-other") {
		t.Error("view shows another organization's job")
	}
}

func TestBrowser_RefreshKeepsSelection(t *testing.T) {
	src := testSource()
	m := loaded(t, src)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(browserModel)
	if got := m.jobs[m.table.Cursor()].ID; got != "job-a" {
		t.Fatalf("selected = %q, want job-a", got)
	}

	// A new job appears at the top of the list.
	src.jobs = append([]model.EnrichmentJob{{ID: "job-c", OrganizationID: 1, Status: model.StatusPending, CreatedAt: time.Now()}}, src.jobs...)
	m, msg := run(t, m, refreshTickMsg{})
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		t.Fatalf("refresh returned %T, want tea.BatchMsg", msg)
	}
	next, _ = m.Update(batch[0]())
	m = next.(browserModel)

	if len(m.jobs) != 3 {
		t.Fatalf("jobs = %d, want 3", len(m.jobs))
	}
	if got := m.jobs[m.table.Cursor()].ID; got != "job-a" {
		t.Errorf("selected after refresh = %q, want job-a", got)
	}
}

func TestBrowser_DetailView(t *testing.T) {
	m := loaded(t, testSource())

	m, msg := run(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.view != viewDetail || !m.detailLoading {
		t.Fatalf("view = %v loading = %v, want detail loading", m.view, m.detailLoading)
	}
	next, _ := m.Update(msg)
	m = next.(browserModel)

	detail := m.renderDetail()
	for _, want := range []string{"job-b", "completed", "Ada Lovelace · CTO @ Engines", "91 ✓ (low confidence)", "40 ✗", "not enriched", "HTTP 400"} {
		if !strings.Contains(detail, want) {
			t.Errorf("detail missing %q:\n%s", want, detail)
		}
	}
	if strings.Index(detail, "Grace Hopper") > strings.Index(detail, "Ada Lovelace") {
		t.Error("profiles not ordered by score")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if next.(browserModel).view != viewList {
		t.Error("esc did not return to the list")
	}
}

func TestBrowser_StaleDetailIgnored(t *testing.T) {
	m := loaded(t, testSource())
	m, _ = run(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	next, _ := m.Update(detailLoadedMsg{jobID: "job-a", records: map[int64]model.EnrichmentRecord{}})
	m = next.(browserModel)
	if !m.detailLoading {
		t.Error("detail for another job was applied")
	}
}

func TestShortAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{26 * time.Hour, "26h"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		if got := shortAge(tt.d); got != tt.want {
			t.Errorf("shortAge(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
