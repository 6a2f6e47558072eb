package store

import (
	"context"
	"errors"
	"testing"

	"github.com/amishk599/leadflow/internal/model"
)

func seedQualification(t *testing.T, s *SQLiteStore, orgID int64) *model.Qualification {
	t.Helper()
	q := &model.Qualification{
		OrganizationID: orgID,
		Name:           "Staff engineers",
		Criteria:       model.Criteria{Summary: "senior backend engineers", MustHave: []string{"Go"}},
		CriteriaHash:   "h1",
	}
	if err := s.CreateQualification(context.Background(), q); err != nil {
		t.Fatalf("CreateQualification: %v", err)
	}
	return q
}

func TestCreateAndGetQualification(t *testing.T) {
	s := newTestStore(t)
	q := seedQualification(t, s, 1)
	if q.PassThreshold != model.DefaultPassThreshold {
		t.Errorf("PassThreshold = %d, want default", q.PassThreshold)
	}

	got, err := s.GetQualification(context.Background(), 1, q.ID)
	if err != nil {
		t.Fatalf("GetQualification: %v", err)
	}
	if got.Criteria.MustHave[0] != "Go" || got.CriteriaHash != "h1" {
		t.Errorf("got %+v", got)
	}

	if _, err := s.GetQualification(context.Background(), 2, q.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("foreign org err = %v, want ErrNotFound", err)
	}
}

func TestUpdateQualification_LockedOnceScored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q := seedQualification(t, s, 1)

	q.Name = "Principal engineers"
	if err := s.UpdateQualification(ctx, q); err != nil {
		t.Fatalf("UpdateQualification before results: %v", err)
	}

	if err := s.UpsertResult(ctx, model.QualificationResult{
		ProfileID: 5, QualificationID: q.ID, JobID: "job-1", Score: 80, Passed: true, CriteriaHash: "h1",
	}); err != nil {
		t.Fatalf("UpsertResult: %v", err)
	}

	q.Name = "Anyone"
	if err := s.UpdateQualification(ctx, q); !errors.Is(err, model.ErrQualificationLocked) {
		t.Fatalf("err = %v, want ErrQualificationLocked", err)
	}
}

func TestUpsertResult_RejectsStaleCriteriaHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProfile(t, s, 1, "https://www.linkedin.com/in/a")
	q := seedQualification(t, s, 1)

	q.CriteriaHash = "h2"
	if err := s.UpdateQualification(ctx, q); err != nil {
		t.Fatalf("UpdateQualification: %v", err)
	}
	err := s.UpsertResult(ctx, model.QualificationResult{ProfileID: p, QualificationID: q.ID, JobID: "j1", Score: 60, CriteriaHash: "h1"})
	if !errors.Is(err, model.ErrCriteriaChanged) {
		t.Fatalf("err = %v, want ErrCriteriaChanged", err)
	}
	if got, _ := s.ResultsForProfiles(ctx, q.ID, []int64{p}); len(got) != 0 {
		t.Errorf("stale result stored: %+v", got)
	}
	if err := s.UpsertResult(ctx, model.QualificationResult{ProfileID: p, QualificationID: q.ID, JobID: "j1", Score: 60, CriteriaHash: "h2"}); err != nil {
		t.Errorf("UpsertResult with current hash: %v", err)
	}
}

func TestUpsertResult_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProfile(t, s, 1, "https://www.linkedin.com/in/a")
	q := seedQualification(t, s, 1)

	first := model.QualificationResult{ProfileID: p, QualificationID: q.ID, JobID: "j1", Score: 40, CriteriaHash: "h1"}
	second := model.QualificationResult{ProfileID: p, QualificationID: q.ID, JobID: "j2", Score: 90, Passed: true, LowConfidence: true, CriteriaHash: "h1"}
	if err := s.UpsertResult(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertResult(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.ResultsForProfiles(ctx, q.ID, []int64{p})
	if err != nil {
		t.Fatalf("ResultsForProfiles: %v", err)
	}
	r := got[p]
	if r.Score != 90 || !r.Passed || !r.LowConfidence || r.JobID != "j2" {
		t.Errorf("result = %+v", r)
	}

	rows, err := s.ListResults(ctx, 1, q.ID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(rows) != 1 || rows[0].Profile.CanonicalURL != "https://www.linkedin.com/in/a" {
		t.Errorf("rows = %+v", rows)
	}
	if rows, _ := s.ListResults(ctx, 2, q.ID); len(rows) != 0 {
		t.Errorf("foreign org saw %d rows", len(rows))
	}
}
