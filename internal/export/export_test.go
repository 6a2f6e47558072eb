package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExportResultsXLSX(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	qual := &model.Qualification{OrganizationID: 1, Name: "Buyers", Criteria: model.Criteria{Summary: "Budget owners", MustHave: []string{"VP", "SaaS"}}}
	if err := s.CreateQualification(ctx, qual); err != nil {
		t.Fatalf("CreateQualification: %v", err)
	}
	for i, p := range []struct {
		url, name string
		score     int
	}{
		{"https://www.linkedin.com/in/low", "Low Scorer", 20},
		{"https://www.linkedin.com/in/high", "High Scorer", 91},
	} {
		id, err := s.UpsertProfile(ctx, model.Profile{OrganizationID: 1, CanonicalURL: p.url, FullName: p.name, Company: "Acme"})
		if err != nil {
			t.Fatalf("UpsertProfile: %v", err)
		}
		if err := s.UpsertResult(ctx, model.QualificationResult{
			ProfileID: id, QualificationID: qual.ID, JobID: "job-1",
			Score: p.score, Passed: p.score >= 70, Reasoning: "reason " + string(rune('a'+i)), Model: "gpt-test",
		}); err != nil {
			t.Fatalf("UpsertResult: %v", err)
		}
	}

	svc := NewService(s, discardLogger())
	data, err := svc.ExportResultsXLSX(ctx, 1, qual.ID)
	if err != nil {
		t.Fatalf("ExportResultsXLSX: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Results")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "Profile" || rows[0][3] != "Score" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "High Scorer" || rows[1][3] != "91" || rows[1][4] != "yes" {
		t.Errorf("first row = %v, want best score first", rows[1])
	}
	if rows[2][4] != "no" {
		t.Errorf("second row passed = %q", rows[2][4])
	}

	criteria, err := f.GetRows("Criteria")
	if err != nil {
		t.Fatalf("GetRows criteria: %v", err)
	}
	if criteria[0][1] != "Buyers" || criteria[4][1] != "VP; SaaS" {
		t.Errorf("criteria sheet = %v", criteria)
	}
}

func TestExportResultsXLSX_OtherOrganization(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	qual := &model.Qualification{OrganizationID: 1, Name: "Buyers", Criteria: model.Criteria{Summary: "x"}}
	if err := s.CreateQualification(ctx, qual); err != nil {
		t.Fatalf("CreateQualification: %v", err)
	}

	_, err = NewService(s, discardLogger()).ExportResultsXLSX(ctx, 2, qual.ID)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
