package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/store"
)

// Store is the subset of the job store the exporter reads.
type Store interface {
	GetQualification(ctx context.Context, orgID, id int64) (*model.Qualification, error)
	ListResults(ctx context.Context, orgID, qualificationID int64) ([]store.ResultRow, error)
}

// Service produces XLSX workbooks of qualification results.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates an exporter.
func NewService(s Store, logger *slog.Logger) *Service {
	return &Service{store: s, logger: logger}
}

const (
	resultsSheet  = "Results"
	criteriaSheet = "Criteria"
)

// ExportResultsXLSX returns a workbook with one row per scored profile, best
// score first, and a second sheet describing the qualification.
func (s *Service) ExportResultsXLSX(ctx context.Context, orgID, qualificationID int64) ([]byte, error) {
	start := time.Now()

	qual, err := s.store.GetQualification(ctx, orgID, qualificationID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListResults(ctx, orgID, qualificationID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// Rename the default sheet so the workbook opens on the results.
	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(criteriaSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(resultsSheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Profile",
		"Name",
		"Company",
		"Score",
		"Passed",
		"Low Confidence",
		"Reasoning",
		"Evaluated At",
		"Model",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(resultsSheet, cell, h)
	}

	row := 2
	for _, r := range rows {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(resultsSheet, cell, v)
		}
		write(1, r.Profile.CanonicalURL)
		write(2, r.Profile.FullName)
		write(3, r.Profile.Company)
		write(4, r.Result.Score)
		write(5, yesNo(r.Result.Passed))
		write(6, yesNo(r.Result.LowConfidence))
		write(7, truncate(r.Result.Reasoning, 500))
		write(8, r.Result.EvaluatedAt.UTC().Format(time.RFC3339))
		write(9, r.Result.Model)
		row++
	}

	_ = f.SetColWidth(resultsSheet, "A", "A", 44) // profile url
	_ = f.SetColWidth(resultsSheet, "B", "C", 24) // name, company
	_ = f.SetColWidth(resultsSheet, "D", "F", 12) // flags
	_ = f.SetColWidth(resultsSheet, "G", "G", 80) // reasoning
	_ = f.SetColWidth(resultsSheet, "H", "I", 22)

	criteria := [][2]any{
		{"Qualification", qual.Name},
		{"Description", qual.Description},
		{"Pass Threshold", qual.PassThreshold},
		{"Summary", qual.Criteria.Summary},
		{"Must Have", strings.Join(qual.Criteria.MustHave, "; ")},
		{"Nice To Have", strings.Join(qual.Criteria.NiceToHave, "; ")},
		{"Disqualifiers", strings.Join(qual.Criteria.Disqualifiers, "; ")},
		{"Target Titles", strings.Join(qual.Criteria.TargetTitles, "; ")},
		{"Target Locations", strings.Join(qual.Criteria.TargetLocations, "; ")},
		{"Min Years Experience", qual.Criteria.MinYearsExperience},
		{"Criteria Hash", qual.CriteriaHash},
		{"Profiles Scored", len(rows)},
	}
	for i, kv := range criteria {
		_ = f.SetCellValue(criteriaSheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(criteriaSheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(criteriaSheet, "A", "A", 22)
	_ = f.SetColWidth(criteriaSheet, "B", "B", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("results exported",
		"organization_id", orgID,
		"qualification_id", qualificationID,
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
