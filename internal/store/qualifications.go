package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

// CreateQualification inserts q and sets its id and timestamps.
func (s *SQLiteStore) CreateQualification(ctx context.Context, q *model.Qualification) error {
	criteria, err := marshalJSON(q.Criteria)
	if err != nil {
		return fmt.Errorf("encoding criteria: %w", err)
	}
	if q.PassThreshold == 0 {
		q.PassThreshold = model.DefaultPassThreshold
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO qualifications
		(organization_id, name, description, criteria, criteria_hash, pass_threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.OrganizationID, q.Name, q.Description, criteria, q.CriteriaHash, q.PassThreshold,
		toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("creating qualification %q: %w", q.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("creating qualification %q: %w", q.Name, err)
	}
	q.ID = id
	q.CreatedAt = now
	q.UpdatedAt = now
	return nil
}

// GetQualification returns a qualification owned by orgID.
func (s *SQLiteStore) GetQualification(ctx context.Context, orgID, id int64) (*model.Qualification, error) {
	var (
		q                    model.Qualification
		criteria             string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, organization_id, name, description, criteria, criteria_hash,
			pass_threshold, created_at, updated_at
		FROM qualifications WHERE id = ? AND organization_id = ?`, id, orgID,
	).Scan(&q.ID, &q.OrganizationID, &q.Name, &q.Description, &criteria, &q.CriteriaHash,
		&q.PassThreshold, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading qualification %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(criteria), &q.Criteria); err != nil {
		return nil, fmt.Errorf("qualification %d: decoding criteria: %w", id, err)
	}
	q.CreatedAt = fromMillis(createdAt)
	q.UpdatedAt = fromMillis(updatedAt)
	return &q, nil
}

// UpdateQualification replaces the name, description, criteria and threshold of q.
// Qualifications that already have results are immutable and yield model.ErrQualificationLocked.
func (s *SQLiteStore) UpdateQualification(ctx context.Context, q *model.Qualification) error {
	criteria, err := marshalJSON(q.Criteria)
	if err != nil {
		return fmt.Errorf("encoding criteria: %w", err)
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE qualifications SET
			name = ?, description = ?, criteria = ?, criteria_hash = ?, pass_threshold = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
		  AND NOT EXISTS (SELECT 1 FROM qualification_results WHERE qualification_id = ?)`,
		q.Name, q.Description, criteria, q.CriteriaHash, q.PassThreshold, toMillis(now),
		q.ID, q.OrganizationID, q.ID)
	if err != nil {
		return fmt.Errorf("updating qualification %d: %w", q.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating qualification %d: %w", q.ID, err)
	}
	if n == 0 {
		if _, err := s.GetQualification(ctx, q.OrganizationID, q.ID); err != nil {
			return err
		}
		return fmt.Errorf("qualification %d: %w", q.ID, model.ErrQualificationLocked)
	}
	q.UpdatedAt = now
	return nil
}

// UpsertResult stores the score of one profile against one qualification,
// overwriting any previous evaluation. The write only lands while the
// qualification still carries r.CriteriaHash; otherwise it yields
// model.ErrCriteriaChanged. Once a result exists the criteria are locked, so
// every result of a qualification shares one hash.
func (s *SQLiteStore) UpsertResult(ctx context.Context, r model.QualificationResult) error {
	evaluatedAt := r.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO qualification_results
		(profile_id, qualification_id, job_id, score, passed, reasoning, low_confidence, criteria_hash, model, evaluated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM qualifications WHERE id = ? AND criteria_hash = ?)
		ON CONFLICT (profile_id, qualification_id) DO UPDATE SET
			job_id = excluded.job_id,
			score = excluded.score,
			passed = excluded.passed,
			reasoning = excluded.reasoning,
			low_confidence = excluded.low_confidence,
			criteria_hash = excluded.criteria_hash,
			model = excluded.model,
			evaluated_at = excluded.evaluated_at`,
		r.ProfileID, r.QualificationID, r.JobID, r.Score, boolInt(r.Passed), r.Reasoning,
		boolInt(r.LowConfidence), r.CriteriaHash, r.Model, toMillis(evaluatedAt),
		r.QualificationID, r.CriteriaHash)
	if err != nil {
		return fmt.Errorf("upserting result for profile %d: %w", r.ProfileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upserting result for profile %d: %w", r.ProfileID, err)
	}
	if n == 0 {
		return fmt.Errorf("qualification %d, profile %d: %w", r.QualificationID, r.ProfileID, model.ErrCriteriaChanged)
	}
	return nil
}

// ResultsForProfiles returns the results of qualificationID for ids, keyed by profile id.
func (s *SQLiteStore) ResultsForProfiles(ctx context.Context, qualificationID int64, ids []int64) (map[int64]model.QualificationResult, error) {
	out := make(map[int64]model.QualificationResult, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, qualificationID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+resultColumns+` FROM qualification_results
		WHERE qualification_id = ? AND profile_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading results for qualification %d: %w", qualificationID, err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out[r.ProfileID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return out, nil
}

// ResultRow is a qualification result joined with its profile.
type ResultRow struct {
	Result  model.QualificationResult
	Profile model.Profile
}

// ListResults returns every result of a qualification owned by orgID, best score first.
func (s *SQLiteStore) ListResults(ctx context.Context, orgID, qualificationID int64) ([]ResultRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.profile_id, r.qualification_id, r.job_id, r.score, r.passed,
			r.reasoning, r.low_confidence, r.criteria_hash, r.model, r.evaluated_at,
			p.canonical_url, p.full_name, p.company
		FROM qualification_results r
		JOIN qualifications q ON q.id = r.qualification_id
		JOIN profiles p ON p.id = r.profile_id
		WHERE q.organization_id = ? AND r.qualification_id = ?
		ORDER BY r.score DESC, r.profile_id`, orgID, qualificationID)
	if err != nil {
		return nil, fmt.Errorf("listing results for qualification %d: %w", qualificationID, err)
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var (
			row                   ResultRow
			passed, lowConfidence int
			evaluatedAt           int64
		)
		r := &row.Result
		if err := rows.Scan(&r.ProfileID, &r.QualificationID, &r.JobID, &r.Score, &passed, &r.Reasoning,
			&lowConfidence, &r.CriteriaHash, &r.Model, &evaluatedAt,
			&row.Profile.CanonicalURL, &row.Profile.FullName, &row.Profile.Company); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		r.Passed = passed != 0
		r.LowConfidence = lowConfidence != 0
		r.EvaluatedAt = fromMillis(evaluatedAt)
		row.Profile.ID = r.ProfileID
		row.Profile.OrganizationID = orgID
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return out, nil
}

const resultColumns = `profile_id, qualification_id, job_id, score, passed, reasoning, low_confidence,
	criteria_hash, model, evaluated_at`

func scanResult(row rowScanner) (model.QualificationResult, error) {
	var (
		r                     model.QualificationResult
		passed, lowConfidence int
		evaluatedAt           int64
	)
	if err := row.Scan(&r.ProfileID, &r.QualificationID, &r.JobID, &r.Score, &passed, &r.Reasoning,
		&lowConfidence, &r.CriteriaHash, &r.Model, &evaluatedAt); err != nil {
		return r, fmt.Errorf("scanning result: %w", err)
	}
	r.Passed = passed != 0
	r.LowConfidence = lowConfidence != 0
	r.EvaluatedAt = time.UnixMilli(evaluatedAt).UTC()
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
