package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

const jobColumns = `id, organization_id, profile_ids, profile_urls, qualification_id, provider,
	snapshot_id, status, error, scoring_errors, created_at, updated_at, completed_at`

// CreateJob inserts job in the pending state and fills in its timestamps.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.EnrichmentJob) error {
	if len(job.ProfileIDs) == 0 {
		return fmt.Errorf("creating job %s: no profiles", job.ID)
	}
	ids, err := marshalJSON(job.ProfileIDs)
	if err != nil {
		return fmt.Errorf("creating job %s: encoding profile ids: %w", job.ID, err)
	}
	urls, err := marshalJSON(job.ProfileURLs)
	if err != nil {
		return fmt.Errorf("creating job %s: encoding profile urls: %w", job.ID, err)
	}

	now := s.now().UTC()
	job.Status = model.StatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `INSERT INTO jobs
		(id, organization_id, profile_ids, profile_urls, qualification_id, provider, snapshot_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OrganizationID, ids, urls, job.QualificationID, string(job.Provider),
		job.SnapshotID, string(job.Status), toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("creating job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a job owned by orgID. Jobs of other organizations are
// reported as model.ErrNotFound, exactly like missing ones.
func (s *SQLiteStore) GetJob(ctx context.Context, orgID int64, id string) (*model.EnrichmentJob, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = ? AND organization_id = ?", id, orgID)
	return scanJob(row)
}

// GetJobByID returns a job regardless of organization. Used by background workers.
func (s *SQLiteStore) GetJobByID(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	return scanJob(row)
}

// GetJobBySnapshot returns the job that was submitted under snapshotID.
func (s *SQLiteStore) GetJobBySnapshot(ctx context.Context, snapshotID string) (*model.EnrichmentJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE snapshot_id = ?", snapshotID)
	return scanJob(row)
}

// ListJobs returns an organization's most recent jobs, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, orgID int64, limit int) ([]model.EnrichmentJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE organization_id = ? ORDER BY created_at DESC, id LIMIT ?",
		orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs for organization %d: %w", orgID, err)
	}
	return collectJobs(rows)
}

// JobCounts returns how many of an organization's jobs are in each status.
func (s *SQLiteStore) JobCounts(ctx context.Context, orgID int64) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM jobs WHERE organization_id = ? GROUP BY status", orgID)
	if err != nil {
		return nil, fmt.Errorf("counting jobs for organization %d: %w", orgID, err)
	}
	defer rows.Close()
	out := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning job count: %w", err)
		}
		out[model.Status(status)] = n
	}
	return out, rows.Err()
}

// ListStaleJobs returns jobs in status whose last update is before cutoff.
func (s *SQLiteStore) ListStaleJobs(ctx context.Context, status model.Status, cutoff time.Time) ([]model.EnrichmentJob, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at",
		string(status), toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("listing stale %s jobs: %w", status, err)
	}
	return collectJobs(rows)
}

// Transition moves a job from one status to another if, and only if, it is
// still in from. A job that moved on in the meantime yields model.ErrStaleState
// and nothing is written.
func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to model.Status, opts model.TransitionOpts) error {
	if !model.CanTransition(from, to) {
		return fmt.Errorf("job %s: %w: %s -> %s", id, model.ErrInvalidTransition, from, to)
	}

	now := toMillis(s.now())
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(to), now}
	if opts.SnapshotID != nil {
		sets = append(sets, "snapshot_id = ?")
		args = append(args, *opts.SnapshotID)
	}
	if to == model.StatusFailed {
		sets = append(sets, "error = ?")
		args = append(args, model.Redact(opts.Error))
	}
	if opts.ScoringErrors != nil {
		encoded, err := marshalJSON(opts.ScoringErrors)
		if err != nil {
			return fmt.Errorf("job %s: encoding scoring errors: %w", id, err)
		}
		sets = append(sets, "scoring_errors = ?")
		args = append(args, encoded)
	}
	if to.IsTerminal() {
		sets = append(sets, "completed_at = ?")
		args = append(args, now)
	}
	args = append(args, id, string(from))

	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return fmt.Errorf("job %s: transition %s -> %s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("job %s: transition %s -> %s: %w", id, from, to, err)
	}
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("job %s: reading status: %w", id, err)
		}
		return fmt.Errorf("job %s: %w: expected %s, found %s", id, model.ErrStaleState, from, current)
	}

	if to.IsTerminal() && s.onTerminal != nil {
		if job, err := s.GetJobByID(ctx, id); err == nil {
			s.onTerminal(ctx, *job)
		}
	}
	return nil
}

// Fail moves a job to failed from whatever non-terminal state it is in.
// It returns the state the job was in, or model.ErrStaleState if it was already terminal.
func (s *SQLiteStore) Fail(ctx context.Context, id, reason string) (model.Status, error) {
	for {
		job, err := s.GetJobByID(ctx, id)
		if err != nil {
			return "", err
		}
		if job.Status.IsTerminal() {
			return job.Status, fmt.Errorf("job %s: %w: already %s", id, model.ErrStaleState, job.Status)
		}
		err = s.Transition(ctx, id, job.Status, model.StatusFailed, model.TransitionOpts{Error: reason})
		if errors.Is(err, model.ErrStaleState) {
			// Moved between read and write; re-read and try again.
			continue
		}
		return job.Status, err
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.EnrichmentJob, error) {
	var (
		j                        model.EnrichmentJob
		ids, urls, scoringErrors string
		provider, status         string
		qualificationID          sql.NullInt64
		snapshotID               sql.NullString
		createdAt, updatedAt     int64
		completedAt              sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.OrganizationID, &ids, &urls, &qualificationID, &provider,
		&snapshotID, &status, &j.Error, &scoringErrors, &createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	if err := json.Unmarshal([]byte(ids), &j.ProfileIDs); err != nil {
		return nil, fmt.Errorf("job %s: decoding profile ids: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(urls), &j.ProfileURLs); err != nil {
		return nil, fmt.Errorf("job %s: decoding profile urls: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(scoringErrors), &j.ScoringErrors); err != nil {
		return nil, fmt.Errorf("job %s: decoding scoring errors: %w", j.ID, err)
	}
	if qualificationID.Valid {
		q := qualificationID.Int64
		j.QualificationID = &q
	}
	if snapshotID.Valid {
		sid := snapshotID.String
		j.SnapshotID = &sid
	}
	j.Provider = model.Provider(provider)
	j.Status = model.Status(status)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	j.CompletedAt = nullableMillis(completedAt)
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]model.EnrichmentJob, error) {
	defer rows.Close()
	var jobs []model.EnrichmentJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}
