package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/amishk599/leadflow/internal/model"
)

// UpsertProfile inserts a captured profile, or refreshes the name and company of
// an existing one with the same canonical URL. It returns the profile id.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p model.Profile) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO profiles (organization_id, canonical_url, full_name, company)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (organization_id, canonical_url) DO UPDATE SET
			full_name = excluded.full_name,
			company = excluded.company
		RETURNING id`,
		p.OrganizationID, p.CanonicalURL, p.FullName, p.Company,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting profile %s: %w", p.CanonicalURL, err)
	}
	return id, nil
}

// ResolveProfiles returns the profiles among ids that belong to orgID, in the
// order of ids. Duplicates collapse; ids that are missing or owned by another
// organization are silently dropped.
func (s *SQLiteStore) ResolveProfiles(ctx context.Context, orgID int64, ids []int64) ([]model.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, orgID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, organization_id, canonical_url, full_name, company, enriched_at
		FROM profiles WHERE organization_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("resolving profiles for organization %d: %w", orgID, err)
	}
	defer rows.Close()

	found := make(map[int64]model.Profile, len(ids))
	for rows.Next() {
		var (
			p          model.Profile
			enrichedAt sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.CanonicalURL, &p.FullName, &p.Company, &enrichedAt); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		p.EnrichedAt = nullableMillis(enrichedAt)
		found[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}

	out := make([]model.Profile, 0, len(found))
	seen := make(map[int64]bool, len(found))
	for _, id := range ids {
		p, ok := found[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, p)
	}
	return out, nil
}

// UpsertRecords writes one enrichment record per profile and snapshot,
// replacing a redelivered record, and stamps the profiles as enriched. All records are written in one transaction.
func (s *SQLiteStore) UpsertRecords(ctx context.Context, records []model.EnrichmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record upsert: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		experience, err := marshalJSON(nonNil(r.Experience))
		if err != nil {
			return fmt.Errorf("encoding experience for profile %d: %w", r.ProfileID, err)
		}
		education, err := marshalJSON(nonNil(r.Education))
		if err != nil {
			return fmt.Errorf("encoding education for profile %d: %w", r.ProfileID, err)
		}
		skills, err := marshalJSON(nonNil(r.Skills))
		if err != nil {
			return fmt.Errorf("encoding skills for profile %d: %w", r.ProfileID, err)
		}
		raw := string(r.RawPayload)
		if raw == "" {
			raw = "{}"
		}
		enrichedAt := r.EnrichedAt
		if enrichedAt.IsZero() {
			enrichedAt = s.now()
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO enrichment_records
			(profile_id, source, snapshot_id, full_name, headline, location, current_company, current_title,
			 summary, experience, education, skills, connections, followers, raw_payload, enriched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (snapshot_id, profile_id) DO UPDATE SET
				source = excluded.source,
				full_name = excluded.full_name,
				headline = excluded.headline,
				location = excluded.location,
				current_company = excluded.current_company,
				current_title = excluded.current_title,
				summary = excluded.summary,
				experience = excluded.experience,
				education = excluded.education,
				skills = excluded.skills,
				connections = excluded.connections,
				followers = excluded.followers,
				raw_payload = excluded.raw_payload,
				enriched_at = excluded.enriched_at`,
			r.ProfileID, string(r.Source), r.SnapshotID, r.FullName, r.Headline, r.Location,
			r.CurrentCompany, r.CurrentTitle, r.Summary, experience, education, skills,
			r.Connections, r.Followers, raw, toMillis(enrichedAt),
		)
		if err != nil {
			return fmt.Errorf("upserting record for profile %d: %w", r.ProfileID, err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE profiles SET enriched_at = ? WHERE id = ?",
			toMillis(enrichedAt), r.ProfileID); err != nil {
			return fmt.Errorf("marking profile %d enriched: %w", r.ProfileID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record upsert: %w", err)
	}
	return nil
}

// RecordsForSnapshot returns the enrichment records delivered under snapshotID
// for ids, keyed by profile id. Records other snapshots hold for the same
// profiles are not included.
func (s *SQLiteStore) RecordsForSnapshot(ctx context.Context, snapshotID string, ids []int64) (map[int64]model.EnrichmentRecord, error) {
	out := make(map[int64]model.EnrichmentRecord, len(ids))
	if snapshotID == "" || len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, snapshotID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT profile_id, source, snapshot_id, full_name, headline, location,
			current_company, current_title, summary, experience, education, skills,
			connections, followers, raw_payload, enriched_at
		FROM enrichment_records WHERE snapshot_id = ? AND profile_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("loading enrichment records for snapshot %s: %w", snapshotID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                            model.EnrichmentRecord
			source, raw                  string
			experience, education, skill string
			enrichedAt                   int64
		)
		if err := rows.Scan(&r.ProfileID, &source, &r.SnapshotID, &r.FullName, &r.Headline, &r.Location,
			&r.CurrentCompany, &r.CurrentTitle, &r.Summary, &experience, &education, &skill,
			&r.Connections, &r.Followers, &raw, &enrichedAt); err != nil {
			return nil, fmt.Errorf("scanning enrichment record: %w", err)
		}
		if err := json.Unmarshal([]byte(experience), &r.Experience); err != nil {
			return nil, fmt.Errorf("profile %d: decoding experience: %w", r.ProfileID, err)
		}
		if err := json.Unmarshal([]byte(education), &r.Education); err != nil {
			return nil, fmt.Errorf("profile %d: decoding education: %w", r.ProfileID, err)
		}
		if err := json.Unmarshal([]byte(skill), &r.Skills); err != nil {
			return nil, fmt.Errorf("profile %d: decoding skills: %w", r.ProfileID, err)
		}
		r.Source = model.Provider(source)
		r.RawPayload = json.RawMessage(raw)
		r.EnrichedAt = fromMillis(enrichedAt)
		out[r.ProfileID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating enrichment records: %w", err)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
