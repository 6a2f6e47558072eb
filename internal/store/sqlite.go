package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amishk599/leadflow/internal/model"
)

// SQLiteStore is the job store: the single source of truth for jobs,
// profiles, enrichment records, qualifications and their results.
type SQLiteStore struct {
	db         *sql.DB
	now        func() time.Time
	onTerminal func(ctx context.Context, job model.EnrichmentJob)
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithTerminalHook registers fn to run after a job reaches completed or failed.
func WithTerminalHook(fn func(ctx context.Context, job model.EnrichmentJob)) Option {
	return func(s *SQLiteStore) { s.onTerminal = fn }
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		canonical_url   TEXT NOT NULL,
		full_name       TEXT NOT NULL DEFAULT '',
		company         TEXT NOT NULL DEFAULT '',
		enriched_at     INTEGER,
		UNIQUE (organization_id, canonical_url)
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		organization_id  INTEGER NOT NULL,
		profile_ids      TEXT NOT NULL,
		profile_urls     TEXT NOT NULL,
		qualification_id INTEGER,
		provider         TEXT NOT NULL,
		snapshot_id      TEXT UNIQUE,
		status           TEXT NOT NULL,
		error            TEXT NOT NULL DEFAULT '',
		scoring_errors   TEXT NOT NULL DEFAULT '{}',
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL,
		completed_at     INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_org_created ON jobs (organization_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_updated ON jobs (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS enrichment_records (
		profile_id      INTEGER NOT NULL,
		source          TEXT NOT NULL,
		snapshot_id     TEXT NOT NULL,
		full_name       TEXT NOT NULL DEFAULT '',
		headline        TEXT NOT NULL DEFAULT '',
		location        TEXT NOT NULL DEFAULT '',
		current_company TEXT NOT NULL DEFAULT '',
		current_title   TEXT NOT NULL DEFAULT '',
		summary         TEXT NOT NULL DEFAULT '',
		experience      TEXT NOT NULL DEFAULT '[]',
		education       TEXT NOT NULL DEFAULT '[]',
		skills          TEXT NOT NULL DEFAULT '[]',
		connections     INTEGER NOT NULL DEFAULT 0,
		followers       INTEGER NOT NULL DEFAULT 0,
		raw_payload     TEXT NOT NULL DEFAULT '{}',
		enriched_at     INTEGER NOT NULL,
		PRIMARY KEY (snapshot_id, profile_id)
	)`,
	`CREATE TABLE IF NOT EXISTS qualifications (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		criteria        TEXT NOT NULL,
		criteria_hash   TEXT NOT NULL,
		pass_threshold  INTEGER NOT NULL,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS qualification_results (
		profile_id       INTEGER NOT NULL,
		qualification_id INTEGER NOT NULL,
		job_id           TEXT NOT NULL,
		score            INTEGER NOT NULL,
		passed           INTEGER NOT NULL,
		reasoning        TEXT NOT NULL DEFAULT '',
		low_confidence   INTEGER NOT NULL DEFAULT 0,
		criteria_hash    TEXT NOT NULL,
		model            TEXT NOT NULL DEFAULT '',
		evaluated_at     INTEGER NOT NULL,
		PRIMARY KEY (profile_id, qualification_id)
	)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// A single connection serializes writers inside this process; busy_timeout
	// covers other processes sharing the file.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB exposes the underlying handle so the task queue can share the database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
