package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

// Kind names the work a task carries.
type Kind string

const (
	KindLookup       Kind = "lookup"        // run single-profile lookups for a job
	KindQualify      Kind = "qualify"       // score a job's enriched profiles
	KindIngestObject Kind = "ingest_object" // fetch a delivered snapshot file and ingest it
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusReady  Status = "ready"
	StatusLeased Status = "leased"
	StatusDone   Status = "done"
	StatusDead   Status = "dead"
)

// LookupTarget is one profile to resolve through the lookup provider.
type LookupTarget struct {
	ProfileID int64  `json:"profile_id"`
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	Company   string `json:"company,omitempty"`
}

// Payload is the durable body of a task.
type Payload struct {
	JobID           string         `json:"job_id,omitempty"`
	OrganizationID  int64          `json:"organization_id,omitempty"`
	SnapshotID      string         `json:"snapshot_id,omitempty"`
	Targets         []LookupTarget `json:"targets,omitempty"`
	QualificationID *int64         `json:"qualification_id,omitempty"`
	Bucket          string         `json:"bucket,omitempty"`
	Object          string         `json:"object,omitempty"`
}

// Task is a claimed unit of work.
type Task struct {
	ID          int64
	Kind        Kind
	JobID       string
	Payload     Payload
	Attempts    int
	MaxAttempts int
	LastError   string

	leaseUntil int64
}

// ErrLeaseLost is returned when a task's lease expired and another worker
// claimed it before this one finished. The new holder owns the outcome.
var ErrLeaseLost = errors.New("task lease lost")

// PermanentError marks a task failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Fail dead-letters the task immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Options controls retry policy.
type Options struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Now            func() time.Time
}

// Queue is a durable work queue stored next to the jobs in SQLite. Enqueue is
// idempotent per dedupe key and Claim leases one task at a time, so any number
// of workers, in any number of processes, can share it.
type Queue struct {
	db             *sql.DB
	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
	now            func() time.Time
}

const createTable = `CREATE TABLE IF NOT EXISTS queue_tasks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	kind         TEXT NOT NULL,
	job_id       TEXT NOT NULL DEFAULT '',
	payload      TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	available_at INTEGER NOT NULL,
	lease_until  INTEGER,
	last_error   TEXT NOT NULL DEFAULT '',
	dedupe_key   TEXT NOT NULL UNIQUE,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
)`

// New ensures the queue table exists in db and returns a Queue using it.
func New(db *sql.DB, opts Options) (*Queue, error) {
	if _, err := db.Exec(createTable); err != nil {
		return nil, fmt.Errorf("creating queue_tasks table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS queue_tasks_ready ON queue_tasks (status, available_at)`); err != nil {
		return nil, fmt.Errorf("creating queue_tasks index: %w", err)
	}
	q := &Queue{
		db:             db,
		maxAttempts:    opts.MaxAttempts,
		backoffInitial: opts.BackoffInitial,
		backoffMax:     opts.BackoffMax,
		now:            opts.Now,
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 5
	}
	if q.backoffInitial <= 0 {
		q.backoffInitial = 5 * time.Second
	}
	if q.backoffMax < q.backoffInitial {
		q.backoffMax = q.backoffInitial
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q, nil
}

// Enqueue stores a ready task. A second call with the same dedupe key is a
// no-op and reports false.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, payload Payload, dedupeKey string) (bool, error) {
	dedupe := strings.TrimSpace(dedupeKey)
	if dedupe == "" {
		return false, errors.New("enqueue: missing dedupe key")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: encoding payload: %w", kind, err)
	}
	now := q.now().UnixMilli()
	res, err := q.db.ExecContext(ctx, `INSERT INTO queue_tasks
		(kind, job_id, payload, status, max_attempts, available_at, dedupe_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		string(kind), payload.JobID, string(body), string(StatusReady), q.maxAttempts, now, dedupe, now, now)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return n == 1, nil
}

// Claim leases the next available task for lease. Tasks whose lease expired
// (a worker died mid-task) are claimable again. It returns nil when the queue is idle.
func (q *Queue) Claim(ctx context.Context, lease time.Duration) (*Task, error) {
	now := q.now().UnixMilli()
	leaseUntil := now + lease.Milliseconds()
	row := q.db.QueryRowContext(ctx, `UPDATE queue_tasks
		SET status = ?, attempts = attempts + 1, lease_until = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE (status = ? AND available_at <= ?) OR (status = ? AND lease_until <= ?)
			ORDER BY available_at, id
			LIMIT 1
		)
		RETURNING id, kind, job_id, payload, attempts, max_attempts, last_error`,
		string(StatusLeased), leaseUntil, now,
		string(StatusReady), now, string(StatusLeased), now)

	var (
		t          Task
		kind, body string
	)
	err := row.Scan(&t.ID, &kind, &t.JobID, &body, &t.Attempts, &t.MaxAttempts, &t.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}
	t.Kind = Kind(kind)
	t.leaseUntil = leaseUntil
	if err := json.Unmarshal([]byte(body), &t.Payload); err != nil {
		return nil, fmt.Errorf("task %d: decoding payload: %w", t.ID, err)
	}
	return &t, nil
}

// Complete marks a leased task done. It returns ErrLeaseLost if t is no
// longer held under the lease it was claimed with.
func (q *Queue) Complete(ctx context.Context, t *Task) error {
	res, err := q.db.ExecContext(ctx, `UPDATE queue_tasks SET status = ?, lease_until = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND lease_until = ?`,
		string(StatusDone), q.now().UnixMilli(), t.ID, string(StatusLeased), t.leaseUntil)
	if err != nil {
		return fmt.Errorf("completing task %d: %w", t.ID, err)
	}
	return leaseHeld(res, t)
}

func leaseHeld(res sql.Result, t *Task) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("task %d: %w", t.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("task %d: %w", t.ID, ErrLeaseLost)
	}
	return nil
}

// Fail records cause on a leased task. Retryable failures go back to ready after
// an exponential backoff; permanent ones, and tasks out of attempts, are dead-lettered.
// It reports whether the task was dead-lettered, and returns ErrLeaseLost if t
// is no longer held under the lease it was claimed with.
func (q *Queue) Fail(ctx context.Context, t *Task, cause error) (bool, error) {
	now := q.now()
	dead := !retryable(cause) || t.Attempts >= t.MaxAttempts
	status := StatusReady
	availableAt := now.Add(q.backoff(t.Attempts))
	if dead {
		status = StatusDead
		availableAt = now
	}
	msg := ""
	if cause != nil {
		msg = model.Redact(cause.Error())
	}
	res, err := q.db.ExecContext(ctx, `UPDATE queue_tasks
		SET status = ?, available_at = ?, lease_until = NULL, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ? AND lease_until = ?`,
		string(status), availableAt.UnixMilli(), msg, now.UnixMilli(), t.ID, string(StatusLeased), t.leaseUntil)
	if err != nil {
		return false, fmt.Errorf("failing task %d: %w", t.ID, err)
	}
	if err := leaseHeld(res, t); err != nil {
		return false, err
	}
	return dead, nil
}

// Counts returns the number of tasks per status.
func (q *Queue) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning task count: %w", err)
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

// backoff returns initial * 2^(attempt-1) capped at max, with ±30% jitter.
func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.backoffInitial
	for i := 1; i < attempt && delay < q.backoffMax; i++ {
		delay *= 2
	}
	if delay > q.backoffMax {
		delay = q.backoffMax
	}
	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// retryable reports whether a task failure may succeed on a later attempt.
// Context cancellation is retryable here: the task was interrupted by shutdown.
func retryable(err error) bool {
	if err == nil {
		return true
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return true
}
