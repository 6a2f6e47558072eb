package queue

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/amishk599/leadflow/internal/model"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestQueue(t *testing.T, opts Options) (*Queue, *testClock) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts.Now = clock.now
	q, err := New(db, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q, clock
}

func TestEnqueueClaimComplete(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	qid := int64(7)
	created, err := q.Enqueue(ctx, KindQualify, Payload{JobID: "job-1", QualificationID: &qid}, "qualify:job-1")
	if err != nil || !created {
		t.Fatalf("Enqueue = %v, %v", created, err)
	}

	task, err := q.Claim(ctx, time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if task == nil {
		t.Fatal("expected a task")
	}
	if task.Kind != KindQualify || task.JobID != "job-1" || *task.Payload.QualificationID != 7 || task.Attempts != 1 {
		t.Errorf("task = %+v", task)
	}

	if again, _ := q.Claim(ctx, time.Minute); again != nil {
		t.Fatalf("leased task claimed twice: %+v", again)
	}

	if err := q.Complete(ctx, task); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	counts, _ := q.Counts(ctx)
	if counts[StatusDone] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestEnqueue_DedupeKey(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	if created, _ := q.Enqueue(ctx, KindLookup, Payload{JobID: "job-1"}, "lookup:job-1"); !created {
		t.Fatal("first enqueue should create")
	}
	created, err := q.Enqueue(ctx, KindLookup, Payload{JobID: "job-1"}, "lookup:job-1")
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if created {
		t.Error("duplicate enqueue should be a no-op")
	}
	if _, err := q.Enqueue(ctx, KindLookup, Payload{}, " "); err == nil {
		t.Error("expected error for blank dedupe key")
	}
}

func TestClaim_EmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	task, err := q.Claim(context.Background(), time.Minute)
	if err != nil || task != nil {
		t.Fatalf("Claim = %+v, %v; want nil, nil", task, err)
	}
}

func TestFail_TransientRetriesAfterBackoff(t *testing.T) {
	q, clock := newTestQueue(t, Options{MaxAttempts: 3, BackoffInitial: 10 * time.Second, BackoffMax: time.Minute})
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, KindLookup, Payload{JobID: "job-1"}, "k")

	task, _ := q.Claim(ctx, time.Minute)
	dead, err := q.Fail(ctx, task, &model.ProviderError{Provider: "lookup", StatusCode: 503})
	if err != nil || dead {
		t.Fatalf("Fail = %v, %v; want retry", dead, err)
	}

	if early, _ := q.Claim(ctx, time.Minute); early != nil {
		t.Fatal("task claimable before backoff elapsed")
	}
	clock.t = clock.t.Add(20 * time.Second)
	retried, err := q.Claim(ctx, time.Minute)
	if err != nil || retried == nil {
		t.Fatalf("Claim after backoff = %+v, %v", retried, err)
	}
	if retried.Attempts != 2 || retried.LastError == "" {
		t.Errorf("retried = %+v", retried)
	}
}

func TestFail_PermanentDeadLetters(t *testing.T) {
	q, clock := newTestQueue(t, Options{})
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, KindQualify, Payload{JobID: "job-1"}, "k")

	task, _ := q.Claim(ctx, time.Minute)
	dead, err := q.Fail(ctx, task, Permanent(errors.New("job vanished")))
	if err != nil || !dead {
		t.Fatalf("Fail = %v, %v; want dead", dead, err)
	}
	clock.t = clock.t.Add(time.Hour)
	if next, _ := q.Claim(ctx, time.Minute); next != nil {
		t.Fatal("dead task was claimed")
	}
}

func TestFail_ClientErrorDeadLetters(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, KindLookup, Payload{JobID: "job-1"}, "k")
	task, _ := q.Claim(ctx, time.Minute)

	dead, _ := q.Fail(ctx, task, &model.ProviderError{Provider: "lookup", StatusCode: 401})
	if !dead {
		t.Error("401 should not be retried")
	}
}

func TestFail_OutOfAttempts(t *testing.T) {
	q, clock := newTestQueue(t, Options{MaxAttempts: 2, BackoffInitial: time.Second, BackoffMax: time.Second})
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, KindLookup, Payload{JobID: "job-1"}, "k")

	for i := 1; i <= 2; i++ {
		task, _ := q.Claim(ctx, time.Minute)
		if task == nil {
			t.Fatalf("attempt %d: no task", i)
		}
		dead, _ := q.Fail(ctx, task, errors.New("flaky"))
		if want := i == 2; dead != want {
			t.Fatalf("attempt %d: dead = %v, want %v", i, dead, want)
		}
		clock.t = clock.t.Add(time.Minute)
	}
	counts, _ := q.Counts(ctx)
	if counts[StatusDead] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestClaim_ReclaimsExpiredLease(t *testing.T) {
	q, clock := newTestQueue(t, Options{})
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, KindQualify, Payload{JobID: "job-1"}, "k")

	first, _ := q.Claim(ctx, time.Minute)
	clock.t = clock.t.Add(2 * time.Minute)
	second, err := q.Claim(ctx, time.Minute)
	if err != nil || second == nil {
		t.Fatalf("reclaim = %+v, %v", second, err)
	}
	if second.ID != first.ID || second.Attempts != 2 {
		t.Errorf("second = %+v", second)
	}
}

func TestExpiredLeaseHolderCannotSettleTask(t *testing.T) {
	q, clock := newTestQueue(t, Options{})
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, KindQualify, Payload{JobID: "job-1"}, "k")

	stale, _ := q.Claim(ctx, time.Minute)
	clock.t = clock.t.Add(2 * time.Minute)
	current, _ := q.Claim(ctx, time.Minute)
	if current == nil {
		t.Fatal("expected reclaim")
	}

	if err := q.Complete(ctx, stale); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("stale Complete = %v, want ErrLeaseLost", err)
	}
	if dead, err := q.Fail(ctx, stale, errors.New("flaky")); !errors.Is(err, ErrLeaseLost) || dead {
		t.Errorf("stale Fail = %v, %v, want ErrLeaseLost", dead, err)
	}
	counts, _ := q.Counts(ctx)
	if counts[StatusLeased] != 1 {
		t.Errorf("counts after stale settle = %v, want task still leased", counts)
	}

	if err := q.Complete(ctx, current); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := q.Complete(ctx, current); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("second Complete = %v, want ErrLeaseLost", err)
	}
	counts, _ = q.Counts(ctx)
	if counts[StatusDone] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestBackoff_CappedWithJitter(t *testing.T) {
	q, _ := newTestQueue(t, Options{BackoffInitial: time.Second, BackoffMax: 8 * time.Second})
	for attempt := 1; attempt <= 10; attempt++ {
		d := q.backoff(attempt)
		if d < 700*time.Millisecond || d > time.Duration(float64(8*time.Second)*1.3) {
			t.Errorf("backoff(%d) = %v out of range", attempt, d)
		}
	}
}
