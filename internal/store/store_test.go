package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnqueueUniqueDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	id1, created, err := s.EnqueueUnique(ctx, "sentinel_check", at, map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if !created {
		t.Fatal("expected first enqueue to create a job")
	}

	id2, created, err := s.EnqueueUnique(ctx, "sentinel_check", at, map[string]any{"n": 2})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created {
		t.Error("expected second enqueue to be deduplicated")
	}
	if id1 != id2 {
		t.Errorf("expected same job id, got %s and %s", id1, id2)
	}
}

func TestClaimNextLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := s.EnqueueUnique(ctx, "sentinel_check", now.Add(time.Minute), nil); err != nil {
		t.Fatalf("enqueue future job: %v", err)
	}
	jobID, _, err := s.EnqueueUnique(ctx, "incident_trigger", now.Add(-time.Second), map[string]any{"shipment_id": "SH-1"})
	if err != nil {
		t.Fatalf("enqueue due job: %v", err)
	}

	job, err := s.ClaimNext(ctx, now, "owner-a", 30*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != jobID {
		t.Fatalf("expected to claim %s, got %+v", jobID, job)
	}
	if job.Status != JobRunning || job.LeaseOwner != "owner-a" {
		t.Errorf("unexpected claimed job state: %+v", job)
	}

	again, err := s.ClaimNext(ctx, now, "owner-b", 30*time.Second)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again != nil {
		t.Fatalf("future job must not be claimable yet, got %s", again.ID)
	}

	if err := s.Fail(ctx, job.ID, errors.New("boom")); err != nil {
		t.Fatalf("fail job: %v", err)
	}
	completed, err := s.ListRecentCompleted(ctx, 10)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(completed) != 1 || completed[0].Status != JobFailed {
		t.Fatalf("expected one failed job, got %+v", completed)
	}
}

func TestRequeueExpired(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if _, _, err := s.EnqueueUnique(ctx, "sentinel_check", now, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimNext(ctx, now, "dead-owner", time.Second); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := s.RequeueExpired(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued job, got %d", n)
	}
	queued, err := s.ListQueued(ctx, 10)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(queued))
	}
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	value, err := s.GetKV(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if value != "" {
		t.Errorf("expected empty value, got %q", value)
	}

	if err := s.SetKV(ctx, "scheduler_watermark", "a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetKV(ctx, "scheduler_watermark", "b"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, err = s.GetKV(ctx, "scheduler_watermark")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "b" {
		t.Errorf("expected b, got %q", value)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sentinel := errors.New("abort")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO daemon_kv (key, value) VALUES ('k', 'v')"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	value, err := s.GetKV(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "" {
		t.Errorf("expected rollback, found %q", value)
	}
}

func TestTimeFormatOrdersLexically(t *testing.T) {
	a := FormatTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	b := FormatTime(time.Date(2025, 1, 1, 0, 0, 0, 500, time.UTC))
	if !(a < b) {
		t.Errorf("expected %s < %s", a, b)
	}
	if got := ParseTime(b); !got.Equal(time.Date(2025, 1, 1, 0, 0, 0, 500, time.UTC)) {
		t.Errorf("round trip mismatch: %v", got)
	}
}
