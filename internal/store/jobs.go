package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Job represents a queued or running daemon job.
type Job struct {
	ID             string
	Type           string
	Status         string
	ScheduledAt    time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	PayloadJSON    string
	ResultJSON     string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
}

const jobColumns = `id, type, status, scheduled_at, started_at, finished_at,
	payload_json, result_json, lease_owner, lease_expires_at`

// EnqueueUnique enqueues a job if no job with the same type and scheduled_at exists.
// Returns (jobID, created, error). created is true if a new job was inserted.
func (s *Store) EnqueueUnique(ctx context.Context, jobType string, scheduledAt time.Time, payload any) (string, bool, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal payload: %w", err)
	}

	scheduledAtStr := FormatTime(scheduledAt)
	jobID := fmt.Sprintf("%s_%s", jobType, scheduledAt.UTC().Format("2006-01-02T15:04:05.000"))

	var created bool
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		created = false
		var existingID string
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM daemon_jobs WHERE type = ? AND scheduled_at = ?",
			jobType, scheduledAtStr,
		).Scan(&existingID)
		if err == nil {
			jobID = existingID
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check existing job: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO daemon_jobs (id, type, status, scheduled_at, payload_json)
			VALUES (?, ?, ?, ?, ?)
		`, jobID, jobType, JobQueued, scheduledAtStr, string(payloadJSON))
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return jobID, created, nil
}

// ClaimNext atomically claims the next queued job that is ready to run.
// Returns nil when nothing is due.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, leaseOwner string, leaseFor time.Duration) (*Job, error) {
	var jobID string
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		jobID = ""
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM daemon_jobs
			WHERE status = ? AND scheduled_at <= ?
			ORDER BY scheduled_at ASC
			LIMIT 1
		`, JobQueued, FormatTime(now)).Scan(&jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find next job: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE daemon_jobs
			SET status = ?,
			    started_at = ?,
			    lease_owner = ?,
			    lease_expires_at = ?
			WHERE id = ?
		`, JobRunning, FormatTime(now), leaseOwner, FormatTime(now.Add(leaseFor)), jobID)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, nil
	}
	return s.GetJob(ctx, jobID)
}

// RequeueExpired returns running jobs whose lease has lapsed to the queue.
// A daemon that died mid-job leaves such rows behind.
func (s *Store) RequeueExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.Exec(ctx, `
		UPDATE daemon_jobs
		SET status = ?, lease_owner = NULL, lease_expires_at = NULL
		WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?
	`, JobQueued, JobRunning, FormatTime(now))
	if err != nil {
		return 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	return result.RowsAffected()
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM daemon_jobs WHERE id = ?", jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Succeed marks a job as succeeded.
func (s *Store) Succeed(ctx context.Context, jobID string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.finish(ctx, jobID, JobSucceeded, string(resultJSON))
}

// Fail marks a job as failed.
func (s *Store) Fail(ctx context.Context, jobID string, jobErr error) error {
	resultJSON, _ := json.Marshal(map[string]string{"error": jobErr.Error()})
	return s.finish(ctx, jobID, JobFailed, string(resultJSON))
}

func (s *Store) finish(ctx context.Context, jobID, status, resultJSON string) error {
	_, err := s.Exec(ctx, `
		UPDATE daemon_jobs
		SET status = ?,
		    finished_at = ?,
		    result_json = ?
		WHERE id = ?
	`, status, FormatTime(time.Now()), resultJSON, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns up to limit jobs ordered by scheduled_at, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "ORDER BY scheduled_at DESC LIMIT ?", limit)
}

// ListRunning returns all jobs with status 'running'.
func (s *Store) ListRunning(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, "WHERE status = ? ORDER BY scheduled_at ASC", JobRunning)
}

// ListQueued returns queued jobs ordered by scheduled_at.
func (s *Store) ListQueued(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "WHERE status = ? ORDER BY scheduled_at ASC LIMIT ?", JobQueued, limit)
}

// ListRecentCompleted returns recently completed jobs (succeeded or failed).
func (s *Store) ListRecentCompleted(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, "WHERE status IN (?, ?) ORDER BY finished_at DESC LIMIT ?", JobSucceeded, JobFailed, limit)
}

func (s *Store) queryJobs(ctx context.Context, clause string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM daemon_jobs "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var scheduledAt string
	var startedAt, finishedAt, leaseExpiresAt sql.NullString
	var payloadJSON, resultJSON, leaseOwner sql.NullString

	err := row.Scan(
		&job.ID, &job.Type, &job.Status, &scheduledAt,
		&startedAt, &finishedAt, &payloadJSON, &resultJSON,
		&leaseOwner, &leaseExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	job.ScheduledAt = ParseTime(scheduledAt)
	job.StartedAt = parseNullTime(startedAt)
	job.FinishedAt = parseNullTime(finishedAt)
	job.LeaseExpiresAt = parseNullTime(leaseExpiresAt)
	job.PayloadJSON = payloadJSON.String
	job.ResultJSON = resultJSON.String
	job.LeaseOwner = leaseOwner.String
	return &job, nil
}
