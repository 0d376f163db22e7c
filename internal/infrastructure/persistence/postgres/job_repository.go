package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tidefall/convoy/internal/application/dispatch"
	"github.com/tidefall/convoy/internal/domain"
)

const jobColumns = `job_id, job_type, status, worker_id, config, checkpoint,
	retry_count, max_retries, error_message,
	created_at, claimed_at, started_at, completed_at, updated_at`

// === Submission path ===

// InsertJob persists a submission as a pending job. ON CONFLICT DO NOTHING
// makes redelivery of the same message a no-op, which is what lets the
// queue writer be at-least-once.
func (s *Store) InsertJob(ctx context.Context, msg domain.JobMessage, maxRetries int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO jobs (job_id, job_type, status, config, retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, 'pending', $3, 0, $4, $5, now())
		ON CONFLICT (job_id) DO NOTHING`,
		msg.ID, msg.Type, msg.Config, maxRetries, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// === Claiming ===

// ClaimNextJob selects and binds the oldest eligible pending job in one
// statement. SKIP LOCKED keeps concurrent claimers from blocking on each
// other; each simply sees past rows another claim is holding.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string, capabilities []string) (*domain.Job, error) {
	if len(capabilities) == 0 {
		return nil, nil
	}

	row := s.db.QueryRow(ctx, `
		WITH next_job AS (
			SELECT job_id FROM jobs
			WHERE status = 'pending' AND job_type = ANY($2::text[])
			ORDER BY created_at, job_id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET status = 'claimed', worker_id = $1, claimed_at = now(), updated_at = now()
		FROM next_job
		WHERE j.job_id = next_job.job_id
		RETURNING j.`+jobColumnsPrefixed(),
		workerID, capabilities)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// === Worker-driven transitions ===

func (s *Store) MarkJobStarted(ctx context.Context, jobID, workerID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = now(), updated_at = now()
		WHERE job_id = $1 AND worker_id = $2 AND status = 'claimed'`,
		jobID, workerID)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyJobConflict(ctx, jobID, workerID)
	}
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, jobID, workerID string, checkpoint json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET checkpoint = $3, updated_at = now()
		WHERE job_id = $1 AND worker_id = $2 AND status IN ('claimed', 'running')`,
		jobID, workerID, checkpoint)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyJobConflict(ctx, jobID, workerID)
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID, workerID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE job_id = $1 AND worker_id = $2 AND status = 'running'`,
		jobID, workerID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyJobConflict(ctx, jobID, workerID)
	}
	return nil
}

// FailJob applies the retry policy in a single conditional UPDATE. Within
// budget the job is re-queued with ownership cleared; an exhausted budget
// freezes the row as terminal failed, retaining the last owner for audit.
func (s *Store) FailJob(ctx context.Context, jobID, workerID, errMsg string) (bool, error) {
	var newStatus string
	err := s.db.QueryRow(ctx, `
		UPDATE jobs SET
			status        = CASE WHEN retry_count < max_retries THEN 'pending' ELSE 'failed' END,
			retry_count   = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
			worker_id     = CASE WHEN retry_count < max_retries THEN NULL ELSE worker_id END,
			claimed_at    = CASE WHEN retry_count < max_retries THEN NULL ELSE claimed_at END,
			started_at    = CASE WHEN retry_count < max_retries THEN NULL ELSE started_at END,
			completed_at  = CASE WHEN retry_count < max_retries THEN NULL ELSE now() END,
			error_message = $3,
			updated_at    = now()
		WHERE job_id = $1 AND worker_id = $2 AND status = 'running'
		RETURNING status`,
		jobID, workerID, errMsg).Scan(&newStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, s.classifyJobConflict(ctx, jobID, workerID)
		}
		return false, fmt.Errorf("failed to fail job: %w", err)
	}
	return newStatus == string(domain.JobPending), nil
}

// === Admin transitions ===

func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'cancelled', completed_at = now(), updated_at = now()
		WHERE job_id = $1 AND status IN ('pending', 'claimed', 'running')`,
		jobID)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.db.QueryRow(ctx, `SELECT status FROM jobs WHERE job_id = $1`, jobID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to inspect job: %w", err)
		}
		if status == string(domain.JobCancelled) {
			return domain.ErrJobCancelled
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

// === Ownership ===

// VerifyJobOwnership reports whether the worker still holds the job.
func (s *Store) VerifyJobOwnership(ctx context.Context, jobID, workerID string) error {
	var status string
	var ownerID *string
	err := s.db.QueryRow(ctx, `SELECT status, worker_id FROM jobs WHERE job_id = $1`, jobID).
		Scan(&status, &ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect job: %w", err)
	}
	return classifyOwnership(status, ownerID, workerID)
}

// classifyJobConflict explains a zero-row conditional UPDATE: the job is
// gone, cancelled, owned by someone else, or in the wrong state.
func (s *Store) classifyJobConflict(ctx context.Context, jobID, workerID string) error {
	var status string
	var ownerID *string
	err := s.db.QueryRow(ctx, `SELECT status, worker_id FROM jobs WHERE job_id = $1`, jobID).
		Scan(&status, &ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect job: %w", err)
	}
	return classifyOwnership(status, ownerID, workerID)
}

func classifyOwnership(status string, ownerID *string, workerID string) error {
	if status == string(domain.JobCancelled) {
		return domain.ErrJobCancelled
	}
	if ownerID == nil || *ownerID != workerID {
		return domain.ErrNotOwner
	}
	// Owner matches, so the UPDATE's state condition was the one that
	// failed (e.g. start on a job already running).
	return domain.ErrInvalidTransition
}

// === Read queries ===

func (s *Store) FindJobDetail(ctx context.Context, jobID string, staleThreshold time.Duration) (*domain.JobDetail, error) {
	staleCutoff := time.Now().UTC().Add(-staleThreshold)

	row := s.db.QueryRow(ctx, `
		SELECT j.`+jobColumnsPrefixed()+`,
			w.worker_id, w.hostname, w.status, w.last_heartbeat,
			CASE WHEN w.last_heartbeat IS NULL OR w.last_heartbeat < $2 THEN true ELSE false END
		FROM jobs j
		LEFT JOIN workers w ON w.worker_id = j.worker_id
		WHERE j.job_id = $1`,
		jobID, staleCutoff)

	var (
		job           domain.Job
		ownerID       *string
		hostname      *string
		workerStatus  *string
		lastHeartbeat *time.Time
		stale         *bool
	)
	err := row.Scan(
		&job.ID, &job.Type, &job.Status, &job.WorkerID, &job.Config, &job.Checkpoint,
		&job.RetryCount, &job.MaxRetries, &job.ErrorMessage,
		&job.CreatedAt, &job.ClaimedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
		&ownerID, &hostname, &workerStatus, &lastHeartbeat, &stale)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find job: %w", err)
	}

	detail := &domain.JobDetail{Job: job}
	if ownerID != nil {
		liveness := &domain.WorkerLiveness{
			WorkerID:      *ownerID,
			Status:        domain.WorkerStatus(*workerStatus),
			LastHeartbeat: lastHeartbeat,
		}
		if hostname != nil {
			liveness.Hostname = *hostname
		}
		// A silent worker is reported offline even before the reclaim pass
		// has updated the stored status.
		if stale != nil && *stale {
			liveness.Status = domain.WorkerOffline
		}
		detail.Worker = liveness
	}
	return detail, nil
}

func (s *Store) ListJobs(ctx context.Context, params dispatch.ListJobsParams) ([]*domain.Job, error) {
	var statusFilter *string
	if params.Status != nil {
		v := string(*params.Status)
		statusFilter = &v
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC, job_id DESC
		LIMIT $2`,
		statusFilter, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// === Scanning helpers ===

func jobColumnsPrefixed() string {
	return `job_id, j.job_type, j.status, j.worker_id, j.config, j.checkpoint,
		j.retry_count, j.max_retries, j.error_message,
		j.created_at, j.claimed_at, j.started_at, j.completed_at, j.updated_at`
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	err := row.Scan(
		&job.ID, &job.Type, &job.Status, &job.WorkerID, &job.Config, &job.Checkpoint,
		&job.RetryCount, &job.MaxRetries, &job.ErrorMessage,
		&job.CreatedAt, &job.ClaimedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
