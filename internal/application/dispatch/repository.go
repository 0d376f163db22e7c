package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidefall/convoy/internal/domain"
)

// Repository defines the storage operations behind the claim engine and
// the progress pipeline. All methods are safe for concurrent use; the
// store serializes per-job transitions with row locks.
type Repository interface {
	// === Claiming ===

	// ClaimNextJob atomically binds the oldest pending job whose type is in
	// capabilities to workerID. Selection is FIFO by created_at with job_id
	// as tie-break, skipping rows locked by concurrent claimers.
	// Returns nil when no eligible job exists.
	ClaimNextJob(ctx context.Context, workerID string, capabilities []string) (*domain.Job, error)

	// === Worker liveness ===

	// RecordHeartbeat upserts the worker row and stamps last_heartbeat.
	// Unknown workers are created; a heartbeat always leaves the worker
	// in active status.
	RecordHeartbeat(ctx context.Context, hb domain.Heartbeat) error

	// VerifyJobOwnership returns nil when workerID currently owns jobID
	// (status claimed or running). Returns domain.ErrJobNotFound,
	// domain.ErrJobCancelled, or domain.ErrNotOwner otherwise.
	VerifyJobOwnership(ctx context.Context, jobID, workerID string) error

	// === Worker-driven transitions (ownership-checked) ===

	// MarkJobStarted transitions claimed -> running and sets started_at.
	MarkJobStarted(ctx context.Context, jobID, workerID string) error

	// SaveCheckpoint overwrites the job's checkpoint blob. Last write wins.
	SaveCheckpoint(ctx context.Context, jobID, workerID string, checkpoint json.RawMessage) error

	// CompleteJob transitions running -> completed and sets completed_at.
	// The terminal row keeps the last owner for audit.
	CompleteJob(ctx context.Context, jobID, workerID string) error

	// FailJob applies the retry policy: with budget remaining the job
	// returns to pending with retry_count+1 and cleared ownership;
	// otherwise it goes terminal failed. Returns whether it will retry.
	FailJob(ctx context.Context, jobID, workerID, errMsg string) (willRetry bool, err error)

	// === Admin transitions ===

	// CancelJob transitions any non-terminal job to cancelled. An owning
	// worker observes the cancellation on its next progress report.
	CancelJob(ctx context.Context, jobID string) error

	// === Append-only streams ===

	AppendJobLog(ctx context.Context, entry *domain.JobLog) error
	InsertIssue(ctx context.Context, issue *domain.DataQualityIssue) error

	// ResolveIssue applies an admin resolution to a pending issue.
	ResolveIssue(ctx context.Context, issueID string, res domain.IssueResolution) error

	// === Read queries ===

	FindJobDetail(ctx context.Context, jobID string, staleThreshold time.Duration) (*domain.JobDetail, error)
	ListJobs(ctx context.Context, params ListJobsParams) ([]*domain.Job, error)
	ListAvailableWorkers(ctx context.Context) ([]*domain.Worker, error)
	ListIssues(ctx context.Context, params ListIssuesParams) ([]*domain.DataQualityIssue, error)
}

// ListJobsParams filters the job listing.
type ListJobsParams struct {
	Status *domain.JobStatus // nil = all statuses
	Limit  int
}

// ListIssuesParams filters the data-quality issue listing.
type ListIssuesParams struct {
	Status domain.ResolutionStatus
	Limit  int
}
