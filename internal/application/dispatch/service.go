// Package dispatch implements the claim engine and the progress pipeline:
// workers pull work, report liveness and checkpoints, and stream logs and
// data-quality findings back through it.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/tidefall/convoy/internal/domain"
	"github.com/tidefall/convoy/internal/jobid"
)

var claimsTotal, _ = otel.Meter("github.com/tidefall/convoy/internal/application/dispatch").
	Int64Counter("convoy.dispatch.claims",
		metric.WithDescription("Jobs handed to workers by the claim engine"))

// Default configuration values.
const (
	DefaultPageSize       = 50
	MaxPageSize           = 500
	DefaultStaleThreshold = 2 * time.Minute
)

// Config holds configuration for the Service.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	// StaleThreshold is how long a worker may go without a heartbeat
	// before job detail responses report it as unresponsive.
	StaleThreshold time.Duration
}

// Service provides the worker-facing and admin-facing job operations.
// It validates input, generates identifiers, and delegates state changes
// to the Repository, which enforces ownership and transition rules.
type Service struct {
	repo   Repository
	config Config
	logger *slog.Logger
}

// NewService creates a new dispatch service.
// Applies application defaults for zero or invalid config values.
func NewService(repo Repository, config Config, logger *slog.Logger) *Service {
	if config.DefaultPageSize <= 0 {
		config.DefaultPageSize = DefaultPageSize
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = MaxPageSize
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = DefaultStaleThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// Claim hands the oldest pending job matching the worker's capabilities to
// the worker, or returns (nil, nil) when nothing is eligible. The claim
// request doubles as a liveness signal: the worker row is upserted before
// selection so a claim from an unknown worker registers it.
func (s *Service) Claim(ctx context.Context, hb domain.Heartbeat) (*domain.Job, error) {
	if hb.WorkerID == "" {
		return nil, domain.ErrWorkerIDRequired
	}

	if err := s.repo.RecordHeartbeat(ctx, hb); err != nil {
		return nil, fmt.Errorf("failed to record claim heartbeat: %w", err)
	}

	job, err := s.repo.ClaimNextJob(ctx, hb.WorkerID, hb.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	claimsTotal.Add(ctx, 1)
	s.logger.InfoContext(ctx, "job claimed",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.String("worker_id", hb.WorkerID))
	return job, nil
}

// Start transitions a claimed job to running.
func (s *Service) Start(ctx context.Context, jobID, workerID string) error {
	if jobID == "" {
		return domain.ErrJobNotFound
	}
	if workerID == "" {
		return domain.ErrWorkerIDRequired
	}

	if err := s.repo.MarkJobStarted(ctx, jobID, workerID); err != nil {
		return err // Repository returns domain errors
	}

	s.logger.InfoContext(ctx, "job started",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID))
	return nil
}

// JobHeartbeat records that the worker still owns the job and is alive.
// Returns domain.ErrJobCancelled when the job was cancelled underneath the
// worker, which is its signal to stop.
func (s *Service) JobHeartbeat(ctx context.Context, jobID, workerID string) error {
	if jobID == "" {
		return domain.ErrJobNotFound
	}
	if workerID == "" {
		return domain.ErrWorkerIDRequired
	}

	if err := s.repo.VerifyJobOwnership(ctx, jobID, workerID); err != nil {
		return err
	}

	return s.repo.RecordHeartbeat(ctx, domain.Heartbeat{WorkerID: workerID})
}

// Checkpoint overwrites the job's resume state. The blob is opaque to the
// coordinator; last write wins.
func (s *Service) Checkpoint(ctx context.Context, jobID, workerID string, checkpoint json.RawMessage) error {
	if jobID == "" {
		return domain.ErrJobNotFound
	}
	if workerID == "" {
		return domain.ErrWorkerIDRequired
	}

	return s.repo.SaveCheckpoint(ctx, jobID, workerID, checkpoint)
}

// Complete marks a running job as successfully finished.
func (s *Service) Complete(ctx context.Context, jobID, workerID string) error {
	if jobID == "" {
		return domain.ErrJobNotFound
	}
	if workerID == "" {
		return domain.ErrWorkerIDRequired
	}

	if err := s.repo.CompleteJob(ctx, jobID, workerID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "job completed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID))
	return nil
}

// Fail reports a failed execution attempt. With retry budget remaining the
// job is re-queued for another worker; otherwise it goes terminal failed.
// Returns whether the job will be retried.
func (s *Service) Fail(ctx context.Context, jobID, workerID, errMsg string) (bool, error) {
	if jobID == "" {
		return false, domain.ErrJobNotFound
	}
	if workerID == "" {
		return false, domain.ErrWorkerIDRequired
	}

	willRetry, err := s.repo.FailJob(ctx, jobID, workerID, errMsg)
	if err != nil {
		return false, err
	}

	s.logger.WarnContext(ctx, "job failed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.Bool("will_retry", willRetry),
		slog.String("error", errMsg))
	return willRetry, nil
}

// Cancel stops a job from any non-terminal state. Pending jobs never run;
// claimed and running jobs are abandoned by their worker on its next
// ownership-checked call.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return domain.ErrJobNotFound
	}

	if err := s.repo.CancelJob(ctx, jobID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "job cancelled", slog.String("job_id", jobID))
	return nil
}

// WorkerHeartbeat records a standalone liveness signal.
func (s *Service) WorkerHeartbeat(ctx context.Context, hb domain.Heartbeat) error {
	if hb.WorkerID == "" {
		return domain.ErrWorkerIDRequired
	}
	return s.repo.RecordHeartbeat(ctx, hb)
}

// AppendLog stores a worker-emitted execution log line. Ownership is
// verified so stray writes from a superseded worker are rejected.
func (s *Service) AppendLog(ctx context.Context, jobID, workerID, level, message string, metadata json.RawMessage) (*domain.JobLog, error) {
	if jobID == "" {
		return nil, domain.ErrJobNotFound
	}
	if workerID == "" {
		return nil, domain.ErrWorkerIDRequired
	}

	lvl, err := domain.NewLogLevel(level)
	if err != nil {
		return nil, err
	}

	if err := s.repo.VerifyJobOwnership(ctx, jobID, workerID); err != nil {
		return nil, err
	}

	entry := &domain.JobLog{
		ID:       jobid.New(),
		JobID:    jobID,
		Level:    lvl,
		Message:  message,
		Metadata: metadata,
		LoggedAt: time.Now().UTC(),
	}
	if err := s.repo.AppendJobLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append job log: %w", err)
	}
	return entry, nil
}

// ReportIssue records a data-quality finding against a job. Findings start
// in pending resolution status and wait for an admin decision.
func (s *Service) ReportIssue(ctx context.Context, issue *domain.DataQualityIssue) (*domain.DataQualityIssue, error) {
	if issue.JobID == "" {
		return nil, domain.ErrJobNotFound
	}
	if issue.IssueType == "" {
		return nil, domain.ErrIssueTypeRequired
	}

	severity, err := domain.NewIssueSeverity(string(issue.Severity))
	if err != nil {
		return nil, err
	}
	issue.Severity = severity

	issue.ID = jobid.New()
	issue.ResolutionStatus = domain.ResolutionPending
	issue.CreatedAt = time.Now().UTC()

	if err := s.repo.InsertIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("failed to record issue: %w", err)
	}

	s.logger.InfoContext(ctx, "data quality issue reported",
		slog.String("issue_id", issue.ID),
		slog.String("job_id", issue.JobID),
		slog.String("severity", string(issue.Severity)),
		slog.String("issue_type", issue.IssueType))
	return issue, nil
}

// ResolveIssue applies an admin decision to a pending issue.
func (s *Service) ResolveIssue(ctx context.Context, issueID string, res domain.IssueResolution) error {
	if issueID == "" {
		return domain.ErrIssueNotFound
	}

	status, err := domain.NewResolutionStatus(string(res.Status))
	if err != nil {
		return err
	}
	if status == domain.ResolutionPending {
		return domain.ErrInvalidResolutionStatus
	}
	res.Status = status

	return s.repo.ResolveIssue(ctx, issueID, res)
}

// GetJob returns a job joined with the liveness view of its worker.
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.JobDetail, error) {
	if jobID == "" {
		return nil, domain.ErrJobNotFound
	}
	return s.repo.FindJobDetail(ctx, jobID, s.config.StaleThreshold)
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Service) ListJobs(ctx context.Context, statusFilter string, limit int) ([]*domain.Job, error) {
	params := ListJobsParams{Limit: s.clampLimit(limit)}

	if statusFilter != "" {
		status, err := domain.NewJobStatus(statusFilter)
		if err != nil {
			return nil, err
		}
		params.Status = &status
	}

	jobs, err := s.repo.ListJobs(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListWorkers returns workers that are currently available for work.
func (s *Service) ListWorkers(ctx context.Context) ([]*domain.Worker, error) {
	workers, err := s.repo.ListAvailableWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	return workers, nil
}

// ListIssues returns data-quality issues filtered by resolution status.
// An empty filter defaults to pending, the review queue.
func (s *Service) ListIssues(ctx context.Context, statusFilter string, limit int) ([]*domain.DataQualityIssue, error) {
	status := domain.ResolutionPending
	if statusFilter != "" {
		parsed, err := domain.NewResolutionStatus(statusFilter)
		if err != nil {
			return nil, err
		}
		status = parsed
	}

	issues, err := s.repo.ListIssues(ctx, ListIssuesParams{
		Status: status,
		Limit:  s.clampLimit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.config.DefaultPageSize
	}
	return min(limit, s.config.MaxPageSize)
}
