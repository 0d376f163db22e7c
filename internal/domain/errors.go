package domain

import "errors"

// Domain errors returned by services and repository implementations.

var (
	// ErrJobNotFound indicates the requested job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrWorkerNotFound indicates the requested worker does not exist.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrIssueNotFound indicates the requested data-quality issue does not exist.
	ErrIssueNotFound = errors.New("data quality issue not found")

	// ErrNotOwner indicates the caller is not the current owner of the job.
	// Workers receiving this must discard their in-flight state.
	ErrNotOwner = errors.New("job is owned by another worker")

	// ErrInvalidTransition indicates the requested state change is not an
	// edge of the job lifecycle graph.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrJobCancelled indicates the job was cancelled while the worker held
	// it. The worker must self-terminate and discard its result.
	ErrJobCancelled = errors.New("job has been cancelled")

	// ErrJobTypeRequired indicates a submission without a job type.
	ErrJobTypeRequired = errors.New("job_type is required")

	// ErrWorkerIDRequired indicates a worker request without a worker ID.
	ErrWorkerIDRequired = errors.New("worker_id is required")

	// ErrQueueSaturated indicates the submission hand-off is full.
	ErrQueueSaturated = errors.New("submission queue is saturated")

	// ErrIssueTypeRequired indicates a data-quality report without a type.
	ErrIssueTypeRequired = errors.New("issue_type is required")

	// ErrIssueAlreadyResolved indicates a resolution was applied to an
	// issue that is no longer pending.
	ErrIssueAlreadyResolved = errors.New("issue is already resolved")

	ErrInvalidJobStatus        = errors.New("invalid job status")
	ErrInvalidSeverity         = errors.New("invalid issue severity")
	ErrInvalidResolutionStatus = errors.New("invalid resolution status")
	ErrInvalidLogLevel         = errors.New("invalid log level")
)
