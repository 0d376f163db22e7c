package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobClaimed   JobStatus = "claimed"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// NewJobStatus validates and returns a job status.
func NewJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobPending, JobClaimed, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return JobStatus(s), nil
	}
	return "", ErrInvalidJobStatus
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransition reports whether the transition s -> to is in the lifecycle
// graph. Retry re-entry (failed -> pending) is expressed through the fail
// operation itself and is not a free-standing edge.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobPending:
		return to == JobClaimed || to == JobCancelled
	case JobClaimed:
		return to == JobRunning || to == JobPending || to == JobFailed || to == JobCancelled
	case JobRunning:
		return to == JobCompleted || to == JobFailed || to == JobPending || to == JobCancelled
	}
	return false
}

// Job is a unit of ingestion work. The coordinator treats Config and
// Checkpoint as opaque blobs: they are stored and returned byte-for-byte,
// never inspected.
type Job struct {
	ID           string
	Type         string
	Status       JobStatus
	WorkerID     *string
	Config       json.RawMessage
	Checkpoint   json.RawMessage
	RetryCount   int
	MaxRetries   int
	ErrorMessage *string
	CreatedAt    time.Time
	ClaimedAt    *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time
}

// JobMessage is the submission envelope handed from the ingress to the
// queue writer (and the payload of the durable-queue ingress path).
// Delivery is at-least-once; the writer's insert is idempotent on ID.
type JobMessage struct {
	ID        string          `json:"job_id"`
	Type      string          `json:"job_type"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobDetail is a job joined with the current liveness view of its worker.
type JobDetail struct {
	Job
	Worker *WorkerLiveness
}

// WorkerLiveness is the owner slice of a job detail response.
type WorkerLiveness struct {
	WorkerID      string
	Hostname      string
	Status        WorkerStatus
	LastHeartbeat *time.Time
}

// DeadLetterSubmission is a job message the queue writer gave up on after
// exhausting its retry budget. Kept for manual review and replay.
type DeadLetterSubmission struct {
	ID        string
	JobID     string
	JobType   string
	Config    json.RawMessage
	CreatedAt time.Time
	FailedAt  time.Time
	Attempts  int
	LastError string
}
