package handler

import (
	"encoding/json"
	"time"

	"github.com/tidefall/convoy/internal/domain"
)

// JobDTO is the wire representation of a job.
type JobDTO struct {
	JobID        string          `json:"job_id"`
	JobType      string          `json:"job_type"`
	Status       string          `json:"status"`
	WorkerID     *string         `json:"worker_id,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	Checkpoint   json.RawMessage `json:"checkpoint,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// WorkerLivenessDTO is the owner slice of a job detail response.
type WorkerLivenessDTO struct {
	WorkerID      string     `json:"worker_id"`
	Hostname      string     `json:"hostname,omitempty"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// JobDetailDTO is a job joined with the liveness of its worker.
type JobDetailDTO struct {
	JobDTO
	Worker *WorkerLivenessDTO `json:"worker,omitempty"`
}

// ClaimDTO advertises the claim transition the server already executed.
type ClaimDTO struct {
	WorkerID  string     `json:"worker_id"`
	Status    string     `json:"status"`
	ClaimedAt *time.Time `json:"claimed_at"`
}

// ClaimedJobDTO is the response to a successful claim.
type ClaimedJobDTO struct {
	JobID     string          `json:"job_id"`
	JobType   string          `json:"job_type"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Claim     ClaimDTO        `json:"claim"`
}

// WorkerDTO is the wire representation of a worker.
type WorkerDTO struct {
	WorkerID      string          `json:"worker_id"`
	Hostname      string          `json:"hostname,omitempty"`
	IPAddress     string          `json:"ip_address,omitempty"`
	Capabilities  []string        `json:"capabilities"`
	Status        string          `json:"status"`
	LastHeartbeat *time.Time      `json:"last_heartbeat,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IssueDTO is the wire representation of a data-quality issue.
type IssueDTO struct {
	IssueID          string          `json:"issue_id"`
	JobID            string          `json:"job_id"`
	SourceRecordID   string          `json:"source_record_id,omitempty"`
	IssueType        string          `json:"issue_type"`
	Severity         string          `json:"severity"`
	FieldName        string          `json:"field_name,omitempty"`
	InvalidValue     string          `json:"invalid_value,omitempty"`
	ExpectedFormat   string          `json:"expected_format,omitempty"`
	Message          string          `json:"message,omitempty"`
	RawRecord        json.RawMessage `json:"raw_record,omitempty"`
	ResolutionStatus string          `json:"resolution_status"`
	ResolutionAction *string         `json:"resolution_action,omitempty"`
	ResolutionNotes  *string         `json:"resolution_notes,omitempty"`
	ResolvedBy       *string         `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// DeadLetterDTO is the wire representation of a dead-lettered submission.
type DeadLetterDTO struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	JobType   string          `json:"job_type"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	FailedAt  time.Time       `json:"failed_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error"`
}

func mapJobToDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:        job.ID,
		JobType:      job.Type,
		Status:       string(job.Status),
		WorkerID:     job.WorkerID,
		Config:       job.Config,
		Checkpoint:   job.Checkpoint,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		ClaimedAt:    job.ClaimedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func mapJobDetailToDTO(detail *domain.JobDetail) JobDetailDTO {
	dto := JobDetailDTO{JobDTO: mapJobToDTO(&detail.Job)}
	if detail.Worker != nil {
		dto.Worker = &WorkerLivenessDTO{
			WorkerID:      detail.Worker.WorkerID,
			Hostname:      detail.Worker.Hostname,
			Status:        string(detail.Worker.Status),
			LastHeartbeat: detail.Worker.LastHeartbeat,
		}
	}
	return dto
}

func mapClaimedJobToDTO(job *domain.Job) ClaimedJobDTO {
	var workerID string
	if job.WorkerID != nil {
		workerID = *job.WorkerID
	}
	return ClaimedJobDTO{
		JobID:     job.ID,
		JobType:   job.Type,
		Config:    job.Config,
		CreatedAt: job.CreatedAt,
		Claim: ClaimDTO{
			WorkerID:  workerID,
			Status:    string(job.Status),
			ClaimedAt: job.ClaimedAt,
		},
	}
}

func mapWorkerToDTO(w *domain.Worker) WorkerDTO {
	return WorkerDTO{
		WorkerID:      w.ID,
		Hostname:      w.Hostname,
		IPAddress:     w.IPAddress,
		Capabilities:  w.Capabilities,
		Status:        string(w.Status),
		LastHeartbeat: w.LastHeartbeat,
		Metadata:      w.Metadata,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func mapIssueToDTO(issue *domain.DataQualityIssue) IssueDTO {
	return IssueDTO{
		IssueID:          issue.ID,
		JobID:            issue.JobID,
		SourceRecordID:   issue.SourceRecordID,
		IssueType:        issue.IssueType,
		Severity:         string(issue.Severity),
		FieldName:        issue.FieldName,
		InvalidValue:     issue.InvalidValue,
		ExpectedFormat:   issue.ExpectedFormat,
		Message:          issue.Message,
		RawRecord:        issue.RawRecord,
		ResolutionStatus: string(issue.ResolutionStatus),
		ResolutionAction: issue.ResolutionAction,
		ResolutionNotes:  issue.ResolutionNotes,
		ResolvedBy:       issue.ResolvedBy,
		ResolvedAt:       issue.ResolvedAt,
		CreatedAt:        issue.CreatedAt,
	}
}

func mapDeadLetterToDTO(dl *domain.DeadLetterSubmission) DeadLetterDTO {
	return DeadLetterDTO{
		ID:        dl.ID,
		JobID:     dl.JobID,
		JobType:   dl.JobType,
		Config:    dl.Config,
		CreatedAt: dl.CreatedAt,
		FailedAt:  dl.FailedAt,
		Attempts:  dl.Attempts,
		LastError: dl.LastError,
	}
}
