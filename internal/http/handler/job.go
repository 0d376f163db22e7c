package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tidefall/convoy/internal/domain"
	"github.com/tidefall/convoy/internal/http/response"
)

// SubmitJob handles POST /jobs/submit.
// The 202 promises acceptance, not durability: the queue writer persists
// the job asynchronously.
func (s *Server) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobType string          `json:"job_type"`
		Config  json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	jobID, err := s.queue.Accept(r.Context(), req.JobType, req.Config)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	response.Accepted(w, map[string]string{
		"job_id": jobID,
		"status": "queued",
	})
}

// ClaimJob handles POST /jobs/claim. 204 means no eligible work.
func (s *Server) ClaimJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID     string          `json:"worker_id"`
		Capabilities []string        `json:"capabilities"`
		Hostname     string          `json:"hostname"`
		IPAddress    string          `json:"ip_address"`
		Metadata     json.RawMessage `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	job, err := s.dispatch.Claim(r.Context(), domain.Heartbeat{
		WorkerID:     req.WorkerID,
		Hostname:     req.Hostname,
		IPAddress:    req.IPAddress,
		Capabilities: req.Capabilities,
		Metadata:     req.Metadata,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	if job == nil {
		response.NoContent(w)
		return
	}

	response.OK(w, mapClaimedJobToDTO(job))
}

// ListJobs handles GET /jobs.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	jobs, err := s.dispatch.ListJobs(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	dtos := make([]JobDTO, 0, len(jobs))
	for _, job := range jobs {
		dtos = append(dtos, mapJobToDTO(job))
	}
	response.OK(w, map[string]any{
		"jobs":  dtos,
		"count": len(dtos),
	})
}

// GetJobStatus handles GET /jobs/{job_id}/status.
func (s *Server) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	detail, err := s.dispatch.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, mapJobDetailToDTO(detail))
}

// JobHeartbeat handles POST /jobs/{job_id}/heartbeat.
func (s *Server) JobHeartbeat(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	if err := s.dispatch.JobHeartbeat(r.Context(), jobID, req.WorkerID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"job_id": jobID, "status": "ok"})
}

// StartJob handles POST /jobs/{job_id}/start.
func (s *Server) StartJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	if err := s.dispatch.Start(r.Context(), jobID, req.WorkerID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"job_id": jobID, "status": string(domain.JobRunning)})
}

// Checkpoint handles POST /jobs/{job_id}/checkpoint.
func (s *Server) Checkpoint(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req struct {
		WorkerID   string          `json:"worker_id"`
		Checkpoint json.RawMessage `json:"checkpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	if err := s.dispatch.Checkpoint(r.Context(), jobID, req.WorkerID, req.Checkpoint); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"job_id": jobID, "status": "ok"})
}

// CompleteJob handles POST /jobs/{job_id}/complete.
func (s *Server) CompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	if err := s.dispatch.Complete(r.Context(), jobID, req.WorkerID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"job_id": jobID, "status": string(domain.JobCompleted)})
}

// FailJob handles POST /jobs/{job_id}/fail. The response tells the worker
// whether the job went back to the queue or is terminally failed.
func (s *Server) FailJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req struct {
		WorkerID     string `json:"worker_id"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	willRetry, err := s.dispatch.Fail(r.Context(), jobID, req.WorkerID, req.ErrorMessage)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	status := domain.JobFailed
	if willRetry {
		status = domain.JobPending
	}
	response.OK(w, map[string]any{
		"job_id":     jobID,
		"status":     string(status),
		"will_retry": willRetry,
	})
}

// CancelJob handles POST /jobs/{job_id}/cancel.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	if err := s.dispatch.Cancel(r.Context(), jobID); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"job_id": jobID, "status": string(domain.JobCancelled)})
}

// AppendJobLog handles POST /jobs/{job_id}/logs.
func (s *Server) AppendJobLog(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req struct {
		WorkerID string          `json:"worker_id"`
		Level    string          `json:"level"`
		Message  string          `json:"message"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	entry, err := s.dispatch.AppendLog(r.Context(), jobID, req.WorkerID, req.Level, req.Message, req.Metadata)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.Accepted(w, map[string]string{"log_id": entry.ID})
}
