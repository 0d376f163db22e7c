package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tidefall/convoy/internal/domain"
	"github.com/tidefall/convoy/internal/http/response"
)

// ReportIssue handles POST /jobs/{job_id}/issues.
func (s *Server) ReportIssue(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	var req struct {
		SourceRecordID string          `json:"source_record_id"`
		IssueType      string          `json:"issue_type"`
		Severity       string          `json:"severity"`
		FieldName      string          `json:"field_name"`
		InvalidValue   string          `json:"invalid_value"`
		ExpectedFormat string          `json:"expected_format"`
		Message        string          `json:"message"`
		RawRecord      json.RawMessage `json:"raw_record"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	issue, err := s.dispatch.ReportIssue(r.Context(), &domain.DataQualityIssue{
		JobID:          jobID,
		SourceRecordID: req.SourceRecordID,
		IssueType:      req.IssueType,
		Severity:       domain.IssueSeverity(req.Severity),
		FieldName:      req.FieldName,
		InvalidValue:   req.InvalidValue,
		ExpectedFormat: req.ExpectedFormat,
		Message:        req.Message,
		RawRecord:      req.RawRecord,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	response.Created(w, map[string]string{
		"issue_id":          issue.ID,
		"resolution_status": string(issue.ResolutionStatus),
	})
}

// ListIssues handles GET /data-quality/issues. Defaults to the pending
// review queue when no status filter is given.
func (s *Server) ListIssues(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	issues, err := s.dispatch.ListIssues(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	dtos := make([]IssueDTO, 0, len(issues))
	for _, issue := range issues {
		dtos = append(dtos, mapIssueToDTO(issue))
	}
	response.OK(w, map[string]any{
		"issues": dtos,
		"count":  len(dtos),
	})
}

// ResolveIssue handles POST /data-quality/issues/{issue_id}/resolve.
func (s *Server) ResolveIssue(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "issue_id")

	var req struct {
		ResolutionStatus string `json:"resolution_status"`
		ResolutionAction string `json:"resolution_action"`
		ResolutionNotes  string `json:"resolution_notes"`
		ResolvedBy       string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	err := s.dispatch.ResolveIssue(r.Context(), issueID, domain.IssueResolution{
		Status:     domain.ResolutionStatus(req.ResolutionStatus),
		Action:     req.ResolutionAction,
		Notes:      req.ResolutionNotes,
		ResolvedBy: req.ResolvedBy,
	})
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	response.OK(w, map[string]string{
		"issue_id":          issueID,
		"resolution_status": req.ResolutionStatus,
	})
}

// ListDeadLetters handles GET /dead-letter/submissions.
func (s *Server) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	dls, err := s.queue.ListDeadLetters(r.Context(), limit)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	dtos := make([]DeadLetterDTO, 0, len(dls))
	for _, dl := range dls {
		dtos = append(dtos, mapDeadLetterToDTO(dl))
	}
	response.OK(w, map[string]any{
		"submissions": dtos,
		"count":       len(dtos),
	})
}
