package handler

import (
	"encoding/json"
	"net/http"

	"github.com/tidefall/convoy/internal/domain"
	"github.com/tidefall/convoy/internal/http/response"
)

// WorkerHeartbeat handles POST /workers/heartbeat. Unknown workers are
// registered on first contact.
func (s *Server) WorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID     string          `json:"worker_id"`
		Hostname     string          `json:"hostname"`
		IPAddress    string          `json:"ip_address"`
		Capabilities []string        `json:"capabilities"`
		Metadata     json.RawMessage `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return
	}

	err := s.dispatch.WorkerHeartbeat(r.Context(), domain.Heartbeat{
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

	response.OK(w, map[string]string{
		"worker_id": req.WorkerID,
		"status":    string(domain.WorkerActive),
	})
}

// ListWorkers handles GET /workers.
func (s *Server) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.dispatch.ListWorkers(r.Context())
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}

	dtos := make([]WorkerDTO, 0, len(workers))
	for _, worker := range workers {
		dtos = append(dtos, mapWorkerToDTO(worker))
	}
	response.OK(w, map[string]any{
		"workers": dtos,
		"count":   len(dtos),
	})
}
