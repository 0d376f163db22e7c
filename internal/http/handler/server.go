// Package handler implements the coordinator's HTTP endpoints on top of
// the queue and dispatch services.
package handler

import (
	"net/http"
	"strconv"

	"github.com/tidefall/convoy/internal/application/dispatch"
	"github.com/tidefall/convoy/internal/application/queue"
	"github.com/tidefall/convoy/internal/http/response"
)

// Server holds the services the handlers delegate to.
type Server struct {
	queue    *queue.Queue
	dispatch *dispatch.Service
}

// NewServer creates a new HTTP handler server.
func NewServer(q *queue.Queue, d *dispatch.Service) *Server {
	return &Server{
		queue:    q,
		dispatch: d,
	}
}

// parseLimit reads the optional ?limit= query parameter. Zero means
// "use the service default"; the service also clamps the maximum.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		response.ValidationError(w, "limit", "must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
