// Package http wires the coordinator's endpoints onto a chi router.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tidefall/convoy/internal/http/handler"
	mw "github.com/tidefall/convoy/internal/http/middleware"
)

// RouterConfig holds router-level settings.
type RouterConfig struct {
	// MaxBodyBytes caps request body size; zero disables the limit.
	MaxBodyBytes int64
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
func NewRouter(server *handler.Server, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.MaxBodyBytes > 0 {
		r.Use(mw.MaxBodyBytes(cfg.MaxBodyBytes))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to write health check response", "error", err)
		}
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/submit", server.SubmitJob)
		r.Post("/claim", server.ClaimJob)
		r.Get("/", server.ListJobs)

		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/status", server.GetJobStatus)
			r.Post("/heartbeat", server.JobHeartbeat)
			r.Post("/start", server.StartJob)
			r.Post("/checkpoint", server.Checkpoint)
			r.Post("/complete", server.CompleteJob)
			r.Post("/fail", server.FailJob)
			r.Post("/cancel", server.CancelJob)
			r.Post("/logs", server.AppendJobLog)
			r.Post("/issues", server.ReportIssue)
		})
	})

	r.Route("/workers", func(r chi.Router) {
		r.Post("/heartbeat", server.WorkerHeartbeat)
		r.Get("/", server.ListWorkers)
	})

	r.Route("/data-quality/issues", func(r chi.Router) {
		r.Get("/", server.ListIssues)
		r.Post("/{issue_id}/resolve", server.ResolveIssue)
	})

	r.Get("/dead-letter/submissions", server.ListDeadLetters)

	return r
}
