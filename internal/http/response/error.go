package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tidefall/convoy/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []ErrorField `json:"details,omitempty"`
}

// ErrorField describes a field-specific error.
type ErrorField struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// BadRequest sends a 400 Bad Request error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, "INVALID_REQUEST", message, http.StatusBadRequest)
}

// ValidationError sends a 400 validation error with field details.
func ValidationError(w http.ResponseWriter, field, issue string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    "VALIDATION_ERROR",
			Message: "validation failed",
			Details: []ErrorField{
				{Field: field, Issue: issue},
			},
		},
	})
}

// NotFound sends a 404 Not Found error.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

// NotOwner sends a 412 for a request from a worker that no longer owns
// the job. The worker must discard its in-flight state.
func NotOwner(w http.ResponseWriter) {
	Error(w, "NOT_OWNER", "job is owned by another worker", http.StatusPreconditionFailed)
}

// InvalidTransition sends a 412 for a state change that is not an edge of
// the job lifecycle graph.
func InvalidTransition(w http.ResponseWriter) {
	Error(w, "INVALID_TRANSITION", "operation not allowed in the job's current state", http.StatusPreconditionFailed)
}

// JobCancelled sends a 409 telling the worker its job was cancelled.
func JobCancelled(w http.ResponseWriter) {
	Error(w, "JOB_CANCELLED", "job has been cancelled", http.StatusConflict)
}

// ResourceExhausted sends a 429 backpressure signal.
func ResourceExhausted(w http.ResponseWriter, message string) {
	Error(w, "RESOURCE_EXHAUSTED", message, http.StatusTooManyRequests)
}

// InternalError sends a 500 Internal Server Error. The real error is
// logged server-side; the client gets a generic message.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err)
	}
	Error(w, "INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
}

// Error sends a generic error response.
func Error(w http.ResponseWriter, code, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromDomainError maps domain errors to HTTP responses.
func FromDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	// Validation errors (400)
	case errors.Is(err, domain.ErrJobTypeRequired):
		ValidationError(w, "job_type", "required field missing")
	case errors.Is(err, domain.ErrWorkerIDRequired):
		ValidationError(w, "worker_id", "required field missing")
	case errors.Is(err, domain.ErrIssueTypeRequired):
		ValidationError(w, "issue_type", "required field missing")
	case errors.Is(err, domain.ErrInvalidJobStatus):
		ValidationError(w, "status", "invalid job status")
	case errors.Is(err, domain.ErrInvalidSeverity):
		ValidationError(w, "severity", "invalid issue severity")
	case errors.Is(err, domain.ErrInvalidResolutionStatus):
		ValidationError(w, "resolution_status", "invalid resolution status")
	case errors.Is(err, domain.ErrInvalidLogLevel):
		ValidationError(w, "level", "invalid log level")

	// Not found errors (404)
	case errors.Is(err, domain.ErrJobNotFound):
		NotFound(w, "job")
	case errors.Is(err, domain.ErrWorkerNotFound):
		NotFound(w, "worker")
	case errors.Is(err, domain.ErrIssueNotFound):
		NotFound(w, "data quality issue")

	// Precondition errors (412)
	case errors.Is(err, domain.ErrNotOwner):
		NotOwner(w)
	case errors.Is(err, domain.ErrInvalidTransition):
		InvalidTransition(w)
	case errors.Is(err, domain.ErrIssueAlreadyResolved):
		InvalidTransition(w)

	// Cancellation signal (409)
	case errors.Is(err, domain.ErrJobCancelled):
		JobCancelled(w)

	// Backpressure (429)
	case errors.Is(err, domain.ErrQueueSaturated):
		ResourceExhausted(w, "submission queue is saturated, retry later")

	// Unknown errors (500)
	default:
		InternalError(w, r, err)
	}
}
