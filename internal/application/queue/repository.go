package queue

import (
	"context"

	"github.com/tidefall/convoy/internal/domain"
)

// Repository is the durable side of the submission pipeline.
type Repository interface {
	// InsertJob persists a submission as a pending job. The insert is
	// idempotent on job ID: re-delivery of the same message is a no-op,
	// never an error.
	InsertJob(ctx context.Context, msg domain.JobMessage, maxRetries int) error

	// InsertDeadLetter records a submission the writer gave up on.
	InsertDeadLetter(ctx context.Context, dl *domain.DeadLetterSubmission) error

	// ListDeadLetters returns dead-lettered submissions newest first.
	ListDeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetterSubmission, error)
}
