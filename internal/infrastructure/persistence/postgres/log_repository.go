package postgres

import (
	"context"
	"fmt"

	"github.com/tidefall/convoy/internal/domain"
)

// AppendJobLog stores one worker-emitted log line. The stream is
// append-only; nothing in the coordinator ever updates or deletes it.
func (s *Store) AppendJobLog(ctx context.Context, entry *domain.JobLog) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO job_logs (log_id, job_id, level, message, metadata, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.JobID, entry.Level, entry.Message, entry.Metadata, entry.LoggedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}
