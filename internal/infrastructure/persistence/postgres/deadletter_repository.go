package postgres

import (
	"context"
	"fmt"

	"github.com/tidefall/convoy/internal/domain"
)

func (s *Store) InsertDeadLetter(ctx context.Context, dl *domain.DeadLetterSubmission) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO dead_letter_submissions (id, job_id, job_type, config, created_at, failed_at, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		dl.ID, dl.JobID, dl.JobType, dl.Config, dl.CreatedAt, dl.FailedAt, dl.Attempts, dl.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetterSubmission, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, job_id, job_type, config, created_at, failed_at, attempts, last_error
		FROM dead_letter_submissions
		ORDER BY failed_at DESC, id DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var dls []*domain.DeadLetterSubmission
	for rows.Next() {
		var dl domain.DeadLetterSubmission
		if err := rows.Scan(&dl.ID, &dl.JobID, &dl.JobType, &dl.Config,
			&dl.CreatedAt, &dl.FailedAt, &dl.Attempts, &dl.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		dls = append(dls, &dl)
	}
	return dls, rows.Err()
}
