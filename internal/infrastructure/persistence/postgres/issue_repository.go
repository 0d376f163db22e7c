package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tidefall/convoy/internal/application/dispatch"
	"github.com/tidefall/convoy/internal/domain"
)

const issueColumns = `issue_id, job_id, source_record_id, issue_type, severity,
	field_name, invalid_value, expected_format, message, raw_record,
	resolution_status, resolution_action, resolution_notes, resolved_by, resolved_at, created_at`

func (s *Store) InsertIssue(ctx context.Context, issue *domain.DataQualityIssue) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO data_quality_issues (issue_id, job_id, source_record_id, issue_type, severity,
			field_name, invalid_value, expected_format, message, raw_record,
			resolution_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		issue.ID, issue.JobID, issue.SourceRecordID, issue.IssueType, issue.Severity,
		issue.FieldName, issue.InvalidValue, issue.ExpectedFormat, issue.Message, issue.RawRecord,
		issue.ResolutionStatus, issue.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to insert issue: %w", err)
	}
	return nil
}

// ResolveIssue applies a resolution to a pending issue. The pending guard
// makes the first decision win; later attempts see the issue as already
// resolved.
func (s *Store) ResolveIssue(ctx context.Context, issueID string, res domain.IssueResolution) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE data_quality_issues SET
			resolution_status = $2,
			resolution_action = NULLIF($3, ''),
			resolution_notes  = NULLIF($4, ''),
			resolved_by       = NULLIF($5, ''),
			resolved_at       = now()
		WHERE issue_id = $1 AND resolution_status = 'pending'`,
		issueID, res.Status, res.Action, res.Notes, res.ResolvedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve issue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM data_quality_issues WHERE issue_id = $1)`, issueID).
			Scan(&exists); err != nil {
			return fmt.Errorf("failed to inspect issue: %w", err)
		}
		if !exists {
			return domain.ErrIssueNotFound
		}
		return domain.ErrIssueAlreadyResolved
	}
	return nil
}

func (s *Store) ListIssues(ctx context.Context, params dispatch.ListIssuesParams) ([]*domain.DataQualityIssue, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+issueColumns+` FROM data_quality_issues
		WHERE resolution_status = $1
		ORDER BY created_at DESC, issue_id DESC
		LIMIT $2`,
		params.Status, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []*domain.DataQualityIssue
	for rows.Next() {
		var issue domain.DataQualityIssue
		if err := rows.Scan(&issue.ID, &issue.JobID, &issue.SourceRecordID, &issue.IssueType, &issue.Severity,
			&issue.FieldName, &issue.InvalidValue, &issue.ExpectedFormat, &issue.Message, &issue.RawRecord,
			&issue.ResolutionStatus, &issue.ResolutionAction, &issue.ResolutionNotes,
			&issue.ResolvedBy, &issue.ResolvedAt, &issue.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, &issue)
	}
	return issues, rows.Err()
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
