package domain

import (
	"encoding/json"
	"time"
)

// IssueSeverity classifies how bad a data-quality finding is.
type IssueSeverity string

const (
	SeverityWarning  IssueSeverity = "warning"
	SeverityError    IssueSeverity = "error"
	SeverityCritical IssueSeverity = "critical"
)

// NewIssueSeverity validates and returns a severity.
func NewIssueSeverity(s string) (IssueSeverity, error) {
	switch IssueSeverity(s) {
	case SeverityWarning, SeverityError, SeverityCritical:
		return IssueSeverity(s), nil
	}
	return "", ErrInvalidSeverity
}

// ResolutionStatus is the review state of a data-quality issue.
type ResolutionStatus string

const (
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionIgnored   ResolutionStatus = "ignored"
	ResolutionAutoFixed ResolutionStatus = "auto_fixed"
)

// NewResolutionStatus validates and returns a resolution status.
func NewResolutionStatus(s string) (ResolutionStatus, error) {
	switch ResolutionStatus(s) {
	case ResolutionPending, ResolutionResolved, ResolutionIgnored, ResolutionAutoFixed:
		return ResolutionStatus(s), nil
	}
	return "", ErrInvalidResolutionStatus
}

// DataQualityIssue is a validation finding emitted by a worker while
// executing a job. RawRecord is opaque captured context.
type DataQualityIssue struct {
	ID               string
	JobID            string
	SourceRecordID   string
	IssueType        string
	Severity         IssueSeverity
	FieldName        string
	InvalidValue     string
	ExpectedFormat   string
	Message          string
	RawRecord        json.RawMessage
	ResolutionStatus ResolutionStatus
	ResolutionAction *string
	ResolutionNotes  *string
	ResolvedBy       *string
	ResolvedAt       *time.Time
	CreatedAt        time.Time
}

// IssueResolution is an admin decision applied to a pending issue.
type IssueResolution struct {
	Status     ResolutionStatus
	Action     string
	Notes      string
	ResolvedBy string
}
