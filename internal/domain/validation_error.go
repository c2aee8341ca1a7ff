package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a validation violation.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Validation error codes produced by the validator.
const (
	ErrCodeRequiredMissing = "REQUIRED_MISSING"
	ErrCodeDuplicateRow    = "DUPLICATE_ROW"
)

// ValidationError is one detected violation against a staging row.
// Re-running validation deletes and regenerates all rows for the job.
type ValidationError struct {
	ID           uuid.UUID      `json:"id"`
	JobID        uuid.UUID      `json:"job_id"`
	StagingRowID *uuid.UUID     `json:"staging_row_id,omitempty"`
	MappingID    *uuid.UUID     `json:"mapping_id,omitempty"`
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	Severity     Severity       `json:"severity"`
	SuggestedFix map[string]any `json:"suggested_fix,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
