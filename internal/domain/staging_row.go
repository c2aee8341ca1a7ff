package domain

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RowStatus is the validation outcome of a staging row.
type RowStatus string

const (
	RowStatusPendingValidation RowStatus = "pending_validation"
	RowStatusValid             RowStatus = "valid"
	RowStatusInvalid           RowStatus = "invalid"
	// RowStatusSkipped marks rows staged with no mapped values at all.
	// Staging assigns it; validation and commit pass such rows over.
	RowStatusSkipped RowStatus = "skipped"
)

// ExtraDataKey is the payload key holding new-field values.
const ExtraDataKey = "extra_data"

// StagingRow is one normalized, not-yet-committed source row. Rows are
// recreated wholesale on each staging run and only mutated afterwards
// through validation-status transitions.
type StagingRow struct {
	ID         uuid.UUID      `json:"id"`
	JobID      uuid.UUID      `json:"job_id"`
	SourceFile string         `json:"source_file"`
	RowIndex   int            `json:"row_index"`
	Fields     map[string]any `json:"fields"`
	Extra      map[string]any `json:"extra"`
	Status     RowStatus      `json:"status"`
	ErrorCodes []string       `json:"error_codes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewStagingRow creates a pending staging row with defensive copies of
// both payload maps.
func NewStagingRow(jobID uuid.UUID, sourceFile string, rowIndex int, fields, extra map[string]any) StagingRow {
	return StagingRow{
		ID:         uuid.New(),
		JobID:      jobID,
		SourceFile: sourceFile,
		RowIndex:   rowIndex,
		Fields:     copyValues(fields),
		Extra:      copyValues(extra),
		Status:     RowStatusPendingValidation,
		CreatedAt:  time.Now(),
	}
}

// CommitPayload merges the cleaned fields with the extra_data bag for
// the record store. Extension values stay nested under extra_data no
// matter what happened to their schema extension proposals.
func (r StagingRow) CommitPayload() map[string]any {
	payload := copyValues(r.Fields)
	if len(r.Extra) > 0 {
		payload[ExtraDataKey] = copyValues(r.Extra)
	}
	return payload
}

// CleanValue normalizes a raw cell value: strings are trimmed and
// become nil when empty, float NaN becomes nil, everything else passes
// through unchanged.
func CleanValue(value any) any {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		return trimmed
	case float64:
		if math.IsNaN(v) {
			return nil
		}
		return v
	case float32:
		if math.IsNaN(float64(v)) {
			return nil
		}
		return v
	default:
		return value
	}
}

func copyValues(values map[string]any) map[string]any {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return copied
}
