package domain

import (
	"time"

	"github.com/google/uuid"
)

// ColumnType is the primitive type inferred for a source column.
type ColumnType string

const (
	ColumnTypeText    ColumnType = "text"
	ColumnTypeNumber  ColumnType = "number"
	ColumnTypeDate    ColumnType = "date"
	ColumnTypeBoolean ColumnType = "boolean"
)

// ColumnProfile carries per-column statistics computed over a job's
// combined row set. Profiles are recomputed wholesale on every
// profiling run; there is no incremental merge.
type ColumnProfile struct {
	ID           uuid.UUID  `json:"id"`
	JobID        uuid.UUID  `json:"job_id"`
	SourceColumn string     `json:"source_column"`
	FieldName    string     `json:"field_name"`
	DetectedType ColumnType `json:"detected_type"`
	SampleValues []string   `json:"sample_values"`
	NullCount    int        `json:"null_count"`
	UniqueCount  int        `json:"unique_count"`
	Confidence   float64    `json:"confidence"`
	CreatedAt    time.Time  `json:"created_at"`
}
