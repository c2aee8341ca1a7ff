package domain

import (
	"time"

	"github.com/google/uuid"
)

// StorageMode decides where a source column's values land.
type StorageMode string

const (
	// StorageModeExistingColumn stores values under an existing target field.
	StorageModeExistingColumn StorageMode = "existing_column"
	// StorageModeNewField carries values in the row's extra_data bag and
	// proposes a schema extension.
	StorageModeNewField StorageMode = "new_field"
	// StorageModeIgnore drops the column entirely.
	StorageModeIgnore StorageMode = "ignore"
)

// NewFieldDefinition is the draft definition attached to a new_field
// mapping; it seeds the associated schema extension proposal.
type NewFieldDefinition struct {
	FieldName string     `json:"field_name"`
	Label     string     `json:"label"`
	DataType  ColumnType `json:"data_type"`
	Layer     string     `json:"layer"`
}

// FieldMapping is the decision of where one source column's values are
// stored. Unique per (job, source column). Regenerating mappings
// replaces all rows for the job; individual edits happen via update
// and only touch the editable subset (target field, storage mode,
// new-field definition, required flag). An edit stamps ApprovedAt and
// ApprovedBy, which protects the whole set from regeneration.
type FieldMapping struct {
	ID           uuid.UUID           `json:"id"`
	JobID        uuid.UUID           `json:"job_id"`
	SourceColumn string              `json:"source_column"`
	TargetField  string              `json:"target_field"`
	StorageMode  StorageMode         `json:"storage_mode"`
	NewField     *NewFieldDefinition `json:"new_field,omitempty"`
	Required     bool                `json:"required"`
	Confidence   float64             `json:"confidence"`
	ApprovedAt   *time.Time          `json:"approved_at,omitempty"`
	ApprovedBy   string              `json:"approved_by,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// MappingUpdate carries the editable subset of a field mapping. Nil
// members leave the current value in place.
type MappingUpdate struct {
	TargetField *string
	StorageMode *StorageMode
	NewField    *NewFieldDefinition
	Required    *bool
}

// Apply copies the editable fields onto the mapping. Source column and
// confidence are deliberately not editable.
func (m *FieldMapping) Apply(update MappingUpdate) {
	if update.TargetField != nil {
		m.TargetField = *update.TargetField
	}
	if update.StorageMode != nil {
		m.StorageMode = *update.StorageMode
	}
	if update.NewField != nil {
		m.NewField = update.NewField
	}
	if update.Required != nil {
		m.Required = *update.Required
	}
}
