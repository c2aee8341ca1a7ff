package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExtensionStatus is the review state of a proposed schema extension.
type ExtensionStatus string

const (
	ExtensionStatusPending  ExtensionStatus = "pending"
	ExtensionStatusApproved ExtensionStatus = "approved"
	ExtensionStatusRejected ExtensionStatus = "rejected"
)

// SchemaExtension is a proposed durable addition of a field to the
// target entity's schema, keyed by (job, field name). Approving or
// rejecting one never alters staging rows already created: extension
// values always travel in the row's extra_data bag regardless.
type SchemaExtension struct {
	ID         uuid.UUID          `json:"id"`
	JobID      uuid.UUID          `json:"job_id"`
	FieldName  string             `json:"field_name"`
	Definition NewFieldDefinition `json:"definition"`
	Status     ExtensionStatus    `json:"status"`
	DecidedAt  *time.Time         `json:"decided_at,omitempty"`
	DecidedBy  string             `json:"decided_by,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}
