package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a migration job.
type JobStatus string

const (
	JobStatusUploaded         JobStatus = "UPLOADED"
	JobStatusDetected         JobStatus = "DETECTED"
	JobStatusMapped           JobStatus = "MAPPED"
	JobStatusValidated        JobStatus = "VALIDATED"
	JobStatusAwaitingApproval JobStatus = "AWAITING_APPROVAL"
	JobStatusApproved         JobStatus = "APPROVED"
	JobStatusCommitting       JobStatus = "COMMITTING"
	JobStatusCommitted        JobStatus = "COMMITTED"
	JobStatusRolledBack       JobStatus = "ROLLED_BACK"
	JobStatusError            JobStatus = "ERROR"
)

// InvalidTransitionError is returned when a status change violates the
// job state machine. The job is left untouched.
type InvalidTransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job transition %s -> %s", e.From, e.To)
}

// transitionSources maps each target status to the statuses a job may
// move from. Re-runnable stages accept their own status and ERROR so a
// failed stage can be retried from a clean slate.
var transitionSources = map[JobStatus][]JobStatus{
	JobStatusDetected:         {JobStatusUploaded, JobStatusDetected, JobStatusError},
	JobStatusMapped:           {JobStatusDetected, JobStatusMapped, JobStatusValidated, JobStatusError},
	JobStatusValidated:        {JobStatusMapped, JobStatusValidated, JobStatusError},
	JobStatusAwaitingApproval: {JobStatusValidated},
	JobStatusApproved:         {JobStatusAwaitingApproval},
	JobStatusCommitting:       {JobStatusApproved, JobStatusValidated},
	JobStatusCommitted:        {JobStatusCommitting},
	JobStatusRolledBack:       {JobStatusCommitted, JobStatusRolledBack},
}

// CanTransition reports whether the state machine allows moving a job
// from one status to another. ERROR is reachable from every state
// except the terminal ones, so a committed import cannot be mutated
// other than by rollback.
func CanTransition(from, to JobStatus) bool {
	if to == JobStatusError {
		return from != JobStatusCommitted && from != JobStatusRolledBack
	}
	for _, allowed := range transitionSources[to] {
		if from == allowed {
			return true
		}
	}
	return false
}

// MigrationJob is one import attempt for one tenant and one target
// entity. Jobs are never deleted; a rolled back job is superseded by a
// new job referencing it as RollbackParent.
type MigrationJob struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	TargetEntity   string         `json:"target_entity"`
	Status         JobStatus      `json:"status"`
	Metadata       map[string]any `json:"metadata"`
	Notes          []string       `json:"notes"`
	RollbackParent *uuid.UUID     `json:"rollback_parent,omitempty"`
	SubmittedAt    *time.Time     `json:"submitted_at,omitempty"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy     string         `json:"approved_by,omitempty"`
	CommittedAt    *time.Time     `json:"committed_at,omitempty"`
	CommittedBy    string         `json:"committed_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewMigrationJob creates a job in the UPLOADED state. targetEntity
// may be empty; the resolver will guess it during detection.
func NewMigrationJob(tenantID uuid.UUID, targetEntity string) MigrationJob {
	now := time.Now()
	return MigrationJob{
		ID:           uuid.New(),
		TenantID:     tenantID,
		TargetEntity: targetEntity,
		Status:       JobStatusUploaded,
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MarkStatus transitions the job, enforcing the state machine. On a
// guard violation the job is left untouched and an
// *InvalidTransitionError is returned.
func (j *MigrationJob) MarkStatus(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return &InvalidTransitionError{From: j.Status, To: to}
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	return nil
}

// AppendNote adds a timestamped line to the job's durable note log.
func (j *MigrationJob) AppendNote(note string) {
	j.Notes = append(j.Notes, fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), note))
	j.UpdatedAt = time.Now()
}

// SetMetadata stores a value in the job's free-form metadata map.
func (j *MigrationJob) SetMetadata(key string, value any) {
	if j.Metadata == nil {
		j.Metadata = map[string]any{}
	}
	j.Metadata[key] = value
	j.UpdatedAt = time.Now()
}
