package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/domain"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("not found")

// JobRepository persists migration jobs. Jobs are never deleted.
type JobRepository interface {
	Create(ctx context.Context, job domain.MigrationJob) error
	Get(ctx context.Context, id uuid.UUID) (domain.MigrationJob, error)
	Update(ctx context.Context, job domain.MigrationJob) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.MigrationJob, error)
}

// SourceFileRepository persists uploaded files, owned by their job.
type SourceFileRepository interface {
	Create(ctx context.Context, file domain.SourceFile) error
	Update(ctx context.Context, file domain.SourceFile) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.SourceFile, error)
}

// ColumnProfileRepository persists per-column statistics. Profiling
// replaces all rows for a job, never merges.
type ColumnProfileRepository interface {
	ReplaceForJob(ctx context.Context, jobID uuid.UUID, profiles []domain.ColumnProfile) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.ColumnProfile, error)
}

// FieldMappingRepository persists mapping decisions, unique per
// (job, source column).
type FieldMappingRepository interface {
	ReplaceForJob(ctx context.Context, jobID uuid.UUID, mappings []domain.FieldMapping) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.FieldMapping, error)
	GetByColumn(ctx context.Context, jobID uuid.UUID, sourceColumn string) (domain.FieldMapping, error)
	Update(ctx context.Context, mapping domain.FieldMapping) error
}

// SchemaExtensionRepository persists proposed schema extensions, keyed
// by (job, field name).
type SchemaExtensionRepository interface {
	ReplaceForJob(ctx context.Context, jobID uuid.UUID, extensions []domain.SchemaExtension) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.SchemaExtension, error)
	GetByField(ctx context.Context, jobID uuid.UUID, fieldName string) (domain.SchemaExtension, error)
	Update(ctx context.Context, extension domain.SchemaExtension) error
}

// StagingRowRepository persists normalized rows. Staging deletes all
// prior rows for the job and bulk-inserts the new set.
type StagingRowRepository interface {
	DeleteForJob(ctx context.Context, jobID uuid.UUID) error
	BulkInsert(ctx context.Context, rows []domain.StagingRow) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.StagingRow, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RowStatus, errorCodes []string) error
}

// ValidationErrorRepository persists validation violations; re-running
// validation replaces all rows for the job.
type ValidationErrorRepository interface {
	ReplaceForJob(ctx context.Context, jobID uuid.UUID, errs []domain.ValidationError) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.ValidationError, error)
}

// CommitLogRepository persists the reversible commit manifest, exactly
// one per job.
type CommitLogRepository interface {
	Create(ctx context.Context, log domain.CommitLog) error
	GetByJob(ctx context.Context, jobID uuid.UUID) (domain.CommitLog, error)
}
