package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/tabimport/internal/db"
	"github.com/rpattn/tabimport/internal/domain"
)

type jobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository wires a job repository backed by pgxpool.
func NewJobRepository(pool *pgxpool.Pool) JobRepository {
	return &jobRepository{pool: pool}
}

func (r *jobRepository) querier(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

const jobColumns = `id, tenant_id, target_entity, status, metadata, notes, rollback_parent,
	submitted_at, approved_at, approved_by, committed_at, committed_by, created_at, updated_at`

func (r *jobRepository) Create(ctx context.Context, job domain.MigrationJob) error {
	metadataJSON, notesJSON, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	_, err = r.querier(ctx).Exec(
		ctx,
		`INSERT INTO migration_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.TenantID, job.TargetEntity, job.Status, metadataJSON, notesJSON, job.RollbackParent,
		job.SubmittedAt, job.ApprovedAt, job.ApprovedBy, job.CommittedAt, job.CommittedBy,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create migration job: %w", err)
	}
	return nil
}

func (r *jobRepository) Get(ctx context.Context, id uuid.UUID) (domain.MigrationJob, error) {
	row := r.querier(ctx).QueryRow(
		ctx,
		`SELECT `+jobColumns+` FROM migration_jobs WHERE id = $1`,
		id,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MigrationJob{}, fmt.Errorf("migration job %s: %w", id, ErrNotFound)
		}
		return domain.MigrationJob{}, fmt.Errorf("failed to get migration job: %w", err)
	}
	return job, nil
}

func (r *jobRepository) Update(ctx context.Context, job domain.MigrationJob) error {
	metadataJSON, notesJSON, err := marshalJobBlobs(job)
	if err != nil {
		return err
	}

	tag, err := r.querier(ctx).Exec(
		ctx,
		`UPDATE migration_jobs
		 SET target_entity = $2, status = $3, metadata = $4, notes = $5, rollback_parent = $6,
		     submitted_at = $7, approved_at = $8, approved_by = $9,
		     committed_at = $10, committed_by = $11, updated_at = $12
		 WHERE id = $1`,
		job.ID, job.TargetEntity, job.Status, metadataJSON, notesJSON, job.RollbackParent,
		job.SubmittedAt, job.ApprovedAt, job.ApprovedBy, job.CommittedAt, job.CommittedBy, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update migration job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("migration job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

func (r *jobRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.MigrationJob, error) {
	rows, err := r.querier(ctx).Query(
		ctx,
		`SELECT `+jobColumns+` FROM migration_jobs WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list migration jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.MigrationJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate migration jobs: %w", err)
	}
	return jobs, nil
}

func marshalJobBlobs(job domain.MigrationJob) ([]byte, []byte, error) {
	metadata := job.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal job metadata: %w", err)
	}

	notes := job.Notes
	if notes == nil {
		notes = []string{}
	}
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal job notes: %w", err)
	}
	return metadataJSON, notesJSON, nil
}

func scanJob(row pgx.Row) (domain.MigrationJob, error) {
	var (
		job            domain.MigrationJob
		metadataJSON   []byte
		notesJSON      []byte
		rollbackParent pgtype.UUID
		submittedAt    pgtype.Timestamptz
		approvedAt     pgtype.Timestamptz
		committedAt    pgtype.Timestamptz
	)

	err := row.Scan(
		&job.ID, &job.TenantID, &job.TargetEntity, &job.Status, &metadataJSON, &notesJSON, &rollbackParent,
		&submittedAt, &approvedAt, &job.ApprovedBy, &committedAt, &job.CommittedBy,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return domain.MigrationJob{}, err
	}

	if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
		return domain.MigrationJob{}, fmt.Errorf("failed to unmarshal job metadata: %w", err)
	}
	if err := json.Unmarshal(notesJSON, &job.Notes); err != nil {
		return domain.MigrationJob{}, fmt.Errorf("failed to unmarshal job notes: %w", err)
	}

	if rollbackParent.Valid {
		parent := uuid.UUID(rollbackParent.Bytes)
		job.RollbackParent = &parent
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		job.SubmittedAt = &t
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		job.ApprovedAt = &t
	}
	if committedAt.Valid {
		t := committedAt.Time
		job.CommittedAt = &t
	}

	return job, nil
}
