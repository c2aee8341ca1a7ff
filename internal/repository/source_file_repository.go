package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/tabimport/internal/db"
	"github.com/rpattn/tabimport/internal/domain"
)

type sourceFileRepository struct {
	pool *pgxpool.Pool
}

// NewSourceFileRepository wires a source file repository backed by pgxpool.
func NewSourceFileRepository(pool *pgxpool.Pool) SourceFileRepository {
	return &sourceFileRepository{pool: pool}
}

func (r *sourceFileRepository) querier(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

func (r *sourceFileRepository) Create(ctx context.Context, file domain.SourceFile) error {
	_, err := r.querier(ctx).Exec(
		ctx,
		`INSERT INTO source_files (id, job_id, file_name, content_hash, content, parse_status, row_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		file.ID, file.JobID, file.FileName, file.ContentHash, file.Content, file.ParseStatus, file.RowCount, file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create source file: %w", err)
	}
	return nil
}

func (r *sourceFileRepository) Update(ctx context.Context, file domain.SourceFile) error {
	tag, err := r.querier(ctx).Exec(
		ctx,
		`UPDATE source_files SET parse_status = $2, row_count = $3 WHERE id = $1`,
		file.ID, file.ParseStatus, file.RowCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update source file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source file %s: %w", file.ID, ErrNotFound)
	}
	return nil
}

func (r *sourceFileRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.SourceFile, error) {
	rows, err := r.querier(ctx).Query(
		ctx,
		`SELECT id, job_id, file_name, content_hash, content, parse_status, row_count, created_at
		 FROM source_files WHERE job_id = $1 ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list source files: %w", err)
	}
	defer rows.Close()

	files := []domain.SourceFile{}
	for rows.Next() {
		var file domain.SourceFile
		if err := rows.Scan(
			&file.ID, &file.JobID, &file.FileName, &file.ContentHash, &file.Content,
			&file.ParseStatus, &file.RowCount, &file.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan source file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source files: %w", err)
	}
	return files, nil
}
