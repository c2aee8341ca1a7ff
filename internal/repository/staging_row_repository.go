package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/tabimport/internal/db"
	"github.com/rpattn/tabimport/internal/domain"
)

type stagingRowRepository struct {
	pool *pgxpool.Pool
}

// NewStagingRowRepository wires a staging row repository backed by pgxpool.
func NewStagingRowRepository(pool *pgxpool.Pool) StagingRowRepository {
	return &stagingRowRepository{pool: pool}
}

func (r *stagingRowRepository) querier(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

func (r *stagingRowRepository) DeleteForJob(ctx context.Context, jobID uuid.UUID) error {
	if _, err := r.querier(ctx).Exec(ctx, `DELETE FROM staging_rows WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear staging rows: %w", err)
	}
	return nil
}

// BulkInsert streams rows with CopyFrom; staging inserts thousands of
// rows per chunk and the text protocol is too slow for that.
func (r *stagingRowRepository) BulkInsert(ctx context.Context, rows []domain.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}

	source := make([][]any, 0, len(rows))
	for _, row := range rows {
		fieldsJSON, err := json.Marshal(row.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal staging row fields: %w", err)
		}
		extraJSON, err := json.Marshal(row.Extra)
		if err != nil {
			return fmt.Errorf("failed to marshal staging row extra data: %w", err)
		}
		codesJSON, err := json.Marshal(errorCodesOrEmpty(row.ErrorCodes))
		if err != nil {
			return fmt.Errorf("failed to marshal staging row error codes: %w", err)
		}
		source = append(source, []any{
			row.ID, row.JobID, row.SourceFile, row.RowIndex, fieldsJSON, extraJSON, string(row.Status), codesJSON, row.CreatedAt,
		})
	}

	_, err := r.querier(ctx).CopyFrom(
		ctx,
		pgx.Identifier{"staging_rows"},
		[]string{"id", "job_id", "source_file", "row_index", "fields", "extra", "status", "error_codes", "created_at"},
		pgx.CopyFromRows(source),
	)
	if err != nil {
		return fmt.Errorf("failed to bulk insert staging rows: %w", err)
	}
	return nil
}

func (r *stagingRowRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.StagingRow, error) {
	rows, err := r.querier(ctx).Query(
		ctx,
		`SELECT id, job_id, source_file, row_index, fields, extra, status, error_codes, created_at
		 FROM staging_rows WHERE job_id = $1 ORDER BY row_index`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging rows: %w", err)
	}
	defer rows.Close()

	staged := []domain.StagingRow{}
	for rows.Next() {
		var (
			row        domain.StagingRow
			fieldsJSON []byte
			extraJSON  []byte
			codesJSON  []byte
		)
		if err := rows.Scan(
			&row.ID, &row.JobID, &row.SourceFile, &row.RowIndex, &fieldsJSON, &extraJSON, &row.Status, &codesJSON, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan staging row: %w", err)
		}
		if err := json.Unmarshal(fieldsJSON, &row.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal staging row fields: %w", err)
		}
		if err := json.Unmarshal(extraJSON, &row.Extra); err != nil {
			return nil, fmt.Errorf("failed to unmarshal staging row extra data: %w", err)
		}
		if err := json.Unmarshal(codesJSON, &row.ErrorCodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal staging row error codes: %w", err)
		}
		staged = append(staged, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staging rows: %w", err)
	}
	return staged, nil
}

func (r *stagingRowRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RowStatus, errorCodes []string) error {
	codesJSON, err := json.Marshal(errorCodesOrEmpty(errorCodes))
	if err != nil {
		return fmt.Errorf("failed to marshal error codes: %w", err)
	}

	tag, err := r.querier(ctx).Exec(
		ctx,
		`UPDATE staging_rows SET status = $2, error_codes = $3 WHERE id = $1`,
		id, status, codesJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update staging row status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("staging row %s: %w", id, ErrNotFound)
	}
	return nil
}

func errorCodesOrEmpty(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}
