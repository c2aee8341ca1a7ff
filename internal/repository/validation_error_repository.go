package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/tabimport/internal/db"
	"github.com/rpattn/tabimport/internal/domain"
)

type validationErrorRepository struct {
	pool *pgxpool.Pool
}

// NewValidationErrorRepository wires a validation error repository backed by pgxpool.
func NewValidationErrorRepository(pool *pgxpool.Pool) ValidationErrorRepository {
	return &validationErrorRepository{pool: pool}
}

func (r *validationErrorRepository) querier(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

func (r *validationErrorRepository) ReplaceForJob(ctx context.Context, jobID uuid.UUID, errs []domain.ValidationError) error {
	querier := r.querier(ctx)

	if _, err := querier.Exec(ctx, `DELETE FROM validation_errors WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear validation errors: %w", err)
	}

	for _, verr := range errs {
		var fixJSON []byte
		if verr.SuggestedFix != nil {
			data, err := json.Marshal(verr.SuggestedFix)
			if err != nil {
				return fmt.Errorf("failed to marshal suggested fix: %w", err)
			}
			fixJSON = data
		}
		_, err := querier.Exec(
			ctx,
			`INSERT INTO validation_errors (id, job_id, staging_row_id, mapping_id, code, message, severity, suggested_fix, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			verr.ID, jobID, verr.StagingRowID, verr.MappingID, verr.Code, verr.Message, verr.Severity, fixJSON, verr.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert validation error: %w", err)
		}
	}
	return nil
}

func (r *validationErrorRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.ValidationError, error) {
	rows, err := r.querier(ctx).Query(
		ctx,
		`SELECT id, job_id, staging_row_id, mapping_id, code, message, severity, suggested_fix, created_at
		 FROM validation_errors WHERE job_id = $1 ORDER BY created_at, id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation errors: %w", err)
	}
	defer rows.Close()

	errs := []domain.ValidationError{}
	for rows.Next() {
		var (
			verr       domain.ValidationError
			stagingRow pgtype.UUID
			mappingID  pgtype.UUID
			fixJSON    []byte
		)
		if err := rows.Scan(
			&verr.ID, &verr.JobID, &stagingRow, &mappingID, &verr.Code, &verr.Message, &verr.Severity, &fixJSON, &verr.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan validation error: %w", err)
		}
		if stagingRow.Valid {
			id := uuid.UUID(stagingRow.Bytes)
			verr.StagingRowID = &id
		}
		if mappingID.Valid {
			id := uuid.UUID(mappingID.Bytes)
			verr.MappingID = &id
		}
		if len(fixJSON) > 0 {
			if err := json.Unmarshal(fixJSON, &verr.SuggestedFix); err != nil {
				return nil, fmt.Errorf("failed to unmarshal suggested fix: %w", err)
			}
		}
		errs = append(errs, verr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate validation errors: %w", err)
	}
	return errs, nil
}
