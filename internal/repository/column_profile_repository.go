package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/tabimport/internal/db"
	"github.com/rpattn/tabimport/internal/domain"
)

type columnProfileRepository struct {
	pool *pgxpool.Pool
}

// NewColumnProfileRepository wires a column profile repository backed by pgxpool.
func NewColumnProfileRepository(pool *pgxpool.Pool) ColumnProfileRepository {
	return &columnProfileRepository{pool: pool}
}

func (r *columnProfileRepository) querier(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

// ReplaceForJob deletes every prior profile for the job and inserts the
// new set. Profiling is a pure function of the combined row set, so
// there is no incremental merge path.
func (r *columnProfileRepository) ReplaceForJob(ctx context.Context, jobID uuid.UUID, profiles []domain.ColumnProfile) error {
	querier := r.querier(ctx)

	if _, err := querier.Exec(ctx, `DELETE FROM column_profiles WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear column profiles: %w", err)
	}

	for _, profile := range profiles {
		samplesJSON, err := json.Marshal(profile.SampleValues)
		if err != nil {
			return fmt.Errorf("failed to marshal sample values: %w", err)
		}
		_, err = querier.Exec(
			ctx,
			`INSERT INTO column_profiles
			 (id, job_id, source_column, field_name, detected_type, sample_values, null_count, unique_count, confidence, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			profile.ID, jobID, profile.SourceColumn, profile.FieldName, profile.DetectedType,
			samplesJSON, profile.NullCount, profile.UniqueCount, profile.Confidence, profile.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert column profile %s: %w", profile.SourceColumn, err)
		}
	}
	return nil
}

func (r *columnProfileRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.ColumnProfile, error) {
	rows, err := r.querier(ctx).Query(
		ctx,
		`SELECT id, job_id, source_column, field_name, detected_type, sample_values, null_count, unique_count, confidence, created_at
		 FROM column_profiles WHERE job_id = $1 ORDER BY source_column`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list column profiles: %w", err)
	}
	defer rows.Close()

	profiles := []domain.ColumnProfile{}
	for rows.Next() {
		var (
			profile     domain.ColumnProfile
			samplesJSON []byte
		)
		if err := rows.Scan(
			&profile.ID, &profile.JobID, &profile.SourceColumn, &profile.FieldName, &profile.DetectedType,
			&samplesJSON, &profile.NullCount, &profile.UniqueCount, &profile.Confidence, &profile.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan column profile: %w", err)
		}
		if err := json.Unmarshal(samplesJSON, &profile.SampleValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sample values: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column profiles: %w", err)
	}
	return profiles, nil
}
