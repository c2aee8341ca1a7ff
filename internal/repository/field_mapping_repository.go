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

type fieldMappingRepository struct {
	pool *pgxpool.Pool
}

// NewFieldMappingRepository wires a field mapping repository backed by pgxpool.
func NewFieldMappingRepository(pool *pgxpool.Pool) FieldMappingRepository {
	return &fieldMappingRepository{pool: pool}
}

func (r *fieldMappingRepository) querier(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

const mappingColumns = `id, job_id, source_column, target_field, storage_mode, new_field,
	required, confidence, approved_at, approved_by, created_at`

// ReplaceForJob regenerates the full mapping set for a job. Operator
// edits happen through Update afterwards; the service refuses to
// regenerate once any mapping carries an edit stamp.
func (r *fieldMappingRepository) ReplaceForJob(ctx context.Context, jobID uuid.UUID, mappings []domain.FieldMapping) error {
	querier := r.querier(ctx)

	if _, err := querier.Exec(ctx, `DELETE FROM field_mappings WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear field mappings: %w", err)
	}

	for _, mapping := range mappings {
		newFieldJSON, err := marshalNewField(mapping.NewField)
		if err != nil {
			return err
		}
		_, err = querier.Exec(
			ctx,
			`INSERT INTO field_mappings (`+mappingColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			mapping.ID, jobID, mapping.SourceColumn, mapping.TargetField, mapping.StorageMode, newFieldJSON,
			mapping.Required, mapping.Confidence, mapping.ApprovedAt, mapping.ApprovedBy, mapping.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert field mapping %s: %w", mapping.SourceColumn, err)
		}
	}
	return nil
}

func (r *fieldMappingRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.FieldMapping, error) {
	rows, err := r.querier(ctx).Query(
		ctx,
		`SELECT `+mappingColumns+` FROM field_mappings WHERE job_id = $1 ORDER BY source_column`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list field mappings: %w", err)
	}
	defer rows.Close()

	mappings := []domain.FieldMapping{}
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field mapping: %w", err)
		}
		mappings = append(mappings, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate field mappings: %w", err)
	}
	return mappings, nil
}

func (r *fieldMappingRepository) GetByColumn(ctx context.Context, jobID uuid.UUID, sourceColumn string) (domain.FieldMapping, error) {
	row := r.querier(ctx).QueryRow(
		ctx,
		`SELECT `+mappingColumns+` FROM field_mappings WHERE job_id = $1 AND source_column = $2`,
		jobID, sourceColumn,
	)
	mapping, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FieldMapping{}, fmt.Errorf("mapping for column %s: %w", sourceColumn, ErrNotFound)
		}
		return domain.FieldMapping{}, fmt.Errorf("failed to get field mapping: %w", err)
	}
	return mapping, nil
}

func (r *fieldMappingRepository) Update(ctx context.Context, mapping domain.FieldMapping) error {
	newFieldJSON, err := marshalNewField(mapping.NewField)
	if err != nil {
		return err
	}

	tag, err := r.querier(ctx).Exec(
		ctx,
		`UPDATE field_mappings
		 SET target_field = $2, storage_mode = $3, new_field = $4, required = $5, approved_at = $6, approved_by = $7
		 WHERE id = $1`,
		mapping.ID, mapping.TargetField, mapping.StorageMode, newFieldJSON,
		mapping.Required, mapping.ApprovedAt, mapping.ApprovedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update field mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("field mapping %s: %w", mapping.ID, ErrNotFound)
	}
	return nil
}

func marshalNewField(definition *domain.NewFieldDefinition) ([]byte, error) {
	if definition == nil {
		return nil, nil
	}
	data, err := json.Marshal(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal new field definition: %w", err)
	}
	return data, nil
}

func scanMapping(row pgx.Row) (domain.FieldMapping, error) {
	var (
		mapping      domain.FieldMapping
		newFieldJSON []byte
		approvedAt   pgtype.Timestamptz
	)
	err := row.Scan(
		&mapping.ID, &mapping.JobID, &mapping.SourceColumn, &mapping.TargetField, &mapping.StorageMode, &newFieldJSON,
		&mapping.Required, &mapping.Confidence, &approvedAt, &mapping.ApprovedBy, &mapping.CreatedAt,
	)
	if err != nil {
		return domain.FieldMapping{}, err
	}

	if len(newFieldJSON) > 0 {
		var definition domain.NewFieldDefinition
		if err := json.Unmarshal(newFieldJSON, &definition); err != nil {
			return domain.FieldMapping{}, fmt.Errorf("failed to unmarshal new field definition: %w", err)
		}
		mapping.NewField = &definition
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		mapping.ApprovedAt = &t
	}
	return mapping, nil
}
