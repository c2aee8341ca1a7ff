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

type schemaExtensionRepository struct {
	pool *pgxpool.Pool
}

// NewSchemaExtensionRepository wires a schema extension repository backed by pgxpool.
func NewSchemaExtensionRepository(pool *pgxpool.Pool) SchemaExtensionRepository {
	return &schemaExtensionRepository{pool: pool}
}

func (r *schemaExtensionRepository) querier(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

const extensionColumns = `id, job_id, field_name, definition, status, decided_at, decided_by, created_at`

func (r *schemaExtensionRepository) ReplaceForJob(ctx context.Context, jobID uuid.UUID, extensions []domain.SchemaExtension) error {
	querier := r.querier(ctx)

	if _, err := querier.Exec(ctx, `DELETE FROM schema_extensions WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear schema extensions: %w", err)
	}

	for _, extension := range extensions {
		definitionJSON, err := json.Marshal(extension.Definition)
		if err != nil {
			return fmt.Errorf("failed to marshal extension definition: %w", err)
		}
		_, err = querier.Exec(
			ctx,
			`INSERT INTO schema_extensions (`+extensionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			extension.ID, jobID, extension.FieldName, definitionJSON, extension.Status,
			extension.DecidedAt, extension.DecidedBy, extension.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert schema extension %s: %w", extension.FieldName, err)
		}
	}
	return nil
}

func (r *schemaExtensionRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.SchemaExtension, error) {
	rows, err := r.querier(ctx).Query(
		ctx,
		`SELECT `+extensionColumns+` FROM schema_extensions WHERE job_id = $1 ORDER BY field_name`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema extensions: %w", err)
	}
	defer rows.Close()

	extensions := []domain.SchemaExtension{}
	for rows.Next() {
		extension, err := scanExtension(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema extension: %w", err)
		}
		extensions = append(extensions, extension)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schema extensions: %w", err)
	}
	return extensions, nil
}

func (r *schemaExtensionRepository) GetByField(ctx context.Context, jobID uuid.UUID, fieldName string) (domain.SchemaExtension, error) {
	row := r.querier(ctx).QueryRow(
		ctx,
		`SELECT `+extensionColumns+` FROM schema_extensions WHERE job_id = $1 AND field_name = $2`,
		jobID, fieldName,
	)
	extension, err := scanExtension(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SchemaExtension{}, fmt.Errorf("schema extension %s: %w", fieldName, ErrNotFound)
		}
		return domain.SchemaExtension{}, fmt.Errorf("failed to get schema extension: %w", err)
	}
	return extension, nil
}

func (r *schemaExtensionRepository) Update(ctx context.Context, extension domain.SchemaExtension) error {
	tag, err := r.querier(ctx).Exec(
		ctx,
		`UPDATE schema_extensions SET status = $2, decided_at = $3, decided_by = $4 WHERE id = $1`,
		extension.ID, extension.Status, extension.DecidedAt, extension.DecidedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update schema extension: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schema extension %s: %w", extension.ID, ErrNotFound)
	}
	return nil
}

func scanExtension(row pgx.Row) (domain.SchemaExtension, error) {
	var (
		extension      domain.SchemaExtension
		definitionJSON []byte
		decidedAt      pgtype.Timestamptz
	)
	err := row.Scan(
		&extension.ID, &extension.JobID, &extension.FieldName, &definitionJSON, &extension.Status,
		&decidedAt, &extension.DecidedBy, &extension.CreatedAt,
	)
	if err != nil {
		return domain.SchemaExtension{}, err
	}

	if err := json.Unmarshal(definitionJSON, &extension.Definition); err != nil {
		return domain.SchemaExtension{}, fmt.Errorf("failed to unmarshal extension definition: %w", err)
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		extension.DecidedAt = &t
	}
	return extension, nil
}
