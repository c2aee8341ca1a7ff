package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/tabimport/internal/db"
	"github.com/rpattn/tabimport/internal/domain"
)

// Service is the metadata/schema collaborator: it versions durable
// field definitions scoped to a tenant. Schema extension approval is
// the only pipeline path into it.
type Service interface {
	CreateVersion(ctx context.Context, key string, definition domain.NewFieldDefinition, scope uuid.UUID) (uuid.UUID, error)
	Activate(ctx context.Context, versionID uuid.UUID, actor string) error
}

// PostgresService stores field versions in the field_versions table.
type PostgresService struct {
	pool *pgxpool.Pool
}

// NewPostgresService wires a metadata service backed by pgxpool.
func NewPostgresService(pool *pgxpool.Pool) *PostgresService {
	return &PostgresService{pool: pool}
}

func (s *PostgresService) CreateVersion(ctx context.Context, key string, definition domain.NewFieldDefinition, scope uuid.UUID) (uuid.UUID, error) {
	definitionJSON, err := json.Marshal(definition)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal field definition: %w", err)
	}

	id := uuid.New()
	querier := db.QuerierFromContext(ctx, s.pool)
	_, err = querier.Exec(
		ctx,
		`INSERT INTO field_versions (id, key, definition, scope) VALUES ($1, $2, $3, $4)`,
		id, key, definitionJSON, scope,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create field version %s: %w", key, err)
	}
	return id, nil
}

func (s *PostgresService) Activate(ctx context.Context, versionID uuid.UUID, actor string) error {
	querier := db.QuerierFromContext(ctx, s.pool)
	tag, err := querier.Exec(
		ctx,
		`UPDATE field_versions SET active = TRUE, activated_by = $2, activated_at = $3 WHERE id = $1`,
		versionID, actor, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to activate field version %s: %w", versionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("field version %s not found", versionID)
	}
	return nil
}

var _ Service = (*PostgresService)(nil)
