package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/tabimport/internal/db"
)

// PostgresStore keeps records as JSONB rows and target schemas in a
// catalog table. Writes resolve their querier from the context, so
// creates and deletes issued inside a pipeline transaction roll back
// with it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a record store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) querier(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, s.pool)
}

func (s *PostgresStore) Create(ctx context.Context, entityType string, tenantID uuid.UUID, payload map[string]any) (uuid.UUID, error) {
	if tenantID == uuid.Nil {
		return uuid.Nil, errors.New("tenant id is required")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal record payload: %w", err)
	}

	id := uuid.New()
	_, err = s.querier(ctx).Exec(
		ctx,
		`INSERT INTO records (id, tenant_id, entity_type, payload) VALUES ($1, $2, $3, $4)`,
		id, tenantID, entityType, payloadJSON,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create %s record: %w", entityType, err)
	}

	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, entityType string, id, tenantID uuid.UUID) (map[string]any, error) {
	var payloadJSON []byte
	err := s.querier(ctx).QueryRow(
		ctx,
		`SELECT payload FROM records WHERE id = $1 AND tenant_id = $2 AND entity_type = $3`,
		id, tenantID, entityType,
	).Scan(&payloadJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s record: %w", entityType, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record payload: %w", err)
	}
	return payload, nil
}

func (s *PostgresStore) Delete(ctx context.Context, entityType string, id, tenantID uuid.UUID) (bool, error) {
	tag, err := s.querier(ctx).Exec(
		ctx,
		`DELETE FROM records WHERE id = $1 AND tenant_id = $2 AND entity_type = $3`,
		id, tenantID, entityType,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s record: %w", entityType, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Fields(ctx context.Context, entityType string) ([]FieldSpec, error) {
	var fieldsJSON []byte
	err := s.querier(ctx).QueryRow(
		ctx,
		`SELECT fields FROM record_schemas WHERE entity_type = $1`,
		entityType,
	).Scan(&fieldsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("unknown entity type %s: %w", entityType, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load schema for %s: %w", entityType, err)
	}

	var fields []FieldSpec
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema fields: %w", err)
	}
	return fields, nil
}

func (s *PostgresStore) UniqueGroups(ctx context.Context, entityType string) ([][]string, error) {
	var groupsJSON []byte
	err := s.querier(ctx).QueryRow(
		ctx,
		`SELECT unique_groups FROM record_schemas WHERE entity_type = $1`,
		entityType,
	).Scan(&groupsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("unknown entity type %s: %w", entityType, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load unique groups for %s: %w", entityType, err)
	}

	var groups [][]string
	if err := json.Unmarshal(groupsJSON, &groups); err != nil {
		return nil, fmt.Errorf("failed to unmarshal unique groups: %w", err)
	}
	return groups, nil
}

func (s *PostgresStore) EntityTypes(ctx context.Context) ([]string, error) {
	rows, err := s.querier(ctx).Query(ctx, `SELECT entity_type FROM record_schemas ORDER BY created_at, entity_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var entityType string
		if err := rows.Scan(&entityType); err != nil {
			return nil, fmt.Errorf("failed to scan entity type: %w", err)
		}
		types = append(types, entityType)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entity types: %w", err)
	}
	return types, nil
}

// RegisterSchema upserts the field specs and unique groups for an
// entity type. Used by provisioning, not by the pipeline itself.
func (s *PostgresStore) RegisterSchema(ctx context.Context, entityType string, fields []FieldSpec, uniqueGroups [][]string) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal schema fields: %w", err)
	}
	groupsJSON, err := json.Marshal(uniqueGroups)
	if err != nil {
		return fmt.Errorf("failed to marshal unique groups: %w", err)
	}

	_, err = s.querier(ctx).Exec(
		ctx,
		`INSERT INTO record_schemas (entity_type, fields, unique_groups)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (entity_type) DO UPDATE SET fields = EXCLUDED.fields, unique_groups = EXCLUDED.unique_groups`,
		entityType, fieldsJSON, groupsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to register schema for %s: %w", entityType, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
