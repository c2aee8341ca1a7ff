package recordstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record lookup misses within the
// caller's tenant scope.
var ErrNotFound = errors.New("record not found")

// FieldSpec describes one field of a target entity as exposed by the
// store's schema introspection.
type FieldSpec struct {
	Name       string `json:"name"`
	Nullable   bool   `json:"nullable"`
	HasDefault bool   `json:"has_default"`
}

// Required reports whether the field must carry a value on create: not
// nullable and no default.
func (f FieldSpec) Required() bool {
	return !f.Nullable && !f.HasDefault
}

// Store is the generic entity/record store the pipeline commits into.
// Every write and lookup is scoped by tenant to prevent cross-tenant
// interference.
type Store interface {
	Create(ctx context.Context, entityType string, tenantID uuid.UUID, payload map[string]any) (uuid.UUID, error)
	Get(ctx context.Context, entityType string, id, tenantID uuid.UUID) (map[string]any, error)
	Delete(ctx context.Context, entityType string, id, tenantID uuid.UUID) (bool, error)

	// Schema introspection.
	Fields(ctx context.Context, entityType string) ([]FieldSpec, error)
	UniqueGroups(ctx context.Context, entityType string) ([][]string, error)
	EntityTypes(ctx context.Context) ([]string, error)
}
