package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/domain"
	"github.com/rpattn/tabimport/internal/recordstore"
)

// ExtensionLayer is the schema layer proposed new fields land on:
// tenant-scoped overrides, never the shared base schema.
const ExtensionLayer = "COMPANY_OVERRIDE"

// MappingResult summarizes one mapping inference run.
type MappingResult struct {
	Existing  int `json:"existing"`
	NewFields int `json:"new_fields"`
	Ignored   int `json:"ignored"`
}

// PlanMappings infers a mapping for every profiled column. Columns
// whose inferred field name matches an existing non-system field map
// onto it with the profile's confidence; everything else becomes a
// new_field proposal with a pending schema extension. Mappings and
// extensions are replaced wholesale — but never over operator edits:
// once any mapping carries an edit stamp, re-planning is refused.
func (s *Service) PlanMappings(ctx context.Context, jobID uuid.UUID) (MappingResult, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return MappingResult{}, err
	}
	if !domain.CanTransition(job.Status, domain.JobStatusMapped) {
		return MappingResult{}, &domain.InvalidTransitionError{From: job.Status, To: domain.JobStatusMapped}
	}
	if job.TargetEntity == "" {
		return MappingResult{}, ErrResolutionFailure
	}

	current, err := s.deps.Mappings.ListByJob(ctx, jobID)
	if err != nil {
		return MappingResult{}, err
	}
	for _, mapping := range current {
		if mapping.ApprovedAt != nil {
			return MappingResult{}, fmt.Errorf("mapping for %q was edited by %s: %w",
				mapping.SourceColumn, mapping.ApprovedBy, ErrMappingsEdited)
		}
	}

	profiles, err := s.deps.Profiles.ListByJob(ctx, jobID)
	if err != nil {
		return MappingResult{}, err
	}
	if len(profiles) == 0 {
		return MappingResult{}, errors.New("no column profiles: run detection first")
	}

	fields, err := s.deps.Store.Fields(ctx, job.TargetEntity)
	if err != nil {
		return MappingResult{}, fmt.Errorf("failed to introspect %s: %w", job.TargetEntity, err)
	}
	targetFields := make(map[string]recordstore.FieldSpec, len(fields))
	for _, field := range fields {
		if _, system := systemFields[field.Name]; system {
			continue
		}
		targetFields[field.Name] = field
	}

	actor := actorFrom(ctx).ID
	result := MappingResult{}
	mappings := make([]domain.FieldMapping, 0, len(profiles))
	extensions := make([]domain.SchemaExtension, 0)

	for _, profile := range profiles {
		mapping := domain.FieldMapping{
			ID:           uuid.New(),
			JobID:        job.ID,
			SourceColumn: profile.SourceColumn,
			TargetField:  profile.FieldName,
			CreatedAt:    time.Now(),
		}

		if spec, ok := targetFields[profile.FieldName]; ok {
			mapping.StorageMode = domain.StorageModeExistingColumn
			mapping.Required = spec.Required()
			mapping.Confidence = profile.Confidence
			result.Existing++
		} else {
			definition := domain.NewFieldDefinition{
				FieldName: profile.FieldName,
				Label:     profile.SourceColumn,
				DataType:  profile.DetectedType,
				Layer:     ExtensionLayer,
			}
			mapping.StorageMode = domain.StorageModeNewField
			mapping.NewField = &definition
			mapping.Confidence = 0
			result.NewFields++

			extensions = append(extensions, domain.SchemaExtension{
				ID:         uuid.New(),
				JobID:      job.ID,
				FieldName:  profile.FieldName,
				Definition: definition,
				Status:     domain.ExtensionStatusPending,
				CreatedAt:  time.Now(),
			})
		}

		mappings = append(mappings, mapping)
	}

	err = s.deps.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.deps.Mappings.ReplaceForJob(txCtx, job.ID, mappings); err != nil {
			return err
		}
		if err := s.deps.Extensions.ReplaceForJob(txCtx, job.ID, extensions); err != nil {
			return err
		}
		job.SetMetadata("mapping", map[string]any{
			"existing":   result.Existing,
			"new_fields": result.NewFields,
			"ignored":    result.Ignored,
		})
		return s.transition(txCtx, &job, domain.JobStatusMapped, actor)
	})
	if err != nil {
		s.failJob(ctx, &job, actor, err)
		return MappingResult{}, fmt.Errorf("mapping inference failed: %w", err)
	}

	return result, nil
}

// UpdateMapping edits one mapping's storage decision. Source column
// and confidence never change. The edit is stamped with the acting
// principal, which pins the whole mapping set against re-planning.
// Editing a validated job resets it to MAPPED so stale validation
// results cannot be submitted.
func (s *Service) UpdateMapping(ctx context.Context, jobID uuid.UUID, sourceColumn string, update domain.MappingUpdate) (domain.FieldMapping, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.FieldMapping{}, err
	}
	switch job.Status {
	case domain.JobStatusMapped, domain.JobStatusValidated, domain.JobStatusError:
	default:
		return domain.FieldMapping{}, fmt.Errorf("job %s is %s: mappings can no longer be edited", job.ID, job.Status)
	}

	mapping, err := s.deps.Mappings.GetByColumn(ctx, jobID, sourceColumn)
	if err != nil {
		return domain.FieldMapping{}, err
	}

	actor := actorFrom(ctx).ID
	mapping.Apply(update)
	now := time.Now()
	mapping.ApprovedAt = &now
	mapping.ApprovedBy = actor
	err = s.deps.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.deps.Mappings.Update(txCtx, mapping); err != nil {
			return err
		}
		if job.Status == domain.JobStatusValidated {
			job.AppendNote(fmt.Sprintf("mapping for %q edited: validation reset", sourceColumn))
			return s.transition(txCtx, &job, domain.JobStatusMapped, actor)
		}
		return nil
	})
	if err != nil {
		return domain.FieldMapping{}, err
	}

	s.emit(ctx, job, "mapping.updated", actor)
	return mapping, nil
}
