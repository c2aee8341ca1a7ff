package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/auth"
	"github.com/rpattn/tabimport/internal/domain"
)

// ApproveExtension turns a pending schema extension into a durable,
// activated field version in the metadata layer. The decision is
// independent of the job's own approval: an extension may be approved
// at any point, and staging rows are never rewritten because of it.
func (s *Service) ApproveExtension(ctx context.Context, jobID uuid.UUID, fieldName string) (domain.SchemaExtension, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok || !actor.Can(auth.CapabilityApprover) {
		return domain.SchemaExtension{}, fmt.Errorf("extension approval requires the approver capability: %w", ErrPermissionDenied)
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.SchemaExtension{}, err
	}
	extension, err := s.deps.Extensions.GetByField(ctx, jobID, fieldName)
	if err != nil {
		return domain.SchemaExtension{}, err
	}
	if extension.Status != domain.ExtensionStatusPending {
		return domain.SchemaExtension{}, fmt.Errorf("schema extension %s is already %s", fieldName, extension.Status)
	}

	err = s.deps.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		key := fmt.Sprintf("%s.%s", job.TargetEntity, fieldName)
		versionID, err := s.deps.Metadata.CreateVersion(txCtx, key, extension.Definition, job.TenantID)
		if err != nil {
			return err
		}
		if err := s.deps.Metadata.Activate(txCtx, versionID, actor.ID); err != nil {
			return err
		}

		now := time.Now()
		extension.Status = domain.ExtensionStatusApproved
		extension.DecidedAt = &now
		extension.DecidedBy = actor.ID
		return s.deps.Extensions.Update(txCtx, extension)
	})
	if err != nil {
		return domain.SchemaExtension{}, fmt.Errorf("failed to approve schema extension %s: %w", fieldName, err)
	}

	s.emit(ctx, job, "extension.approved", actor.ID)
	return extension, nil
}

// RejectExtension declines a pending schema extension. Rejection only
// records the decision: the column's values keep flowing through the
// extra_data bag, nothing durable is created.
func (s *Service) RejectExtension(ctx context.Context, jobID uuid.UUID, fieldName, reason string) (domain.SchemaExtension, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok || !actor.Can(auth.CapabilityApprover) {
		return domain.SchemaExtension{}, fmt.Errorf("extension rejection requires the approver capability: %w", ErrPermissionDenied)
	}
	if reason == "" {
		return domain.SchemaExtension{}, errors.New("extension rejection requires a reason")
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.SchemaExtension{}, err
	}
	extension, err := s.deps.Extensions.GetByField(ctx, jobID, fieldName)
	if err != nil {
		return domain.SchemaExtension{}, err
	}
	if extension.Status != domain.ExtensionStatusPending {
		return domain.SchemaExtension{}, fmt.Errorf("schema extension %s is already %s", fieldName, extension.Status)
	}

	now := time.Now()
	extension.Status = domain.ExtensionStatusRejected
	extension.DecidedAt = &now
	extension.DecidedBy = actor.ID
	if err := s.deps.Extensions.Update(ctx, extension); err != nil {
		return domain.SchemaExtension{}, fmt.Errorf("failed to reject schema extension %s: %w", fieldName, err)
	}

	job.AppendNote(fmt.Sprintf("extension %s rejected: %s", fieldName, reason))
	if err := s.deps.Jobs.Update(ctx, job); err != nil {
		return domain.SchemaExtension{}, err
	}

	s.emit(ctx, job, "extension.rejected", actor.ID)
	return extension, nil
}
