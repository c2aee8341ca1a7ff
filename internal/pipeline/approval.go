package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/auth"
	"github.com/rpattn/tabimport/internal/domain"
)

// Submit hands a validated job to the approval gate. Only importers
// may submit. Jobs with hard validation errors on every row can still
// be submitted; invalid rows are simply skipped at commit.
func (s *Service) Submit(ctx context.Context, jobID uuid.UUID) (domain.MigrationJob, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	actor, ok := auth.ActorFromContext(ctx)
	if !ok || !actor.Can(auth.CapabilityImporter) {
		return domain.MigrationJob{}, fmt.Errorf("submit requires the importer capability: %w", ErrPermissionDenied)
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.MigrationJob{}, err
	}
	if err := s.transition(ctx, &job, domain.JobStatusAwaitingApproval, actor.ID); err != nil {
		return domain.MigrationJob{}, err
	}
	return job, nil
}

// Approve records the approver's decision. The submitting importer and
// the approver may be the same principal only if it holds both
// capabilities.
func (s *Service) Approve(ctx context.Context, jobID uuid.UUID, notes string) (domain.MigrationJob, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	actor, ok := auth.ActorFromContext(ctx)
	if !ok || !actor.Can(auth.CapabilityApprover) {
		return domain.MigrationJob{}, fmt.Errorf("approve requires the approver capability: %w", ErrPermissionDenied)
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.MigrationJob{}, err
	}
	if notes != "" {
		job.AppendNote("approved: " + notes)
	}
	if err := s.transition(ctx, &job, domain.JobStatusApproved, actor.ID); err != nil {
		return domain.MigrationJob{}, err
	}
	return job, nil
}

// Reject declines a submitted job with a mandatory reason. The job
// moves to ERROR; the importer can fix its inputs and re-run the
// pipeline from there.
func (s *Service) Reject(ctx context.Context, jobID uuid.UUID, reason string) (domain.MigrationJob, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	actor, ok := auth.ActorFromContext(ctx)
	if !ok || !actor.Can(auth.CapabilityApprover) {
		return domain.MigrationJob{}, fmt.Errorf("reject requires the approver capability: %w", ErrPermissionDenied)
	}
	if reason == "" {
		return domain.MigrationJob{}, errors.New("reject requires a reason")
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.MigrationJob{}, err
	}
	if job.Status != domain.JobStatusAwaitingApproval {
		return domain.MigrationJob{}, &domain.InvalidTransitionError{From: job.Status, To: domain.JobStatusError}
	}

	job.AppendNote("rejected: " + reason)
	if err := s.transition(ctx, &job, domain.JobStatusError, actor.ID); err != nil {
		return domain.MigrationJob{}, err
	}
	return job, nil
}
