package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/auth"
	"github.com/rpattn/tabimport/internal/domain"
	"github.com/rpattn/tabimport/internal/repository"
)

// RollbackResult summarizes one rollback run.
type RollbackResult struct {
	Deleted int `json:"deleted"`
	Missing int `json:"missing"`
}

// Rollback deletes every record named in the job's commit manifest,
// tenant-scoped. Records already gone are skipped and counted, so
// rollback is idempotent: a second run deletes nothing and succeeds.
// Side effects such as posted GL vouchers are never reversed; their
// references stay in the commit log for manual reversal.
func (s *Service) Rollback(ctx context.Context, jobID uuid.UUID) (RollbackResult, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	actor, ok := auth.ActorFromContext(ctx)
	if !ok || !actor.Can(auth.CapabilityApprover) {
		return RollbackResult{}, fmt.Errorf("rollback requires the approver capability: %w", ErrPermissionDenied)
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return RollbackResult{}, err
	}
	if !domain.CanTransition(job.Status, domain.JobStatusRolledBack) {
		return RollbackResult{}, &domain.InvalidTransitionError{From: job.Status, To: domain.JobStatusRolledBack}
	}

	commitLog, err := s.deps.Commits.GetByJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RollbackResult{}, fmt.Errorf("job %s: %w", jobID, ErrNoCommitLog)
		}
		return RollbackResult{}, err
	}

	result := RollbackResult{}
	err = s.deps.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		for _, entry := range commitLog.Manifest {
			deleted, err := s.deps.Store.Delete(txCtx, entry.Entity, entry.TargetID, job.TenantID)
			if err != nil {
				return fmt.Errorf("failed to delete %s %s: %w", entry.Entity, entry.TargetID, err)
			}
			if deleted {
				result.Deleted++
			} else {
				result.Missing++
			}
		}

		job.AppendNote(fmt.Sprintf("rollback: deleted %d of %d records", result.Deleted, len(commitLog.Manifest)))
		return s.transition(txCtx, &job, domain.JobStatusRolledBack, actor.ID)
	})
	if err != nil {
		return RollbackResult{}, fmt.Errorf("rollback failed: %w", err)
	}

	return result, nil
}

// CreateFollowUpJob opens a fresh job superseding a rolled back one,
// inheriting its tenant and target entity and referencing it as the
// rollback parent.
func (s *Service) CreateFollowUpJob(ctx context.Context, parentID uuid.UUID) (domain.MigrationJob, error) {
	parent, err := s.deps.Jobs.Get(ctx, parentID)
	if err != nil {
		return domain.MigrationJob{}, err
	}
	if parent.Status != domain.JobStatusRolledBack {
		return domain.MigrationJob{}, fmt.Errorf("job %s is %s: only rolled back jobs can be superseded", parentID, parent.Status)
	}
	if err := auth.EnforceTenantScope(ctx, parent.TenantID); err != nil {
		return domain.MigrationJob{}, err
	}

	job := domain.NewMigrationJob(parent.TenantID, parent.TargetEntity)
	job.RollbackParent = &parent.ID
	if err := s.deps.Jobs.Create(ctx, job); err != nil {
		return domain.MigrationJob{}, err
	}

	s.emit(ctx, job, "job.created", actorFrom(ctx).ID)
	return job, nil
}
