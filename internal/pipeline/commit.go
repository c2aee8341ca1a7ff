package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/auth"
	"github.com/rpattn/tabimport/internal/domain"
)

// CommitResult summarizes one committed import.
type CommitResult struct {
	Created     int                 `json:"created"`
	Skipped     int                 `json:"skipped"`
	SideEffects []domain.SideEffect `json:"side_effects,omitempty"`
}

// Commit writes every valid staging row into the record store inside
// one transaction, running post-commit hooks per created record and
// recording a commit log. Any failure, including a hook failure on the
// last row, rolls the whole transaction back and moves the job to
// ERROR: no partial imports exist. Commit normally requires an
// approved job; committing straight from VALIDATED is allowed only
// when explicitly configured.
func (s *Service) Commit(ctx context.Context, jobID uuid.UUID) (CommitResult, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	actor, ok := auth.ActorFromContext(ctx)
	if !ok || !actor.Can(auth.CapabilityImporter) {
		return CommitResult{}, fmt.Errorf("commit requires the importer capability: %w", ErrPermissionDenied)
	}

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return CommitResult{}, err
	}
	if job.Status == domain.JobStatusValidated && !s.cfg.AllowCommitFromValidated {
		return CommitResult{}, &domain.InvalidTransitionError{From: job.Status, To: domain.JobStatusCommitting}
	}
	if err := s.transition(ctx, &job, domain.JobStatusCommitting, actor.ID); err != nil {
		return CommitResult{}, err
	}

	result := CommitResult{}
	err = s.deps.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		rows, err := s.deps.Staging.ListByJob(txCtx, job.ID)
		if err != nil {
			return err
		}

		hook, hasHook := s.deps.Hooks.Lookup(job.TargetEntity)
		manifest := make([]domain.ManifestEntry, 0, len(rows))

		for _, row := range rows {
			if row.Status != domain.RowStatusValid {
				result.Skipped++
				continue
			}

			payload := row.CommitPayload()
			payload["tenant_id"] = job.TenantID.String()
			payload["import_job_id"] = job.ID.String()
			payload["created_by"] = actor.ID

			recordID, err := s.deps.Store.Create(txCtx, job.TargetEntity, job.TenantID, payload)
			if err != nil {
				return fmt.Errorf("row %d: %w", row.RowIndex, err)
			}
			manifest = append(manifest, domain.ManifestEntry{Entity: job.TargetEntity, TargetID: recordID})
			result.Created++

			if hasHook {
				effect, err := hook.AfterCreate(txCtx, job, recordID, payload)
				if err != nil {
					return fmt.Errorf("post-commit hook on row %d: %w", row.RowIndex, err)
				}
				if effect != nil {
					result.SideEffects = append(result.SideEffects, *effect)
				}
			}
		}

		return s.deps.Commits.Create(txCtx, domain.CommitLog{
			ID:          uuid.New(),
			JobID:       job.ID,
			CommittedBy: actor.ID,
			CommittedAt: time.Now(),
			Created:     result.Created,
			Skipped:     result.Skipped,
			Manifest:    manifest,
			SideEffects: result.SideEffects,
		})
	})
	if err != nil {
		s.failJob(ctx, &job, actor.ID, fmt.Errorf("commit failed: %w", err))
		return CommitResult{}, fmt.Errorf("commit failed: %w", err)
	}

	job.SetMetadata("commit", map[string]any{
		"created":      result.Created,
		"skipped":      result.Skipped,
		"side_effects": len(result.SideEffects),
	})
	if err := s.transition(ctx, &job, domain.JobStatusCommitted, actor.ID); err != nil {
		return CommitResult{}, err
	}

	return result, nil
}
