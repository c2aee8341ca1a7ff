package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/tabimport/internal/db"
	"github.com/rpattn/tabimport/internal/domain"
)

type commitLogRepository struct {
	pool *pgxpool.Pool
}

// NewCommitLogRepository wires a commit log repository backed by pgxpool.
func NewCommitLogRepository(pool *pgxpool.Pool) CommitLogRepository {
	return &commitLogRepository{pool: pool}
}

func (r *commitLogRepository) querier(ctx context.Context) db.Querier {
	return db.QuerierFromContext(ctx, r.pool)
}

func (r *commitLogRepository) Create(ctx context.Context, log domain.CommitLog) error {
	manifestJSON, err := json.Marshal(log.Manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal commit manifest: %w", err)
	}
	sideEffectsJSON, err := json.Marshal(sideEffectsOrEmpty(log.SideEffects))
	if err != nil {
		return fmt.Errorf("failed to marshal side effects: %w", err)
	}
	extra := log.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("failed to marshal commit extra metadata: %w", err)
	}

	_, err = r.querier(ctx).Exec(
		ctx,
		`INSERT INTO commit_logs (id, job_id, committed_by, committed_at, created_count, skipped_count, manifest, side_effects, extra)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID, log.JobID, log.CommittedBy, log.CommittedAt, log.Created, log.Skipped, manifestJSON, sideEffectsJSON, extraJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create commit log: %w", err)
	}
	return nil
}

func (r *commitLogRepository) GetByJob(ctx context.Context, jobID uuid.UUID) (domain.CommitLog, error) {
	var (
		log             domain.CommitLog
		manifestJSON    []byte
		sideEffectsJSON []byte
		extraJSON       []byte
	)
	err := r.querier(ctx).QueryRow(
		ctx,
		`SELECT id, job_id, committed_by, committed_at, created_count, skipped_count, manifest, side_effects, extra
		 FROM commit_logs WHERE job_id = $1`,
		jobID,
	).Scan(&log.ID, &log.JobID, &log.CommittedBy, &log.CommittedAt, &log.Created, &log.Skipped, &manifestJSON, &sideEffectsJSON, &extraJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CommitLog{}, fmt.Errorf("commit log for job %s: %w", jobID, ErrNotFound)
		}
		return domain.CommitLog{}, fmt.Errorf("failed to get commit log: %w", err)
	}

	if err := json.Unmarshal(manifestJSON, &log.Manifest); err != nil {
		return domain.CommitLog{}, fmt.Errorf("failed to unmarshal commit manifest: %w", err)
	}
	if err := json.Unmarshal(sideEffectsJSON, &log.SideEffects); err != nil {
		return domain.CommitLog{}, fmt.Errorf("failed to unmarshal side effects: %w", err)
	}
	if err := json.Unmarshal(extraJSON, &log.Extra); err != nil {
		return domain.CommitLog{}, fmt.Errorf("failed to unmarshal commit extra metadata: %w", err)
	}
	return log, nil
}

func sideEffectsOrEmpty(effects []domain.SideEffect) []domain.SideEffect {
	if effects == nil {
		return []domain.SideEffect{}
	}
	return effects
}
