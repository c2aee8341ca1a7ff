package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/domain"
	"github.com/rpattn/tabimport/internal/tabular"
)

// StageResult summarizes one staging run.
type StageResult struct {
	Rows   int `json:"rows"`
	Chunks int `json:"chunks"`
}

// Stage normalizes the combined row set into staging rows, applying
// the job's mappings: existing_column values land in the row's fields,
// new_field values in its extra_data bag, ignored columns are dropped.
// Prior staging rows for the job are deleted first, so re-staging is
// idempotent. Rows are written in fixed-size chunks.
func (s *Service) Stage(ctx context.Context, jobID uuid.UUID) (StageResult, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return StageResult{}, err
	}
	if !domain.CanTransition(job.Status, domain.JobStatusMapped) {
		return StageResult{}, &domain.InvalidTransitionError{From: job.Status, To: domain.JobStatusMapped}
	}

	mappings, err := s.deps.Mappings.ListByJob(ctx, jobID)
	if err != nil {
		return StageResult{}, err
	}
	if len(mappings) == 0 {
		return StageResult{}, errors.New("no field mappings: run mapping inference first")
	}
	byColumn := make(map[string]domain.FieldMapping, len(mappings))
	for _, mapping := range mappings {
		byColumn[mapping.SourceColumn] = mapping
	}

	actor := actorFrom(ctx).ID

	set, _, err := s.loadRowSet(ctx, &job, actor)
	if err != nil {
		return StageResult{}, err
	}

	chunks := set.Chunks(s.cfg.StagingChunkSize)
	err = s.deps.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.deps.Staging.DeleteForJob(txCtx, job.ID); err != nil {
			return err
		}

		for _, chunk := range chunks {
			staged := make([]domain.StagingRow, 0, len(chunk))
			for _, row := range chunk {
				staged = append(staged, buildStagingRow(job.ID, row, set.Columns, byColumn))
			}
			if err := s.deps.Staging.BulkInsert(txCtx, staged); err != nil {
				return err
			}
		}

		job.SetMetadata("staging", map[string]any{
			"rows":   len(set.Rows),
			"chunks": len(chunks),
		})
		// Re-staging invalidates any prior validation run.
		return s.transition(txCtx, &job, domain.JobStatusMapped, actor)
	})
	if err != nil {
		s.failJob(ctx, &job, actor, err)
		return StageResult{}, fmt.Errorf("staging failed: %w", err)
	}

	return StageResult{Rows: len(set.Rows), Chunks: len(chunks)}, nil
}

// buildStagingRow routes one source row's cells through the mapping
// decisions. Cell values are cleaned before storage: trimmed, with
// empties becoming explicit nulls. A row whose mapped cells are all
// null is staged as skipped and takes no further part in validation
// or commit.
func buildStagingRow(jobID uuid.UUID, row tabular.Row, columns []tabular.Column, byColumn map[string]domain.FieldMapping) domain.StagingRow {
	fields := make(map[string]any)
	extra := make(map[string]any)

	for _, col := range columns {
		mapping, ok := byColumn[col.Label]
		if !ok || mapping.StorageMode == domain.StorageModeIgnore {
			continue
		}

		value := domain.CleanValue(row.Values[col.Name])
		switch mapping.StorageMode {
		case domain.StorageModeExistingColumn:
			fields[mapping.TargetField] = value
		case domain.StorageModeNewField:
			extra[mapping.TargetField] = value
		}
	}

	staged := domain.NewStagingRow(jobID, row.SourceFile, row.Index, fields, extra)
	if payloadEmpty(fields, extra) {
		staged.Status = domain.RowStatusSkipped
	}
	return staged
}

// payloadEmpty reports whether no mapped cell carried a value.
func payloadEmpty(fields, extra map[string]any) bool {
	for _, value := range fields {
		if value != nil {
			return false
		}
	}
	for _, value := range extra {
		if value != nil {
			return false
		}
	}
	return true
}
