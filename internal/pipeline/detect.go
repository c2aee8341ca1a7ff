package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/domain"
	"github.com/rpattn/tabimport/internal/tabular"
)

// systemFields never participate in entity resolution, mapping
// inference, or uniqueness checks. They are populated by the store,
// not by imported data.
var systemFields = map[string]struct{}{
	"id":         {},
	"tenant_id":  {},
	"created_at": {},
	"updated_at": {},
	"created_by": {},
}

// DetectResult summarizes one detection run.
type DetectResult struct {
	TargetEntity string `json:"target_entity"`
	Files        int    `json:"files"`
	Rows         int    `json:"rows"`
	Columns      int    `json:"columns"`
}

// Detect parses every attached file, profiles the combined columns and
// resolves the target entity when none was provided. Profiles are
// replaced wholesale; re-running detection is safe.
func (s *Service) Detect(ctx context.Context, jobID uuid.UUID) (DetectResult, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return DetectResult{}, err
	}
	if !domain.CanTransition(job.Status, domain.JobStatusDetected) {
		return DetectResult{}, &domain.InvalidTransitionError{From: job.Status, To: domain.JobStatusDetected}
	}

	actor := actorFrom(ctx).ID

	set, files, err := s.loadRowSet(ctx, &job, actor)
	if err != nil {
		return DetectResult{}, err
	}

	profiles := tabular.ProfileColumns(set)
	columnProfiles := make([]domain.ColumnProfile, 0, len(profiles))
	for _, p := range profiles {
		columnProfiles = append(columnProfiles, domain.ColumnProfile{
			ID:           uuid.New(),
			JobID:        job.ID,
			SourceColumn: p.Column.Label,
			FieldName:    p.Column.Name,
			DetectedType: p.Type,
			SampleValues: p.Samples,
			NullCount:    p.NullCount,
			UniqueCount:  p.UniqueCount,
			Confidence:   p.Confidence,
			CreatedAt:    time.Now(),
		})
	}

	if job.TargetEntity == "" {
		entity, err := s.resolveEntity(ctx, set.Columns)
		if err != nil {
			// Resolution failure is not a job failure: the caller can
			// set the target entity and re-run detection.
			return DetectResult{}, err
		}
		job.TargetEntity = entity
		job.AppendNote("resolved target entity " + entity)
	}

	err = s.deps.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.deps.Profiles.ReplaceForJob(txCtx, job.ID, columnProfiles); err != nil {
			return err
		}
		job.SetMetadata("detection", map[string]any{
			"files":   len(files),
			"rows":    len(set.Rows),
			"columns": len(set.Columns),
		})
		return s.transition(txCtx, &job, domain.JobStatusDetected, actor)
	})
	if err != nil {
		s.failJob(ctx, &job, actor, err)
		return DetectResult{}, fmt.Errorf("detection failed: %w", err)
	}

	return DetectResult{
		TargetEntity: job.TargetEntity,
		Files:        len(files),
		Rows:         len(set.Rows),
		Columns:      len(set.Columns),
	}, nil
}

// loadRowSet parses every attached file and combines them into one row
// set with a continuous global index. A parse failure is recorded on
// the file and fails the job.
func (s *Service) loadRowSet(ctx context.Context, job *domain.MigrationJob, actor string) (tabular.RowSet, []domain.SourceFile, error) {
	files, err := s.deps.Files.ListByJob(ctx, job.ID)
	if err != nil {
		return tabular.RowSet{}, nil, err
	}
	if len(files) == 0 {
		return tabular.RowSet{}, nil, ErrNoFiles
	}

	tables := make([]tabular.Table, 0, len(files))
	for i, file := range files {
		table, err := tabular.Parse(file.FileName, file.Content)
		if err != nil {
			file.ParseStatus = domain.ParseStatusFailed
			if updateErr := s.deps.Files.Update(ctx, file); updateErr != nil {
				return tabular.RowSet{}, nil, updateErr
			}
			s.failJob(ctx, job, actor, fmt.Errorf("failed to parse %s: %w", file.FileName, err))
			return tabular.RowSet{}, nil, fmt.Errorf("failed to parse %s: %w", file.FileName, err)
		}

		file.ParseStatus = domain.ParseStatusParsed
		file.RowCount = len(table.Rows)
		if err := s.deps.Files.Update(ctx, file); err != nil {
			return tabular.RowSet{}, nil, err
		}
		files[i] = file
		tables = append(tables, table)
	}

	return tabular.Combine(tables), files, nil
}

// resolveEntity guesses the target entity by scoring the overlap of
// normalized column names against each known entity type's non-system
// fields. Ties resolve to the first candidate in catalog order.
func (s *Service) resolveEntity(ctx context.Context, columns []tabular.Column) (string, error) {
	entityTypes, err := s.deps.Store.EntityTypes(ctx)
	if err != nil {
		return "", err
	}

	names := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		names[col.Name] = struct{}{}
	}

	best := ""
	bestScore := 0.0
	for _, entityType := range entityTypes {
		fields, err := s.deps.Store.Fields(ctx, entityType)
		if err != nil {
			return "", err
		}
		candidates := 0
		overlap := 0
		for _, field := range fields {
			if _, system := systemFields[field.Name]; system {
				continue
			}
			candidates++
			if _, ok := names[field.Name]; ok {
				overlap++
			}
		}
		if candidates == 0 {
			candidates = 1
		}
		// Overlap is weighed against the candidate's field count so a
		// wide entity does not win on sheer surface.
		score := float64(overlap) / float64(candidates)
		if score > bestScore {
			best = entityType
			bestScore = score
		}
	}

	if bestScore == 0 {
		return "", ErrResolutionFailure
	}
	return best, nil
}
