package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/domain"
)

// ValidationSummary counts the outcome of one validation run.
type ValidationSummary struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Validate checks every staging row against the target entity's
// schema: required fields must carry values, and unique groups must
// not repeat within the job. Duplicates keep the first (lowest-index)
// row as canonical. Violations are replaced wholesale and each row's
// status is updated; re-running validation is idempotent.
func (s *Service) Validate(ctx context.Context, jobID uuid.UUID) (ValidationSummary, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return ValidationSummary{}, err
	}
	if !domain.CanTransition(job.Status, domain.JobStatusValidated) {
		return ValidationSummary{}, &domain.InvalidTransitionError{From: job.Status, To: domain.JobStatusValidated}
	}

	rows, err := s.deps.Staging.ListByJob(ctx, jobID)
	if err != nil {
		return ValidationSummary{}, err
	}
	if len(rows) == 0 {
		return ValidationSummary{}, errors.New("no staging rows: run staging first")
	}

	required, groups, err := s.validationRules(ctx, job.TargetEntity)
	if err != nil {
		return ValidationSummary{}, err
	}

	summary := ValidationSummary{}
	violations := []domain.ValidationError{}
	type rowOutcome struct {
		id     uuid.UUID
		status domain.RowStatus
		codes  []string
	}
	outcomes := make([]rowOutcome, 0, len(rows))
	seen := make(map[string]struct{})

	// Rows arrive ordered by global index, so the first row of a
	// duplicate group is always the canonical one regardless of how
	// files were combined.
	for _, row := range rows {
		if row.Status == domain.RowStatusSkipped {
			summary.Skipped++
			continue
		}

		var codes []string

		for _, field := range required {
			if value, ok := row.Fields[field]; !ok || value == nil {
				codes = append(codes, domain.ErrCodeRequiredMissing)
				rowID := row.ID
				violations = append(violations, domain.ValidationError{
					ID:           uuid.New(),
					JobID:        job.ID,
					StagingRowID: &rowID,
					Code:         domain.ErrCodeRequiredMissing,
					Message:      fmt.Sprintf("required field %q is empty (row %d)", field, row.RowIndex),
					Severity:     domain.SeverityHard,
					CreatedAt:    time.Now(),
				})
			}
		}

		for _, group := range groups {
			key, complete := groupKey(group, row.Fields)
			if !complete {
				// Null members exempt a row from uniqueness.
				continue
			}
			if _, dup := seen[key]; dup {
				codes = append(codes, domain.ErrCodeDuplicateRow)
				rowID := row.ID
				violations = append(violations, domain.ValidationError{
					ID:           uuid.New(),
					JobID:        job.ID,
					StagingRowID: &rowID,
					Code:         domain.ErrCodeDuplicateRow,
					Message:      fmt.Sprintf("row %d duplicates an earlier row on (%s)", row.RowIndex, strings.Join(group, ", ")),
					Severity:     domain.SeverityHard,
					CreatedAt:    time.Now(),
				})
				continue
			}
			seen[key] = struct{}{}
		}

		outcome := rowOutcome{id: row.ID, status: domain.RowStatusValid}
		if len(codes) > 0 {
			outcome.status = domain.RowStatusInvalid
			outcome.codes = codes
			summary.Invalid++
		} else {
			summary.Valid++
		}
		outcomes = append(outcomes, outcome)
	}
	summary.Errors = len(violations)

	actor := actorFrom(ctx).ID
	err = s.deps.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.deps.Errors.ReplaceForJob(txCtx, job.ID, violations); err != nil {
			return err
		}
		for _, outcome := range outcomes {
			if err := s.deps.Staging.UpdateStatus(txCtx, outcome.id, outcome.status, outcome.codes); err != nil {
				return err
			}
		}
		job.SetMetadata("validation", map[string]any{
			"valid":   summary.Valid,
			"invalid": summary.Invalid,
			"skipped": summary.Skipped,
			"errors":  summary.Errors,
		})
		return s.transition(txCtx, &job, domain.JobStatusValidated, actor)
	})
	if err != nil {
		s.failJob(ctx, &job, actor, err)
		return ValidationSummary{}, fmt.Errorf("validation failed: %w", err)
	}

	return summary, nil
}

// validationRules derives the required fields and unique groups from
// the store's schema introspection, excluding system fields from both.
func (s *Service) validationRules(ctx context.Context, entityType string) ([]string, [][]string, error) {
	fields, err := s.deps.Store.Fields(ctx, entityType)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to introspect %s: %w", entityType, err)
	}

	var required []string
	for _, field := range fields {
		if _, system := systemFields[field.Name]; system {
			continue
		}
		if field.Required() {
			required = append(required, field.Name)
		}
	}
	sort.Strings(required)

	rawGroups, err := s.deps.Store.UniqueGroups(ctx, entityType)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load unique groups for %s: %w", entityType, err)
	}

	var groups [][]string
	for _, group := range rawGroups {
		system := false
		for _, member := range group {
			if _, ok := systemFields[member]; ok {
				system = true
				break
			}
		}
		if !system && len(group) > 0 {
			groups = append(groups, group)
		}
	}

	return required, groups, nil
}

// groupKey builds a uniqueness key for one group over a row's fields.
// complete is false when any member is null or missing.
func groupKey(group []string, fields map[string]any) (string, bool) {
	parts := make([]string, 0, len(group)+1)
	parts = append(parts, strings.Join(group, ","))
	for _, member := range group {
		value, ok := fields[member]
		if !ok || value == nil {
			return "", false
		}
		parts = append(parts, fmt.Sprintf("%v", value))
	}
	return strings.Join(parts, "\x1f"), true
}
