package pipeline

import (
	"fmt"
	"testing"

	"github.com/rpattn/tabimport/internal/config"
	"github.com/rpattn/tabimport/internal/domain"
)

func TestValidateFlagsMissingRequiredField(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	csv := "name,email\nAda,ada@example.com\n,grace@example.com\n"
	job := env.runToValidated(t, "customers", "customers.csv", csv)

	metadata, ok := job.Metadata["validation"].(map[string]any)
	if !ok {
		t.Fatalf("expected validation summary in job metadata: %+v", job.Metadata)
	}
	if metadata["valid"] != 1 || metadata["invalid"] != 1 {
		t.Fatalf("unexpected validation metadata: %+v", metadata)
	}

	violations := env.world.verrors[job.ID]
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	if violations[0].Code != domain.ErrCodeRequiredMissing || violations[0].Severity != domain.SeverityHard {
		t.Fatalf("unexpected violation: %+v", violations[0])
	}

	rows := env.world.staging[job.ID]
	if rows[0].Status != domain.RowStatusValid {
		t.Fatalf("row 0 must be valid, got %s", rows[0].Status)
	}
	if rows[1].Status != domain.RowStatusInvalid {
		t.Fatalf("row 1 must be invalid, got %s", rows[1].Status)
	}
}

func TestValidateKeepsFirstRowOfDuplicateSetCanonical(t *testing.T) {
	// Two rows share the email, one differs. Whatever the order, the
	// earlier of the colliding pair stays canonical and exactly one
	// row is flagged.
	duplicate := "dup@example.com"
	other := "other@example.com"
	layouts := [][]string{
		{duplicate, other, duplicate},
		{duplicate, duplicate, other},
		{other, duplicate, duplicate},
	}

	for caseIndex, emails := range layouts {
		t.Run(fmt.Sprintf("permutation_%d", caseIndex), func(t *testing.T) {
			env := newTestEnv(t, config.PipelineConfig{})
			csv := "name,email\n"
			for i, email := range emails {
				csv += fmt.Sprintf("Person %d,%s\n", i, email)
			}
			job := env.runToValidated(t, "customers", "customers.csv", csv)

			var flagged []int
			for _, row := range env.world.staging[job.ID] {
				for _, code := range row.ErrorCodes {
					if code == domain.ErrCodeDuplicateRow {
						flagged = append(flagged, row.RowIndex)
					}
				}
			}
			if len(flagged) != 1 {
				t.Fatalf("exactly one row must be flagged, got %v", flagged)
			}

			// The flagged row must be the later of the two sharing the value.
			first := -1
			for i, email := range emails {
				if email == duplicate {
					first = i
					break
				}
			}
			if flagged[0] == first {
				t.Fatalf("canonical (first) row %d must not be flagged", first)
			}
		})
	}
}

func TestValidateExemptsNullValuesFromUniqueness(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	csv := "name,email\nAda,\nGrace,\n"
	job := env.runToValidated(t, "customers", "customers.csv", csv)

	if len(env.world.verrors[job.ID]) != 0 {
		t.Fatalf("null emails must not collide: %+v", env.world.verrors[job.ID])
	}
	for _, row := range env.world.staging[job.ID] {
		if row.Status != domain.RowStatusValid {
			t.Fatalf("row %d must be valid, got %s", row.RowIndex, row.Status)
		}
	}
}

func TestRevalidationReplacesViolations(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	csv := "name,email\n,ada@example.com\n"
	job := env.runToValidated(t, "customers", "customers.csv", csv)

	if _, err := env.service.Validate(env.importerCtx(), job.ID); err != nil {
		t.Fatalf("second validation run: %v", err)
	}

	violations := env.world.verrors[job.ID]
	if len(violations) != 1 {
		t.Fatalf("violations must be replaced, not appended: got %d", len(violations))
	}
}
