package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMarkStatusFollowsForwardOrder(t *testing.T) {
	job := NewMigrationJob(uuid.New(), "customer")

	forward := []JobStatus{
		JobStatusDetected,
		JobStatusMapped,
		JobStatusValidated,
		JobStatusAwaitingApproval,
		JobStatusApproved,
		JobStatusCommitting,
		JobStatusCommitted,
		JobStatusRolledBack,
	}

	for _, status := range forward {
		if err := job.MarkStatus(status); err != nil {
			t.Fatalf("transition to %s returned error: %v", status, err)
		}
		if job.Status != status {
			t.Fatalf("expected status %s, got %s", status, job.Status)
		}
	}
}

func TestMarkStatusRejectsSkippedApproval(t *testing.T) {
	job := NewMigrationJob(uuid.New(), "customer")
	job.Status = JobStatusAwaitingApproval

	err := job.MarkStatus(JobStatusCommitting)
	if err == nil {
		t.Fatalf("expected guard violation committing from AWAITING_APPROVAL")
	}

	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if invalid.From != JobStatusAwaitingApproval || invalid.To != JobStatusCommitting {
		t.Fatalf("unexpected error detail: %+v", invalid)
	}
	if job.Status != JobStatusAwaitingApproval {
		t.Fatalf("job mutated on rejected transition: %s", job.Status)
	}
}

func TestMarkStatusErrorReachableBeforeCommit(t *testing.T) {
	for _, from := range []JobStatus{
		JobStatusUploaded,
		JobStatusDetected,
		JobStatusMapped,
		JobStatusValidated,
		JobStatusAwaitingApproval,
		JobStatusApproved,
		JobStatusCommitting,
	} {
		if !CanTransition(from, JobStatusError) {
			t.Fatalf("expected ERROR reachable from %s", from)
		}
	}

	for _, from := range []JobStatus{JobStatusCommitted, JobStatusRolledBack} {
		if CanTransition(from, JobStatusError) {
			t.Fatalf("ERROR must not be reachable from %s", from)
		}
	}
}

func TestMarkStatusStagesRerunnableFromError(t *testing.T) {
	for _, to := range []JobStatus{JobStatusDetected, JobStatusMapped, JobStatusValidated} {
		if !CanTransition(JobStatusError, to) {
			t.Fatalf("expected %s re-runnable from ERROR", to)
		}
	}
	if CanTransition(JobStatusError, JobStatusCommitted) {
		t.Fatalf("COMMITTED must not be reachable from ERROR")
	}
}

func TestRollbackIsIdempotentTerminal(t *testing.T) {
	if !CanTransition(JobStatusRolledBack, JobStatusRolledBack) {
		t.Fatalf("repeat rollback should be allowed as a no-op")
	}
	if CanTransition(JobStatusRolledBack, JobStatusDetected) {
		t.Fatalf("ROLLED_BACK must be terminal")
	}
}
