package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rpattn/tabimport/internal/config"
	"github.com/rpattn/tabimport/internal/domain"
)

func customersOf(n int) string {
	var b strings.Builder
	b.WriteString("name,email\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Person %d,person%d@example.com\n", i, i)
	}
	return b.String()
}

func TestCommitWritesManifestAndRollbackReversesIt(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	job := env.runToApproved(t, "customers", "customers.csv", customersOf(100))

	result, err := env.service.Commit(env.importerCtx(), job.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Created != 100 || result.Skipped != 0 {
		t.Fatalf("unexpected commit result: %+v", result)
	}
	if env.store.count("customers") != 100 {
		t.Fatalf("expected 100 records in the store, got %d", env.store.count("customers"))
	}

	committed := env.world.jobs[job.ID]
	if committed.Status != domain.JobStatusCommitted {
		t.Fatalf("expected COMMITTED, got %s", committed.Status)
	}
	if committed.CommittedAt == nil || committed.CommittedBy != "ingrid" {
		t.Fatalf("commit must be stamped: %+v", committed)
	}

	commitLog := env.world.commits[job.ID]
	if len(commitLog.Manifest) != 100 {
		t.Fatalf("manifest must list every created record, got %d", len(commitLog.Manifest))
	}
	for _, entry := range commitLog.Manifest {
		record, err := env.store.Get(env.importerCtx(), entry.Entity, entry.TargetID, env.tenant)
		if err != nil {
			t.Fatalf("manifest entry %s not resolvable: %v", entry.TargetID, err)
		}
		if record["tenant_id"] != env.tenant.String() {
			t.Fatalf("record must carry the job's tenant: %+v", record)
		}
		if record["import_job_id"] != job.ID.String() {
			t.Fatalf("record must reference its import job: %+v", record)
		}
		if record["created_by"] != "ingrid" {
			t.Fatalf("record must carry the committing actor: %+v", record)
		}
	}

	rollback, err := env.service.Rollback(env.approverCtx(), job.ID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rollback.Deleted != 100 || rollback.Missing != 0 {
		t.Fatalf("unexpected rollback result: %+v", rollback)
	}
	if env.store.count("customers") != 0 {
		t.Fatalf("rollback must delete every imported record, %d left", env.store.count("customers"))
	}
	if got := env.world.jobs[job.ID].Status; got != domain.JobStatusRolledBack {
		t.Fatalf("expected ROLLED_BACK, got %s", got)
	}

	// Second rollback is a no-op, not an error.
	again, err := env.service.Rollback(env.approverCtx(), job.ID)
	if err != nil {
		t.Fatalf("second rollback: %v", err)
	}
	if again.Deleted != 0 || again.Missing != 100 {
		t.Fatalf("second rollback must delete nothing: %+v", again)
	}
}

func TestCommitSkipsInvalidRows(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	csv := "name,email\nAda,ada@example.com\n,grace@example.com\nEdsger,edsger@example.com\n"
	job := env.runToApproved(t, "customers", "customers.csv", csv)

	result, err := env.service.Commit(env.importerCtx(), job.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Created != 2 || result.Skipped != 1 {
		t.Fatalf("unexpected commit result: %+v", result)
	}
	if len(env.world.commits[job.ID].Manifest) != 2 {
		t.Fatalf("manifest must only list created records")
	}
}

func TestCommitHookFailureRollsBackEverything(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	hook := &recordingHook{failAt: 5}
	env.hooks.Register("invoices", hook)

	var b strings.Builder
	b.WriteString("number,total\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "INV-%d,%d.00\n", i, 100+i)
	}
	job := env.runToApproved(t, "invoices", "invoices.csv", b.String())

	_, err := env.service.Commit(env.importerCtx(), job.ID)
	if err == nil {
		t.Fatalf("expected commit to fail on the last hook call")
	}
	if hook.calls != 5 {
		t.Fatalf("hook must have run for every record before failing, got %d calls", hook.calls)
	}
	if env.store.count("invoices") != 0 {
		t.Fatalf("a failed commit must persist nothing, %d records left", env.store.count("invoices"))
	}
	if _, ok := env.world.commits[job.ID]; ok {
		t.Fatalf("no commit log may survive a failed commit")
	}
	if got := env.world.jobs[job.ID].Status; got != domain.JobStatusError {
		t.Fatalf("expected ERROR after failed commit, got %s", got)
	}
}

func TestCommitRecordsHookSideEffects(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	hook := &recordingHook{}
	env.hooks.Register("invoices", hook)

	csv := "number,total\nINV-1,150.00\nINV-2,99.50\n"
	job := env.runToApproved(t, "invoices", "invoices.csv", csv)

	result, err := env.service.Commit(env.importerCtx(), job.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(result.SideEffects) != 2 {
		t.Fatalf("expected one side effect per record, got %d", len(result.SideEffects))
	}

	commitLog := env.world.commits[job.ID]
	if len(commitLog.SideEffects) != 2 {
		t.Fatalf("side effects must be recorded in the commit log, got %d", len(commitLog.SideEffects))
	}
	for _, effect := range commitLog.SideEffects {
		if effect.Type != "gl_voucher" || effect.Reference == "" {
			t.Fatalf("side effect must reference its voucher: %+v", effect)
		}
	}
}

func TestCommitRequiresImporter(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	job := env.runToApproved(t, "customers", "customers.csv", customersOf(1))

	if _, err := env.service.Commit(env.approverCtx(), job.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestRollbackWithoutCommitLog(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	job := env.runToApproved(t, "customers", "customers.csv", customersOf(1))

	if _, err := env.service.Commit(env.importerCtx(), job.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	delete(env.world.commits, job.ID)

	if _, err := env.service.Rollback(env.approverCtx(), job.ID); !errors.Is(err, ErrNoCommitLog) {
		t.Fatalf("expected ErrNoCommitLog, got %v", err)
	}
}

func TestFollowUpJobReferencesRolledBackParent(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	job := env.runToApproved(t, "customers", "customers.csv", customersOf(2))

	if _, err := env.service.Commit(env.importerCtx(), job.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A committed job cannot be superseded before rollback.
	if _, err := env.service.CreateFollowUpJob(env.importerCtx(), job.ID); err == nil {
		t.Fatalf("follow-up before rollback must fail")
	}

	if _, err := env.service.Rollback(env.approverCtx(), job.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	followUp, err := env.service.CreateFollowUpJob(env.importerCtx(), job.ID)
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	if followUp.RollbackParent == nil || *followUp.RollbackParent != job.ID {
		t.Fatalf("follow-up must reference its parent: %+v", followUp)
	}
	if followUp.TargetEntity != "customers" || followUp.TenantID != env.tenant {
		t.Fatalf("follow-up must inherit tenant and target: %+v", followUp)
	}
	if followUp.Status != domain.JobStatusUploaded {
		t.Fatalf("follow-up must start fresh, got %s", followUp.Status)
	}
}
