package pipeline

import (
	"errors"
	"testing"

	"github.com/rpattn/tabimport/internal/config"
	"github.com/rpattn/tabimport/internal/domain"
)

func TestApproveExtensionActivatesFieldVersion(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	job := env.runToValidated(t, "customers", "customers.csv", customersCSV)

	extension, err := env.service.ApproveExtension(env.approverCtx(), job.ID, "loyalty_tier")
	if err != nil {
		t.Fatalf("approve extension: %v", err)
	}
	if extension.Status != domain.ExtensionStatusApproved {
		t.Fatalf("expected approved, got %s", extension.Status)
	}
	if extension.DecidedAt == nil || extension.DecidedBy != "astrid" {
		t.Fatalf("decision must be stamped: %+v", extension)
	}

	var version *fieldVersion
	for id := range env.world.versions {
		v := env.world.versions[id]
		if v.key == "customers.loyalty_tier" {
			version = &v
		}
	}
	if version == nil {
		t.Fatalf("expected a field version customers.loyalty_tier, got %+v", env.world.versions)
	}
	if !version.active {
		t.Fatalf("approved extension must activate its field version")
	}
	if version.scope != env.tenant {
		t.Fatalf("field version must be tenant scoped, got %s", version.scope)
	}
	if version.definition.Layer != ExtensionLayer {
		t.Fatalf("unexpected layer: %s", version.definition.Layer)
	}

	// The decision is final.
	if _, err := env.service.ApproveExtension(env.approverCtx(), job.ID, "loyalty_tier"); err == nil {
		t.Fatalf("re-approving a decided extension must fail")
	}
}

func TestRejectExtensionLeavesExtraDataIntact(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	job := env.runToValidated(t, "customers", "customers.csv", customersCSV)

	extension, err := env.service.RejectExtension(env.approverCtx(), job.ID, "loyalty_tier", "not a durable field")
	if err != nil {
		t.Fatalf("reject extension: %v", err)
	}
	if extension.Status != domain.ExtensionStatusRejected {
		t.Fatalf("expected rejected, got %s", extension.Status)
	}
	if len(env.world.versions) != 0 {
		t.Fatalf("rejection must not create field versions")
	}

	// Staged rows keep their extra_data values regardless.
	for _, row := range env.world.staging[job.ID] {
		if row.Extra["loyalty_tier"] == nil {
			t.Fatalf("extra_data must survive rejection for row %d", row.RowIndex)
		}
	}
}

func TestExtensionDecisionsRequireApprover(t *testing.T) {
	env := newTestEnv(t, config.PipelineConfig{})
	job := env.runToValidated(t, "customers", "customers.csv", customersCSV)

	if _, err := env.service.ApproveExtension(env.importerCtx(), job.ID, "loyalty_tier"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := env.service.RejectExtension(env.importerCtx(), job.ID, "loyalty_tier", "nope"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}
