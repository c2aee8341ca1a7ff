package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/audit"
	"github.com/rpattn/tabimport/internal/auth"
	"github.com/rpattn/tabimport/internal/config"
	"github.com/rpattn/tabimport/internal/domain"
	"github.com/rpattn/tabimport/internal/metadata"
	"github.com/rpattn/tabimport/internal/recordstore"
	"github.com/rpattn/tabimport/internal/repository"
)

var (
	// ErrResolutionFailure is returned when no target entity could be
	// guessed and none was provided. The job stays in its current state.
	ErrResolutionFailure = errors.New("unable to resolve target entity")
	// ErrPermissionDenied is returned when the acting principal lacks
	// the capability an operation requires.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoCommitLog is returned when rollback is requested for a job
	// that never committed. Rejected before any deletion.
	ErrNoCommitLog = errors.New("job has no commit log")
	// ErrNoFiles is returned when detection runs on a job without any
	// attached source files.
	ErrNoFiles = errors.New("no source files attached")
	// ErrMappingsEdited is returned when mapping inference would
	// overwrite operator edits. Edited mappings stay authoritative
	// until the job's mapping set is discarded some other way.
	ErrMappingsEdited = errors.New("mappings carry operator edits")
)

// TxRunner runs a function inside one database transaction; every
// repository call within joins it. db.Connection satisfies this.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps bundles the collaborators the pipeline service depends on.
type Deps struct {
	Jobs       repository.JobRepository
	Files      repository.SourceFileRepository
	Profiles   repository.ColumnProfileRepository
	Mappings   repository.FieldMappingRepository
	Extensions repository.SchemaExtensionRepository
	Staging    repository.StagingRowRepository
	Errors     repository.ValidationErrorRepository
	Commits    repository.CommitLogRepository
	Store      recordstore.Store
	Metadata   metadata.Service
	Hooks      *HookRegistry
	Sinks      []audit.Sink
	Tx         TxRunner
}

// Service drives migration jobs through the staged pipeline. A single
// job's stage operations are serialized by a per-job lock; distinct
// jobs run concurrently.
type Service struct {
	cfg  config.PipelineConfig
	deps Deps

	locks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewService creates a pipeline service.
func NewService(cfg config.PipelineConfig, deps Deps) *Service {
	if deps.Hooks == nil {
		deps.Hooks = NewHookRegistry()
	}
	if cfg.StagingChunkSize <= 0 {
		cfg.StagingChunkSize = 500
	}
	return &Service{cfg: cfg, deps: deps}
}

// lockJob serializes stage operations per job id.
func (s *Service) lockJob(id uuid.UUID) func() {
	value, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// actorFrom resolves the acting principal, falling back to "system"
// for background invocations.
func actorFrom(ctx context.Context) auth.Actor {
	if actor, ok := auth.ActorFromContext(ctx); ok {
		return actor
	}
	return auth.Actor{ID: "system", Name: "system"}
}

// emit fans a pipeline event out to the audit and telemetry sinks.
// Sinks are best-effort: failures are logged and never block the
// transition that produced the event.
func (s *Service) emit(ctx context.Context, job domain.MigrationJob, eventType, actor string) {
	event := audit.Event{
		Type:     eventType,
		Actor:    actor,
		TenantID: job.TenantID,
		Payload: map[string]any{
			"job_id":        job.ID.String(),
			"status":        string(job.Status),
			"target_entity": job.TargetEntity,
		},
	}
	for _, sink := range s.deps.Sinks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Printf("event sink panicked on %s: %v", eventType, p)
				}
			}()
			if err := sink.Record(ctx, event); err != nil {
				log.Printf("event sink failed on %s: %v", eventType, err)
			}
		}()
	}
}

// transition moves the job to a new status, applies the status' side
// effects, persists the job, and emits one event. A guard violation
// leaves the job untouched.
func (s *Service) transition(ctx context.Context, job *domain.MigrationJob, to domain.JobStatus, actor string) error {
	if err := job.MarkStatus(to); err != nil {
		return err
	}

	now := time.Now()
	switch to {
	case domain.JobStatusAwaitingApproval:
		job.SubmittedAt = &now
	case domain.JobStatusApproved:
		job.ApprovedAt = &now
		job.ApprovedBy = actor
	case domain.JobStatusCommitted:
		job.CommittedAt = &now
		job.CommittedBy = actor
	}

	if err := s.deps.Jobs.Update(ctx, *job); err != nil {
		return fmt.Errorf("failed to persist job transition: %w", err)
	}

	s.emit(ctx, *job, "job."+strings.ToLower(string(to)), actor)
	return nil
}

// failJob records an operation failure: the error text goes to the
// note log and the job moves to ERROR.
func (s *Service) failJob(ctx context.Context, job *domain.MigrationJob, actor string, cause error) {
	job.AppendNote("error: " + cause.Error())
	if err := s.transition(ctx, job, domain.JobStatusError, actor); err != nil {
		log.Printf("failed to move job %s to ERROR: %v", job.ID, err)
	}
}

// CreateJob opens a new migration job in the UPLOADED state.
// targetEntity may be empty; detection will try to resolve it.
func (s *Service) CreateJob(ctx context.Context, tenantID uuid.UUID, targetEntity string) (domain.MigrationJob, error) {
	if err := auth.EnforceTenantScope(ctx, tenantID); err != nil {
		return domain.MigrationJob{}, err
	}

	job := domain.NewMigrationJob(tenantID, targetEntity)
	if err := s.deps.Jobs.Create(ctx, job); err != nil {
		return domain.MigrationJob{}, err
	}

	s.emit(ctx, job, "job.created", actorFrom(ctx).ID)
	return job, nil
}

// GetJob returns one job by id.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (domain.MigrationJob, error) {
	return s.deps.Jobs.Get(ctx, jobID)
}

// ListJobs returns a tenant's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, tenantID uuid.UUID) ([]domain.MigrationJob, error) {
	if err := auth.EnforceTenantScope(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.deps.Jobs.ListByTenant(ctx, tenantID)
}

// ListValidationErrors returns the current validation violations for a job.
func (s *Service) ListValidationErrors(ctx context.Context, jobID uuid.UUID) ([]domain.ValidationError, error) {
	return s.deps.Errors.ListByJob(ctx, jobID)
}

// ListMappings returns the current field mappings for a job.
func (s *Service) ListMappings(ctx context.Context, jobID uuid.UUID) ([]domain.FieldMapping, error) {
	return s.deps.Mappings.ListByJob(ctx, jobID)
}

// ListExtensions returns the schema extension proposals for a job.
func (s *Service) ListExtensions(ctx context.Context, jobID uuid.UUID) ([]domain.SchemaExtension, error) {
	return s.deps.Extensions.ListByJob(ctx, jobID)
}
