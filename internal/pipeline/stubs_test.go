package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/audit"
	"github.com/rpattn/tabimport/internal/auth"
	"github.com/rpattn/tabimport/internal/config"
	"github.com/rpattn/tabimport/internal/domain"
	"github.com/rpattn/tabimport/internal/recordstore"
	"github.com/rpattn/tabimport/internal/repository"
)

// world is the shared in-memory backing store for the repository
// stubs. The fake transaction runner snapshots and restores it to
// mimic rollback-on-error.
type world struct {
	jobs       map[uuid.UUID]domain.MigrationJob
	files      map[uuid.UUID][]domain.SourceFile
	profiles   map[uuid.UUID][]domain.ColumnProfile
	mappings   map[uuid.UUID][]domain.FieldMapping
	extensions map[uuid.UUID][]domain.SchemaExtension
	staging    map[uuid.UUID][]domain.StagingRow
	verrors    map[uuid.UUID][]domain.ValidationError
	commits    map[uuid.UUID]domain.CommitLog
	versions   map[uuid.UUID]fieldVersion
}

type fieldVersion struct {
	key        string
	definition domain.NewFieldDefinition
	scope      uuid.UUID
	active     bool
}

func newWorld() *world {
	return &world{
		jobs:       map[uuid.UUID]domain.MigrationJob{},
		files:      map[uuid.UUID][]domain.SourceFile{},
		profiles:   map[uuid.UUID][]domain.ColumnProfile{},
		mappings:   map[uuid.UUID][]domain.FieldMapping{},
		extensions: map[uuid.UUID][]domain.SchemaExtension{},
		staging:    map[uuid.UUID][]domain.StagingRow{},
		verrors:    map[uuid.UUID][]domain.ValidationError{},
		commits:    map[uuid.UUID]domain.CommitLog{},
		versions:   map[uuid.UUID]fieldVersion{},
	}
}

func copySliceMap[T any](m map[uuid.UUID][]T) map[uuid.UUID][]T {
	out := make(map[uuid.UUID][]T, len(m))
	for k, v := range m {
		out[k] = append([]T(nil), v...)
	}
	return out
}

func copyMap[V any](m map[uuid.UUID]V) map[uuid.UUID]V {
	out := make(map[uuid.UUID]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (w *world) snapshot() *world {
	return &world{
		jobs:       copyMap(w.jobs),
		files:      copySliceMap(w.files),
		profiles:   copySliceMap(w.profiles),
		mappings:   copySliceMap(w.mappings),
		extensions: copySliceMap(w.extensions),
		staging:    copySliceMap(w.staging),
		verrors:    copySliceMap(w.verrors),
		commits:    copyMap(w.commits),
		versions:   copyMap(w.versions),
	}
}

func (w *world) restore(snap *world) {
	w.jobs = snap.jobs
	w.files = snap.files
	w.profiles = snap.profiles
	w.mappings = snap.mappings
	w.extensions = snap.extensions
	w.staging = snap.staging
	w.verrors = snap.verrors
	w.commits = snap.commits
	w.versions = snap.versions
}

type stubJobRepo struct{ w *world }

func (r *stubJobRepo) Create(_ context.Context, job domain.MigrationJob) error {
	r.w.jobs[job.ID] = job
	return nil
}

func (r *stubJobRepo) Get(_ context.Context, id uuid.UUID) (domain.MigrationJob, error) {
	job, ok := r.w.jobs[id]
	if !ok {
		return domain.MigrationJob{}, fmt.Errorf("job %s: %w", id, repository.ErrNotFound)
	}
	return job, nil
}

func (r *stubJobRepo) Update(_ context.Context, job domain.MigrationJob) error {
	if _, ok := r.w.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, repository.ErrNotFound)
	}
	r.w.jobs[job.ID] = job
	return nil
}

func (r *stubJobRepo) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]domain.MigrationJob, error) {
	var jobs []domain.MigrationJob
	for _, job := range r.w.jobs {
		if job.TenantID == tenantID {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

type stubFileRepo struct{ w *world }

func (r *stubFileRepo) Create(_ context.Context, file domain.SourceFile) error {
	r.w.files[file.JobID] = append(r.w.files[file.JobID], file)
	return nil
}

func (r *stubFileRepo) Update(_ context.Context, file domain.SourceFile) error {
	files := r.w.files[file.JobID]
	for i := range files {
		if files[i].ID == file.ID {
			files[i] = file
			return nil
		}
	}
	return fmt.Errorf("file %s: %w", file.ID, repository.ErrNotFound)
}

func (r *stubFileRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]domain.SourceFile, error) {
	return append([]domain.SourceFile(nil), r.w.files[jobID]...), nil
}

type stubProfileRepo struct{ w *world }

func (r *stubProfileRepo) ReplaceForJob(_ context.Context, jobID uuid.UUID, profiles []domain.ColumnProfile) error {
	r.w.profiles[jobID] = append([]domain.ColumnProfile(nil), profiles...)
	return nil
}

func (r *stubProfileRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]domain.ColumnProfile, error) {
	return append([]domain.ColumnProfile(nil), r.w.profiles[jobID]...), nil
}

type stubMappingRepo struct{ w *world }

func (r *stubMappingRepo) ReplaceForJob(_ context.Context, jobID uuid.UUID, mappings []domain.FieldMapping) error {
	r.w.mappings[jobID] = append([]domain.FieldMapping(nil), mappings...)
	return nil
}

func (r *stubMappingRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]domain.FieldMapping, error) {
	return append([]domain.FieldMapping(nil), r.w.mappings[jobID]...), nil
}

func (r *stubMappingRepo) GetByColumn(_ context.Context, jobID uuid.UUID, sourceColumn string) (domain.FieldMapping, error) {
	for _, mapping := range r.w.mappings[jobID] {
		if mapping.SourceColumn == sourceColumn {
			return mapping, nil
		}
	}
	return domain.FieldMapping{}, fmt.Errorf("mapping %s: %w", sourceColumn, repository.ErrNotFound)
}

func (r *stubMappingRepo) Update(_ context.Context, mapping domain.FieldMapping) error {
	mappings := r.w.mappings[mapping.JobID]
	for i := range mappings {
		if mappings[i].ID == mapping.ID {
			mappings[i] = mapping
			return nil
		}
	}
	return fmt.Errorf("mapping %s: %w", mapping.ID, repository.ErrNotFound)
}

type stubExtensionRepo struct{ w *world }

func (r *stubExtensionRepo) ReplaceForJob(_ context.Context, jobID uuid.UUID, extensions []domain.SchemaExtension) error {
	r.w.extensions[jobID] = append([]domain.SchemaExtension(nil), extensions...)
	return nil
}

func (r *stubExtensionRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]domain.SchemaExtension, error) {
	return append([]domain.SchemaExtension(nil), r.w.extensions[jobID]...), nil
}

func (r *stubExtensionRepo) GetByField(_ context.Context, jobID uuid.UUID, fieldName string) (domain.SchemaExtension, error) {
	for _, extension := range r.w.extensions[jobID] {
		if extension.FieldName == fieldName {
			return extension, nil
		}
	}
	return domain.SchemaExtension{}, fmt.Errorf("extension %s: %w", fieldName, repository.ErrNotFound)
}

func (r *stubExtensionRepo) Update(_ context.Context, extension domain.SchemaExtension) error {
	extensions := r.w.extensions[extension.JobID]
	for i := range extensions {
		if extensions[i].ID == extension.ID {
			extensions[i] = extension
			return nil
		}
	}
	return fmt.Errorf("extension %s: %w", extension.ID, repository.ErrNotFound)
}

type stubStagingRepo struct{ w *world }

func (r *stubStagingRepo) DeleteForJob(_ context.Context, jobID uuid.UUID) error {
	delete(r.w.staging, jobID)
	return nil
}

func (r *stubStagingRepo) BulkInsert(_ context.Context, rows []domain.StagingRow) error {
	for _, row := range rows {
		r.w.staging[row.JobID] = append(r.w.staging[row.JobID], row)
	}
	return nil
}

func (r *stubStagingRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]domain.StagingRow, error) {
	return append([]domain.StagingRow(nil), r.w.staging[jobID]...), nil
}

func (r *stubStagingRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.RowStatus, errorCodes []string) error {
	for jobID, rows := range r.w.staging {
		for i := range rows {
			if rows[i].ID == id {
				rows[i].Status = status
				rows[i].ErrorCodes = errorCodes
				r.w.staging[jobID] = rows
				return nil
			}
		}
	}
	return fmt.Errorf("staging row %s: %w", id, repository.ErrNotFound)
}

type stubErrorRepo struct{ w *world }

func (r *stubErrorRepo) ReplaceForJob(_ context.Context, jobID uuid.UUID, errs []domain.ValidationError) error {
	r.w.verrors[jobID] = append([]domain.ValidationError(nil), errs...)
	return nil
}

func (r *stubErrorRepo) ListByJob(_ context.Context, jobID uuid.UUID) ([]domain.ValidationError, error) {
	return append([]domain.ValidationError(nil), r.w.verrors[jobID]...), nil
}

type stubCommitRepo struct{ w *world }

func (r *stubCommitRepo) Create(_ context.Context, log domain.CommitLog) error {
	if _, ok := r.w.commits[log.JobID]; ok {
		return fmt.Errorf("commit log for job %s already exists", log.JobID)
	}
	r.w.commits[log.JobID] = log
	return nil
}

func (r *stubCommitRepo) GetByJob(_ context.Context, jobID uuid.UUID) (domain.CommitLog, error) {
	log, ok := r.w.commits[jobID]
	if !ok {
		return domain.CommitLog{}, fmt.Errorf("commit log for job %s: %w", jobID, repository.ErrNotFound)
	}
	return log, nil
}

// fakeStore is an in-memory record store with a declared schema.
type fakeStore struct {
	types   []string
	fields  map[string][]recordstore.FieldSpec
	unique  map[string][][]string
	records map[string]map[uuid.UUID]map[string]any

	creates         int
	failCreateAfter int // fail the Nth+1 create when > 0
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		fields:  map[string][]recordstore.FieldSpec{},
		unique:  map[string][][]string{},
		records: map[string]map[uuid.UUID]map[string]any{},
	}
}

func (s *fakeStore) Create(_ context.Context, entityType string, _ uuid.UUID, payload map[string]any) (uuid.UUID, error) {
	s.creates++
	if s.failCreateAfter > 0 && s.creates > s.failCreateAfter {
		return uuid.Nil, errors.New("store refused write")
	}

	id := uuid.New()
	if s.records[entityType] == nil {
		s.records[entityType] = map[uuid.UUID]map[string]any{}
	}
	copied := make(map[string]any, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	s.records[entityType][id] = copied
	return id, nil
}

func (s *fakeStore) Get(_ context.Context, entityType string, id, tenantID uuid.UUID) (map[string]any, error) {
	record, ok := s.records[entityType][id]
	if !ok || record["tenant_id"] != tenantID.String() {
		return nil, recordstore.ErrNotFound
	}
	return record, nil
}

func (s *fakeStore) Delete(_ context.Context, entityType string, id, tenantID uuid.UUID) (bool, error) {
	record, ok := s.records[entityType][id]
	if !ok || record["tenant_id"] != tenantID.String() {
		return false, nil
	}
	delete(s.records[entityType], id)
	return true, nil
}

func (s *fakeStore) Fields(_ context.Context, entityType string) ([]recordstore.FieldSpec, error) {
	return s.fields[entityType], nil
}

func (s *fakeStore) UniqueGroups(_ context.Context, entityType string) ([][]string, error) {
	return s.unique[entityType], nil
}

func (s *fakeStore) EntityTypes(_ context.Context) ([]string, error) {
	return s.types, nil
}

func (s *fakeStore) count(entityType string) int {
	return len(s.records[entityType])
}

func (s *fakeStore) snapshot() map[string]map[uuid.UUID]map[string]any {
	snap := make(map[string]map[uuid.UUID]map[string]any, len(s.records))
	for entity, records := range s.records {
		inner := make(map[uuid.UUID]map[string]any, len(records))
		for id, payload := range records {
			inner[id] = payload
		}
		snap[entity] = inner
	}
	return snap
}

// fakeTx mimics transactional semantics over the in-memory state:
// on error everything written inside the callback is rolled back.
type fakeTx struct {
	w     *world
	store *fakeStore
}

func (t *fakeTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snapWorld := t.w.snapshot()
	snapRecords := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.w.restore(snapWorld)
		t.store.records = snapRecords
		return err
	}
	return nil
}

type fakeMetadata struct{ w *world }

func (m *fakeMetadata) CreateVersion(_ context.Context, key string, definition domain.NewFieldDefinition, scope uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	m.w.versions[id] = fieldVersion{key: key, definition: definition, scope: scope}
	return id, nil
}

func (m *fakeMetadata) Activate(_ context.Context, versionID uuid.UUID, _ string) error {
	version, ok := m.w.versions[versionID]
	if !ok {
		return fmt.Errorf("field version %s not found", versionID)
	}
	version.active = true
	m.w.versions[versionID] = version
	return nil
}

type captureSink struct{ events []audit.Event }

func (s *captureSink) Record(_ context.Context, event audit.Event) error {
	s.events = append(s.events, event)
	return nil
}

// recordingHook emits one side effect per created record and can be
// armed to fail on a specific call.
type recordingHook struct {
	failAt int
	calls  int
}

func (h *recordingHook) AfterCreate(_ context.Context, job domain.MigrationJob, recordID uuid.UUID, _ map[string]any) (*domain.SideEffect, error) {
	h.calls++
	if h.failAt > 0 && h.calls == h.failAt {
		return nil, errors.New("hook refused record")
	}
	return &domain.SideEffect{
		Entity:    job.TargetEntity,
		TargetID:  recordID,
		Type:      "gl_voucher",
		Reference: fmt.Sprintf("voucher-%d", h.calls),
	}, nil
}

type testEnv struct {
	service *Service
	world   *world
	store   *fakeStore
	sink    *captureSink
	hooks   *HookRegistry
	tenant  uuid.UUID
}

func newTestEnv(t *testing.T, cfg config.PipelineConfig) *testEnv {
	t.Helper()

	w := newWorld()
	store := newFakeStore()
	store.types = []string{"customers", "invoices"}
	store.fields["customers"] = []recordstore.FieldSpec{
		{Name: "id", Nullable: false, HasDefault: true},
		{Name: "tenant_id", Nullable: false, HasDefault: true},
		{Name: "created_at", Nullable: false, HasDefault: true},
		{Name: "name", Nullable: false, HasDefault: false},
		{Name: "email", Nullable: true, HasDefault: false},
	}
	store.unique["customers"] = [][]string{{"email"}}
	store.fields["invoices"] = []recordstore.FieldSpec{
		{Name: "id", Nullable: false, HasDefault: true},
		{Name: "tenant_id", Nullable: false, HasDefault: true},
		{Name: "number", Nullable: false, HasDefault: false},
		{Name: "total", Nullable: false, HasDefault: false},
		{Name: "customer", Nullable: true, HasDefault: false},
	}
	store.unique["invoices"] = [][]string{{"number"}}

	hooks := NewHookRegistry()
	sink := &captureSink{}

	service := NewService(cfg, Deps{
		Jobs:       &stubJobRepo{w: w},
		Files:      &stubFileRepo{w: w},
		Profiles:   &stubProfileRepo{w: w},
		Mappings:   &stubMappingRepo{w: w},
		Extensions: &stubExtensionRepo{w: w},
		Staging:    &stubStagingRepo{w: w},
		Errors:     &stubErrorRepo{w: w},
		Commits:    &stubCommitRepo{w: w},
		Store:      store,
		Metadata:   &fakeMetadata{w: w},
		Hooks:      hooks,
		Sinks:      []audit.Sink{sink},
		Tx:         &fakeTx{w: w, store: store},
	})

	return &testEnv{
		service: service,
		world:   w,
		store:   store,
		sink:    sink,
		hooks:   hooks,
		tenant:  uuid.New(),
	}
}

func (e *testEnv) importerCtx() context.Context {
	ctx := auth.ContextWithTenantID(context.Background(), e.tenant)
	return auth.ContextWithActor(ctx, auth.Actor{
		ID: "ingrid", Name: "Ingrid", Capabilities: []string{auth.CapabilityImporter},
	})
}

func (e *testEnv) approverCtx() context.Context {
	ctx := auth.ContextWithTenantID(context.Background(), e.tenant)
	return auth.ContextWithActor(ctx, auth.Actor{
		ID: "astrid", Name: "Astrid", Capabilities: []string{auth.CapabilityApprover},
	})
}

// runToValidated drives a fresh job through upload, detection,
// mapping, staging and validation.
func (e *testEnv) runToValidated(t *testing.T, targetEntity, fileName, csv string) domain.MigrationJob {
	t.Helper()
	ctx := e.importerCtx()

	job, err := e.service.CreateJob(ctx, e.tenant, targetEntity)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := e.service.AttachFile(ctx, job.ID, fileName, []byte(csv)); err != nil {
		t.Fatalf("attach file: %v", err)
	}
	if _, err := e.service.Detect(ctx, job.ID); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if _, err := e.service.PlanMappings(ctx, job.ID); err != nil {
		t.Fatalf("plan mappings: %v", err)
	}
	if _, err := e.service.Stage(ctx, job.ID); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := e.service.Validate(ctx, job.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	return e.world.jobs[job.ID]
}

// runToApproved additionally passes the approval gate.
func (e *testEnv) runToApproved(t *testing.T, targetEntity, fileName, csv string) domain.MigrationJob {
	t.Helper()

	job := e.runToValidated(t, targetEntity, fileName, csv)
	if _, err := e.service.Submit(e.importerCtx(), job.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.service.Approve(e.approverCtx(), job.ID, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	return e.world.jobs[job.ID]
}
