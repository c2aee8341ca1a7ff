package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/auth"
	"github.com/rpattn/tabimport/internal/domain"
	"github.com/rpattn/tabimport/internal/repository"
)

// Handler exposes the pipeline as a JSON HTTP API. Actor identity and
// capabilities arrive in headers; real deployments put an auth proxy
// in front.
type Handler struct {
	service *Service
}

// NewHTTPHandler builds the route table for the pipeline API.
func NewHTTPHandler(service *Service) http.Handler {
	h := &Handler{service: service}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", h.createJob)
	mux.HandleFunc("GET /jobs", h.listJobs)
	mux.HandleFunc("GET /jobs/{id}", h.getJob)
	mux.HandleFunc("POST /jobs/{id}/files", h.attachFile)
	mux.HandleFunc("POST /jobs/{id}/detect", h.detect)
	mux.HandleFunc("POST /jobs/{id}/mappings", h.planMappings)
	mux.HandleFunc("GET /jobs/{id}/mappings", h.listMappings)
	mux.HandleFunc("PATCH /jobs/{id}/mappings/{column}", h.updateMapping)
	mux.HandleFunc("POST /jobs/{id}/stage", h.stage)
	mux.HandleFunc("POST /jobs/{id}/validate", h.validate)
	mux.HandleFunc("GET /jobs/{id}/errors", h.listErrors)
	mux.HandleFunc("POST /jobs/{id}/submit", h.submit)
	mux.HandleFunc("POST /jobs/{id}/approve", h.approve)
	mux.HandleFunc("POST /jobs/{id}/reject", h.reject)
	mux.HandleFunc("POST /jobs/{id}/commit", h.commit)
	mux.HandleFunc("POST /jobs/{id}/rollback", h.rollback)
	mux.HandleFunc("POST /jobs/{id}/follow-up", h.followUp)
	mux.HandleFunc("GET /jobs/{id}/extensions", h.listExtensions)
	mux.HandleFunc("POST /jobs/{id}/extensions/{field}/approve", h.approveExtension)
	mux.HandleFunc("POST /jobs/{id}/extensions/{field}/reject", h.rejectExtension)

	return withActor(mux)
}

// withActor lifts the caller's identity headers onto the context.
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if id := strings.TrimSpace(r.Header.Get("X-Actor-Id")); id != "" {
			actor := auth.Actor{ID: id, Name: strings.TrimSpace(r.Header.Get("X-Actor-Name"))}
			for _, capability := range strings.Split(r.Header.Get("X-Actor-Capabilities"), ",") {
				if capability = strings.TrimSpace(capability); capability != "" {
					actor.Capabilities = append(actor.Capabilities, capability)
				}
			}
			ctx = auth.ContextWithActor(ctx, actor)
		}

		if raw := strings.TrimSpace(r.Header.Get("X-Tenant-Id")); raw != "" {
			if tenantID, err := uuid.Parse(raw); err == nil {
				ctx = auth.ContextWithTenantID(ctx, tenantID)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID     uuid.UUID `json:"tenant_id"`
		TargetEntity string    `json:"target_entity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	job, err := h.service.CreateJob(r.Context(), req.TenantID, req.TargetEntity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid tenant id: %v", err), http.StatusBadRequest)
		return
	}

	jobs, err := h.service.ListJobs(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) attachFile(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	stored, err := h.service.AttachFile(r.Context(), jobID, header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) detect(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.Detect(r.Context(), jobID)
	})
}

func (h *Handler) planMappings(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.PlanMappings(r.Context(), jobID)
	})
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.ListMappings(r.Context(), jobID)
	})
}

func (h *Handler) updateMapping(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	column := r.PathValue("column")

	var req struct {
		TargetField *string                    `json:"target_field"`
		StorageMode *domain.StorageMode        `json:"storage_mode"`
		NewField    *domain.NewFieldDefinition `json:"new_field"`
		Required    *bool                      `json:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	mapping, err := h.service.UpdateMapping(r.Context(), jobID, column, domain.MappingUpdate{
		TargetField: req.TargetField,
		StorageMode: req.StorageMode,
		NewField:    req.NewField,
		Required:    req.Required,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (h *Handler) stage(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.Stage(r.Context(), jobID)
	})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.Validate(r.Context(), jobID)
	})
}

func (h *Handler) listErrors(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.ListValidationErrors(r.Context(), jobID)
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.Submit(r.Context(), jobID)
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	}

	job, err := h.service.Approve(r.Context(), jobID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	job, err := h.service.Reject(r.Context(), jobID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.Commit(r.Context(), jobID)
	})
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.Rollback(r.Context(), jobID)
	})
}

func (h *Handler) followUp(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	job, err := h.service.CreateFollowUpJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) listExtensions(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(jobID uuid.UUID) (any, error) {
		return h.service.ListExtensions(r.Context(), jobID)
	})
}

func (h *Handler) approveExtension(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	extension, err := h.service.ApproveExtension(r.Context(), jobID, r.PathValue("field"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, extension)
}

func (h *Handler) rejectExtension(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	extension, err := h.service.RejectExtension(r.Context(), jobID, r.PathValue("field"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, extension)
}

// runStage factors the common path: parse the job id, run one service
// call, map the error, write the result.
func (h *Handler) runStage(w http.ResponseWriter, r *http.Request, run func(jobID uuid.UUID) (any, error)) {
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}

	result, err := run(jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func jobIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid job id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return jobID, true
}

func writeError(w http.ResponseWriter, err error) {
	var transition *domain.InvalidTransitionError
	switch {
	case errors.As(err, &transition), errors.Is(err, ErrMappingsEdited):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrUnsupportedFileType),
		errors.Is(err, ErrResolutionFailure),
		errors.Is(err, ErrNoFiles),
		errors.Is(err, ErrNoCommitLog):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
