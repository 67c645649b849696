package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/interfaces"
	"github.com/tessari/passport/internal/models"
	"github.com/tessari/passport/internal/services/jobs"
	"github.com/tessari/passport/internal/services/prevalidate"
	"github.com/tessari/passport/internal/services/staging"
)

// JobHandler exposes job lifecycle operations over HTTP. Every read and
// write is scoped to the authenticated principal's tenant.
type JobHandler struct {
	jobs        *jobs.Service
	staging     *staging.Service
	prevalidate *prevalidate.Service
	validate    *validator.Validate
	logger      arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *jobs.Service, stagingService *staging.Service, prevalidateService *prevalidate.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:        jobService,
		staging:     stagingService,
		prevalidate: prevalidateService,
		validate:    validator.New(),
		logger:      logger,
	}
}

// CreateJobRequest is the payload for creating an import job. The upload
// itself goes to object storage first; this carries its metadata.
type CreateJobRequest struct {
	FileName string `json:"file_name" validate:"required"`
	FileSize int64  `json:"file_size" validate:"gte=0"`
	FileRef  string `json:"file_ref" validate:"required"`
}

// ResolveEntityRequest is the operator's answer for one staged entity
type ResolveEntityRequest struct {
	Key        string            `json:"key" validate:"required"`
	MatchID    string            `json:"match_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// CreateJobHandler handles POST /api/jobs. The pre-validator runs first so
// malformed input is rejected before any job exists.
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	principal := PrincipalFrom(r.Context())
	if principal == nil {
		WriteError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.prevalidate.Validate(r.Context(), prevalidate.FileInput{
		Name: req.FileName,
		Size: req.FileSize,
		Ref:  req.FileRef,
	})
	if !result.Valid {
		WriteJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), principal.TenantID, models.JobKindImport, req.FileRef)
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// CreateSyncHandler handles POST /api/sync, starting an external integration
// sync job for the tenant
func (h *JobHandler) CreateSyncHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	principal := PrincipalFrom(r.Context())
	if principal == nil {
		WriteError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), principal.TenantID, models.JobKindSync, "")
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler handles GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	principal := PrincipalFrom(r.Context())
	if principal == nil {
		WriteError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	limit := GetLimitParam(r, 50)
	list, err := h.jobs.ListJobs(r.Context(), principal.TenantID, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, ok := h.loadTenantJob(w, r, jobID)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetStatusHandler handles GET /api/jobs/{id}/status, returning status,
// counters and staleness with an opportunistic stale check
func (h *JobHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if _, ok := h.loadTenantJob(w, r, jobID); !ok {
		return
	}

	status, err := h.jobs.GetStatus(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// CancelJobHandler handles POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if _, ok := h.loadTenantJob(w, r, jobID); !ok {
		return
	}

	job, err := h.jobs.Cancel(r.Context(), jobID, "")
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CommitJobHandler handles POST /api/jobs/{id}/commit, gated on every staged
// entity being resolved
func (h *JobHandler) CommitJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if _, ok := h.loadTenantJob(w, r, jobID); !ok {
		return
	}

	job, err := h.jobs.BeginCommit(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListPendingEntitiesHandler handles GET /api/jobs/{id}/pending-entities
func (h *JobHandler) ListPendingEntitiesHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if _, ok := h.loadTenantJob(w, r, jobID); !ok {
		return
	}

	entities, err := h.staging.List(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list pending entities")
		return
	}

	unresolved := 0
	for _, e := range entities {
		if !e.Resolved() {
			unresolved++
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entities":   entities,
		"count":      len(entities),
		"unresolved": unresolved,
	})
}

// ResolveEntityHandler handles POST /api/jobs/{id}/pending-entities/resolve
func (h *JobHandler) ResolveEntityHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if _, ok := h.loadTenantJob(w, r, jobID); !ok {
		return
	}

	var req ResolveEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The key is client-supplied; it must name an entity staged under this
	// job, otherwise a caller could resolve entities across jobs and tenants.
	staged, err := h.staging.Get(r.Context(), req.Key)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to load pending entity")
		return
	}
	if staged == nil || staged.JobID != jobID {
		WriteError(w, http.StatusNotFound, "Pending entity not found")
		return
	}

	entity, err := h.staging.Resolve(r.Context(), req.Key, models.EntityResolution{
		MatchID:    req.MatchID,
		Attributes: req.Attributes,
	})
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, entity)
}

// AbandonEntitiesHandler handles POST /api/jobs/{id}/pending-entities/abandon,
// the explicit operator action that discards staged resolution work
func (h *JobHandler) AbandonEntitiesHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if _, ok := h.loadTenantJob(w, r, jobID); !ok {
		return
	}

	if err := h.staging.Clear(r.Context(), jobID); err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to abandon pending entities")
		return
	}
	WriteSuccess(w, "Pending entities abandoned")
}

// loadTenantJob fetches the job and enforces tenant scoping. Cross-tenant
// job IDs answer 404, never 403, to avoid leaking their existence.
func (h *JobHandler) loadTenantJob(w http.ResponseWriter, r *http.Request, jobID string) (*models.Job, bool) {
	principal := PrincipalFrom(r.Context())
	if principal == nil {
		WriteError(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil || job.TenantID != principal.TenantID {
		WriteError(w, http.StatusNotFound, "Job not found")
		return nil, false
	}
	return job, true
}

// writeJobError maps service errors onto HTTP statuses without leaking raw
// store failures
func (h *JobHandler) writeJobError(w http.ResponseWriter, err error) {
	var unresolvedErr *jobs.UnresolvedEntitiesError
	switch {
	case errors.Is(err, interfaces.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, jobs.ErrJobAlreadyActive):
		WriteError(w, http.StatusConflict, "An active job of this kind already exists")
	case errors.Is(err, jobs.ErrIllegalTransition):
		WriteError(w, http.StatusConflict, "Job is not in a state that allows this operation")
	case errors.Is(err, jobs.ErrStatusConflict):
		WriteError(w, http.StatusConflict, "Job status changed concurrently, retry")
	case errors.As(err, &unresolvedErr):
		WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"status":   "error",
			"error":    "Unresolved entities block the commit phase",
			"entities": unresolvedErr.Entities,
		})
	default:
		h.logger.Error().Err(err).Msg("Job operation failed")
		WriteError(w, http.StatusInternalServerError, "Internal error")
	}
}
