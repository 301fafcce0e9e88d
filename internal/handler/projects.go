package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/server/middleware"
	"github.com/pulsemetrics/pulse/internal/service"
)

// ProjectHandler serves project management and the API keys of each
// project. Every route runs behind RequireUser and is scoped to the
// signed-in owner.
type ProjectHandler struct {
	projects *service.ProjectService
	keys     *service.APIKeyService
	logger   *slog.Logger
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(projects *service.ProjectService, keys *service.APIKeyService, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, keys: keys, logger: logger}
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createAPIKeyRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ownerID returns the signed-in user's ID, writing a 401 when there is none.
func ownerID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (string, bool) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeAppError(w, r, logger, apperr.Unauthorized("Not authenticated"))
		return "", false
	}
	return p.UserID, true
}

// project resolves the {projectKey} URL parameter for the signed-in owner.
func (h *ProjectHandler) project(w http.ResponseWriter, r *http.Request) (*model.Project, bool) {
	owner, ok := ownerID(w, r, h.logger)
	if !ok {
		return nil, false
	}
	p, err := h.projects.Get(r.Context(), owner, chi.URLParam(r, "projectKey"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return nil, false
	}
	return p, true
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

// ListProjects returns the caller's projects.
// GET /api/v1/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r, h.logger)
	if !ok {
		return
	}
	projects, err := h.projects.List(r.Context(), owner)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.Project]{Resource: projects})
}

// CreateProject creates a project and returns it with the plaintext of its
// first API key.
// POST /api/v1/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r, h.logger)
	if !ok {
		return
	}
	var req createProjectRequest
	if err := readJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	created, err := h.projects.Create(r.Context(), owner, req.Name, req.Description)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetProject returns a project with its usage stats.
// GET /api/v1/projects/{projectKey}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r, h.logger)
	if !ok {
		return
	}
	detail, err := h.projects.Detail(r.Context(), owner, chi.URLParam(r, "projectKey"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ProjectStats returns only the usage stats of a project.
// GET /api/v1/projects/{projectKey}/stats
func (h *ProjectHandler) ProjectStats(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r, h.logger)
	if !ok {
		return
	}
	detail, err := h.projects.Detail(r.Context(), owner, chi.URLParam(r, "projectKey"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail.Stats)
}

// UpdateProject applies a partial update.
// PATCH /api/v1/projects/{projectKey}
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r, h.logger)
	if !ok {
		return
	}
	var req service.ProjectUpdate
	if err := readJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	p, err := h.projects.Update(r.Context(), owner, chi.URLParam(r, "projectKey"), req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProject removes a project with its keys and metrics.
// DELETE /api/v1/projects/{projectKey}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.projects.Delete(r.Context(), owner, chi.URLParam(r, "projectKey")); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// ListAPIKeys returns every key of the project. Hashes are never included.
// GET /api/v1/projects/{projectKey}/api-keys
func (h *ProjectHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	keys, err := h.keys.List(r.Context(), p.ID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.APIKey]{Resource: keys})
}

// CreateAPIKey issues a new key. The plaintext is only in this response.
// POST /api/v1/projects/{projectKey}/api-keys
func (h *ProjectHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	var req createAPIKeyRequest
	if err := readJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	issued, err := h.keys.Create(r.Context(), p.ID, req.Name, req.ExpiresAt)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

// GetAPIKey returns one key of the project.
// GET /api/v1/projects/{projectKey}/api-keys/{keyID}
func (h *ProjectHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	key, err := h.keys.Get(r.Context(), p.ID, chi.URLParam(r, "keyID"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// UpdateAPIKey renames a key or toggles its active flag.
// PATCH /api/v1/projects/{projectKey}/api-keys/{keyID}
func (h *ProjectHandler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	var req service.APIKeyUpdate
	if err := readJSON(w, r, &req); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	key, err := h.keys.Update(r.Context(), p.ID, chi.URLParam(r, "keyID"), req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// RotateAPIKey replaces a key with a fresh one of the same name and expiry.
// POST /api/v1/projects/{projectKey}/api-keys/{keyID}/rotate
func (h *ProjectHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	issued, err := h.keys.Rotate(r.Context(), p.ID, chi.URLParam(r, "keyID"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

// RevokeAPIKey deactivates a key but keeps its row.
// POST /api/v1/projects/{projectKey}/api-keys/{keyID}/revoke
func (h *ProjectHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	if err := h.keys.Revoke(r.Context(), p.ID, chi.URLParam(r, "keyID")); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAPIKey removes a key. The last active key of a project cannot be
// deleted.
// DELETE /api/v1/projects/{projectKey}/api-keys/{keyID}
func (h *ProjectHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := h.project(w, r)
	if !ok {
		return
	}
	if err := h.keys.Delete(r.Context(), p.ID, chi.URLParam(r, "keyID")); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
