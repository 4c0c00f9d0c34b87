package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/triage-ai/intervene/internal/store"
)

const maxProjectName = 255

// validateProject checks the name and mode fields that are present and
// returns a client-facing message, or "" when they are valid.
func validateProject(name, mode *string) string {
	if name != nil && (*name == "" || len(*name) > maxProjectName) {
		return "name must be 1-255 characters"
	}
	if mode != nil && !store.ValidMode(*mode) {
		return "mode must be 'enforce' or 'shadow'"
	}
	return ""
}

func (d *Dependencies) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectReq
	if !readJSON(w, r, &req) {
		return
	}
	var mode *string
	if req.Mode != "" {
		mode = &req.Mode
	}
	if msg := validateProject(&req.Name, mode); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p, _, key, err := d.Projects.CreateProject(r.Context(), req.Name, req.Mode)
	if err != nil {
		d.internalError(w, "create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateProjectResp{
		ID:           p.ID,
		Name:         p.Name,
		APIKey:       key,
		APIKeyPrefix: p.APIKeyPrefix,
		Mode:         p.Mode,
		CreatedAt:    p.CreatedAt,
	})
}

func (d *Dependencies) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := d.Projects.ListProjects(r.Context())
	if err != nil {
		d.internalError(w, "list projects", err)
		return
	}
	out := make([]ProjectResp, len(projects))
	for i, p := range projects {
		out[i] = projectToResp(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Dependencies) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := d.Projects.GetProject(r.Context(), r.PathValue("project_id"))
	switch {
	case err != nil:
		d.internalError(w, "get project", err)
	case p == nil:
		notFound(w, "Project")
	default:
		writeJSON(w, http.StatusOK, projectToResp(p))
	}
}

func (d *Dependencies) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req UpdateProjectReq
	if !readJSON(w, r, &req) {
		return
	}
	if msg := validateProject(req.Name, req.Mode); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	id := r.PathValue("project_id")
	p, err := d.Projects.UpdateProject(r.Context(), id, store.UpdateProjectParams{Name: req.Name, Mode: req.Mode})
	switch {
	case err != nil:
		d.internalError(w, "update project", err)
	case p == nil:
		notFound(w, "Project")
	default:
		d.invalidate(id)
		writeJSON(w, http.StatusOK, projectToResp(p))
	}
}

func (d *Dependencies) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("project_id")
	switch err := d.Projects.DeleteProject(r.Context(), id); {
	case errors.Is(err, sql.ErrNoRows):
		notFound(w, "Project")
	case err != nil:
		d.internalError(w, "delete project", err)
	default:
		d.invalidate(id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleRotateKey issues a new key. The old key stops working as soon as
// the auth cache entry is dropped.
func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("project_id")
	p, key, err := d.Projects.RotateAPIKey(r.Context(), id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		notFound(w, "Project")
	case err != nil:
		d.internalError(w, "rotate API key", err)
	default:
		d.invalidate(id)
		writeJSON(w, http.StatusOK, RotateKeyResp{APIKey: key, APIKeyPrefix: p.APIKeyPrefix})
	}
}

func (d *Dependencies) invalidate(projectID string) {
	if d.Invalidator != nil {
		d.Invalidator.Invalidate(projectID)
	}
}

func projectToResp(p *store.Project) ProjectResp {
	return ProjectResp{
		ID:           p.ID,
		Name:         p.Name,
		APIKeyPrefix: p.APIKeyPrefix,
		Mode:         p.Mode,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}
