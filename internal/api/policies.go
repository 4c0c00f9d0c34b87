package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/triage-ai/intervene/internal/engine"
	"github.com/triage-ai/intervene/internal/store"
)

var emptyPolicy = json.RawMessage(`{}`)

func (d *Dependencies) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := d.Projects.GetPolicy(r.Context(), r.PathValue("project_id"))
	switch {
	case err != nil:
		d.internalError(w, "get policy", err)
	case p == nil:
		notFound(w, "Policy")
	default:
		writeJSON(w, http.StatusOK, policyToResp(p))
	}
}

// handleReplacePolicy stores a schema-checked handler config. Existing
// sessions keep the chain they were built with; new sessions use the
// replacement once the auth cache entry is dropped.
func (d *Dependencies) handleReplacePolicy(w http.ResponseWriter, r *http.Request) {
	var req ReplacePolicyReq
	if !readJSON(w, r, &req) {
		return
	}
	cfg := req.HandlerConfig
	if len(cfg) == 0 || bytes.Equal(cfg, []byte("null")) {
		cfg = emptyPolicy
	}
	if err := engine.ValidatePolicyJSON(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	projectID := r.PathValue("project_id")
	p, err := d.Projects.ReplacePolicy(r.Context(), projectID, cfg)
	switch {
	case err != nil:
		d.internalError(w, "replace policy", err)
	case p == nil:
		notFound(w, "Policy")
	default:
		d.invalidate(projectID)
		writeJSON(w, http.StatusOK, policyToResp(p))
	}
}

func policyToResp(p *store.Policy) PolicyResp {
	resp := PolicyResp{
		ID:            p.ID,
		ProjectID:     p.ProjectID,
		HandlerConfig: p.HandlerConfig,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if resp.HandlerConfig == nil {
		resp.HandlerConfig = emptyPolicy
	}
	return resp
}
