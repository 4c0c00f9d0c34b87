package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/intervene/internal/auth"
	"github.com/triage-ai/intervene/internal/engine"
	"github.com/triage-ai/intervene/internal/session"
	"github.com/triage-ai/intervene/internal/storage"
	"github.com/triage-ai/intervene/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

func (d *Dependencies) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	proj := projectFromContext(r.Context())
	if proj == nil {
		writeError(w, http.StatusInternalServerError, "missing project context")
		return
	}

	s := d.Sessions.Create(proj.ProjectID, proj.Policy)
	writeJSON(w, http.StatusCreated, CreateSessionResp{
		SessionID: s.ID,
		ProjectID: s.ProjectID,
		Handlers:  s.HandlerNames(),
		CreatedAt: s.CreatedAt,
	})
}

// handleProcess implements POST /v1/sessions/{session_id}/process.
// Auth middleware has already validated the Bearer token and injected the project.
func (d *Dependencies) handleProcess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ProcessRequest
	if !readJSON(w, r, &req) {
		return
	}
	direction, ok := engine.ParseDirection(req.Direction)
	if !ok {
		writeError(w, http.StatusBadRequest, "direction must be one of inbound, outbound_request, inbound_response, tool_invocation, tool_result, outbound_response")
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeError(w, http.StatusInternalServerError, "missing project context")
		return
	}
	sessionID := r.PathValue("session_id")

	ictx := engine.Context{
		Direction: direction,
		AgentID:   req.AgentID,
		ToolName:  req.ToolName,
		Provider:  req.Provider,
		Model:     req.Model,
	}

	_, span := telemetry.Tracer().Start(r.Context(), "intervene.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("intervene.project_id", proj.ProjectID),
		attribute.String("intervene.session_id", sessionID),
		attribute.String("intervene.direction", direction.String()),
		attribute.String("intervene.tool_name", req.ToolName),
	)

	result, err := d.Sessions.Process(proj.ProjectID, sessionID, req.Content, ictx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeSessionError(w, err)
		return
	}
	span.SetAttributes(attribute.String("intervene.verdict", result.Verdict.Kind.String()))

	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)
	eventID := uuid.NewString()
	isShadow := proj.IsShadow() && !result.Verdict.IsAllow()

	d.writeProcessEvent(proj, sessionID, eventID, req, ictx, result, isShadow, float32(latencyMs))

	writeJSON(w, http.StatusOK, buildProcessResponse(result, isShadow, eventID, latencyMs))
}

// buildProcessResponse shapes the chain result for the caller. Shadow mode
// reports allow and moves the real verdict to shadow_verdict.
func buildProcessResponse(result engine.Result, isShadow bool, eventID string, latencyMs float64) ProcessResponse {
	v := result.Verdict
	resp := ProcessResponse{
		Verdict:    v.Kind.String(),
		DecidedBy:  nilIfEmpty(result.DecidedBy),
		ModifiedBy: result.ModifiedBy,
		IsShadow:   isShadow,
		EventID:    eventID,
		LatencyMs:  latencyMs,
	}
	resp.Reason = nilIfEmpty(v.Reason)
	if isShadow {
		actual := v.Kind.String()
		resp.Verdict = engine.VerdictAllow.String()
		resp.ShadowVerdict = &actual
		return resp
	}
	if v.IsModify() {
		content := v.Content
		resp.Content = &content
	}
	return resp
}

// writeProcessEvent fires the event to the async writer.
func (d *Dependencies) writeProcessEvent(
	proj *auth.ProjectContext,
	sessionID, eventID string,
	req ProcessRequest,
	ictx engine.Context,
	result engine.Result,
	isShadow bool,
	latencyMs float32,
) {
	event := &storage.InterventionEvent{
		EventID:    eventID,
		ProjectID:  proj.ProjectID,
		SessionID:  sessionID,
		Timestamp:  time.Now().UTC(),
		Direction:  ictx.Direction.String(),
		AgentID:    ictx.AgentID,
		ToolName:   ictx.ToolName,
		Provider:   ictx.Provider,
		Model:      ictx.Model,
		Verdict:    result.Verdict.Kind.String(),
		Reason:     result.Verdict.Reason,
		DecidedBy:  result.DecidedBy,
		ModifiedBy: result.ModifiedBy,
		IsShadow:   isShadow,
		LatencyMs:  latencyMs,
	}
	event.SetContent(req.Content)
	d.Writer.Write(event)
}

func (d *Dependencies) handleResetTurn(w http.ResponseWriter, r *http.Request) {
	d.handleReset(w, r, "turn", d.Sessions.ResetTurn)
}

func (d *Dependencies) handleResetRound(w http.ResponseWriter, r *http.Request) {
	d.handleReset(w, r, "round", d.Sessions.ResetRound)
}

func (d *Dependencies) handleReset(w http.ResponseWriter, r *http.Request, scope string, reset func(projectID, id string) error) {
	proj := projectFromContext(r.Context())
	if proj == nil {
		writeError(w, http.StatusInternalServerError, "missing project context")
		return
	}
	sessionID := r.PathValue("session_id")
	if err := reset(proj.ProjectID, sessionID); err != nil {
		writeSessionError(w, err)
		return
	}
	d.Logger.Debug("session reset",
		zap.String("session_id", sessionID),
		zap.String("scope", scope),
	)
	writeJSON(w, http.StatusOK, ResetResp{SessionID: sessionID, Reset: scope})
}

func (d *Dependencies) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	proj := projectFromContext(r.Context())
	if proj == nil {
		writeError(w, http.StatusInternalServerError, "missing project context")
		return
	}
	if err := d.Sessions.Delete(proj.ProjectID, r.PathValue("session_id")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeSessionError maps registry errors to responses. A session owned by
// another project is reported as missing.
func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrWrongProject) {
		notFound(w, "Session")
		return
	}
	writeError(w, http.StatusInternalServerError, "Failed to process session request")
}
