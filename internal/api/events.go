package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/triage-ai/intervene/internal/storage"
)

const (
	defaultPageSize      = 50
	maxPageSize          = 200
	maxPage              = 10000
	defaultAnalyticsDays = 7
	maxAnalyticsDays     = 90
)

// requireProjectID reads the project_id query parameter, answering 400 when
// it is absent.
func requireProjectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("project_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter is required")
		return "", false
	}
	return id, true
}

// listParams converts event list query parameters into storage filters.
func listParams(projectID string, r *http.Request) (storage.ListEventsParams, error) {
	p := storage.ListEventsParams{
		ProjectID: projectID,
		Page:      min(max(queryInt(r, "page", 1), 1), maxPage),
		PageSize:  queryInt(r, "page_size", defaultPageSize),
	}
	switch {
	case p.PageSize < 1:
		p.PageSize = defaultPageSize
	case p.PageSize > maxPageSize:
		p.PageSize = maxPageSize
	}

	q := r.URL.Query()
	p.SessionID = optionalParam(q, "session_id")
	p.Verdict = optionalParam(q, "verdict")
	p.Direction = optionalParam(q, "direction")
	p.AgentID = optionalParam(q, "agent_id")
	p.ToolName = optionalParam(q, "tool_name")
	if v := q.Get("is_shadow"); v != "" {
		shadow := v == "true" || v == "1"
		p.IsShadow = &shadow
	}

	var err error
	if p.StartTime, err = timeParam(q, "start_time"); err != nil {
		return p, err
	}
	p.EndTime, err = timeParam(q, "end_time")
	return p, err
}

func optionalParam(q url.Values, key string) *string {
	return nilIfEmpty(q.Get(key))
}

type badParamError struct{ key string }

func (e badParamError) Error() string { return e.key + " must be an RFC3339 timestamp" }

func timeParam(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, badParamError{key}
	}
	return &t, nil
}

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "Event store not configured")
		return
	}
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}
	params, err := listParams(projectID, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, total, err := d.Events.ListEvents(r.Context(), params)
	if err != nil {
		d.internalError(w, "list events", err)
		return
	}
	resp := EventListResp{
		Events:   make([]EventResp, len(events)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for i, e := range events {
		resp.Events[i] = eventToResp(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if d.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "Event store not configured")
		return
	}
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}
	e, err := d.Events.GetEvent(r.Context(), projectID, r.PathValue("event_id"))
	switch {
	case err != nil:
		d.internalError(w, "get event", err)
	case e == nil:
		notFound(w, "Event")
	default:
		writeJSON(w, http.StatusOK, eventToResp(*e))
	}
}

// handleGetAnalytics aggregates the last N days of events, N clamped to
// [1, 90].
func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "ClickHouse not configured")
		return
	}
	projectID, ok := requireProjectID(w, r)
	if !ok {
		return
	}
	days := min(max(queryInt(r, "days", defaultAnalyticsDays), 1), maxAnalyticsDays)

	result, err := d.Analytics.GetAnalytics(r.Context(), projectID, days)
	if err != nil {
		d.internalError(w, "get analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func eventToResp(e storage.InterventionEvent) EventResp {
	modifiedBy := e.ModifiedBy
	if modifiedBy == nil {
		modifiedBy = []string{}
	}
	return EventResp{
		EventID:        e.EventID,
		ProjectID:      e.ProjectID,
		SessionID:      e.SessionID,
		Timestamp:      e.Timestamp,
		Direction:      e.Direction,
		AgentID:        nilIfEmpty(e.AgentID),
		ToolName:       nilIfEmpty(e.ToolName),
		Provider:       nilIfEmpty(e.Provider),
		Model:          nilIfEmpty(e.Model),
		Verdict:        e.Verdict,
		Reason:         nilIfEmpty(e.Reason),
		DecidedBy:      nilIfEmpty(e.DecidedBy),
		ModifiedBy:     modifiedBy,
		ContentPreview: e.ContentPreview,
		ContentHash:    e.ContentHash,
		ContentSize:    e.ContentSize,
		IsShadow:       e.IsShadow,
		LatencyMs:      e.LatencyMs,
	}
}
