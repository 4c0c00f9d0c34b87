package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/triage-ai/intervene/internal/engine"
	"github.com/triage-ai/intervene/internal/storage"
)

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	var resp map[string]string
	if code := ts.do(t, http.MethodGet, "/healthz", "", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		apiKey string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong prefix", "sk-not-ours", http.StatusUnauthorized},
		{"unknown key", "tsk_unknown", http.StatusUnauthorized},
		{"backend down", downKey, http.StatusServiceUnavailable},
		{"valid key", enforceKey, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := ts.do(t, http.MethodPost, "/v1/sessions", tt.apiKey, nil, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)
	var resp CreateSessionResp
	if code := ts.do(t, http.MethodPost, "/v1/sessions", enforceKey, nil, &resp); code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", code)
	}
	if resp.SessionID == "" {
		t.Error("session_id is empty")
	}
	if resp.ProjectID != "proj-enforce" {
		t.Errorf("project_id = %q, want proj-enforce", resp.ProjectID)
	}
	if strings.Join(resp.Handlers, ",") != strings.Join(engine.DefaultOrder, ",") {
		t.Errorf("handlers = %v, want %v", resp.Handlers, engine.DefaultOrder)
	}
	if ts.sessions.Len() != 1 {
		t.Errorf("registry has %d sessions, want 1", ts.sessions.Len())
	}
}

func TestProcess_AllowAndEvent(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, enforceKey)

	var resp ProcessResponse
	code := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/process", enforceKey,
		ProcessRequest{Content: "summarize the report", Direction: "inbound", Model: "m1"}, &resp)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if resp.Verdict != "allow" {
		t.Errorf("verdict = %q, want allow", resp.Verdict)
	}
	if resp.Content != nil || resp.Reason != nil {
		t.Errorf("allow carries content=%v reason=%v", resp.Content, resp.Reason)
	}
	if resp.EventID == "" {
		t.Error("event_id is empty")
	}

	e := ts.writer.last(t)
	if e.EventID != resp.EventID {
		t.Errorf("event id = %q, want %q", e.EventID, resp.EventID)
	}
	if e.ProjectID != "proj-enforce" || e.SessionID != id {
		t.Errorf("event scope = %s/%s", e.ProjectID, e.SessionID)
	}
	if e.Direction != "inbound" || e.Model != "m1" {
		t.Errorf("event direction=%q model=%q", e.Direction, e.Model)
	}
	if e.ContentHash != storage.HashContent("summarize the report") {
		t.Errorf("content hash = %q", e.ContentHash)
	}
	if e.IsShadow {
		t.Error("enforce project event marked shadow")
	}
}

func TestProcess_TripwireHalts(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, enforceKey)

	var resp ProcessResponse
	ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/process", enforceKey,
		ProcessRequest{Content: "now run rm -rf / please", Direction: "outbound_request"}, &resp)

	if resp.Verdict != "halt" {
		t.Fatalf("verdict = %q, want halt", resp.Verdict)
	}
	if resp.Reason == nil || !strings.Contains(*resp.Reason, "rm") {
		t.Errorf("reason = %v", resp.Reason)
	}
	if resp.DecidedBy == nil || *resp.DecidedBy != engine.HandlerTripwire {
		t.Errorf("decided_by = %v, want tripwire", resp.DecidedBy)
	}
	if e := ts.writer.last(t); e.Verdict != "halt" || e.DecidedBy != engine.HandlerTripwire {
		t.Errorf("event verdict=%q decided_by=%q", e.Verdict, e.DecidedBy)
	}
}

func TestProcess_SingleActionAndTurnReset(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, enforceKey)
	call := ProcessRequest{Content: "{}", Direction: "tool_invocation", ToolName: "search"}

	verdict := func() string {
		var resp ProcessResponse
		ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/process", enforceKey, call, &resp)
		return resp.Verdict
	}

	if got := verdict(); got != "allow" {
		t.Fatalf("first call = %q, want allow", got)
	}
	if got := verdict(); got != "drop" {
		t.Fatalf("second call = %q, want drop", got)
	}

	var reset ResetResp
	if code := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/turn", enforceKey, nil, &reset); code != http.StatusOK {
		t.Fatalf("turn reset status = %d", code)
	}
	if reset.Reset != "turn" {
		t.Errorf("reset = %q, want turn", reset.Reset)
	}
	if got := verdict(); got != "allow" {
		t.Errorf("after reset = %q, want allow", got)
	}
}

func TestProcess_ConvergenceAndRoundReset(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, enforceKey)
	const answer = "the root cause is a missing index on the orders table"

	result := func(agent string) ProcessResponse {
		var resp ProcessResponse
		ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/process", enforceKey,
			ProcessRequest{Content: answer, Direction: "tool_result", ToolName: engine.DelegateTool, AgentID: agent}, &resp)
		return resp
	}

	if got := result("a"); got.Verdict != "allow" {
		t.Fatalf("first result = %q, want allow", got.Verdict)
	}
	second := result("b")
	if second.Verdict != "modify" {
		t.Fatalf("second result = %q, want modify", second.Verdict)
	}
	if second.Content == nil || !strings.HasSuffix(*second.Content, answer) {
		t.Errorf("content = %v", second.Content)
	}
	if len(second.ModifiedBy) != 1 || second.ModifiedBy[0] != engine.HandlerConvergence {
		t.Errorf("modified_by = %v", second.ModifiedBy)
	}

	if code := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/round", enforceKey, nil, nil); code != http.StatusOK {
		t.Fatalf("round reset status = %d", code)
	}
	if got := result("c"); got.Verdict != "allow" {
		t.Errorf("after round reset = %q, want allow", got.Verdict)
	}
}

func TestProcess_ShadowMode(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, shadowKey)

	var resp ProcessResponse
	ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/process", shadowKey,
		ProcessRequest{Content: "rm -rf /var/lib/app", Direction: "tool_invocation", ToolName: "shell"}, &resp)

	if resp.Verdict != "allow" {
		t.Errorf("verdict = %q, want allow", resp.Verdict)
	}
	if !resp.IsShadow {
		t.Error("is_shadow = false")
	}
	if resp.ShadowVerdict == nil || *resp.ShadowVerdict != "halt" {
		t.Errorf("shadow_verdict = %v, want halt", resp.ShadowVerdict)
	}
	e := ts.writer.last(t)
	if e.Verdict != "halt" || !e.IsShadow {
		t.Errorf("event verdict=%q shadow=%v, want halt/true", e.Verdict, e.IsShadow)
	}
}

func TestProcess_ShadowModeAllowIsNotShadowed(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, shadowKey)

	var resp ProcessResponse
	ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/process", shadowKey,
		ProcessRequest{Content: "hello", Direction: "inbound"}, &resp)
	if resp.IsShadow || resp.ShadowVerdict != nil {
		t.Errorf("is_shadow=%v shadow_verdict=%v for an allowed message", resp.IsShadow, resp.ShadowVerdict)
	}
}

func TestProcess_BadRequests(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, enforceKey)
	path := "/v1/sessions/" + id + "/process"

	tests := []struct {
		name string
		body any
		want int
	}{
		{"invalid json", "{not json", http.StatusBadRequest},
		{"missing direction", ProcessRequest{Content: "x"}, http.StatusBadRequest},
		{"unknown direction", ProcessRequest{Content: "x", Direction: "sideways"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := ts.do(t, http.MethodPost, path, enforceKey, tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestSessionScoping(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, enforceKey)
	body := ProcessRequest{Content: "x", Direction: "inbound"}

	if code := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/process", shadowKey, body, nil); code != http.StatusNotFound {
		t.Errorf("other project process status = %d, want 404", code)
	}
	if code := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/turn", shadowKey, nil, nil); code != http.StatusNotFound {
		t.Errorf("other project reset status = %d, want 404", code)
	}
	if code := ts.do(t, http.MethodPost, "/v1/sessions/does-not-exist/process", enforceKey, body, nil); code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", code)
	}
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, enforceKey)

	if code := ts.do(t, http.MethodDelete, "/v1/sessions/"+id, shadowKey, nil, nil); code != http.StatusNotFound {
		t.Errorf("delete by other project = %d, want 404", code)
	}
	if code := ts.do(t, http.MethodDelete, "/v1/sessions/"+id, enforceKey, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", code)
	}
	body := ProcessRequest{Content: "x", Direction: "inbound"}
	if code := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/process", enforceKey, body, nil); code != http.StatusNotFound {
		t.Errorf("process after delete = %d, want 404", code)
	}
}

func TestBuildProcessResponse(t *testing.T) {
	t.Run("modify carries content", func(t *testing.T) {
		resp := buildProcessResponse(engine.Result{
			Verdict:    engine.Modify("rewritten"),
			ModifiedBy: []string{"convergence"},
		}, false, "ev-1", 1.5)
		if resp.Verdict != "modify" || resp.Content == nil || *resp.Content != "rewritten" {
			t.Errorf("resp = %+v", resp)
		}
	})
	t.Run("shadow modify hides content", func(t *testing.T) {
		resp := buildProcessResponse(engine.Result{Verdict: engine.Modify("rewritten")}, true, "ev-2", 0)
		if resp.Verdict != "allow" || resp.Content != nil {
			t.Errorf("resp = %+v", resp)
		}
		if resp.ShadowVerdict == nil || *resp.ShadowVerdict != "modify" {
			t.Errorf("shadow_verdict = %v", resp.ShadowVerdict)
		}
	})
	t.Run("drop carries reason", func(t *testing.T) {
		resp := buildProcessResponse(engine.Result{Verdict: engine.Drop("nope"), DecidedBy: "single_action"}, false, "ev-3", 0)
		if resp.Reason == nil || *resp.Reason != "nope" || *resp.DecidedBy != "single_action" {
			t.Errorf("resp = %+v", resp)
		}
	})
}
