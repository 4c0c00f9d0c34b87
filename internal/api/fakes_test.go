package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/triage-ai/intervene/internal/auth"
	"github.com/triage-ai/intervene/internal/chread"
	"github.com/triage-ai/intervene/internal/engine/handlers"
	"github.com/triage-ai/intervene/internal/session"
	"github.com/triage-ai/intervene/internal/storage"
	"github.com/triage-ai/intervene/internal/store"
	"go.uber.org/zap"
)

const (
	enforceKey = "tsk_enforce_key"
	shadowKey  = "tsk_shadow_key"
	downKey    = "tsk_backend_down"
)

type fakeAuth struct {
	projects map[string]*auth.ProjectContext
}

func (f *fakeAuth) Authenticate(_ context.Context, apiKey string) (*auth.ProjectContext, error) {
	if apiKey == downKey {
		return nil, fmt.Errorf("%w: connection refused", auth.ErrAuthUnavailable)
	}
	p, ok := f.projects[apiKey]
	if !ok {
		return nil, auth.ErrInvalidAPIKey
	}
	cp := *p
	return &cp, nil
}

type fakeWriter struct {
	mu     sync.Mutex
	events []*storage.InterventionEvent
}

func (w *fakeWriter) Write(e *storage.InterventionEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
}

func (w *fakeWriter) Close() {}

func (w *fakeWriter) last(t *testing.T) *storage.InterventionEvent {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.events) == 0 {
		t.Fatal("no events written")
	}
	return w.events[len(w.events)-1]
}

type fakeInvalidator struct {
	projects []string
}

func (f *fakeInvalidator) Invalidate(projectID string) {
	f.projects = append(f.projects, projectID)
}

// fakeProjects is an in-memory ProjectStore.
type fakeProjects struct {
	mu       sync.Mutex
	nextID   int
	projects map[string]*store.Project
	policies map[string]*store.Policy
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{
		projects: make(map[string]*store.Project),
		policies: make(map[string]*store.Policy),
	}
}

func (f *fakeProjects) CreateProject(_ context.Context, name, mode string) (*store.Project, *store.Policy, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mode == "" {
		mode = store.ModeEnforce
	}
	f.nextID++
	id := fmt.Sprintf("proj-%d", f.nextID)
	now := time.Now()
	key := fmt.Sprintf("tsk_%064d", f.nextID)
	p := &store.Project{ID: id, Name: name, APIKeyPrefix: key[:store.APIKeyPrefixLength], Mode: mode, CreatedAt: now, UpdatedAt: now}
	pol := &store.Policy{ID: "pol-" + id, ProjectID: id, HandlerConfig: json.RawMessage(`{}`), CreatedAt: now, UpdatedAt: now}
	f.projects[id] = p
	f.policies[id] = pol
	return p, pol, key, nil
}

func (f *fakeProjects) ListProjects(context.Context) ([]*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProjects) GetProject(_ context.Context, id string) (*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[id], nil
}

func (f *fakeProjects) UpdateProject(_ context.Context, id string, params store.UpdateProjectParams) (*store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, nil
	}
	if params.Name != nil {
		p.Name = *params.Name
	}
	if params.Mode != nil {
		p.Mode = *params.Mode
	}
	return p, nil
}

func (f *fakeProjects) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.projects, id)
	delete(f.policies, id)
	return nil
}

func (f *fakeProjects) RotateAPIKey(_ context.Context, id string) (*store.Project, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", sql.ErrNoRows)
	}
	key := "tsk_rotated" + id
	p.APIKeyPrefix = key[:store.APIKeyPrefixLength]
	return p, key, nil
}

func (f *fakeProjects) GetPolicy(_ context.Context, projectID string) (*store.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policies[projectID], nil
}

func (f *fakeProjects) ReplacePolicy(_ context.Context, projectID string, hc json.RawMessage) (*store.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pol, ok := f.policies[projectID]
	if !ok {
		return nil, nil
	}
	pol.HandlerConfig = hc
	return pol, nil
}

type fakeEvents struct {
	events     []storage.InterventionEvent
	lastParams storage.ListEventsParams
}

func (f *fakeEvents) ListEvents(_ context.Context, params storage.ListEventsParams) ([]storage.InterventionEvent, int, error) {
	f.lastParams = params
	var out []storage.InterventionEvent
	for _, e := range f.events {
		if e.ProjectID == params.ProjectID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (f *fakeEvents) GetEvent(_ context.Context, projectID, eventID string) (*storage.InterventionEvent, error) {
	for _, e := range f.events {
		if e.ProjectID == projectID && e.EventID == eventID {
			return &e, nil
		}
	}
	return nil, nil
}

type fakeAnalytics struct {
	days int
}

func (f *fakeAnalytics) GetAnalytics(_ context.Context, _ string, days int) (*chread.AnalyticsResult, error) {
	f.days = days
	return &chread.AnalyticsResult{
		Summary: chread.VerdictCounts{Total: 3, Allows: 2, Halts: 1},
	}, nil
}

type testServer struct {
	handler     http.Handler
	writer      *fakeWriter
	projects    *fakeProjects
	events      *fakeEvents
	analytics   *fakeAnalytics
	invalidator *fakeInvalidator
	sessions    *session.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		writer:      &fakeWriter{},
		projects:    newFakeProjects(),
		events:      &fakeEvents{},
		analytics:   &fakeAnalytics{},
		invalidator: &fakeInvalidator{},
		sessions:    session.NewRegistry(handlers.DefaultSettings(), time.Hour, zap.NewNop()),
	}
	deps := &Dependencies{
		Sessions: ts.sessions,
		Auth: &fakeAuth{projects: map[string]*auth.ProjectContext{
			enforceKey: {ProjectID: "proj-enforce", Mode: store.ModeEnforce},
			shadowKey:  {ProjectID: "proj-shadow", Mode: store.ModeShadow},
		}},
		Invalidator: ts.invalidator,
		Projects:    ts.projects,
		Writer:      ts.writer,
		Events:      ts.events,
		Analytics:   ts.analytics,
		Logger:      zap.NewNop(),
	}
	ts.handler = NewRouter(deps)
	return ts
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (ts *testServer) do(t *testing.T, method, path, apiKey string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code
}

func (ts *testServer) createSession(t *testing.T, apiKey string) string {
	t.Helper()
	var resp CreateSessionResp
	if code := ts.do(t, http.MethodPost, "/v1/sessions", apiKey, nil, &resp); code != http.StatusCreated {
		t.Fatalf("create session status = %d, want 201", code)
	}
	return resp.SessionID
}
