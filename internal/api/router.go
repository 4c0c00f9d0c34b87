package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/triage-ai/intervene/internal/auth"
	"github.com/triage-ai/intervene/internal/chread"
	"github.com/triage-ai/intervene/internal/session"
	"github.com/triage-ai/intervene/internal/storage"
	"github.com/triage-ai/intervene/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// ProjectStore is the project and policy persistence used by the admin routes.
// *store.Store implements it.
type ProjectStore interface {
	CreateProject(ctx context.Context, name, mode string) (*store.Project, *store.Policy, string, error)
	ListProjects(ctx context.Context) ([]*store.Project, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	UpdateProject(ctx context.Context, id string, params store.UpdateProjectParams) (*store.Project, error)
	DeleteProject(ctx context.Context, id string) error
	RotateAPIKey(ctx context.Context, id string) (*store.Project, string, error)
	GetPolicy(ctx context.Context, projectID string) (*store.Policy, error)
	ReplacePolicy(ctx context.Context, projectID string, handlerConfig json.RawMessage) (*store.Policy, error)
}

// AnalyticsReader aggregates recorded events. *chread.Reader implements it.
type AnalyticsReader interface {
	GetAnalytics(ctx context.Context, projectID string, days int) (*chread.AnalyticsResult, error)
}

// Invalidator drops cached credentials after a project or policy changes.
type Invalidator interface {
	Invalidate(projectID string)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Sessions    *session.Registry
	Auth        auth.Authenticator
	Invalidator Invalidator         // nil when auth is not cached
	Projects    ProjectStore        // nil without Postgres
	Writer      storage.EventWriter
	Events      storage.EventReader // nil without an event store
	Analytics   AnalyticsReader     // nil without ClickHouse
	Logger      *zap.Logger

	// CORSOrigins defaults to allowing any origin when empty.
	CORSOrigins []string
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Session endpoints (Bearer tsk_ token)
	mux.HandleFunc("POST /v1/sessions", deps.authMiddleware(deps.handleCreateSession))
	mux.HandleFunc("POST /v1/sessions/{session_id}/process", deps.authMiddleware(deps.handleProcess))
	mux.HandleFunc("POST /v1/sessions/{session_id}/turn", deps.authMiddleware(deps.handleResetTurn))
	mux.HandleFunc("POST /v1/sessions/{session_id}/round", deps.authMiddleware(deps.handleResetRound))
	mux.HandleFunc("DELETE /v1/sessions/{session_id}", deps.authMiddleware(deps.handleDeleteSession))

	// Project CRUD (no auth, dashboard only)
	mux.HandleFunc("POST /api/projects", deps.requireProjects(deps.handleCreateProject))
	mux.HandleFunc("GET /api/projects", deps.requireProjects(deps.handleListProjects))
	mux.HandleFunc("GET /api/projects/{project_id}", deps.requireProjects(deps.handleGetProject))
	mux.HandleFunc("PATCH /api/projects/{project_id}", deps.requireProjects(deps.handleUpdateProject))
	mux.HandleFunc("DELETE /api/projects/{project_id}", deps.requireProjects(deps.handleDeleteProject))
	mux.HandleFunc("POST /api/projects/{project_id}/rotate-key", deps.requireProjects(deps.handleRotateKey))
	mux.HandleFunc("GET /api/projects/{project_id}/policy", deps.requireProjects(deps.handleGetPolicy))
	mux.HandleFunc("PUT /api/projects/{project_id}/policy", deps.requireProjects(deps.handleReplacePolicy))

	// Events & Analytics
	mux.HandleFunc("GET /api/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/events/{event_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/analytics", deps.handleGetAnalytics)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return otelhttp.NewHandler(cors(requestLogging(mux, deps.Logger), origins), "intervene.http")
}
