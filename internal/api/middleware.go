package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/triage-ai/intervene/internal/auth"
)

// RequestIDHeader carries the per-request correlation ID. Incoming values
// are kept; otherwise one is generated.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{ name string }

var projectKey = ctxKey{"project"}

func projectFromContext(ctx context.Context) *auth.ProjectContext {
	p, _ := ctx.Value(projectKey).(*auth.ProjectContext)
	return p
}

// authMiddleware resolves the bearer key to a project and stores it on the
// request context.
func (d *Dependencies) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}
		project, err := d.Auth.Authenticate(r.Context(), token)
		if errors.Is(err, auth.ErrAuthUnavailable) {
			d.Logger.Error("auth backend unavailable", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "Authentication unavailable")
			return
		}
		if err != nil {
			d.Logger.Warn("auth failed", zap.Error(err), zap.String("request_id", w.Header().Get(RequestIDHeader)))
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), projectKey, project)))
	}
}

func (d *Dependencies) requireProjects(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Projects == nil {
			writeError(w, http.StatusServiceUnavailable, "Postgres not configured")
			return
		}
		next(w, r)
	}
}

// internalError logs err and answers 500 with a generic detail for what.
func (d *Dependencies) internalError(w http.ResponseWriter, what string, err error) {
	d.Logger.Error(what+" failed", zap.Error(err), zap.String("request_id", w.Header().Get(RequestIDHeader)))
	writeError(w, http.StatusInternalServerError, "Failed to "+what)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResp{Detail: detail})
}

func notFound(w http.ResponseWriter, what string) {
	writeError(w, http.StatusNotFound, what+" not found.")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readJSON decodes the request body into v. A malformed body has already
// been answered with 400 when it returns false.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// queryInt parses an integer query parameter, returning def when the value
// is missing or malformed.
func queryInt(r *http.Request, key string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return n
	}
	return def
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// requestLogging tags each request with an ID and logs it once the handler
// returns. 5xx responses log at error, 4xx at warn.
func requestLogging(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := zapcore.InfoLevel
		switch {
		case rec.status >= 500:
			level = zapcore.ErrorLevel
		case rec.status >= 400:
			level = zapcore.WarnLevel
		}
		logger.Log(level, "http request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// cors answers preflight requests and sets Access-Control headers for
// allowed origins. An origins list containing "*" allows any origin.
func cors(next http.Handler, origins []string) http.Handler {
	wildcard := slices.Contains(origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		switch {
		case wildcard:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		if h.Get("Access-Control-Allow-Origin") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+RequestIDHeader)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)
			h.Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
