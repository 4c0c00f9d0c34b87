package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/triage-ai/intervene/internal/engine"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("authentication backend unavailable")
)

// KeyPrefix starts every API key.
const KeyPrefix = "tsk_"

// ProjectContext holds the authenticated project's configuration.
type ProjectContext struct {
	ProjectID string
	Mode      string              // "enforce" or "shadow"
	Policy    *engine.ChainPolicy // nil = server defaults
}

// IsShadow reports whether verdicts are recorded but not enforced.
func (p *ProjectContext) IsShadow() bool {
	return p.Mode == "shadow"
}

// Authenticator validates an API key and returns the project it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*ProjectContext, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	token := strings.TrimSpace(header)
	if token == "" {
		return "", ErrMissingAPIKey
	}
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if !strings.HasPrefix(token, KeyPrefix) {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// StaticAuthenticator accepts a single configured key and maps it to a fixed
// project with server-default policy. Intended for local development.
type StaticAuthenticator struct {
	key     string
	project ProjectContext
}

func NewStaticAuthenticator(apiKey, projectID string) *StaticAuthenticator {
	return &StaticAuthenticator{
		key:     apiKey,
		project: ProjectContext{ProjectID: projectID, Mode: "enforce"},
	}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*ProjectContext, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if a.key == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.key)) != 1 {
		return nil, ErrInvalidAPIKey
	}
	p := a.project
	return &p, nil
}
