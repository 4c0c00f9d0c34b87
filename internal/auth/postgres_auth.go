package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/triage-ai/intervene/internal/engine"
	"github.com/triage-ai/intervene/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheTTL applies when PostgresAuthConfig.CacheTTL is zero.
	DefaultCacheTTL = 30 * time.Second

	lookupTimeout = 5 * time.Second
)

// ProjectStore is the key lookup the authenticator needs.
type ProjectStore interface {
	// LookupByPrefix returns ErrInvalidAPIKey when no project has the prefix.
	LookupByPrefix(ctx context.Context, prefix string) (*projectRow, error)
}

type projectRow struct {
	ProjectID     string
	APIKeyHash    string
	Mode          string
	HandlerConfig json.RawMessage
}

type storeProjects struct {
	s *store.Store
}

func (p storeProjects) LookupByPrefix(ctx context.Context, prefix string) (*projectRow, error) {
	pw, err := p.s.LookupByPrefix(ctx, prefix)
	switch {
	case err != nil:
		return nil, err
	case pw == nil:
		return nil, ErrInvalidAPIKey
	}
	return &projectRow{
		ProjectID:     pw.ID,
		APIKeyHash:    pw.APIKeyHash,
		Mode:          pw.Mode,
		HandlerConfig: pw.HandlerConfig,
	}, nil
}

// PostgresAuthenticator resolves API keys to projects through the projects
// table. Resolved keys live in an AuthCache; concurrent misses for the same
// key share one database lookup and one bcrypt comparison.
type PostgresAuthenticator struct {
	store    ProjectStore
	cache    *AuthCache
	inflight singleflight.Group
	logger   *zap.Logger
}

type PostgresAuthConfig struct {
	Store    *store.Store
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return newPostgresAuthenticatorWithStore(storeProjects{s: cfg.Store}, NewAuthCache(ttl), cfg.Logger)
}

func newPostgresAuthenticatorWithStore(ps ProjectStore, cache *AuthCache, logger *zap.Logger) *PostgresAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAuthenticator{store: ps, cache: cache, logger: logger}
}

// Authenticate returns the project owning apiKey.
//
// Fresh cache hits return immediately. Stale hits return the cached project
// and trigger one background refresh. Misses resolve synchronously. Unknown
// or mismatched keys yield ErrInvalidAPIKey; database failures yield
// ErrAuthUnavailable.
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, apiKey string) (*ProjectContext, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	if cached := a.cache.Get(apiKey); cached.Hit {
		if cached.NeedsRefresh {
			go a.refresh(apiKey)
		}
		return cached.Project, nil
	}

	project, err := a.resolve(ctx, apiKey)
	switch {
	case errors.Is(err, ErrInvalidAPIKey):
		return nil, ErrInvalidAPIKey
	case err != nil:
		a.logger.Warn("auth DB unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	return project, nil
}

// Invalidate drops cached entries for a project.
func (a *PostgresAuthenticator) Invalidate(projectID string) {
	a.cache.DeleteProject(projectID)
}

// resolve looks the key up once per burst of concurrent callers and caches
// a successful result. The lookup is detached from any single caller's
// cancellation. A result read before an Invalidate is returned to its
// callers but not cached, and callers arriving after the Invalidate start a
// fresh lookup.
func (a *PostgresAuthenticator) resolve(ctx context.Context, apiKey string) (*ProjectContext, error) {
	gen := a.cache.Generation()
	digest := cacheKey(apiKey)
	key := hex.EncodeToString(digest[:]) + "/" + strconv.FormatUint(gen, 10)
	v, err, _ := a.inflight.Do(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		project, err := a.lookupAndVerify(lctx, apiKey)
		if err != nil {
			return nil, err
		}
		if !a.cache.SetIfCurrent(apiKey, project, gen) {
			a.logger.Debug("auth cache invalidated during lookup", zap.String("project_id", project.ProjectID))
		}
		return project, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProjectContext), nil
}

// refresh reloads a stale entry. On failure the entry is dropped so the next
// request resolves synchronously.
func (a *PostgresAuthenticator) refresh(apiKey string) {
	if _, err := a.resolve(context.Background(), apiKey); err != nil {
		a.logger.Warn("background cache refresh failed", zap.Error(err))
		a.cache.Delete(apiKey)
	}
}

func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*ProjectContext, error) {
	if len(apiKey) < store.APIKeyPrefixLength {
		return nil, ErrInvalidAPIKey
	}

	row, err := a.store.LookupByPrefix(ctx, apiKey[:store.APIKeyPrefixLength])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)) != nil {
		return nil, ErrInvalidAPIKey
	}

	// A broken stored policy falls back to server defaults.
	policy, err := engine.ParsePolicyJSON(row.HandlerConfig)
	if err != nil {
		a.logger.Warn("ignoring unparsable handler_config",
			zap.String("project_id", row.ProjectID),
			zap.Error(err),
		)
		policy = nil
	}

	return &ProjectContext{
		ProjectID: row.ProjectID,
		Mode:      row.Mode,
		Policy:    policy,
	}, nil
}
