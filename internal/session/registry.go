// Package session keeps one intervention chain per orchestrator run.
//
// Handler state (the per-turn action counter, the per-round convergence
// history) belongs to a single agent loop, so every session owns a freshly
// built chain. Sessions idle longer than the TTL are evicted.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/intervene/internal/engine"
	"github.com/triage-ai/intervene/internal/engine/handlers"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrWrongProject    = errors.New("session belongs to another project")
)

// Session is one orchestrator run.
type Session struct {
	ID        string
	ProjectID string
	CreatedAt time.Time

	chain *engine.Chain

	// mu serializes Process against the turn and round resets so a reset
	// never lands in the middle of a chain pass.
	mu       sync.Mutex
	lastSeen time.Time
}

// HandlerNames returns the session chain's handlers in order.
func (s *Session) HandlerNames() []string {
	return s.chain.Names()
}

// LastSeen returns the time of the most recent activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.lastSeen = now
}

// Registry owns all live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	settings handlers.Settings

	idleTTL time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewRegistry creates a registry. A zero idleTTL disables eviction.
func NewRegistry(settings handlers.Settings, idleTTL time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		settings: settings,
		idleTTL:  idleTTL,
		now:      time.Now,
		logger:   logger,
	}
}

// SetSettings swaps the server defaults used for sessions created from now
// on. Existing sessions keep their chains.
func (r *Registry) SetSettings(settings handlers.Settings) {
	r.mu.Lock()
	r.settings = settings
	r.mu.Unlock()
	r.logger.Info("handler defaults updated", zap.Strings("order", settings.Order))
}

// Settings returns the current server defaults.
func (r *Registry) Settings() handlers.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Create starts a session for projectID with a chain built from the current
// defaults and the project's policy.
func (r *Registry) Create(projectID string, policy *engine.ChainPolicy) *Session {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		CreatedAt: now,
		chain:     handlers.Build(r.settings, policy, r.logger.With(zap.String("project_id", projectID))),
		lastSeen:  now,
	}
	r.sessions[s.ID] = s
	r.logger.Debug("session created",
		zap.String("session_id", s.ID),
		zap.String("project_id", projectID),
		zap.Strings("handlers", s.chain.Names()),
	)
	return s
}

// Get returns the session if it exists and belongs to projectID.
func (r *Registry) Get(projectID, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.ProjectID != projectID {
		return nil, ErrWrongProject
	}
	return s, nil
}

// Delete ends a session.
func (r *Registry) Delete(projectID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.ProjectID != projectID {
		return ErrWrongProject
	}
	delete(r.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Process evaluates one message in the session's chain.
func (r *Registry) Process(projectID, id, content string, ictx engine.Context) (engine.Result, error) {
	s, err := r.Get(projectID, id)
	if err != nil {
		return engine.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(r.now())
	return s.chain.Evaluate(content, ictx), nil
}

// ResetTurn marks the start of a new agent turn.
func (r *Registry) ResetTurn(projectID, id string) error {
	s, err := r.Get(projectID, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(r.now())
	s.chain.ResetTurn()
	return nil
}

// ResetRound marks the dispatch of a fresh set of delegates.
func (r *Registry) ResetRound(projectID, id string) error {
	s, err := r.Get(projectID, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(r.now())
	s.chain.ResetRound()
	return nil
}

// Sweep evicts sessions idle since before now minus the TTL and returns how
// many were removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(r.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Info("evicted idle sessions",
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(r.sessions)),
		)
	}
	return evicted
}

// Run sweeps every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}
