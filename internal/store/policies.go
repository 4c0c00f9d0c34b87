package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/triage-ai/intervene/internal/engine"
)

// Policy is a project's handler configuration. HandlerConfig holds the raw
// JSONB document.
type Policy struct {
	ID            string
	ProjectID     string
	HandlerConfig json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChainPolicy parses HandlerConfig. A nil result means server defaults.
func (p *Policy) ChainPolicy() (*engine.ChainPolicy, error) {
	return engine.ParsePolicyJSON(p.HandlerConfig)
}

const selectPolicy = `SELECT id, project_id, handler_config, created_at, updated_at FROM policies`

func (p *Policy) scan(row scanner) error {
	return row.Scan(&p.ID, &p.ProjectID, &p.HandlerConfig, &p.CreatedAt, &p.UpdatedAt)
}

// GetPolicy returns the policy for a project, or nil if the project has none.
func (s *Store) GetPolicy(ctx context.Context, projectID string) (*Policy, error) {
	var p Policy
	found, err := optional(p.scan(s.db.QueryRowContext(ctx, selectPolicy+` WHERE project_id = $1`, projectID)))
	if err != nil || !found {
		return nil, wrapErr("get policy", err)
	}
	return &p, nil
}

// ReplacePolicy overwrites the handler configuration of a project's policy
// and returns the stored row, or nil when the project has no policy. Callers
// validate handlerConfig with engine.ValidatePolicyJSON beforehand.
func (s *Store) ReplacePolicy(ctx context.Context, projectID string, handlerConfig json.RawMessage) (*Policy, error) {
	if len(handlerConfig) == 0 {
		handlerConfig = json.RawMessage(`{}`)
	}
	var p Policy
	row := s.db.QueryRowContext(ctx,
		`UPDATE policies SET handler_config = $2, updated_at = now()
		 WHERE project_id = $1
		 RETURNING id, project_id, handler_config, created_at, updated_at`,
		projectID, []byte(handlerConfig))
	found, err := optional(p.scan(row))
	if err != nil || !found {
		return nil, wrapErr("replace policy", err)
	}
	return &p, nil
}

// wrapErr annotates err with op, passing nil through.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
