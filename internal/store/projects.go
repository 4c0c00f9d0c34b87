package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Project modes.
const (
	ModeEnforce = "enforce"
	ModeShadow  = "shadow"
)

// ValidMode reports whether mode is a supported project mode.
func ValidMode(mode string) bool {
	return mode == ModeEnforce || mode == ModeShadow
}

// Project is a tenant of the service. Requests authenticate with the
// project's API key and are scoped to its sessions and events.
type Project struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	Mode         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsShadow reports whether verdicts are recorded but not enforced.
func (p *Project) IsShadow() bool {
	return p.Mode == ModeShadow
}

// ProjectWithPolicy carries the handler configuration alongside the project
// for auth lookups.
type ProjectWithPolicy struct {
	Project
	HandlerConfig json.RawMessage
}

// UpdateProjectParams holds optional fields for partial project updates.
type UpdateProjectParams struct {
	Name *string
	Mode *string
}

const projectFields = `id, name, api_key_hash, api_key_prefix, mode, created_at, updated_at`

func (p *Project) scan(row scanner, extra ...any) error {
	dest := append([]any{&p.ID, &p.Name, &p.APIKeyHash, &p.APIKeyPrefix, &p.Mode, &p.CreatedAt, &p.UpdatedAt}, extra...)
	return row.Scan(dest...)
}

// getProject runs a single-row query returning projectFields.
func (s *Store) getProject(ctx context.Context, op, query string, args ...any) (*Project, error) {
	var p Project
	found, err := optional(p.scan(s.db.QueryRowContext(ctx, query, args...)))
	if err != nil || !found {
		return nil, wrapErr(op, err)
	}
	return &p, nil
}

// CreateProject inserts a project with an empty policy and a fresh API key.
// The returned plaintext key is not recoverable afterwards.
func (s *Store) CreateProject(ctx context.Context, name, mode string) (*Project, *Policy, string, error) {
	if mode == "" {
		mode = ModeEnforce
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return nil, nil, "", wrapErr("create project", err)
	}

	var (
		p   Project
		pol Policy
	)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		err := p.scan(tx.QueryRowContext(ctx,
			`INSERT INTO projects (name, api_key_hash, api_key_prefix, mode)
			 VALUES ($1, $2, $3, $4) RETURNING `+projectFields,
			name, key.Hash, key.Prefix, mode))
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		err = pol.scan(tx.QueryRowContext(ctx,
			`INSERT INTO policies (project_id) VALUES ($1)
			 RETURNING id, project_id, handler_config, created_at, updated_at`, p.ID))
		if err != nil {
			return fmt.Errorf("insert policy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, "", wrapErr("create project", err)
	}
	return &p, &pol, key.Plaintext, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectFields+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, wrapErr("list projects", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p := new(Project)
		if err := p.scan(rows); err != nil {
			return nil, wrapErr("list projects", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("list projects", rows.Err())
}

// GetProject returns a project by ID, or nil if not found.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	return s.getProject(ctx, "get project",
		`SELECT `+projectFields+` FROM projects WHERE id = $1`, id)
}

// UpdateProject changes the non-nil fields of params and returns the updated
// project, or nil if it does not exist.
func (s *Store) UpdateProject(ctx context.Context, id string, params UpdateProjectParams) (*Project, error) {
	return s.getProject(ctx, "update project",
		`UPDATE projects
		 SET name = COALESCE($2, name), mode = COALESCE($3, mode), updated_at = now()
		 WHERE id = $1 RETURNING `+projectFields,
		id, params.Name, params.Mode)
}

// DeleteProject removes a project and, by cascade, its policy. It returns
// sql.ErrNoRows when nothing was deleted.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete project", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RotateAPIKey replaces a project's key and returns the new plaintext. A
// missing project yields an error wrapping sql.ErrNoRows.
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Project, string, error) {
	key, err := GenerateAPIKey()
	if err != nil {
		return nil, "", wrapErr("rotate api key", err)
	}
	var p Project
	err = p.scan(s.db.QueryRowContext(ctx,
		`UPDATE projects
		 SET api_key_hash = $2, api_key_prefix = $3, updated_at = now()
		 WHERE id = $1 RETURNING `+projectFields,
		id, key.Hash, key.Prefix))
	if err != nil {
		return nil, "", wrapErr("rotate api key", err)
	}
	return &p, key.Plaintext, nil
}

// LookupByPrefix finds the project owning an API key prefix, joined with its
// handler configuration. It returns nil when no project matches.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*ProjectWithPolicy, error) {
	var pw ProjectWithPolicy
	row := s.db.QueryRowContext(ctx,
		`SELECT p.id, p.name, p.api_key_hash, p.api_key_prefix, p.mode, p.created_at, p.updated_at,
		        COALESCE(pol.handler_config, '{}')
		 FROM projects p LEFT JOIN policies pol ON pol.project_id = p.id
		 WHERE p.api_key_prefix = $1`, prefix)
	found, err := optional(pw.scan(row, &pw.HandlerConfig))
	if err != nil || !found {
		return nil, wrapErr("lookup by prefix", err)
	}
	return &pw, nil
}
