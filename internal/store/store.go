package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store provides access to the PostgreSQL database for project and policy CRUD.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema creates the projects and policies tables when they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name           TEXT NOT NULL,
	api_key_hash   TEXT NOT NULL,
	api_key_prefix TEXT NOT NULL UNIQUE,
	mode           TEXT NOT NULL DEFAULT 'enforce' CHECK (mode IN ('enforce', 'shadow')),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policies (
	id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	project_id     UUID NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
	handler_config JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// withTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// optional maps sql.ErrNoRows to found=false so single-row getters can
// return nil without an error.
func optional(err error) (found bool, _ error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}
