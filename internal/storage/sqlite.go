package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Register the pure-Go sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS intervention_events (
	event_id        TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	timestamp_ms    INTEGER NOT NULL,
	direction       TEXT NOT NULL,
	agent_id        TEXT NOT NULL DEFAULT '',
	tool_name       TEXT NOT NULL DEFAULT '',
	provider        TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT '',
	verdict         TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	decided_by      TEXT NOT NULL DEFAULT '',
	modified_by     TEXT NOT NULL DEFAULT '[]',
	content_preview TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL,
	content_size    INTEGER NOT NULL,
	is_shadow       INTEGER NOT NULL DEFAULT 0,
	latency_ms      REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_intervention_events_project_ts
	ON intervention_events (project_id, timestamp_ms DESC);`

const sqliteColumns = "event_id, project_id, session_id, timestamp_ms, " +
	"direction, agent_id, tool_name, provider, model, " +
	"verdict, reason, decided_by, modified_by, " +
	"content_preview, content_hash, content_size, is_shadow, latency_ms"

// SQLiteWriter stores events in a local SQLite file. It is both an
// EventWriter and an EventReader, so a single-node deployment can serve the
// events API without ClickHouse.
type SQLiteWriter struct {
	db     *sql.DB
	batch  *batcher
	logger *zap.Logger
}

// NewSQLiteWriter opens (or creates) the database at path. Use ":memory:"
// for a throwaway store.
func NewSQLiteWriter(path string, logger *zap.Logger) (*SQLiteWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteWriter: %w", err)
	}
	// One connection: writes are serialized by the batcher and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("NewSQLiteWriter: %s: %w", stmt, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteWriter: schema: %w", err)
	}

	w := &SQLiteWriter{db: db, logger: logger}
	w.batch = newBatcher("sqlite", w.flush, logger)
	return w, nil
}

func (w *SQLiteWriter) Write(event *InterventionEvent) {
	w.batch.write(event)
}

// Close drains buffered events and closes the database.
func (w *SQLiteWriter) Close() {
	w.batch.close()
	if err := w.db.Close(); err != nil {
		w.logger.Warn("sqlite close failed", zap.Error(err))
	}
}

func (w *SQLiteWriter) flush(events []*InterventionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.logger.Error("sqlite begin failed", zap.Error(err))
		return
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO intervention_events ("+sqliteColumns+") "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		w.logger.Error("sqlite prepare failed", zap.Error(err))
		return
	}
	defer stmt.Close()

	for _, e := range events {
		modifiedBy, _ := json.Marshal(nonNil(e.ModifiedBy))
		if _, err := stmt.ExecContext(ctx,
			e.EventID, e.ProjectID, e.SessionID, e.Timestamp.UnixMilli(),
			e.Direction, e.AgentID, e.ToolName, e.Provider, e.Model,
			e.Verdict, e.Reason, e.DecidedBy, string(modifiedBy),
			e.ContentPreview, e.ContentHash, int64(e.ContentSize), boolToInt(e.IsShadow), e.LatencyMs,
		); err != nil {
			w.logger.Error("sqlite insert event failed",
				zap.String("event_id", e.EventID),
				zap.Error(err),
			)
		}
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error("sqlite commit failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// ListEvents returns paginated, filtered events (newest first) and the total
// count.
func (w *SQLiteWriter) ListEvents(ctx context.Context, params ListEventsParams) ([]InterventionEvent, int, error) {
	conditions := []string{"project_id = ?"}
	args := []any{params.ProjectID}

	addEq := func(col string, v *string) {
		if v != nil {
			conditions = append(conditions, col+" = ?")
			args = append(args, *v)
		}
	}
	addEq("session_id", params.SessionID)
	addEq("verdict", params.Verdict)
	addEq("direction", params.Direction)
	addEq("agent_id", params.AgentID)
	addEq("tool_name", params.ToolName)
	if params.IsShadow != nil {
		conditions = append(conditions, "is_shadow = ?")
		args = append(args, boolToInt(*params.IsShadow))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp_ms >= ?")
		args = append(args, params.StartTime.UnixMilli())
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp_ms <= ?")
		args = append(args, params.EndTime.UnixMilli())
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := w.db.QueryRowContext(ctx,
		"SELECT count(*) FROM intervention_events WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	rows, err := w.db.QueryContext(ctx,
		"SELECT "+sqliteColumns+" FROM intervention_events WHERE "+where+
			" ORDER BY timestamp_ms DESC LIMIT ? OFFSET ?",
		append(args, params.PageSize, params.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []InterventionEvent{}
	for rows.Next() {
		e, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, *e)
	}
	return events, total, rows.Err()
}

// GetEvent returns a single event, or nil if not found.
func (w *SQLiteWriter) GetEvent(ctx context.Context, projectID, eventID string) (*InterventionEvent, error) {
	row := w.db.QueryRowContext(ctx,
		"SELECT "+sqliteColumns+" FROM intervention_events WHERE project_id = ? AND event_id = ?",
		projectID, eventID,
	)
	e, err := scanSQLiteEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(r rowScanner) (*InterventionEvent, error) {
	var (
		e          InterventionEvent
		tsMillis   int64
		modifiedBy string
		size       int64
		isShadow   int
		latency    float64
	)
	if err := r.Scan(
		&e.EventID, &e.ProjectID, &e.SessionID, &tsMillis,
		&e.Direction, &e.AgentID, &e.ToolName, &e.Provider, &e.Model,
		&e.Verdict, &e.Reason, &e.DecidedBy, &modifiedBy,
		&e.ContentPreview, &e.ContentHash, &size, &isShadow, &latency,
	); err != nil {
		return nil, err
	}
	e.Timestamp = time.UnixMilli(tsMillis).UTC()
	e.ContentSize = uint32(size)
	e.IsShadow = isShadow != 0
	e.LatencyMs = float32(latency)
	if err := json.Unmarshal([]byte(modifiedBy), &e.ModifiedBy); err != nil {
		return nil, fmt.Errorf("modified_by: %w", err)
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
