// Package chread queries recorded intervention events in ClickHouse for the
// dashboard API.
package chread

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/triage-ai/intervene/internal/storage"
)

const connectTimeout = 10 * time.Second

// Reader runs read queries against intervention_events.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

var _ storage.EventReader = (*Reader)(nil)

func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	conn, err := storage.OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse reader: %w", err)
	}
	return &Reader{conn: conn, logger: logger}, nil
}

func (r *Reader) Close() error {
	return r.conn.Close()
}

var selectEvents = "SELECT " + strings.Join([]string{
	"event_id", "project_id", "session_id", "timestamp",
	"direction", "agent_id", "tool_name", "provider", "model",
	"verdict", "reason", "decided_by", "modified_by",
	"content_preview", "content_hash", "content_size", "is_shadow", "latency_ms",
}, ", ") + " FROM intervention_events"

// eventRow scans one row; is_shadow is stored as UInt8.
type eventRow struct {
	storage.InterventionEvent
	shadow uint8
}

func (e *eventRow) fields() []any {
	return []any{
		&e.EventID, &e.ProjectID, &e.SessionID, &e.Timestamp,
		&e.Direction, &e.AgentID, &e.ToolName, &e.Provider, &e.Model,
		&e.Verdict, &e.Reason, &e.DecidedBy, &e.ModifiedBy,
		&e.ContentPreview, &e.ContentHash, &e.ContentSize, &e.shadow, &e.LatencyMs,
	}
}

func (e *eventRow) event() storage.InterventionEvent {
	ev := e.InterventionEvent
	ev.IsShadow = e.shadow != 0
	return ev
}

// filter accumulates AND-ed conditions with named parameters.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond, name string, value any) {
	f.conds = append(f.conds, cond)
	f.args = append(f.args, clickhouse.Named(name, value))
}

func (f *filter) eq(col string, v *string) {
	if v != nil {
		f.add(col+" = @"+col, col, *v)
	}
}

func (f *filter) where() string {
	return " WHERE " + strings.Join(f.conds, " AND ")
}

func eventFilter(p storage.ListEventsParams) *filter {
	f := &filter{}
	f.add("project_id = @project_id", "project_id", p.ProjectID)
	f.eq("session_id", p.SessionID)
	f.eq("verdict", p.Verdict)
	f.eq("direction", p.Direction)
	f.eq("agent_id", p.AgentID)
	f.eq("tool_name", p.ToolName)
	if p.IsShadow != nil {
		var v uint8
		if *p.IsShadow {
			v = 1
		}
		f.add("is_shadow = @is_shadow", "is_shadow", v)
	}
	if p.StartTime != nil {
		f.add("timestamp >= @start_time", "start_time", *p.StartTime)
	}
	if p.EndTime != nil {
		f.add("timestamp <= @end_time", "end_time", *p.EndTime)
	}
	return f
}

// ListEvents returns one page of matching events, newest first, and the
// number of matches across all pages.
func (r *Reader) ListEvents(ctx context.Context, params storage.ListEventsParams) ([]storage.InterventionEvent, int, error) {
	f := eventFilter(params)

	var total uint64
	if err := r.conn.QueryRow(ctx, "SELECT count() FROM intervention_events"+f.where(), f.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	args := append(f.args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(params.Offset())),
	)
	rows, err := r.conn.Query(ctx, selectEvents+f.where()+" ORDER BY timestamp DESC LIMIT @limit OFFSET @offset", args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]storage.InterventionEvent, 0, max(params.PageSize, 0))
	for rows.Next() {
		var row eventRow
		if err := rows.Scan(row.fields()...); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, row.event())
	}
	return events, int(total), rows.Err()
}

// GetEvent returns nil, nil when the event does not exist in the project.
func (r *Reader) GetEvent(ctx context.Context, projectID, eventID string) (*storage.InterventionEvent, error) {
	f := &filter{}
	f.add("project_id = @project_id", "project_id", projectID)
	f.add("event_id = @event_id", "event_id", eventID)

	rows, err := r.conn.Query(ctx, selectEvents+f.where()+" LIMIT 1", f.args...)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var row eventRow
	if err := rows.Scan(row.fields()...); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	ev := row.event()
	return &ev, nil
}
