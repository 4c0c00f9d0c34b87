package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// ClickHouseSchema creates the events table when it does not exist.
const ClickHouseSchema = `
CREATE TABLE IF NOT EXISTS intervention_events (
	event_id        String,
	project_id      String,
	session_id      String,
	timestamp       DateTime64(3, 'UTC'),
	direction       LowCardinality(String),
	agent_id        String,
	tool_name       String,
	provider        LowCardinality(String),
	model           String,
	verdict         LowCardinality(String),
	reason          String,
	decided_by      LowCardinality(String),
	modified_by     Array(String),
	content_preview String,
	content_hash    String,
	content_size    UInt32,
	is_shadow       UInt8,
	latency_ms      Float32
) ENGINE = MergeTree
ORDER BY (project_id, timestamp)`

const (
	clickhouseOpenTimeout  = 10 * time.Second
	clickhouseFlushTimeout = 5 * time.Second
)

const clickhouseInsert = `INSERT INTO intervention_events (
	event_id, project_id, session_id, timestamp,
	direction, agent_id, tool_name, provider, model,
	verdict, reason, decided_by, modified_by,
	content_preview, content_hash, content_size, is_shadow, latency_ms)`

// ClickHouseWriter batch-inserts events from a background goroutine.
type ClickHouseWriter struct {
	conn   driver.Conn
	batch  *batcher
	logger *zap.Logger
}

// OpenClickHouse parses dsn and returns a pinged connection. TLS is on
// unless the DSN already configures it.
func OpenClickHouse(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return conn, nil
}

// NewClickHouseWriter connects, creates the events table if needed and
// starts flushing.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), clickhouseOpenTimeout)
	defer cancel()

	conn, err := OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse writer: %w", err)
	}
	if err := conn.Exec(ctx, ClickHouseSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create clickhouse schema: %w", err)
	}

	w := &ClickHouseWriter{conn: conn, logger: logger}
	w.batch = newBatcher("clickhouse", w.flush, logger)
	return w, nil
}

func (w *ClickHouseWriter) Write(event *InterventionEvent) {
	w.batch.write(event)
}

// Close flushes queued events and closes the connection.
func (w *ClickHouseWriter) Close() {
	w.batch.close()
	if err := w.conn.Close(); err != nil {
		w.logger.Warn("clickhouse close failed", zap.Error(err))
	}
}

// clickhouseRow orders an event's values as in clickhouseInsert.
func clickhouseRow(e *InterventionEvent) []any {
	return []any{
		e.EventID, e.ProjectID, e.SessionID, e.Timestamp,
		e.Direction, e.AgentID, e.ToolName, e.Provider, e.Model,
		e.Verdict, e.Reason, e.DecidedBy, nonNil(e.ModifiedBy),
		e.ContentPreview, e.ContentHash, e.ContentSize, uint8(boolToInt(e.IsShadow)), e.LatencyMs,
	}
}

func (w *ClickHouseWriter) flush(events []*InterventionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), clickhouseFlushTimeout)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, clickhouseInsert)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Int("batch_size", len(events)), zap.Error(err))
		return
	}
	skipped := 0
	for _, e := range events {
		if err := batch.Append(clickhouseRow(e)...); err != nil {
			skipped++
			w.logger.Error("clickhouse append failed", zap.String("event_id", e.EventID), zap.Error(err))
		}
	}
	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed", zap.Int("batch_size", len(events)), zap.Error(err))
		return
	}
	w.logger.Debug("clickhouse batch sent", zap.Int("inserted", len(events)-skipped), zap.Int("skipped", skipped))
}
