package storage

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogWriter records events as structured log entries. It backs local runs
// without an event store: allow verdicts log at debug, interventions at
// info.
type LogWriter struct {
	logger *zap.Logger
}

func NewLogWriter(logger *zap.Logger) *LogWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogWriter{logger: logger.Named("events")}
}

func (w *LogWriter) Write(e *InterventionEvent) {
	level := zapcore.InfoLevel
	if e.Verdict == "allow" {
		level = zapcore.DebugLevel
	}
	ce := w.logger.Check(level, "intervention_event")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event_id", e.EventID),
		zap.String("project_id", e.ProjectID),
		zap.String("session_id", e.SessionID),
		zap.String("direction", e.Direction),
		zap.String("verdict", e.Verdict),
		zap.Bool("is_shadow", e.IsShadow),
		zap.Float32("latency_ms", e.LatencyMs),
		zap.String("content_hash", e.ContentHash),
		zap.Uint32("content_size", e.ContentSize),
	}
	for _, f := range []struct{ key, val string }{
		{"agent_id", e.AgentID},
		{"tool_name", e.ToolName},
		{"provider", e.Provider},
		{"model", e.Model},
		{"reason", e.Reason},
		{"decided_by", e.DecidedBy},
	} {
		if f.val != "" {
			fields = append(fields, zap.String(f.key, f.val))
		}
	}
	if len(e.ModifiedBy) > 0 {
		fields = append(fields, zap.Strings("modified_by", e.ModifiedBy))
	}
	ce.Write(fields...)
}

// Close is a no-op; the logger is owned by the caller.
func (w *LogWriter) Close() {}
