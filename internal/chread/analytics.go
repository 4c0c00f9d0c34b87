package chread

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const topHandlersLimit = 10

// VerdictCounts holds how many enforced messages ended in each verdict.
type VerdictCounts struct {
	Total    int `json:"total"`
	Allows   int `json:"allows"`
	Modifies int `json:"modifies"`
	Drops    int `json:"drops"`
	Halts    int `json:"halts"`
}

type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// HandlerCount holds how often a handler decided or rewrote a message.
type HandlerCount struct {
	Handler string `json:"handler"`
	Count   int    `json:"count"`
}

// ShadowReportStats counts what shadow-mode projects would have enforced.
type ShadowReportStats struct {
	Total       int `json:"total"`
	WouldModify int `json:"would_modify"`
	WouldDrop   int `json:"would_drop"`
	WouldHalt   int `json:"would_halt"`
}

// LatencyStats holds processing latency percentiles over the last day.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type AnalyticsResult struct {
	Summary               VerdictCounts      `json:"summary"`
	InterventionsOverTime []TimeSeriesBucket `json:"interventions_over_time"`
	TopHandlers           []HandlerCount     `json:"top_handlers"`
	ShadowReport          ShadowReportStats  `json:"shadow_report"`
	LatencyPercentiles    LatencyStats       `json:"latency_percentiles"`
}

const (
	summaryQuery = `SELECT count(), countIf(verdict = 'allow'), countIf(verdict = 'modify'),
	countIf(verdict = 'drop'), countIf(verdict = 'halt')
FROM intervention_events
WHERE project_id = @project_id AND is_shadow = 0 AND timestamp >= @since`

	overTimeQuery = `SELECT toStartOfHour(timestamp) AS hour, count()
FROM intervention_events
WHERE project_id = @project_id AND verdict != 'allow' AND timestamp >= @since
GROUP BY hour ORDER BY hour`

	topHandlersQuery = `SELECT handler, count() AS n FROM (
	SELECT decided_by AS handler FROM intervention_events
	WHERE project_id = @project_id AND decided_by != '' AND timestamp >= @since
	UNION ALL
	SELECT arrayJoin(modified_by) AS handler FROM intervention_events
	WHERE project_id = @project_id AND timestamp >= @since
) GROUP BY handler ORDER BY n DESC LIMIT @limit`

	shadowQuery = `SELECT count(), countIf(verdict = 'modify'), countIf(verdict = 'drop'), countIf(verdict = 'halt')
FROM intervention_events
WHERE project_id = @project_id AND is_shadow = 1 AND timestamp >= @since`

	latencyQuery = `SELECT quantile(0.5)(latency_ms), quantile(0.95)(latency_ms), quantile(0.99)(latency_ms)
FROM intervention_events
WHERE project_id = @project_id AND timestamp >= @since`
)

// GetAnalytics aggregates a project's events over the last days. The
// aggregations run concurrently; latency percentiles always cover the last
// 24 hours.
func (r *Reader) GetAnalytics(ctx context.Context, projectID string, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	project := clickhouse.Named("project_id", projectID)
	since := clickhouse.Named("since", now.Add(-time.Duration(days)*24*time.Hour))
	lastDay := clickhouse.Named("since", now.Add(-24*time.Hour))

	res := &AnalyticsResult{
		InterventionsOverTime: []TimeSeriesBucket{},
		TopHandlers:           []HandlerCount{},
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var total, allows, modifies, drops, halts uint64
		if err := r.conn.QueryRow(ctx, summaryQuery, project, since).Scan(&total, &allows, &modifies, &drops, &halts); err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		res.Summary = VerdictCounts{
			Total: int(total), Allows: int(allows), Modifies: int(modifies), Drops: int(drops), Halts: int(halts),
		}
		return nil
	})

	g.Go(func() error {
		rows, err := r.conn.Query(ctx, overTimeQuery, project, since)
		if err != nil {
			return fmt.Errorf("interventions over time: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				hour time.Time
				n    uint64
			)
			if err := rows.Scan(&hour, &n); err != nil {
				return fmt.Errorf("interventions over time: %w", err)
			}
			res.InterventionsOverTime = append(res.InterventionsOverTime, TimeSeriesBucket{
				Hour: hour.UTC().Format(time.RFC3339), Count: int(n),
			})
		}
		return rows.Err()
	})

	g.Go(func() error {
		rows, err := r.conn.Query(ctx, topHandlersQuery, project, since, clickhouse.Named("limit", uint32(topHandlersLimit)))
		if err != nil {
			return fmt.Errorf("top handlers: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				name string
				n    uint64
			)
			if err := rows.Scan(&name, &n); err != nil {
				return fmt.Errorf("top handlers: %w", err)
			}
			res.TopHandlers = append(res.TopHandlers, HandlerCount{Handler: name, Count: int(n)})
		}
		return rows.Err()
	})

	g.Go(func() error {
		var total, modify, drop, halt uint64
		if err := r.conn.QueryRow(ctx, shadowQuery, project, since).Scan(&total, &modify, &drop, &halt); err != nil {
			return fmt.Errorf("shadow report: %w", err)
		}
		res.ShadowReport = ShadowReportStats{
			Total: int(total), WouldModify: int(modify), WouldDrop: int(drop), WouldHalt: int(halt),
		}
		return nil
	})

	g.Go(func() error {
		var p50, p95, p99 float64
		if err := r.conn.QueryRow(ctx, latencyQuery, project, lastDay).Scan(&p50, &p95, &p99); err != nil {
			return fmt.Errorf("latency: %w", err)
		}
		res.LatencyPercentiles = LatencyStats{P50: finite(p50), P95: finite(p95), P99: finite(p99)}
		return nil
	})

	if err := g.Wait(); err != nil {
		r.logger.Warn("analytics query failed", zap.String("project_id", projectID), zap.Error(err))
		return nil, fmt.Errorf("get analytics: %w", err)
	}
	return res, nil
}

// finite maps NaN and Inf to 0. quantile() over no rows yields NaN.
func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
