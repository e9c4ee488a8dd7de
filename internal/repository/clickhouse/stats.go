package clickhouse

import (
	"context"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"finanalyst/internal/domain/stats"
	"finanalyst/internal/metrics"
)

// Compile-time check
var _ stats.Repository = (*StatsRepository)(nil)

const insertToolUsage = `
	INSERT INTO tool_usage (
		run_id, agent_id, task_key, tool_name, timestamp,
		duration_ms, success, session_id
	)`

// StatsRepository implements stats.Repository using ClickHouse
type StatsRepository struct {
	conn driver.Conn
}

// NewStatsRepository creates a new stats repository
func NewStatsRepository(conn driver.Conn) *StatsRepository {
	return &StatsRepository{conn: conn}
}

// InsertToolUsageBatch inserts multiple tool usage events
func (r *StatsRepository) InsertToolUsageBatch(ctx context.Context, events []stats.ToolUsageEvent) (err error) {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { metrics.RecordDBQuery("clickhouse", "insert_tool_usage", time.Since(start), err) }()

	batch, err := r.conn.PrepareBatch(ctx, insertToolUsage)
	if err != nil {
		return err
	}

	for i := range events {
		if err = batch.AppendStruct(&events[i]); err != nil {
			_ = batch.Abort()
			return err
		}
	}

	return batch.Send()
}

// RunEvents returns the events of one run in call order
func (r *StatsRepository) RunEvents(ctx context.Context, runID uuid.UUID) (_ []stats.ToolUsageEvent, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("clickhouse", "select_run_tool_usage", time.Since(start), err) }()

	var events []stats.ToolUsageEvent
	err = r.conn.Select(ctx, &events, `
		SELECT run_id, agent_id, task_key, tool_name, timestamp,
		       duration_ms, success, session_id
		FROM tool_usage
		WHERE run_id = ?
		ORDER BY timestamp ASC`, runID)
	return events, err
}

// Usage reads the hourly rollup. Without an agent or tool filter the hours
// are summed per agent/tool pair, busiest first.
func (r *StatsRepository) Usage(ctx context.Context, f stats.UsageFilter) (_ []stats.ToolUsageAggregated, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("clickhouse", "select_tool_usage_hourly", time.Since(start), err) }()

	query, args := usageQuery(f)
	var usage []stats.ToolUsageAggregated
	err = r.conn.Select(ctx, &usage, query, args...)
	return usage, err
}

func usageQuery(f stats.UsageFilter) (string, []any) {
	if f.Limit <= 0 {
		f.Limit = 20
	}

	where := []string{"h.hour >= ?"}
	args := []any{f.Since}
	if f.Agent != "" {
		where = append(where, "h.agent_id = ?")
		args = append(args, f.Agent)
	}
	if f.Tool != "" {
		where = append(where, "h.tool_name = ?")
		args = append(args, f.Tool)
	}
	args = append(args, f.Limit)

	// Unmerged parts may hold several rows per key, so every read sums.
	// Aggregates name h.* columns because their aliases shadow the columns.
	hour, groupBy, orderBy := "max(h.hour)", "agent_id, tool_name", "call_count DESC"
	if f.Agent != "" || f.Tool != "" {
		hour, groupBy, orderBy = "h.hour", "agent_id, tool_name, hour", "hour DESC"
	}

	return `
		SELECT
			agent_id,
			tool_name,
			` + hour + ` AS hour,
			sum(h.call_count) AS call_count,
			sum(h.total_duration_ms) AS total_duration_ms,
			sum(h.success_count) AS success_count,
			sum(h.error_count) AS error_count,
			if(call_count = 0, 0, total_duration_ms / call_count) AS avg_duration_ms
		FROM tool_usage_hourly AS h
		WHERE ` + strings.Join(where, " AND ") + `
		GROUP BY ` + groupBy + `
		ORDER BY ` + orderBy + `
		LIMIT ?`, args
}
