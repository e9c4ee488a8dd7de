package clickhouse

import (
	"context"

	"finanalyst/pkg/errors"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tool_usage (
		run_id      UUID,
		agent_id    LowCardinality(String),
		task_key    LowCardinality(String),
		tool_name   LowCardinality(String),
		timestamp   DateTime64(3),
		duration_ms UInt32,
		success     Bool,
		session_id  String
	)
	ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (tool_name, agent_id, timestamp)
	TTL toDateTime(timestamp) + INTERVAL 180 DAY`,

	`CREATE TABLE IF NOT EXISTS tool_usage_hourly (
		agent_id          LowCardinality(String),
		tool_name         LowCardinality(String),
		hour              DateTime,
		call_count        UInt64,
		total_duration_ms UInt64,
		success_count     UInt64,
		error_count       UInt64
	)
	ENGINE = SummingMergeTree
	ORDER BY (agent_id, tool_name, hour)`,

	`CREATE MATERIALIZED VIEW IF NOT EXISTS tool_usage_hourly_mv TO tool_usage_hourly AS
	SELECT
		agent_id,
		tool_name,
		toStartOfHour(timestamp) AS hour,
		count() AS call_count,
		sum(duration_ms) AS total_duration_ms,
		countIf(success) AS success_count,
		countIf(NOT success) AS error_count
	FROM tool_usage
	GROUP BY agent_id, tool_name, hour`,
}

// EnsureSchema creates the analytics tables when missing.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply clickhouse schema")
		}
	}
	return nil
}
