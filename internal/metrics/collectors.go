package metrics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"finanalyst/pkg/logger"
)

// CustomCollector collects gauges that live in the databases rather than in process memory.
// Any of the connections may be nil when that subsystem is disabled.
type CustomCollector struct {
	log        *logger.Logger
	postgres   *sqlx.DB
	clickhouse driver.Conn
	redis      *redis.Client

	analysisRuns   *prometheus.Desc
	indexedChunks  *prometheus.Desc
	toolCalls24h   *prometheus.Desc
	cachedDocs     *prometheus.Desc
	backendHealthy *prometheus.Desc
}

// NewCustomCollector creates a new custom metrics collector
func NewCustomCollector(log *logger.Logger, postgres *sqlx.DB, clickhouse driver.Conn, redis *redis.Client) *CustomCollector {
	return &CustomCollector{
		log:        log,
		postgres:   postgres,
		clickhouse: clickhouse,
		redis:      redis,

		analysisRuns: prometheus.NewDesc(
			"finanalyst_analysis_runs",
			"Number of stored analysis runs by status",
			[]string{"status"}, nil,
		),
		indexedChunks: prometheus.NewDesc(
			"finanalyst_document_chunks",
			"Number of embedded document chunks",
			nil, nil,
		),
		toolCalls24h: prometheus.NewDesc(
			"finanalyst_tool_calls_24h",
			"Tool calls recorded in the last 24h",
			[]string{"tool"}, nil,
		),
		cachedDocs: prometheus.NewDesc(
			"finanalyst_cached_documents",
			"Parsed documents currently held in Redis",
			nil, nil,
		),
		backendHealthy: prometheus.NewDesc(
			"finanalyst_backend_up",
			"Backend reachability (1=up, 0=down)",
			[]string{"backend"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *CustomCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.analysisRuns
	ch <- c.indexedChunks
	ch <- c.toolCalls24h
	ch <- c.cachedDocs
	ch <- c.backendHealthy
}

// Collect implements prometheus.Collector
func (c *CustomCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.postgres != nil {
		c.collectRunStats(ctx, ch)
		c.collectChunkCount(ctx, ch)
	}
	if c.clickhouse != nil {
		c.collectToolCalls(ctx, ch)
	}
	if c.redis != nil {
		c.collectCachedDocuments(ctx, ch)
	}
}

func (c *CustomCollector) up(ch chan<- prometheus.Metric, backend string, err error) {
	value := 1.0
	if err != nil {
		value = 0
	}
	ch <- prometheus.MustNewConstMetric(c.backendHealthy, prometheus.GaugeValue, value, backend)
}

func (c *CustomCollector) collectRunStats(ctx context.Context, ch chan<- prometheus.Metric) {
	type runStat struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}

	var stats []runStat
	err := c.postgres.SelectContext(ctx, &stats, `
		SELECT status, COUNT(*) AS count
		FROM analysis_runs
		GROUP BY status
	`)
	c.up(ch, "postgres", err)
	if err != nil {
		c.log.Errorw("Failed to collect analysis run stats", "error", err)
		return
	}

	for _, stat := range stats {
		ch <- prometheus.MustNewConstMetric(c.analysisRuns, prometheus.GaugeValue, float64(stat.Count), stat.Status)
	}
}

func (c *CustomCollector) collectChunkCount(ctx context.Context, ch chan<- prometheus.Metric) {
	var count int
	if err := c.postgres.GetContext(ctx, &count, "SELECT COUNT(*) FROM document_chunks"); err != nil {
		c.log.Errorw("Failed to collect chunk count", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.indexedChunks, prometheus.GaugeValue, float64(count))
}

func (c *CustomCollector) collectToolCalls(ctx context.Context, ch chan<- prometheus.Metric) {
	rows, err := c.clickhouse.Query(ctx, `
		SELECT tool_name, count() AS calls
		FROM tool_usage
		WHERE timestamp > now() - INTERVAL 24 HOUR
		GROUP BY tool_name
	`)
	c.up(ch, "clickhouse", err)
	if err != nil {
		c.log.Errorw("Failed to collect tool call stats", "error", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name  string
			calls uint64
		)
		if err := rows.Scan(&name, &calls); err != nil {
			c.log.Errorw("Failed to scan tool call stats", "error", err)
			return
		}
		ch <- prometheus.MustNewConstMetric(c.toolCalls24h, prometheus.GaugeValue, float64(calls), name)
	}
}

func (c *CustomCollector) collectCachedDocuments(ctx context.Context, ch chan<- prometheus.Metric) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, "finanalyst:document:text:*", 500).Result()
		if err != nil {
			c.up(ch, "redis", err)
			return
		}
		total += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}
	c.up(ch, "redis", nil)
	ch <- prometheus.MustNewConstMetric(c.cachedDocs, prometheus.GaugeValue, float64(total))
}

// RegisterCustomCollector registers the custom collector
func RegisterCustomCollector(collector *CustomCollector) {
	prometheus.MustRegister(collector)
}
