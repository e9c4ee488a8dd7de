package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finanalyst_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finanalyst_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Agent metrics
	AgentCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_agent_calls_total",
			Help: "Total number of LLM calls made by agents",
		},
		[]string{"agent", "model", "status"}, // status: success|error|forced_final
	)

	AgentCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_agent_cost_usd",
			Help: "Total AI cost in USD",
		},
		[]string{"agent", "model"},
	)

	AgentLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finanalyst_agent_latency_seconds",
			Help:    "LLM call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"agent", "model"},
	)

	AgentTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_agent_tokens_total",
			Help: "Total tokens consumed by agents",
		},
		[]string{"agent", "model", "type"}, // type: prompt|completion
	)

	AgentRateLimitWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finanalyst_agent_rate_limit_wait_seconds",
			Help:    "Time an agent spent blocked on its max_rpm limiter",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent"},
	)

	// Crew metrics
	CrewRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_crew_runs_total",
			Help: "Total number of crew kickoffs",
		},
		[]string{"source", "status"},
	)

	CrewDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finanalyst_crew_duration_seconds",
			Help:    "Crew run duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"source"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finanalyst_task_duration_seconds",
			Help:    "Task duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"task"},
	)

	// Tool metrics
	ToolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_tool_executions_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "status"},
	)

	ToolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finanalyst_tool_latency_seconds",
			Help:    "Tool execution latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"tool"},
	)

	// Document metrics
	DocumentsParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_documents_parsed_total",
			Help: "Total number of PDF parse attempts",
		},
		[]string{"status"}, // status: success|error|cached
	)

	DocumentChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finanalyst_document_chunks_indexed_total",
			Help: "Total number of document chunks embedded and stored",
		},
	)

	// Database metrics
	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"},
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finanalyst_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"database", "operation"},
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_kafka_messages_total",
			Help: "Total number of Kafka messages",
		},
		[]string{"topic", "direction", "status"}, // direction: produce|consume
	)

	WebSocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "finanalyst_websocket_connections",
			Help: "Number of open progress stream connections",
		},
	)

	TelegramUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finanalyst_telegram_updates_total",
			Help: "Total number of Telegram updates handled",
		},
		[]string{"kind", "status"},
	)
)

var registerOnce sync.Once

// Init registers all metrics with Prometheus
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(WorkerExecutions, WorkerDuration, WorkerLastRun)

		prometheus.MustRegister(AgentCalls, AgentCost, AgentLatency, AgentTokens, AgentRateLimitWait)

		prometheus.MustRegister(CrewRuns, CrewDuration, TaskDuration)

		prometheus.MustRegister(ToolExecutions, ToolLatency)

		prometheus.MustRegister(DocumentsParsed, DocumentChunksIndexed)

		prometheus.MustRegister(DBQueries, DBQueryDuration)

		prometheus.MustRegister(KafkaMessages, WebSocketConnections, TelegramUpdates)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, status(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordAgentCall records a single LLM call made on behalf of an agent
func RecordAgentCall(agent, model string, latency time.Duration, cost float64, promptTokens, completionTokens int, err error) {
	AgentCalls.WithLabelValues(agent, model, status(err)).Inc()
	AgentLatency.WithLabelValues(agent, model).Observe(latency.Seconds())

	if cost > 0 {
		AgentCost.WithLabelValues(agent, model).Add(cost)
	}
	if promptTokens > 0 {
		AgentTokens.WithLabelValues(agent, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		AgentTokens.WithLabelValues(agent, model, "completion").Add(float64(completionTokens))
	}
}

// RecordForcedFinal counts calls replaced because the agent hit max_iter
func RecordForcedFinal(agent, model string) {
	AgentCalls.WithLabelValues(agent, model, "forced_final").Inc()
}

// RecordRateLimitWait records time blocked on an agent's max_rpm limiter
func RecordRateLimitWait(agent string, wait time.Duration) {
	AgentRateLimitWait.WithLabelValues(agent).Observe(wait.Seconds())
}

// RecordCrewRun records a finished crew kickoff
func RecordCrewRun(source string, duration time.Duration, err error) {
	CrewRuns.WithLabelValues(source, status(err)).Inc()
	CrewDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordTask records how long one task took
func RecordTask(task string, duration time.Duration) {
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordToolExecution records a tool execution
func RecordToolExecution(tool string, latency time.Duration, err error) {
	ToolExecutions.WithLabelValues(tool, status(err)).Inc()
	ToolLatency.WithLabelValues(tool).Observe(latency.Seconds())
}

// RecordDocumentParse records a PDF parse attempt
func RecordDocumentParse(cached bool, err error) {
	if cached {
		DocumentsParsed.WithLabelValues("cached").Inc()
		return
	}
	DocumentsParsed.WithLabelValues(status(err)).Inc()
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, duration time.Duration, err error) {
	DBQueries.WithLabelValues(database, operation, status(err)).Inc()
	DBQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// RecordKafkaMessage records a produced or consumed message
func RecordKafkaMessage(topic, direction string, err error) {
	KafkaMessages.WithLabelValues(topic, direction, status(err)).Inc()
}
