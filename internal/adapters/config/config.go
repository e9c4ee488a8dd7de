package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"finanalyst/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	AI            AIConfig
	Crew          CrewConfig
	Document      DocumentConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telegram      TelegramConfig
	ErrorTracking ErrorTrackingConfig
	Worker        WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"finanalyst"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type HTTPConfig struct {
	Host            string        `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"HTTP_PORT" default:"8000"`
	MaxUploadMB     int64         `envconfig:"HTTP_MAX_UPLOAD_MB" default:"32"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AIConfig struct {
	GroqKey         string  `envconfig:"GROQ_API_KEY"`
	ClaudeKey       string  `envconfig:"CLAUDE_API_KEY"`
	OpenAIKey       string  `envconfig:"OPENAI_API_KEY"`
	DeepSeekKey     string  `envconfig:"DEEPSEEK_API_KEY"`
	GeminiKey       string  `envconfig:"GEMINI_API_KEY"`
	DefaultProvider string  `envconfig:"DEFAULT_AI_PROVIDER" default:"groq"`
	Model           string  `envconfig:"AI_MODEL" default:"groq/llama-3.3-70b-versatile"`
	Temperature     float64 `envconfig:"AI_TEMPERATURE" default:"0.5"`
	// MaxTokens of 0 leaves the completion length to the provider.
	MaxTokens    int    `envconfig:"AI_MAX_TOKENS" default:"0"`
	EmbeddingKey string `envconfig:"EMBEDDING_API_KEY"`
	// EmbeddingModel changes the vector size; re-index documents after switching.
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingBaseURL string `envconfig:"EMBEDDING_BASE_URL"`
	// RateLimits overrides requests per minute per provider, e.g. "groq:60,openai:0".
	RateLimits map[string]float64 `envconfig:"AI_RATE_LIMITS"`
}

type CrewConfig struct {
	ConfigDir   string        `envconfig:"CREW_CONFIG_DIR"`
	TaskTimeout time.Duration `envconfig:"CREW_TASK_TIMEOUT" default:"10m"`
	// Zero disables the cap.
	MaxCostUSD float64 `envconfig:"CREW_MAX_COST_USD" default:"0"`
	// DailyUserCostUSD caps spending per requester per day. Needs Redis.
	DailyUserCostUSD float64 `envconfig:"CREW_DAILY_USER_COST_USD" default:"0"`
	// ResultCacheTTL reuses outputs for the same document and query. Needs Redis.
	ResultCacheTTL time.Duration `envconfig:"CREW_RESULT_CACHE_TTL" default:"0"`
}

type DocumentConfig struct {
	DefaultPath  string        `envconfig:"DOCUMENT_DEFAULT_PATH" default:"data/sample.pdf"`
	UploadDir    string        `envconfig:"DOCUMENT_UPLOAD_DIR" default:"data"`
	ChunkSize    int           `envconfig:"DOCUMENT_CHUNK_SIZE" default:"1000"`
	ChunkOverlap int           `envconfig:"DOCUMENT_CHUNK_OVERLAP" default:"150"`
	CacheTTL     time.Duration `envconfig:"DOCUMENT_CACHE_TTL" default:"24h"`
}

// Infrastructure below is optional: an empty host disables the subsystem.

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"finanalyst"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"finanalyst"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`

	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"1h"`
}

func (c PostgresConfig) Enabled() bool { return c.Host != "" }

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"finanalyst"`

	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"5s"`
}

func (c ClickHouseConfig) Enabled() bool { return c.Host != "" }

func (c ClickHouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"finanalyst"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type TelegramConfig struct {
	BotToken     string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	AllowedUsers []int64 `envconfig:"TELEGRAM_ALLOWED_USERS"`
	Debug        bool    `envconfig:"TELEGRAM_DEBUG" default:"false"`
}

func (c TelegramConfig) Enabled() bool { return c.BotToken != "" }

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

type WorkerConfig struct {
	Concurrency int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
	RunTimeout  time.Duration `envconfig:"WORKER_RUN_TIMEOUT" default:"30m"`
	// Uploads older than UploadMaxAge are removed by the janitor.
	UploadMaxAge    time.Duration `envconfig:"WORKER_UPLOAD_MAX_AGE" default:"6h"`
	JanitorInterval time.Duration `envconfig:"WORKER_JANITOR_INTERVAL" default:"30m"`
	// Runs left running longer than StaleRunAfter are marked failed.
	StaleRunAfter time.Duration `envconfig:"WORKER_STALE_RUN_AFTER" default:"2h"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
