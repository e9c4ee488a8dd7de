package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gsk-test", cfg.AI.GroqKey)
	assert.Equal(t, "groq/llama-3.3-70b-versatile", cfg.AI.Model)
	assert.InDelta(t, 0.5, cfg.AI.Temperature, 1e-9)
	assert.Zero(t, cfg.AI.MaxTokens)
	assert.Equal(t, "data/sample.pdf", cfg.Document.DefaultPath)
	assert.Equal(t, 24*time.Hour, cfg.Document.CacheTTL)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTP.Addr())
}

func TestOptionalInfrastructure(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Postgres.Enabled())
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Telegram.Enabled())
}

func TestWorkerAndBatchDefaults(t *testing.T) {
	t.Setenv("CREW_RESULT_CACHE_TTL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Crew.ResultCacheTTL)
	assert.Equal(t, 500, cfg.ClickHouse.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.ClickHouse.FlushInterval)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 6*time.Hour, cfg.Worker.UploadMaxAge)
	assert.Equal(t, 2*time.Hour, cfg.Worker.StaleRunAfter)
}
