package testsupport

import (
	"os"
	"testing"

	"github.com/kelseyhightower/envconfig"

	"finanalyst/internal/adapters/config"
)

// Integration tests read the same variables as the binary. A backend whose
// host variable is unset skips the test.

func PostgresConfigFromEnv(t *testing.T) config.PostgresConfig {
	var cfg config.PostgresConfig
	fromEnv(t, "POSTGRES_HOST", &cfg)
	cfg.MaxConns = 4
	return cfg
}

func ClickHouseConfigFromEnv(t *testing.T) config.ClickHouseConfig {
	var cfg config.ClickHouseConfig
	fromEnv(t, "CLICKHOUSE_HOST", &cfg)
	return cfg
}

func RedisConfigFromEnv(t *testing.T) config.RedisConfig {
	var cfg config.RedisConfig
	fromEnv(t, "REDIS_HOST", &cfg)
	return cfg
}

func fromEnv(t *testing.T, hostVar string, target any) {
	t.Helper()

	if os.Getenv(hostVar) == "" {
		t.Skipf("%s not set, skipping integration test", hostVar)
	}
	if err := envconfig.Process("", target); err != nil {
		t.Fatalf("invalid %s environment: %v", hostVar, err)
	}
}
