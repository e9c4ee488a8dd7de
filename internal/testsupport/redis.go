package testsupport

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	redisclient "finanalyst/internal/adapters/redis"
)

// NewRedisClient connects to the Redis described by REDIS_* variables and
// flushes its database before and after the test. The test is skipped when
// Redis is not configured.
func NewRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	client, err := redisclient.NewClient(RedisConfigFromEnv(t))
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}

	rdb := client.Client()
	ctx := context.Background()
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	t.Cleanup(func() {
		_ = rdb.FlushDB(ctx).Err()
		_ = client.Close()
	})
	return rdb
}

// NewTestRedis is NewRedisClient behind the application's Redis adapter.
func NewTestRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	return redisclient.Wrap(NewRedisClient(t))
}
