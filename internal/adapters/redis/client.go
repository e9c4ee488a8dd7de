package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"finanalyst/internal/adapters/config"
	"finanalyst/pkg/errors"
)

// Keys written through Client share this prefix. Rate limiter and cost
// counters use the raw connection and their own keys.
const keyPrefix = "finanalyst:"

// releaseScript deletes a lock only while this process still owns it. A
// lock that expired and was taken by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client stores JSON values and short-lived locks. It also exposes the
// connection for components that need raw commands.
type Client struct {
	rdb   *redis.Client
	owner string
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", cfg.Addr())
	}
	return Wrap(rdb), nil
}

// Wrap builds a Client around an existing connection.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, owner: uuid.NewString()}
}

func (c *Client) Client() *redis.Client { return c.rdb }

func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Set stores value as JSON. A zero ttl keeps the key forever.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return c.rdb.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// Get decodes the value at key into dest. A missing key yields ErrNotFound.
func (c *Client) Get(ctx context.Context, key string, dest any) error {
	data, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return errors.Wrapf(errors.ErrNotFound, "key %s", key)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrapf(err, "decode %s", key)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	return c.rdb.Del(ctx, prefixed...).Err()
}

func lockKey(key string) string { return keyPrefix + "lock:" + key }

// AcquireLock reports false while another holder owns key. The lock
// expires after ttl even if never released.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, lockKey(key), c.owner, ttl).Result()
}

// ReleaseLock is a no-op when the lock has passed to someone else.
func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, c.rdb, []string{lockKey(key)}, c.owner).Err()
}
