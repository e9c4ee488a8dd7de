package ai

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"finanalyst/pkg/errors"
)

// RedisRateLimiter is a token bucket shared by every process that talks to
// the same provider, so a serve pod and its workers stay under one quota.
type RedisRateLimiter struct {
	client   *redis.Client
	provider ProviderName
	perSec   float64
	burst    int
	key      string
}

// takeToken refills the bucket from the Redis clock and takes one token.
// It returns 0 when a token was taken, otherwise the milliseconds until one
// will be available.
//
// KEYS[1] bucket; ARGV[1] tokens per second; ARGV[2] burst
var takeToken = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local t = redis.call('TIME')
local now = tonumber(t[1]) + tonumber(t[2]) / 1000000

local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now

tokens = math.min(burst, tokens + math.max(0, now - ts) * rate)

local wait = 0
if tokens >= 1 then
    tokens = tokens - 1
else
    wait = math.ceil((1 - tokens) / rate * 1000)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('EXPIRE', KEYS[1], math.ceil(burst / rate) + 60)
return wait
`)

// NewRedisRateLimiter creates a distributed limiter allowing reqPerMinute
// with the given burst. A non-positive burst defaults to a tenth of the rate.
func NewRedisRateLimiter(client *redis.Client, provider ProviderName, reqPerMinute float64, burst int) *RedisRateLimiter {
	if burst <= 0 {
		burst = max(int(reqPerMinute/10), 1)
	}
	return &RedisRateLimiter{
		client:   client,
		provider: provider,
		perSec:   reqPerMinute / 60,
		burst:    burst,
		key:      "finanalyst:rate_limit:ai:" + string(provider),
	}
}

// Wait blocks until a token is taken or ctx ends.
func (l *RedisRateLimiter) Wait(ctx context.Context) error {
	for {
		wait, err := l.take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return l.cancelled(ctx)
			}
			return errors.Wrapf(err, "redis rate limiter for provider %s", l.provider)
		}
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.cancelled(ctx)
		case <-timer.C:
		}
	}
}

func (l *RedisRateLimiter) cancelled(ctx context.Context) error {
	return &RateLimitError{
		Provider: l.provider,
		Limit:    l.Limit(),
		Err:      errors.Wrap(ctx.Err(), "rate limiter wait cancelled"),
	}
}

// Allow takes a token without blocking. Redis errors deny the request.
func (l *RedisRateLimiter) Allow() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	wait, err := l.take(ctx)
	return err == nil && wait == 0
}

// Limit returns the rate in requests per minute.
func (l *RedisRateLimiter) Limit() float64 {
	return l.perSec * 60
}

// Reset drops the shared bucket, refilling it for every instance.
func (l *RedisRateLimiter) Reset(ctx context.Context) error {
	return l.client.Del(ctx, l.key).Err()
}

// Tokens returns the tokens left at the last update, or the full burst for
// an untouched bucket.
func (l *RedisRateLimiter) Tokens(ctx context.Context) (float64, error) {
	tokens, err := l.client.HGet(ctx, l.key, "tokens").Float64()
	if errors.Is(err, redis.Nil) {
		return float64(l.burst), nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read rate limiter bucket")
	}
	return tokens, nil
}

func (l *RedisRateLimiter) take(ctx context.Context) (time.Duration, error) {
	ms, err := takeToken.Run(ctx, l.client, []string{l.key}, l.perSec, l.burst).Int64()
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
