package ai

import (
	"context"
	"sync"
	"testing"
	"time"

	"finanalyst/internal/testsupport"
)

func TestRedisRateLimiter_Basic(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient := testsupport.NewRedisClient(t)
	ctx := context.Background()

	// 60 req/min = 1 req/sec, burst=2
	limiter := NewRedisRateLimiter(redisClient, ProviderNameGroq, 60, 2)
	if err := limiter.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("burst request %d should succeed: %v", i, err)
		}
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("Third request should eventually succeed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("Expected to wait ~1s, waited only %v", elapsed)
	}
}

func TestRedisRateLimiter_Distributed(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient := testsupport.NewRedisClient(t)

	// Two limiters for the same provider share one bucket, as two pods would.
	a := NewRedisRateLimiter(redisClient, ProviderNameGroq, 6, 3)
	b := NewRedisRateLimiter(redisClient, ProviderNameGroq, 6, 3)
	if err := a.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}

	var (
		mu      sync.Mutex
		allowed int
		wg      sync.WaitGroup
	)
	for _, l := range []*RedisRateLimiter{a, b, a, b, a, b} {
		wg.Add(1)
		go func(l *RedisRateLimiter) {
			defer wg.Done()
			if l.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(l)
	}
	wg.Wait()

	if allowed != 3 {
		t.Fatalf("expected exactly burst=3 requests allowed across instances, got %d", allowed)
	}
}

func TestRedisRateLimiter_ResetRefills(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient := testsupport.NewRedisClient(t)
	ctx := context.Background()

	limiter := NewRedisRateLimiter(redisClient, ProviderNameAnthropic, 6, 1)
	if err := limiter.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !limiter.Allow() {
		t.Fatal("first request should be allowed")
	}
	if limiter.Allow() {
		t.Fatal("second request should be denied")
	}

	tokens, err := limiter.Tokens(ctx)
	if err != nil {
		t.Fatalf("read tokens: %v", err)
	}
	if tokens >= 1 {
		t.Fatalf("expected empty bucket, got %f tokens", tokens)
	}

	if err := limiter.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !limiter.Allow() {
		t.Fatal("request after reset should be allowed")
	}
}

func TestNewLimiter_WithRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient := testsupport.NewRedisClient(t)

	limiter := NewLimiter(redisClient, ProviderNameGroq, RateLimit{PerMinute: 30, Burst: 5})
	if _, ok := limiter.(*RedisRateLimiter); !ok {
		t.Fatalf("Expected RedisRateLimiter with Redis, got %T", limiter)
	}

	if _, ok := NewLimiter(redisClient, ProviderNameDeepSeek, RateLimit{}).(Unlimited); !ok {
		t.Fatal("Expected Unlimited for a zero limit")
	}
}
