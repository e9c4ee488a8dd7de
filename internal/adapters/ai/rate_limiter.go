package ai

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"finanalyst/pkg/errors"
)

// RateLimiter gates requests to one provider.
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	// Limit is in requests per minute; negative means unlimited.
	Limit() float64
}

// RateLimit is a provider's request budget. A zero PerMinute disables limiting.
type RateLimit struct {
	PerMinute float64
	Burst     int
}

func (r RateLimit) burst() int {
	if r.Burst > 0 {
		return r.Burst
	}
	return max(int(r.PerMinute/10), 1)
}

// DefaultRateLimits are conservative limits for the free or basic tier of
// each provider. DeepSeek publishes none.
func DefaultRateLimits() map[ProviderName]RateLimit {
	return map[ProviderName]RateLimit{
		ProviderNameGroq:      {PerMinute: 30},
		ProviderNameAnthropic: {PerMinute: 50},
		ProviderNameOpenAI:    {PerMinute: 500},
		ProviderNameGoogle:    {PerMinute: 60},
		ProviderNameDeepSeek:  {},
	}
}

// RateLimits applies per-provider overrides, keyed by provider name in any
// case, to the defaults. An override of 0 disables the limit.
func RateLimits(overrides map[string]float64) map[ProviderName]RateLimit {
	limits := DefaultRateLimits()
	for name, perMinute := range overrides {
		p := ProviderName(NormalizeProviderName(name))
		limits[p] = RateLimit{PerMinute: max(perMinute, 0)}
	}
	return limits
}

// NewLimiter returns a limiter shared through Redis when rdb is set, so every
// process draws from one bucket, and an in-process one otherwise.
func NewLimiter(rdb *redis.Client, provider ProviderName, limit RateLimit) RateLimiter {
	switch {
	case limit.PerMinute <= 0:
		return Unlimited{}
	case rdb != nil:
		return NewRedisRateLimiter(rdb, provider, limit.PerMinute, limit.burst())
	default:
		return NewLocalLimiter(provider, limit)
	}
}

// LocalLimiter is a token bucket private to this process.
type LocalLimiter struct {
	limiter  *rate.Limiter
	provider ProviderName
}

func NewLocalLimiter(provider ProviderName, limit RateLimit) *LocalLimiter {
	return &LocalLimiter{
		limiter:  rate.NewLimiter(rate.Limit(limit.PerMinute/60), limit.burst()),
		provider: provider,
	}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	err := l.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrapf(ctxErr, "rate limit wait for %s", l.provider)
	}
	// The limiter refuses up front when the deadline falls before the next token.
	return errors.Wrapf(context.DeadlineExceeded, "rate limit wait for %s: %v", l.provider, err)
}

func (l *LocalLimiter) Allow() bool { return l.limiter.Allow() }

func (l *LocalLimiter) Limit() float64 { return float64(l.limiter.Limit()) * 60 }

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(context.Context) error { return nil }
func (Unlimited) Allow() bool                { return true }
func (Unlimited) Limit() float64             { return -1 }

// RateLimitError reports a request that gave up waiting for its provider's limiter.
type RateLimitError struct {
	Provider ProviderName
	Limit    float64
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit for %s (%.0f req/min): %v", e.Provider, e.Limit, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }
