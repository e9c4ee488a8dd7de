package ai

import (
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"finanalyst/internal/adapters/config"
	"finanalyst/pkg/errors"
)

// BuildRegistry registers a provider for every configured API key. With
// redisClient set, rate limits are shared by all processes.
func BuildRegistry(cfg config.AIConfig, redisClient *redis.Client) (*ProviderRegistry, error) {
	registry := NewProviderRegistry()
	limits := RateLimits(cfg.RateLimits)

	type entry struct {
		key   string
		build func(RateLimiter) ChatProvider
		name  ProviderName
	}

	entries := []entry{
		{cfg.GroqKey, func(l RateLimiter) ChatProvider { return NewGroqProvider(cfg.GroqKey, defaultTimeout(), l) }, ProviderNameGroq},
		{cfg.ClaudeKey, func(l RateLimiter) ChatProvider { return NewClaudeProvider(cfg.ClaudeKey, defaultTimeout(), l) }, ProviderNameAnthropic},
		{cfg.OpenAIKey, func(l RateLimiter) ChatProvider { return NewOpenAIProvider(cfg.OpenAIKey, defaultTimeout(), l) }, ProviderNameOpenAI},
		{cfg.DeepSeekKey, func(l RateLimiter) ChatProvider { return NewDeepSeekProvider(cfg.DeepSeekKey, defaultTimeout(), l) }, ProviderNameDeepSeek},
		{cfg.GeminiKey, func(l RateLimiter) ChatProvider { return NewGeminiProvider(cfg.GeminiKey, defaultTimeout(), l) }, ProviderNameGoogle},
	}

	for _, e := range entries {
		if e.key == "" {
			continue
		}
		limiter := NewLimiter(redisClient, e.name, limits[e.name])
		if err := registry.Register(e.build(limiter)); err != nil {
			return nil, err
		}
	}

	if len(registry.List()) == 0 {
		return nil, errors.Wrap(errors.ErrUnavailable, "no AI provider API key configured (set GROQ_API_KEY)")
	}

	return registry, nil
}

func defaultTimeout() time.Duration {
	return 120 * time.Second
}

// NormalizeProviderName makes provider lookup more forgiving.
func NormalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
