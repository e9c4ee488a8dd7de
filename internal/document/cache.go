package document

import (
	"context"
	"time"

	"finanalyst/internal/adapters/redis"
	domain "finanalyst/internal/domain/document"
	"finanalyst/pkg/errors"
)

// Cache keeps parsed document text keyed by content checksum.
type Cache interface {
	Get(ctx context.Context, sha string) (*domain.Document, bool, error)
	Set(ctx context.Context, doc *domain.Document) error
}

type cachedText struct {
	Pages int    `json:"pages"`
	Text  string `json:"text"`
}

// RedisCache stores parsed text in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed text cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func textKey(sha string) string {
	return "document:text:" + sha
}

// Get returns the cached document, reporting false on a miss.
func (c *RedisCache) Get(ctx context.Context, sha string) (*domain.Document, bool, error) {
	var cached cachedText
	err := c.client.Get(ctx, textKey(sha), &cached)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "document cache get")
	}
	return &domain.Document{SHA256: sha, Pages: cached.Pages, Text: cached.Text}, true, nil
}

// Set stores the parsed text of doc.
func (c *RedisCache) Set(ctx context.Context, doc *domain.Document) error {
	if err := c.client.Set(ctx, textKey(doc.SHA256), cachedText{Pages: doc.Pages, Text: doc.Text}, c.ttl); err != nil {
		return errors.Wrap(err, "document cache set")
	}
	return nil
}

// NoopCache never hits. Used when Redis is not configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*domain.Document, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, *domain.Document) error                 { return nil }
