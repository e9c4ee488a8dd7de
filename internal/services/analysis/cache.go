package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"finanalyst/internal/agents"
	"finanalyst/internal/crew"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// ResultStore is a JSON key-value store with TTL. The Redis adapter client
// satisfies it.
type ResultStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ResultCache remembers crew outputs for an identical document, query and
// task selection, so repeated requests do not pay for a second run.
type ResultCache struct {
	store ResultStore
	ttl   time.Duration
	log   *logger.Logger
}

// NewResultCache returns nil when ttl is not positive, which disables caching.
func NewResultCache(store ResultStore, ttl time.Duration) *ResultCache {
	if store == nil || ttl <= 0 {
		return nil
	}
	return &ResultCache{
		store: store,
		ttl:   ttl,
		log:   logger.Get().With("component", "analysis_cache"),
	}
}

func resultKey(documentSHA256, query string, tasks []agents.TaskKey) string {
	parts := make([]string, 0, len(tasks)+2)
	parts = append(parts, documentSHA256, query)
	for _, t := range tasks {
		parts = append(parts, t.String())
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "analysis:result:" + hex.EncodeToString(sum[:])
}

// Get returns the cached output, or nil on a miss.
func (c *ResultCache) Get(ctx context.Context, documentSHA256, query string, tasks []agents.TaskKey) *crew.Output {
	if c == nil || documentSHA256 == "" {
		return nil
	}

	var out crew.Output
	err := c.store.Get(ctx, resultKey(documentSHA256, query, tasks), &out)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			c.log.Warnw("Result cache read failed", "error", err)
		}
		return nil
	}
	return &out
}

// Set stores a finished output.
func (c *ResultCache) Set(ctx context.Context, documentSHA256, query string, tasks []agents.TaskKey, out *crew.Output) {
	if c == nil || documentSHA256 == "" || out == nil {
		return
	}
	if err := c.store.Set(ctx, resultKey(documentSHA256, query, tasks), out, c.ttl); err != nil {
		c.log.Warnw("Result cache write failed", "error", err)
	}
}
