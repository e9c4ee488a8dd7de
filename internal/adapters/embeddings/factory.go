package embeddings

import (
	"time"

	"finanalyst/pkg/errors"
)

// Config selects the embeddings endpoint. Any server speaking the OpenAI
// embeddings API works through BaseURL.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NewProvider returns errors.ErrUnavailable when no key is set; the caller
// then reads documents whole instead of searching chunks.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrap(errors.ErrUnavailable, "embedding API key not configured")
	}
	return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
}
