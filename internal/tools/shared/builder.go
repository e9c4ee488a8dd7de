package shared

import (
	"time"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"finanalyst/pkg/errors"
)

// ToolBuilder wraps a typed handler in middleware and exposes it to agents
// as an ADK function tool.
type ToolBuilder[A, R any] struct {
	name        string
	description string
	fn          Handler[A, R]
	deps        Deps

	withRetry   bool
	retryConfig RetryMiddleware

	withTimeout   bool
	timeoutConfig TimeoutMiddleware

	withStats bool
}

// NewToolBuilder starts with every middleware off.
func NewToolBuilder[A, R any](name, description string, fn Handler[A, R], deps Deps) *ToolBuilder[A, R] {
	return &ToolBuilder[A, R]{
		name:          name,
		description:   description,
		fn:            fn,
		deps:          deps,
		retryConfig:   RetryMiddleware{Attempts: 3, Backoff: 500 * time.Millisecond},
		timeoutConfig: TimeoutMiddleware{Timeout: 30 * time.Second},
	}
}

// WithRetry retries transient failures. Invalid input is never retried.
func (b *ToolBuilder[A, R]) WithRetry(attempts int, backoff time.Duration) *ToolBuilder[A, R] {
	b.withRetry = true
	b.retryConfig = RetryMiddleware{Attempts: attempts, Backoff: backoff}
	return b
}

func (b *ToolBuilder[A, R]) WithTimeout(timeout time.Duration) *ToolBuilder[A, R] {
	b.withTimeout = true
	b.timeoutConfig = TimeoutMiddleware{Timeout: timeout}
	return b
}

// WithStats records every call to the tool usage store.
func (b *ToolBuilder[A, R]) WithStats() *ToolBuilder[A, R] {
	b.withStats = true
	return b
}

// Handler returns the handler with the configured middleware applied.
// Order from the inside out: retry, timeout, stats. Stats therefore measures
// the whole call including retries.
func (b *ToolBuilder[A, R]) Handler() Handler[A, R] {
	fn := b.fn
	if b.withRetry {
		fn = wrapWithRetry(b.retryConfig, fn)
	}
	if b.withTimeout {
		fn = wrapWithTimeout(b.timeoutConfig, b.name, fn)
	}
	if b.withStats {
		fn = wrapWithStats(NewStatsMiddleware(b.deps.Stats, b.deps.Logger()), b.name, fn)
	}
	return fn
}

func (b *ToolBuilder[A, R]) Build() (tool.Tool, error) {
	t, err := functiontool.New(functiontool.Config{
		Name:        b.name,
		Description: b.description,
	}, functiontool.Func[A, R](b.Handler()))
	if err != nil {
		return nil, errors.Wrapf(err, "build tool %s", b.name)
	}
	return t, nil
}
