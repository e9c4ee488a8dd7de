package shared

import (
	"context"
	"time"

	"google.golang.org/adk/tool"

	"finanalyst/pkg/errors"
)

// RetryMiddleware retries tool execution on error with linear backoff
type RetryMiddleware struct {
	Attempts int
	Backoff  time.Duration
}

// retryable excludes failures that a second attempt cannot fix.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, errors.ErrInvalidInput),
		errors.Is(err, errors.ErrTimeout):
		return false
	}
	return true
}

func wrapWithRetry[A, R any](cfg RetryMiddleware, fn Handler[A, R]) Handler[A, R] {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	return func(ctx tool.Context, args A) (R, error) {
		var (
			result R
			err    error
		)
		for i := 0; i < attempts; i++ {
			result, err = fn(ctx, args)
			if err == nil || !retryable(err) {
				return result, err
			}

			if i < attempts-1 && cfg.Backoff > 0 {
				select {
				case <-ctx.Done():
					return result, ctx.Err()
				case <-time.After(cfg.Backoff * time.Duration(i+1)):
				}
			}
		}
		return result, err
	}
}
