package shared

import (
	"context"
	"time"

	"google.golang.org/adk/tool"

	"finanalyst/pkg/errors"
)

// TimeoutMiddleware bounds a single tool execution
type TimeoutMiddleware struct {
	Timeout time.Duration
}

// deadlineContext narrows the context half of a tool.Context while keeping
// its session, artifact and action accessors.
type deadlineContext struct {
	tool.Context
	ctx context.Context
}

func (c deadlineContext) Deadline() (time.Time, bool) { return c.ctx.Deadline() }
func (c deadlineContext) Done() <-chan struct{}       { return c.ctx.Done() }
func (c deadlineContext) Err() error                  { return c.ctx.Err() }
func (c deadlineContext) Value(key any) any           { return c.ctx.Value(key) }

type outcome[R any] struct {
	result R
	err    error
}

func wrapWithTimeout[A, R any](cfg TimeoutMiddleware, name string, fn Handler[A, R]) Handler[A, R] {
	if cfg.Timeout <= 0 {
		return fn
	}

	return func(tctx tool.Context, args A) (R, error) {
		ctx, cancel := context.WithTimeout(tctx, cfg.Timeout)
		defer cancel()

		done := make(chan outcome[R], 1)
		go func() {
			r, err := fn(deadlineContext{Context: tctx, ctx: ctx}, args)
			done <- outcome[R]{result: r, err: err}
		}()

		select {
		case out := <-done:
			return out.result, out.err
		case <-ctx.Done():
			var zero R
			if errors.Is(tctx.Err(), context.Canceled) {
				return zero, tctx.Err()
			}
			return zero, errors.Wrapf(errors.ErrTimeout, "%s exceeded %s", name, cfg.Timeout)
		}
	}
}
