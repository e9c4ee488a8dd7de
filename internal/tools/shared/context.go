package shared

import (
	"context"

	"github.com/google/uuid"
)

// StateKeyTask is the session state key holding the executing task. It
// lives here so tools can read it without importing the agents packages.
const StateKeyTask = "task_key"

type runKey struct{}

// RunInfo identifies the analysis run a tool call belongs to.
type RunInfo struct {
	RunID  uuid.UUID
	Source string
}

func WithRun(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runKey{}, info)
}

func RunFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runKey{}).(RunInfo)
	return info, ok
}
