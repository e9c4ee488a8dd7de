package shared

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/adk/tool"

	"finanalyst/internal/domain/stats"
	"finanalyst/internal/metrics"
	"finanalyst/pkg/logger"
)

const statsWriteTimeout = 5 * time.Second

// StatsMiddleware records tool usage into Prometheus and, when a recorder is
// configured, into the analytics store.
type StatsMiddleware struct {
	recorder StatsRecorder
	log      *logger.Logger
}

// NewStatsMiddleware constructs a middleware with the provided recorder.
func NewStatsMiddleware(recorder StatsRecorder, log *logger.Logger) *StatsMiddleware {
	return &StatsMiddleware{recorder: recorder, log: log}
}

func wrapWithStats[A, R any](m *StatsMiddleware, name string, fn Handler[A, R]) Handler[A, R] {
	return func(ctx tool.Context, args A) (R, error) {
		start := time.Now()
		result, err := fn(ctx, args)
		duration := time.Since(start)

		metrics.RecordToolExecution(name, duration, err)
		if m.recorder == nil {
			return result, err
		}

		event := &stats.ToolUsageEvent{
			AgentID:    ctx.AgentName(),
			TaskKey:    currentTask(ctx),
			ToolName:   name,
			Timestamp:  start.UTC(),
			DurationMs: uint32(duration.Milliseconds()),
			Success:    err == nil,
			SessionID:  ctx.SessionID(),
		}
		if run, ok := RunFromContext(ctx); ok {
			event.RunID = run.RunID
		}

		go func() {
			wctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
			defer cancel()
			if werr := m.recorder.InsertToolUsage(wctx, event); werr != nil {
				m.log.Warnw("Failed to record tool usage", "tool", name, "error", werr)
			}
		}()

		return result, err
	}
}

func currentTask(ctx tool.Context) string {
	state := ctx.ReadonlyState()
	if state == nil {
		return ""
	}
	v, err := state.Get(StateKeyTask)
	if err != nil || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
