package callbacks

import (
	"fmt"

	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/tool"

	"finanalyst/internal/agents/state"
)

// AuditLogBeforeToolCallback logs every tool call with its arguments.
func AuditLogBeforeToolCallback(deps Deps) llmagent.BeforeToolCallback {
	return func(ctx tool.Context, t tool.Tool, args map[string]any) (map[string]any, error) {
		log := deps.logger().With(
			"component", "tool_audit",
			"agent", deps.Agent,
			"tool", t.Name(),
			"task", state.GetCurrentTask(ctx.ReadonlyState()),
		)
		deps.logf(log, "Calling tool %s with %s", t.Name(), formatArgs(args))
		return nil, nil
	}
}

// AuditLogAfterToolCallback logs tool results and counts successful calls.
// Failed calls never reach after-tool callbacks; the stats middleware
// reports those.
func AuditLogAfterToolCallback(deps Deps) llmagent.AfterToolCallback {
	return func(ctx tool.Context, t tool.Tool, args, result map[string]any, err error) (map[string]any, error) {
		log := deps.logger().With("component", "tool_audit", "agent", deps.Agent, "tool", t.Name())

		if err != nil {
			log.Errorf("Tool %s failed: %v", t.Name(), err)
			return nil, nil
		}

		if stateErr := state.IncrementToolCallCount(ctx.State()); stateErr != nil {
			log.Warnf("Failed to count tool call: %v", stateErr)
		}
		deps.logf(log, "Tool %s returned %s", t.Name(), truncate(formatArgs(result), 300))

		return nil, nil
	}
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	if res, ok := args["result"]; ok && len(args) == 1 {
		return truncate(fmt.Sprint(res), 300)
	}
	return truncate(fmt.Sprintf("%v", args), 300)
}
