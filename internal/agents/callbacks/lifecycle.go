package callbacks

import (
	"sync"
	"time"

	"google.golang.org/adk/agent"
	"google.golang.org/genai"

	"finanalyst/internal/agents/state"
	"finanalyst/internal/metrics"
)

// TaskHooks marks the start and end of a task agent. The start callback
// records the task key in session state so tools and delegated coworkers can
// attribute their work to it.
type TaskHooks struct {
	task string
	deps Deps

	mu      sync.Mutex
	started map[string]time.Time
}

// NewTaskHooks creates lifecycle callbacks for the agent executing task.
func NewTaskHooks(task string, deps Deps) *TaskHooks {
	return &TaskHooks{task: task, deps: deps, started: make(map[string]time.Time)}
}

// Before records the task key and the start time.
func (h *TaskHooks) Before() agent.BeforeAgentCallback {
	return func(ctx agent.CallbackContext) (*genai.Content, error) {
		h.mu.Lock()
		h.started[ctx.InvocationID()] = time.Now()
		h.mu.Unlock()

		if err := state.SetCurrentTask(ctx.State(), h.task); err != nil {
			return nil, err
		}

		h.deps.logger().With(
			"task", h.task,
			"agent", h.deps.Agent,
			"run_id", state.GetRunID(ctx.ReadonlyState()),
		).Infof("Task %s started", h.task)

		return nil, nil
	}
}

// After records the task duration and logs the outcome.
func (h *TaskHooks) After() agent.AfterAgentCallback {
	return func(ctx agent.CallbackContext) (*genai.Content, error) {
		h.mu.Lock()
		start, ok := h.started[ctx.InvocationID()]
		delete(h.started, ctx.InvocationID())
		h.mu.Unlock()

		var elapsed time.Duration
		if ok {
			elapsed = time.Since(start)
			metrics.RecordTask(h.task, elapsed)
		}

		log := h.deps.logger().With(
			"task", h.task,
			"agent", h.deps.Agent,
			"run_id", state.GetRunID(ctx.ReadonlyState()),
		)

		output, produced := state.GetTaskOutput(ctx.ReadonlyState(), h.task)
		if !produced {
			log.Warnf("Task %s finished without output after %s", h.task, elapsed.Round(time.Millisecond))
			return nil, nil
		}

		log.Infof("Task %s completed in %s", h.task, elapsed.Round(time.Millisecond))
		h.deps.logf(log, "Task %s output: %s", h.task, truncate(output, 500))

		return nil, nil
	}
}
