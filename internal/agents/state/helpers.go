package state

import (
	"time"

	"google.golang.org/adk/session"

	"finanalyst/internal/tools/shared"
)

// State key prefixes (from ADK)
const (
	KeyPrefixApp  = "app:"  // Application-level (shared across all users)
	KeyPrefixUser = "user:" // User-level (shared across user's sessions)
	KeyPrefixTemp = "temp:" // Temporary (not persisted)
)

// Session keys written by the crew before the first task runs.
const (
	KeyQuery     = "query"
	KeyFilePath  = "file_path"
	KeyRunID     = "run_id"
	KeyStartedAt = "run_started_at"
	KeyTask      = shared.StateKeyTask
)

// ========================================
// Run inputs
// ========================================

// Inputs returns the initial session state for a crew run.
func Inputs(runID, query, filePath string, startedAt time.Time) map[string]any {
	return map[string]any{
		KeyRunID:     runID,
		KeyQuery:     query,
		KeyFilePath:  filePath,
		KeyStartedAt: startedAt.UTC().Format(time.RFC3339Nano),
	}
}

// GetQuery returns the user query of the current run.
func GetQuery(state session.ReadonlyState) string {
	return getString(state, KeyQuery)
}

// GetFilePath returns the document path of the current run.
func GetFilePath(state session.ReadonlyState) string {
	return getString(state, KeyFilePath)
}

// GetRunID returns the run identifier, or "" outside a crew run.
func GetRunID(state session.ReadonlyState) string {
	return getString(state, KeyRunID)
}

// GetStartedAt returns when the run started.
func GetStartedAt(state session.ReadonlyState) (time.Time, error) {
	raw := getString(state, KeyStartedAt)
	if raw == "" {
		return time.Time{}, session.ErrStateKeyNotExist
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// ========================================
// Task progress
// ========================================

// SetCurrentTask records the task that is executing.
func SetCurrentTask(state session.State, task string) error {
	return state.Set(KeyTask, task)
}

// GetCurrentTask returns the task that is executing.
func GetCurrentTask(state session.ReadonlyState) string {
	return getString(state, KeyTask)
}

// GetTaskOutput returns the output a finished task stored under its key.
func GetTaskOutput(state session.ReadonlyState, task string) (string, bool) {
	val, err := state.Get(task)
	if err != nil {
		return "", false
	}
	out, ok := val.(string)
	if !ok || out == "" {
		return "", false
	}
	return out, true
}

// TaskOutputs collects outputs for tasks in order, skipping tasks that
// have not produced anything yet.
func TaskOutputs(state session.ReadonlyState, tasks []string) []TaskOutput {
	outputs := make([]TaskOutput, 0, len(tasks))
	for _, task := range tasks {
		if out, ok := GetTaskOutput(state, task); ok {
			outputs = append(outputs, TaskOutput{Task: task, Output: out})
		}
	}
	return outputs
}

// TaskOutput pairs a task key with the text it produced.
type TaskOutput struct {
	Task   string
	Output string
}

// ========================================
// Temporary State (not persisted)
// ========================================

// IncrementToolCallCount increments the tool call counter
func IncrementToolCallCount(state session.State) error {
	return state.Set(KeyPrefixTemp+"tool_call_count", GetToolCallCount(state)+1)
}

// GetToolCallCount gets the tool call counter
func GetToolCallCount(state session.ReadonlyState) int {
	val, err := state.Get(KeyPrefixTemp + "tool_call_count")
	if err != nil {
		return 0
	}
	if count, ok := val.(int); ok {
		return count
	}
	return 0
}

func getString(state session.ReadonlyState, key string) string {
	val, err := state.Get(key)
	if err != nil {
		return ""
	}
	s, _ := val.(string)
	return s
}
