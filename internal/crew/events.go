package crew

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies progress events emitted during a kickoff.
type EventKind string

const (
	EventRunStarted    EventKind = "run_started"
	EventTaskStarted   EventKind = "task_started"
	EventToolCalled    EventKind = "tool_called"
	EventTaskCompleted EventKind = "task_completed"
	EventRunCompleted  EventKind = "run_completed"
	EventRunFailed     EventKind = "run_failed"
)

// Event reports crew progress to subscribers such as the websocket stream.
type Event struct {
	RunID     uuid.UUID `json:"run_id"`
	Kind      EventKind `json:"kind"`
	Task      string    `json:"task,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Position  int       `json:"position,omitempty"`
	Total     int       `json:"total,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressFunc receives events in order. It runs on the kickoff goroutine
// and must not block.
type ProgressFunc func(Event)
