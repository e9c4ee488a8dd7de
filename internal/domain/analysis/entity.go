package analysis

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Run is one crew execution over a document
type Run struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Query          string    `db:"query" json:"query"`
	FilePath       string    `db:"file_path" json:"file_path"`
	DocumentSHA256 string    `db:"document_sha256" json:"document_sha256,omitempty"`
	Source         Source    `db:"source" json:"source"`

	// DocumentReadable is nil until the document has been inspected.
	DocumentReadable *bool `db:"document_readable" json:"document_readable,omitempty"`

	Status      Status `db:"status" json:"status"`
	FinalOutput string `db:"final_output" json:"final_output,omitempty"`
	Error       string `db:"error" json:"error,omitempty"`

	PromptTokens     int             `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int             `db:"completion_tokens" json:"completion_tokens"`
	CostUSD          decimal.Decimal `db:"cost_usd" json:"cost_usd"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Duration returns how long the run took, or zero while unfinished.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// TotalTokens returns prompt plus completion tokens.
func (r *Run) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// TaskOutput is the result of one task inside a run
type TaskOutput struct {
	ID        uuid.UUID `db:"id" json:"id"`
	RunID     uuid.UUID `db:"run_id" json:"run_id"`
	TaskKey   string    `db:"task_key" json:"task_key"`
	AgentRole string    `db:"agent_role" json:"agent_role"`
	RawOutput string    `db:"raw_output" json:"raw_output"`
	Summary   string    `db:"summary" json:"summary"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Status is the lifecycle state of a run
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid checks if status is valid
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// Source identifies the surface that requested the run
type Source string

const (
	SourceCLI      Source = "cli"
	SourceAPI      Source = "api"
	SourceTelegram Source = "telegram"
	SourceWorker   Source = "worker"
)
