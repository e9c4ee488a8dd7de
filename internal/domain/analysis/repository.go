package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository persists analysis runs and their task outputs
type Repository interface {
	Create(ctx context.Context, run *Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	List(ctx context.Context, limit, offset int) ([]*Run, error)

	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// RecordDocument stores the fingerprint and readability of the run's document.
	RecordDocument(ctx context.Context, id uuid.UUID, sha256 string, readable bool) error
	Complete(ctx context.Context, id uuid.UUID, finalOutput string, promptTokens, completionTokens int, cost decimal.Decimal, completedAt time.Time) error
	Fail(ctx context.Context, id uuid.UUID, reason string, completedAt time.Time) error
	// FailStale fails every unfinished run older than before and returns their IDs.
	FailStale(ctx context.Context, before time.Time, reason string) ([]uuid.UUID, error)

	SaveTaskOutput(ctx context.Context, output *TaskOutput) error
	GetTaskOutputs(ctx context.Context, runID uuid.UUID) ([]*TaskOutput, error)
}
