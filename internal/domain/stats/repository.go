package stats

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores tool usage in ClickHouse.
type Repository interface {
	InsertToolUsageBatch(ctx context.Context, events []ToolUsageEvent) error

	// RunEvents returns the events of one analysis run in call order.
	RunEvents(ctx context.Context, runID uuid.UUID) ([]ToolUsageEvent, error)

	Usage(ctx context.Context, f UsageFilter) ([]ToolUsageAggregated, error)
}
