package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/internal/domain/stats"
	"finanalyst/internal/testsupport"
)

func TestStatsRepository_RunEvents(t *testing.T) {
	helper := testsupport.NewTestClickHouse(t)
	repo := NewStatsRepository(helper.Client().Conn())
	ctx := context.Background()

	runID := uuid.New()
	helper.CleanupRun(t, runID)

	start := time.Now().Add(-time.Minute)
	events := []stats.ToolUsageEvent{
		testsupport.NewToolUsageFixture(runID).At(start).Build(),
		testsupport.NewToolUsageFixture(runID).
			WithAgent("financial_analyst", "analyze_financial_document").
			WithTool("search_financial_document").
			Failed().
			At(start.Add(time.Second)).
			Build(),
	}
	require.NoError(t, repo.InsertToolUsageBatch(ctx, events))

	got, err := repo.RunEvents(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "read_financial_document", got[0].ToolName)
	assert.True(t, got[0].Success)
	assert.Equal(t, "financial_analyst", got[1].AgentID)
	assert.False(t, got[1].Success)

	summary := stats.Summarize(got)
	assert.Equal(t, 2, len(summary))
}

func TestStatsRepository_UsageFiltersByTool(t *testing.T) {
	helper := testsupport.NewTestClickHouse(t)
	repo := NewStatsRepository(helper.Client().Conn())
	ctx := context.Background()

	runID := uuid.New()
	helper.CleanupRun(t, runID)
	tool := "tool_" + runID.String()[:8]

	require.NoError(t, repo.InsertToolUsageBatch(ctx, []stats.ToolUsageEvent{
		testsupport.NewToolUsageFixture(runID).WithTool(tool).Build(),
		testsupport.NewToolUsageFixture(runID).WithTool(tool).Failed().Build(),
	}))

	rows, err := repo.Usage(ctx, stats.UsageFilter{Tool: tool, Since: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	var calls, failures uint64
	for _, r := range rows {
		calls += r.CallCount
		failures += r.ErrorCount
	}
	assert.Equal(t, uint64(2), calls)
	assert.Equal(t, uint64(1), failures)
}
