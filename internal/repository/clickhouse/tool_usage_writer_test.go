package clickhouse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/internal/domain/stats"
)

type memoryStats struct {
	stats.Repository

	mu     sync.Mutex
	events []stats.ToolUsageEvent
	calls  int
}

func (m *memoryStats) InsertToolUsageBatch(_ context.Context, events []stats.ToolUsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.events = append(m.events, events...)
	return nil
}

func TestToolUsageWriter_BatchesEvents(t *testing.T) {
	repo := &memoryStats{}
	w := NewToolUsageWriter(repo, 2, time.Hour)
	ctx := context.Background()
	runID := uuid.New()

	for _, tool := range []string{"read_financial_document", "analyze_investment", "create_risk_assessment"} {
		require.NoError(t, w.InsertToolUsage(ctx, &stats.ToolUsageEvent{
			RunID:     runID,
			AgentID:   "investment_advisor",
			TaskKey:   "investment_analysis",
			ToolName:  tool,
			Timestamp: time.Now(),
			Success:   true,
		}))
	}

	assert.Equal(t, 1, repo.calls, "first two events flushed on size")
	assert.Equal(t, 1, w.Stats().Buffered)

	require.NoError(t, w.Flush(ctx))
	require.Len(t, repo.events, 3)
	assert.Equal(t, "create_risk_assessment", repo.events[2].ToolName)
	assert.Equal(t, runID, repo.events[0].RunID)
}

func TestToolUsageWriter_NilEvent(t *testing.T) {
	repo := &memoryStats{}
	w := NewToolUsageWriter(repo, 10, time.Hour)

	require.NoError(t, w.InsertToolUsage(context.Background(), nil))
	assert.Equal(t, 0, w.Stats().Buffered)
}

func TestToolUsageWriter_StopFlushes(t *testing.T) {
	repo := &memoryStats{}
	w := NewToolUsageWriter(repo, 10, time.Hour)
	w.Start(context.Background())

	require.NoError(t, w.InsertToolUsage(context.Background(), &stats.ToolUsageEvent{ToolName: "read_financial_document"}))
	require.NoError(t, w.Stop(context.Background()))

	assert.Len(t, repo.events, 1)
}
