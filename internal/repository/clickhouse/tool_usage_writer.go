package clickhouse

import (
	"context"
	"time"

	"finanalyst/internal/domain/stats"
	"finanalyst/pkg/clickhouse"
)

// ToolUsageWriter buffers tool usage events in memory and inserts them in
// batches. It satisfies the recorder interface the tool middleware expects.
type ToolUsageWriter struct {
	writer *clickhouse.BatchWriter[stats.ToolUsageEvent]
}

// NewToolUsageWriter wraps repo with a batch writer.
func NewToolUsageWriter(repo stats.Repository, maxBatch int, maxAge time.Duration) *ToolUsageWriter {
	return &ToolUsageWriter{
		writer: clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[stats.ToolUsageEvent]{
			Flush:        repo.InsertToolUsageBatch,
			Table:        "tool_usage",
			MaxBatchSize: maxBatch,
			MaxAge:       maxAge,
		}),
	}
}

// Start begins periodic flushing.
func (w *ToolUsageWriter) Start(ctx context.Context) {
	w.writer.Start(ctx)
}

// InsertToolUsage buffers one event.
func (w *ToolUsageWriter) InsertToolUsage(ctx context.Context, event *stats.ToolUsageEvent) error {
	if event == nil {
		return nil
	}
	return w.writer.Add(ctx, *event)
}

// Flush writes buffered events immediately.
func (w *ToolUsageWriter) Flush(ctx context.Context) error {
	return w.writer.Flush(ctx)
}

// Stop flushes what is left and stops the flush loop.
func (w *ToolUsageWriter) Stop(ctx context.Context) error {
	return w.writer.Stop(ctx)
}

// Stats exposes the batch writer state.
func (w *ToolUsageWriter) Stats() clickhouse.BatchWriterStats {
	return w.writer.Stats()
}
