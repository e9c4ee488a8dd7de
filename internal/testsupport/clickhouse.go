package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"finanalyst/internal/adapters/clickhouse"
	"finanalyst/internal/adapters/config"
	"finanalyst/internal/domain/stats"
)

// ClickHouseTestHelper connects to the analytics store for integration tests.
type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewClickHouseTestHelper connects and makes sure the analytics schema exists.
func NewClickHouseTestHelper(t *testing.T, cfg config.ClickHouseConfig) *ClickHouseTestHelper {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := clickhouse.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to clickhouse: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if err := client.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to apply clickhouse schema: %v", err)
	}

	return &ClickHouseTestHelper{client: client}
}

// NewTestClickHouse skips unless ClickHouse is configured in the environment.
func NewTestClickHouse(t *testing.T) *ClickHouseTestHelper {
	t.Helper()
	return NewClickHouseTestHelper(t, ClickHouseConfigFromEnv(t))
}

func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}

// CleanupRun deletes the tool usage rows of one run when the test ends.
func (h *ClickHouseTestHelper) CleanupRun(t *testing.T, runID uuid.UUID) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.client.Conn().Exec(ctx, "DELETE FROM tool_usage WHERE run_id = ?", runID)
	})
}

// ToolUsageFixture builds tool usage events for tests.
type ToolUsageFixture struct {
	event stats.ToolUsageEvent
}

// NewToolUsageFixture returns a successful read_financial_document call by
// the verifier.
func NewToolUsageFixture(runID uuid.UUID) *ToolUsageFixture {
	return &ToolUsageFixture{event: stats.ToolUsageEvent{
		RunID:      runID,
		AgentID:    "verifier",
		TaskKey:    "verification",
		ToolName:   "read_financial_document",
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
		DurationMs: 120,
		Success:    true,
		SessionID:  runID.String(),
	}}
}

// WithAgent sets agent and task.
func (f *ToolUsageFixture) WithAgent(agent, task string) *ToolUsageFixture {
	f.event.AgentID = agent
	f.event.TaskKey = task
	return f
}

// WithTool sets the tool name.
func (f *ToolUsageFixture) WithTool(name string) *ToolUsageFixture {
	f.event.ToolName = name
	return f
}

// Failed marks the call as failed.
func (f *ToolUsageFixture) Failed() *ToolUsageFixture {
	f.event.Success = false
	return f
}

// At sets the timestamp.
func (f *ToolUsageFixture) At(ts time.Time) *ToolUsageFixture {
	f.event.Timestamp = ts.UTC().Truncate(time.Millisecond)
	return f
}

// Build returns the event.
func (f *ToolUsageFixture) Build() stats.ToolUsageEvent {
	return f.event
}
