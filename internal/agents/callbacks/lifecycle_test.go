package callbacks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/tool"

	"finanalyst/internal/agents/state"
	"finanalyst/internal/testsupport"
	"finanalyst/pkg/logger"
)

func TestTaskHooks(t *testing.T) {
	h := NewTaskHooks("risk_assessment", Deps{Agent: "risk_assessor", Log: logger.Nop()})
	ctx := testsupport.NewToolContext(context.Background(), "risk_assessment").
		WithState(map[string]any{state.KeyRunID: "run-1"})

	content, err := h.Before()(ctx)
	require.NoError(t, err)
	assert.Nil(t, content)
	assert.Equal(t, "risk_assessment", state.GetCurrentTask(ctx.ReadonlyState()))

	require.NoError(t, ctx.State().Set("risk_assessment", "Moderate risk."))
	content, err = h.After()(ctx)
	require.NoError(t, err)
	assert.Nil(t, content)

	h.mu.Lock()
	assert.Empty(t, h.started)
	h.mu.Unlock()
}

type namedTool struct{ name string }

func (n namedTool) Name() string        { return n.name }
func (n namedTool) Description() string { return "" }
func (n namedTool) IsLongRunning() bool { return false }

var _ tool.Tool = namedTool{}

func TestAuditLogCallbacks(t *testing.T) {
	deps := Deps{Agent: "verifier", Verbose: true, Log: logger.Nop()}
	ctx := testsupport.NewToolContext(context.Background(), "verification")
	read := namedTool{name: "read_financial_document"}

	res, err := AuditLogBeforeToolCallback(deps)(ctx, read, map[string]any{"path": "data/sample.pdf"})
	require.NoError(t, err)
	assert.Nil(t, res, "before callback never replaces the call")

	res, err = AuditLogAfterToolCallback(deps)(ctx, read, nil, map[string]any{"result": "Revenue"}, nil)
	require.NoError(t, err)
	assert.Nil(t, res, "after callback never replaces the result")
	assert.Equal(t, 1, state.GetToolCallCount(ctx.ReadonlyState()))
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, "{}", formatArgs(nil))
	assert.Equal(t, "plain", formatArgs(map[string]any{"result": "plain"}))
	assert.Equal(t, "map[path:a.pdf]", formatArgs(map[string]any{"path": "a.pdf"}))
}
