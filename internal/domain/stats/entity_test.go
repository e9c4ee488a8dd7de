package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	events := []ToolUsageEvent{
		{ToolName: "read_financial_document", DurationMs: 120, Success: true},
		{ToolName: "search_financial_document", DurationMs: 40, Success: true},
		{ToolName: "read_financial_document", DurationMs: 80, Success: false},
		{ToolName: "analyze_investment", DurationMs: 10, Success: true},
	}

	got := Summarize(events)

	assert.Equal(t, []ToolSummary{
		{Tool: "read_financial_document", Calls: 2, Failures: 1, DurationMs: 200},
		{Tool: "analyze_investment", Calls: 1, DurationMs: 10},
		{Tool: "search_financial_document", Calls: 1, DurationMs: 40},
	}, got)
	assert.Empty(t, Summarize(nil))
}
