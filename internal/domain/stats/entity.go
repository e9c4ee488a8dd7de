package stats

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ToolUsageEvent is one tool call made by a crew agent.
type ToolUsageEvent struct {
	RunID      uuid.UUID `ch:"run_id" json:"run_id"`
	AgentID    string    `ch:"agent_id" json:"agent"`
	TaskKey    string    `ch:"task_key" json:"task"`
	ToolName   string    `ch:"tool_name" json:"tool"`
	Timestamp  time.Time `ch:"timestamp" json:"timestamp"`
	DurationMs uint32    `ch:"duration_ms" json:"duration_ms"`
	Success    bool      `ch:"success" json:"success"`
	SessionID  string    `ch:"session_id" json:"-"`
}

// ToolUsageAggregated is one agent/tool row of the hourly rollup.
// AvgDurationMs is derived from the totals when read.
type ToolUsageAggregated struct {
	AgentID         string    `ch:"agent_id" json:"agent"`
	ToolName        string    `ch:"tool_name" json:"tool"`
	Hour            time.Time `ch:"hour" json:"hour"`
	CallCount       uint64    `ch:"call_count" json:"calls"`
	TotalDurationMs uint64    `ch:"total_duration_ms" json:"total_duration_ms"`
	SuccessCount    uint64    `ch:"success_count" json:"successes"`
	ErrorCount      uint64    `ch:"error_count" json:"errors"`
	AvgDurationMs   float64   `ch:"avg_duration_ms" json:"avg_duration_ms"`
}

// UsageFilter selects rollup rows. Empty Agent or Tool match everything.
// When neither is set rows are summed per agent/tool pair and ordered by
// call count.
type UsageFilter struct {
	Agent string
	Tool  string
	Since time.Time
	Limit int
}

// ToolSummary totals the calls of one tool within a run.
type ToolSummary struct {
	Tool       string `json:"tool"`
	Calls      int    `json:"calls"`
	Failures   int    `json:"failures"`
	DurationMs int    `json:"duration_ms"`
}

// Summarize totals events per tool, busiest first.
func Summarize(events []ToolUsageEvent) []ToolSummary {
	byTool := make(map[string]*ToolSummary)
	for _, e := range events {
		s, ok := byTool[e.ToolName]
		if !ok {
			s = &ToolSummary{Tool: e.ToolName}
			byTool[e.ToolName] = s
		}
		s.Calls++
		s.DurationMs += int(e.DurationMs)
		if !e.Success {
			s.Failures++
		}
	}

	out := make([]ToolSummary, 0, len(byTool))
	for _, s := range byTool {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}
