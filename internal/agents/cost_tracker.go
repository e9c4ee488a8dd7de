package agents

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"finanalyst/internal/adapters/ai"
)

// AgentUsage is the token usage and cost attributed to one agent in a run.
type AgentUsage struct {
	Agent            string          `json:"agent"`
	Calls            int             `json:"calls"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	CostUSD          decimal.Decimal `json:"cost_usd"`
}

// UsageSummary aggregates a run's usage.
type UsageSummary struct {
	Calls            int             `json:"calls"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	TotalTokens      int64           `json:"total_tokens"`
	CostUSD          decimal.Decimal `json:"cost_usd"`
	ByAgent          []AgentUsage    `json:"by_agent,omitempty"`
}

// RunUsage accumulates token usage and cost for one crew run. Delegated
// coworker calls count against the agent that served them.
type RunUsage struct {
	mu     sync.Mutex
	agents map[string]*AgentUsage
}

// NewRunUsage creates an empty usage accumulator.
func NewRunUsage() *RunUsage {
	return &RunUsage{agents: make(map[string]*AgentUsage)}
}

// Add records one model call.
func (u *RunUsage) Add(agent string, promptTokens, completionTokens int64, cost decimal.Decimal) {
	u.mu.Lock()
	defer u.mu.Unlock()

	entry, ok := u.agents[agent]
	if !ok {
		entry = &AgentUsage{Agent: agent}
		u.agents[agent] = entry
	}
	entry.Calls++
	entry.PromptTokens += promptTokens
	entry.CompletionTokens += completionTokens
	entry.CostUSD = entry.CostUSD.Add(cost)
}

// Cost returns the total spent so far.
func (u *RunUsage) Cost() decimal.Decimal {
	u.mu.Lock()
	defer u.mu.Unlock()

	total := decimal.Zero
	for _, entry := range u.agents {
		total = total.Add(entry.CostUSD)
	}
	return total
}

// Summary returns totals plus a per-agent breakdown sorted by agent key.
func (u *RunUsage) Summary() UsageSummary {
	u.mu.Lock()
	defer u.mu.Unlock()

	summary := UsageSummary{CostUSD: decimal.Zero}
	for _, entry := range u.agents {
		summary.Calls += entry.Calls
		summary.PromptTokens += entry.PromptTokens
		summary.CompletionTokens += entry.CompletionTokens
		summary.CostUSD = summary.CostUSD.Add(entry.CostUSD)
		summary.ByAgent = append(summary.ByAgent, *entry)
	}
	summary.TotalTokens = summary.PromptTokens + summary.CompletionTokens

	sort.Slice(summary.ByAgent, func(i, j int) bool {
		return summary.ByAgent[i].Agent < summary.ByAgent[j].Agent
	})
	return summary
}

type runUsageKey struct{}

// WithRunUsage attaches the usage accumulator of a run to ctx.
func WithRunUsage(ctx context.Context, usage *RunUsage) context.Context {
	return context.WithValue(ctx, runUsageKey{}, usage)
}

// RunUsageFromContext returns the run accumulator, or nil outside a run.
func RunUsageFromContext(ctx context.Context) *RunUsage {
	usage, _ := ctx.Value(runUsageKey{}).(*RunUsage)
	return usage
}

// CostTracker prices model calls and records them against the run found on
// the context. Process-wide totals are exported as metrics by the callbacks.
type CostTracker struct {
	model ai.ModelInfo
}

// NewCostTracker creates a tracker for calls made with model.
func NewCostTracker(model ai.ModelInfo) *CostTracker {
	return &CostTracker{model: model}
}

// Record prices one call and returns its cost in USD.
func (ct *CostTracker) Record(ctx context.Context, agent string, promptTokens, completionTokens int64) float64 {
	cost := ct.model.Cost(promptTokens, completionTokens)
	if run := RunUsageFromContext(ctx); run != nil {
		run.Add(agent, promptTokens, completionTokens, cost)
	}

	return cost.InexactFloat64()
}
