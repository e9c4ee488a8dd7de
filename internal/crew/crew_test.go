package crew

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/model"

	"finanalyst/internal/adapters/ai"
	"finanalyst/internal/agents"
	"finanalyst/internal/testsupport"
	"finanalyst/internal/tools"
	"finanalyst/internal/tools/shared"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

var llama = ai.ModelInfo{
	Provider:        ai.ProviderNameGroq,
	Name:            "llama-3.3-70b-versatile",
	InputCostPer1K:  0.00059,
	OutputCostPer1K: 0.00079,
}

// roleReply answers as the agent named in the first line of the instruction.
func roleReply(req *model.LLMRequest) (*model.LLMResponse, error) {
	first, _, _ := strings.Cut(testsupport.SystemText(req), "\n")
	role := strings.TrimSuffix(strings.TrimPrefix(first, "You are "), ".")
	return testsupport.TextResponse(fmt.Sprintf("Report from %s: revenue grew and margins held steady this quarter overall.", role), 100, 50), nil
}

type fixture struct {
	crew *Crew
	llm  *testsupport.ScriptedLLM
}

func newFixture(t *testing.T, reply func(*model.LLMRequest) (*model.LLMResponse, error), guard *agents.CostGuard) fixture {
	t.Helper()

	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterAllTools(registry, shared.Deps{Log: logger.Nop()}))

	llm := testsupport.NewScriptedLLM(reply)
	factory, err := agents.NewFactory(agents.FactoryDeps{
		Model: llm,
		Tools: registry,
		Costs: agents.NewCostTracker(llama),
		Guard: guard,
		Log:   logger.Nop(),
	})
	require.NoError(t, err)

	defs, err := agents.DefaultDefinitions()
	require.NoError(t, err)

	c, err := New(Config{Definitions: defs, Factory: factory, Guard: guard, Log: logger.Nop()})
	require.NoError(t, err)
	return fixture{crew: c, llm: llm}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestKickoff_RunsTasksInOrder(t *testing.T) {
	fx := newFixture(t, roleReply, nil)
	rec := &recorder{}

	out, err := fx.crew.Kickoff(context.Background(), Inputs{
		Query:    "Should I buy more shares?",
		FilePath: "data/q2.pdf",
	}, RunOptions{Source: "api", Progress: rec.record})
	require.NoError(t, err)

	require.Len(t, out.Tasks, 4)
	wantRoles := []string{"Financial Document Verifier", "Senior Financial Analyst", "Investment Advisor", "Risk Assessment Specialist"}
	for i, task := range out.Tasks {
		assert.Equal(t, wantRoles[i], task.Role)
		assert.Contains(t, task.Raw, "Report from "+wantRoles[i])
		assert.True(t, strings.HasSuffix(task.Summary, "..."), task.Summary)
	}
	assert.Equal(t, agents.TaskRiskAssessment, out.Tasks[3].Key)
	assert.Equal(t, out.Tasks[3].Raw, out.Raw)

	assert.Equal(t, 4, out.Usage.Calls)
	assert.Equal(t, int64(400), out.Usage.PromptTokens)
	assert.Equal(t, int64(200), out.Usage.CompletionTokens)
	assert.True(t, out.Usage.CostUSD.GreaterThan(decimal.Zero))

	assert.Equal(t, []EventKind{
		EventRunStarted,
		EventTaskStarted, EventTaskCompleted,
		EventTaskStarted, EventTaskCompleted,
		EventTaskStarted, EventTaskCompleted,
		EventTaskStarted, EventTaskCompleted,
		EventRunCompleted,
	}, rec.kinds())
	for _, e := range rec.events {
		assert.Equal(t, out.RunID, e.RunID)
	}
}

func TestKickoff_Prompts(t *testing.T) {
	fx := newFixture(t, roleReply, nil)

	_, err := fx.crew.Kickoff(context.Background(), Inputs{
		Query:    "Should I buy more shares?",
		FilePath: "data/q2.pdf",
	}, RunOptions{})
	require.NoError(t, err)

	reqs := fx.llm.Requests()
	require.Len(t, reqs, 4)

	verification := testsupport.SystemText(reqs[0])
	assert.Contains(t, verification, "Document path: data/q2.pdf")
	assert.Contains(t, verification, "- financial_analyst: Senior Financial Analyst", "delegating agents list coworkers")
	assert.Contains(t, testsupport.ToolNames(reqs[0]), tools.ReadFinancialDocument)
	assert.Contains(t, testsupport.ToolNames(reqs[0]), agents.AgentFinancialAnalyst.String())
	assert.Contains(t, testsupport.ContentsText(reqs[0]), "Query: Should I buy more shares?")

	analysis := testsupport.SystemText(reqs[1])
	assert.Contains(t, analysis, "Should I buy more shares?")
	assert.NotContains(t, analysis, "Results from earlier tasks", "the predecessor arrives as context")
	assert.Contains(t, testsupport.ContentsText(reqs[1]), "Report from Financial Document Verifier")

	investment := testsupport.SystemText(reqs[2])
	assert.Contains(t, investment, "[verification]\nReport from Financial Document Verifier")
	assert.NotContains(t, investment, "[analyze_financial_document]")
	assert.NotContains(t, testsupport.ToolNames(reqs[2]), agents.AgentRiskAssessor.String(), "no delegation")

	risk := testsupport.SystemText(reqs[3])
	assert.Contains(t, risk, "[verification]")
	assert.Contains(t, risk, "[analyze_financial_document]\nReport from Senior Financial Analyst")
	assert.ElementsMatch(t, []string{tools.ReadFinancialDocument, tools.CreateRiskAssessment}, testsupport.ToolNames(reqs[3]))
}

func TestKickoff_Defaults(t *testing.T) {
	fx := newFixture(t, roleReply, nil)

	out, err := fx.crew.Kickoff(context.Background(), Inputs{}, RunOptions{Tasks: []agents.TaskKey{agents.TaskVerification}})
	require.NoError(t, err)

	assert.Equal(t, DefaultQuery, out.Inputs.Query)
	assert.Equal(t, DefaultFilePath, out.Inputs.FilePath)
	require.Len(t, out.Tasks, 1)
	assert.Equal(t, agents.TaskVerification, out.Tasks[0].Key)

	reqs := fx.llm.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, testsupport.SystemText(reqs[0]), "Document path: data/sample.pdf")
}

func TestKickoff_UnknownTask(t *testing.T) {
	fx := newFixture(t, roleReply, nil)
	_, err := fx.crew.Kickoff(context.Background(), Inputs{}, RunOptions{Tasks: []agents.TaskKey{"summarize"}})
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Empty(t, fx.llm.Requests())
}

func TestKickoff_EmptyOutput(t *testing.T) {
	fx := newFixture(t, func(*model.LLMRequest) (*model.LLMResponse, error) {
		return testsupport.TextResponse("   ", 1, 1), nil
	}, nil)
	rec := &recorder{}

	_, err := fx.crew.Kickoff(context.Background(), Inputs{}, RunOptions{Progress: rec.record})
	assert.ErrorIs(t, err, errors.ErrEmptyOutput)

	kinds := rec.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, EventRunFailed, kinds[len(kinds)-1])
}

func TestKickoff_ModelError(t *testing.T) {
	fx := newFixture(t, func(*model.LLMRequest) (*model.LLMResponse, error) {
		return nil, fmt.Errorf("groq unavailable")
	}, nil)

	_, err := fx.crew.Kickoff(context.Background(), Inputs{}, RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "groq unavailable")
	assert.Contains(t, err.Error(), "task verification")
}

type dailyCache struct {
	mu    sync.Mutex
	spent map[string]decimal.Decimal
}

func (m *dailyCache) GetDailySpending(_ context.Context, userID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent[userID], nil
}

func (m *dailyCache) IncrementSpending(_ context.Context, userID string, amount decimal.Decimal, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spent[userID] = m.spent[userID].Add(amount)
	return nil
}

func TestKickoff_DailyBudget(t *testing.T) {
	cache := &dailyCache{spent: map[string]decimal.Decimal{"tg:42": decimal.NewFromInt(5)}}
	guard := agents.NewCostGuard(decimal.Zero, decimal.NewFromInt(5), cache)
	fx := newFixture(t, roleReply, guard)

	_, err := fx.crew.Kickoff(context.Background(), Inputs{}, RunOptions{UserID: "tg:42"})
	assert.ErrorIs(t, err, errors.ErrQuotaExceeded)
	assert.Empty(t, fx.llm.Requests())

	out, err := fx.crew.Kickoff(context.Background(), Inputs{}, RunOptions{UserID: "tg:7", Tasks: []agents.TaskKey{agents.TaskVerification}})
	require.NoError(t, err)
	assert.True(t, cache.spent["tg:7"].Equal(out.Usage.CostUSD), "run cost is charged to the requester")
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "one two three", Summarize("one  two\nthree"))
	assert.Equal(t, "a b c d e f g h i j...", Summarize("a b c d e f g h i j k l"))
	assert.Equal(t, "", Summarize(""))
}
