package agents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/pkg/errors"
)

func TestDefaultDefinitions(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)

	require.Len(t, defs.Agents, 4)
	require.Len(t, defs.Tasks, 4)

	var order []TaskKey
	for _, task := range defs.Tasks {
		order = append(order, task.Key)
		assert.False(t, task.AsyncExecution)
	}
	assert.Equal(t, []TaskKey{TaskVerification, TaskAnalyzeDocument, TaskInvestmentAnalysis, TaskRiskAssessment}, order)

	tests := []struct {
		key        AgentKey
		role       string
		tools      []string
		maxIter    int
		delegation bool
	}{
		{AgentFinancialAnalyst, "Senior Financial Analyst", []string{"read_financial_document"}, 15, true},
		{AgentVerifier, "Financial Document Verifier", []string{"read_financial_document"}, 10, true},
		{AgentInvestmentAdvisor, "Investment Advisor", []string{"read_financial_document", "analyze_investment"}, 15, false},
		{AgentRiskAssessor, "Risk Assessment Specialist", []string{"read_financial_document", "create_risk_assessment"}, 15, false},
	}
	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			a, ok := defs.Agent(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.role, a.Role)
			assert.Equal(t, tt.tools, a.Tools)
			assert.Equal(t, tt.maxIter, a.MaxIter)
			assert.Equal(t, 10, a.MaxRPM)
			assert.Equal(t, tt.delegation, a.AllowDelegation)
		})
	}

	analyst, _ := defs.Agent(AgentFinancialAnalyst)
	assert.Contains(t, analyst.Goal, "{query}")
}

func TestDefinitions_Validate(t *testing.T) {
	valid := func() *Definitions {
		return &Definitions{
			Agents: []AgentDefinition{{Key: "a", Role: "r", Goal: "g", Backstory: "b", MaxIter: 1}},
			Tasks:  []TaskDefinition{{Key: "t", Description: "d", ExpectedOutput: "e", Agent: "a"}},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(d *Definitions)
		want   error
	}{
		{"duplicate agent", func(d *Definitions) { d.Agents = append(d.Agents, d.Agents[0]) }, errors.ErrInvalidInput},
		{"duplicate task", func(d *Definitions) { d.Tasks = append(d.Tasks, d.Tasks[0]) }, errors.ErrInvalidInput},
		{"unknown agent", func(d *Definitions) { d.Tasks[0].Agent = "ghost" }, errors.ErrUnknownAgent},
		{"async task", func(d *Definitions) { d.Tasks[0].AsyncExecution = true }, errors.ErrInvalidInput},
		{"max_iter out of range", func(d *Definitions) { d.Agents[0].MaxIter = 0 }, errors.ErrInvalidInput},
		{"negative max_rpm", func(d *Definitions) { d.Agents[0].MaxRPM = -1 }, errors.ErrInvalidInput},
		{"missing goal", func(d *Definitions) { d.Agents[0].Goal = "" }, errors.ErrInvalidInput},
		{"no tasks", func(d *Definitions) { d.Tasks = nil }, errors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			assert.ErrorIs(t, d.Validate(), tt.want)
		})
	}
}

func TestDefinitions_ToolsFor(t *testing.T) {
	defs := &Definitions{
		Agents: []AgentDefinition{{Key: "a", Tools: []string{"x", "y"}}},
	}

	assert.Equal(t, []string{"x", "y"}, defs.ToolsFor(TaskDefinition{Agent: "a"}))
	assert.Equal(t, []string{"z"}, defs.ToolsFor(TaskDefinition{Agent: "a", Tools: []string{"z"}}))
	assert.Nil(t, defs.ToolsFor(TaskDefinition{Agent: "missing"}))
}

func TestDefinitions_Only(t *testing.T) {
	defs, err := DefaultDefinitions()
	require.NoError(t, err)

	verify, err := defs.Only(TaskVerification)
	require.NoError(t, err)
	require.Len(t, verify.Tasks, 1)
	assert.Equal(t, TaskVerification, verify.Tasks[0].Key)
	assert.Len(t, verify.Agents, 4)
	require.NoError(t, verify.Validate())

	_, err = defs.Only("nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestLoadDefinitionsDir(t *testing.T) {
	dir := t.TempDir()
	tasks := `tasks:
  - key: verification
    agent: verifier
    description: Check {file_path}
    expected_output: A verdict
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.yaml"), []byte(tasks), 0o644))

	defs, err := LoadDefinitionsDir(dir)
	require.NoError(t, err)

	require.Len(t, defs.Tasks, 1, "tasks come from the override")
	assert.Len(t, defs.Agents, 4, "agents fall back to the embedded file")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents.yaml"), []byte("agents: [oops"), 0o644))
	_, err = LoadDefinitionsDir(dir)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
