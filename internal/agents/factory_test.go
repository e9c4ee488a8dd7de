package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	adktool "google.golang.org/adk/tool"

	"finanalyst/internal/testsupport"
	"finanalyst/internal/tools"
	"finanalyst/internal/tools/shared"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()

	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterAllTools(registry, shared.Deps{Log: logger.Nop()}))

	f, err := NewFactory(FactoryDeps{
		Model: testsupport.NewScriptedLLM(nil),
		Tools: registry,
		Log:   logger.Nop(),
	})
	require.NoError(t, err)
	return f
}

func interpolatedDefaults(t *testing.T) *Definitions {
	t.Helper()
	defs, err := DefaultDefinitions()
	require.NoError(t, err)
	out, err := defs.Interpolate(map[string]string{InputQuery: "q", InputFilePath: "data/sample.pdf"})
	require.NoError(t, err)
	return out
}

func TestNewFactory_RequiresDeps(t *testing.T) {
	_, err := NewFactory(FactoryDeps{Tools: tools.NewRegistry()})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = NewFactory(FactoryDeps{Model: testsupport.NewScriptedLLM(nil)})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestFactory_BuildCrew(t *testing.T) {
	f := newTestFactory(t)

	crew, err := f.BuildCrew(interpolatedDefaults(t), "data/sample.pdf")
	require.NoError(t, err)

	assert.Equal(t, CrewAgentName, crew.Name())

	var names []string
	for _, sub := range crew.SubAgents() {
		names = append(names, sub.Name())
	}
	assert.Equal(t, []string{
		TaskVerification.String(),
		TaskAnalyzeDocument.String(),
		TaskInvestmentAnalysis.String(),
		TaskRiskAssessment.String(),
	}, names)
}

func TestFactory_BuildCrewUnknownTool(t *testing.T) {
	f := newTestFactory(t)
	defs := interpolatedDefaults(t)
	defs.Tasks[0].Tools = []string{"fetch_stock_price"}

	_, err := f.BuildCrew(defs, "data/sample.pdf")
	assert.ErrorIs(t, err, errors.ErrUnknownTool)
}

func TestFactory_Limiter(t *testing.T) {
	f := newTestFactory(t)

	def := AgentDefinition{Key: AgentVerifier, MaxRPM: 10}
	first := f.Limiter(def)
	require.NotNil(t, first)
	assert.Same(t, first, f.Limiter(def), "limiters outlive a single kickoff")
	assert.Equal(t, 1, first.Burst())

	def.MaxRPM = 20
	assert.Same(t, first, f.Limiter(def))
	assert.Equal(t, rate.Every(3*time.Second), first.Limit(), "changed limits are applied in place")

	assert.Nil(t, f.Limiter(AgentDefinition{Key: AgentRiskAssessor}))
}

func TestFactory_LimiterCapsEveryMinute(t *testing.T) {
	f := newTestFactory(t)
	l := f.Limiter(AgentDefinition{Key: AgentFinancialAnalyst, MaxRPM: 10})
	require.NotNil(t, l)

	start := time.Now()
	var admitted []time.Time
	for step := time.Duration(0); step < 3*time.Minute; step += 100 * time.Millisecond {
		at := start.Add(step)
		if l.AllowN(at, 1) {
			admitted = append(admitted, at)
		}
	}
	require.NotEmpty(t, admitted)

	for i, from := range admitted {
		inWindow := 0
		for _, at := range admitted[i:] {
			if at.Sub(from) < time.Minute {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, 10, "window starting at %s", from.Sub(start))
	}
}

func TestFactory_ToolsetAddsSearchForMemory(t *testing.T) {
	f := newTestFactory(t)
	f.tools.Register(tools.SearchFinancialDocument, mustTool(t, f, tools.ReadFinancialDocument))

	_, infos, err := f.toolset(AgentDefinition{Memory: true}, []string{tools.ReadFinancialDocument})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, tools.ReadFinancialDocument, infos[0].Name)

	_, infos, err = f.toolset(AgentDefinition{}, []string{tools.ReadFinancialDocument})
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func mustTool(t *testing.T, f *Factory, name string) adktool.Tool {
	t.Helper()
	tl, ok := f.tools.Get(name)
	require.True(t, ok)
	return tl
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Verify the document.", firstLine("Verify the document.\n\nDocument path: x"))
	assert.Equal(t, "single", firstLine("single"))
}
