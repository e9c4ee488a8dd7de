package report

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finanalyst/internal/agents"
	"finanalyst/internal/crew"
	"finanalyst/internal/domain/analysis"
)

func sampleOutput() *crew.Output {
	return &crew.Output{
		RunID:  uuid.New(),
		Inputs: crew.Inputs{Query: "Is the dividend safe?", FilePath: "data/sample.pdf"},
		Raw:    "Yes.",
		Tasks: []crew.TaskOutput{
			{Key: agents.TaskVerification, Role: "Financial Document Verifier", Raw: "Valid **10-K** filing."},
			{Key: agents.TaskRiskAssessment, Role: "Risk Assessment Specialist", Raw: "<script>alert(1)</script> Low risk."},
		},
		Usage: agents.UsageSummary{
			PromptTokens: 12000, CompletionTokens: 3456,
			CostUSD: decimal.RequireFromString("0.0123"),
		},
		StartedAt: time.Date(2025, 3, 31, 9, 30, 0, 0, time.UTC),
		Duration:  95*time.Second + 300*time.Millisecond,
	}
}

func TestMarkdown_FromOutput(t *testing.T) {
	md, err := Markdown(FromOutput(sampleOutput()))
	require.NoError(t, err)

	assert.Contains(t, md, "| Query | Is the dividend safe? |")
	assert.Contains(t, md, "| Tokens | 15,456 (12,000 prompt, 3,456 completion) |")
	assert.Contains(t, md, "| Cost | $0.0123 |")
	assert.Contains(t, md, "| Duration | 1m35s |")
	assert.Contains(t, md, "## Verification")
	assert.Contains(t, md, "## Risk assessment")
	assert.Less(t, strings.Index(md, "## Verification"), strings.Index(md, "## Risk assessment"))
}

func TestHTML(t *testing.T) {
	page, err := HTML(FromOutput(sampleOutput()))
	require.NoError(t, err)

	out := string(page)
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<strong>10-K</strong>")
	assert.NotContains(t, out, "<script>")
}

func TestFromRun_Failed(t *testing.T) {
	started := time.Date(2025, 3, 31, 9, 30, 0, 0, time.UTC)
	completed := started.Add(10 * time.Second)
	run := &analysis.Run{
		Query:       "q",
		FilePath:    "data/x.pdf",
		Status:      analysis.StatusFailed,
		Error:       "document unreadable",
		StartedAt:   &started,
		CompletedAt: &completed,
	}

	d := FromRun(run, []*analysis.TaskOutput{{TaskKey: "verification", AgentRole: "Verifier", RawOutput: "n/a"}})
	assert.Equal(t, "failed", d.Status)
	assert.Equal(t, "10s", d.Duration)
	require.Len(t, d.Tasks, 1)

	md, err := Markdown(d)
	require.NoError(t, err)
	assert.Contains(t, md, "**Run failed:** document unreadable")
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Analyze financial document", Title("analyze_financial_document"))
	assert.Equal(t, "", Title(""))
}
