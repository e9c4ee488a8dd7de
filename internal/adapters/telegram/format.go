package telegram

import (
	"strings"
	"time"
	"unicode/utf16"

	"finanalyst/internal/agents"
	"finanalyst/internal/crew"
	"finanalyst/internal/domain/analysis"
	"finanalyst/internal/events"
	"finanalyst/internal/report"
	"finanalyst/pkg/templates"
)

const truncatedSuffix = "\n\\.\\.\\."

type resultTask struct {
	Title   string
	Summary string
}

type resultView struct {
	Duration string
	Cost     string
	Tasks    []resultTask
	Final    string
}

// Views hold raw text; the templates escape it for MarkdownV2.

// FormatResult renders a finished crew run for Telegram.
func FormatResult(out *crew.Output) (string, error) {
	view := resultView{
		Duration: out.Duration.Round(time.Second).String(),
		Cost:     "$" + out.Usage.CostUSD.StringFixed(4),
		Final:    out.Raw,
	}
	// The last task's output is the final answer.
	for _, t := range out.Tasks[:max(len(out.Tasks)-1, 0)] {
		summary := t.Summary
		if summary == "" {
			summary = crew.Summarize(t.Raw)
		}
		view.Tasks = append(view.Tasks, resultTask{Title: report.Title(t.Key.String()), Summary: summary})
	}
	return render("telegram/result", view)
}

// FormatCompletion renders a completion event from the analysis queue.
func FormatCompletion(done events.AnalysisCompleted) (string, error) {
	if done.Status != string(analysis.StatusCompleted) {
		reason := done.Error
		if reason == "" {
			reason = "unknown error"
		}
		return "*Analysis failed*\n" + esc(reason) + "\n\nRun `" + done.RunID.String() + "`", nil
	}
	return render("telegram/result", resultView{
		Duration: done.Duration.Round(time.Second).String(),
		Cost:     "$" + done.CostUSD,
		Final:    done.FinalOutput,
	})
}

type agentView struct {
	Role string
	Key  string
}

type taskView struct {
	Position int
	Key      string
	Agent    string
}

// FormatAgents lists the crew and its tasks.
func FormatAgents(defs *agents.Definitions) (string, error) {
	var data struct {
		Agents []agentView
		Tasks  []taskView
	}
	for _, a := range defs.Agents {
		data.Agents = append(data.Agents, agentView{Role: a.Role, Key: a.Key.String()})
	}
	for i, t := range defs.Tasks {
		data.Tasks = append(data.Tasks, taskView{
			Position: i + 1,
			Key:      t.Key.String(),
			Agent:    t.Agent.String(),
		})
	}
	return render("telegram/agents", data)
}

func render(id string, data any) (string, error) {
	text, err := templates.Get().Render(id, data)
	if err != nil {
		return "", err
	}
	return Truncate(text, MaxMessageLength), nil
}

// Truncate cuts MarkdownV2 text to at most limit UTF-16 code units, the unit
// Telegram counts message length in, without leaving a dangling escape.
func Truncate(text string, limit int) string {
	if UTF16Len(text) <= limit {
		return text
	}

	budget := limit - UTF16Len(truncatedSuffix)
	var b strings.Builder
	for _, r := range text {
		n := utf16.RuneLen(r)
		if n > budget {
			break
		}
		budget -= n
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), "\\") + truncatedSuffix
}

// UTF16Len is the length of s as Telegram measures it.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func esc(s string) string {
	return templates.SafeTextV2(s)
}
