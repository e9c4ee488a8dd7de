// Package report renders analysis results as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"finanalyst/internal/crew"
	"finanalyst/internal/domain/analysis"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/templates"
)

const reportTemplate = "reports/analysis"

// Section is one task's contribution to the report.
type Section struct {
	Title  string
	Role   string
	Output string
}

// Data is everything the report template shows, already formatted.
type Data struct {
	Query     string
	FilePath  string
	Status    string
	StartedAt string
	Duration  string
	Tokens    string
	Cost      string
	Error     string
	Tasks     []Section
}

// FromOutput builds report data from a finished crew run.
func FromOutput(out *crew.Output) Data {
	d := Data{
		Query:     out.Inputs.Query,
		FilePath:  out.Inputs.FilePath,
		Status:    string(analysis.StatusCompleted),
		StartedAt: formatTime(out.StartedAt),
		Duration:  formatDuration(out.Duration),
		Tokens:    formatTokens(out.Usage.PromptTokens, out.Usage.CompletionTokens),
		Cost:      formatCost(out.Usage.CostUSD),
	}
	for _, t := range out.Tasks {
		d.Tasks = append(d.Tasks, Section{Title: Title(t.Key.String()), Role: t.Role, Output: t.Raw})
	}
	return d
}

// FromRun builds report data from a stored run.
func FromRun(run *analysis.Run, outputs []*analysis.TaskOutput) Data {
	d := Data{
		Query:    run.Query,
		FilePath: run.FilePath,
		Status:   run.Status.String(),
		Duration: formatDuration(run.Duration()),
		Tokens:   formatTokens(int64(run.PromptTokens), int64(run.CompletionTokens)),
		Cost:     formatCost(run.CostUSD),
		Error:    run.Error,
	}
	if run.StartedAt != nil {
		d.StartedAt = formatTime(*run.StartedAt)
	}
	for _, o := range outputs {
		d.Tasks = append(d.Tasks, Section{Title: Title(o.TaskKey), Role: o.AgentRole, Output: o.RawOutput})
	}
	return d
}

// Markdown renders the report as GitHub-flavored Markdown.
func Markdown(d Data) (string, error) {
	out, err := templates.Get().Render(reportTemplate, d)
	if err != nil {
		return "", errors.Wrap(err, "render report")
	}
	return out, nil
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .25rem .5rem; text-align: left; }
blockquote { color: #a00; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// HTML renders the report as a standalone HTML page. Agent output is
// escaped: raw HTML in it is not rendered.
func HTML(d Data) ([]byte, error) {
	md, err := Markdown(d)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := markdown.Convert([]byte(md), &body); err != nil {
		return nil, errors.Wrap(err, "convert markdown")
	}

	var buf bytes.Buffer
	err = page.Execute(&buf, map[string]any{
		"Title": "Analysis: " + d.Query,
		"Body":  template.HTML(body.String()), //nolint:gosec // goldmark escapes raw HTML without WithUnsafe
	})
	if err != nil {
		return nil, errors.Wrap(err, "render page")
	}
	return buf.Bytes(), nil
}

// Title turns a task key into a heading: risk_assessment -> Risk assessment.
func Title(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func formatTokens(prompt, completion int64) string {
	return fmt.Sprintf("%s (%s prompt, %s completion)",
		humanize.Comma(prompt+completion), humanize.Comma(prompt), humanize.Comma(completion))
}

func formatCost(cost decimal.Decimal) string {
	f, _ := cost.Float64()
	return "$" + humanize.FormatFloat("#,###.####", f)
}
