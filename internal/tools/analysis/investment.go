package analysis

import (
	"strings"

	"google.golang.org/adk/tool"

	"finanalyst/internal/tools/shared"
)

// InvestmentPlaceholder is returned until investment analytics exist.
const InvestmentPlaceholder = "Investment analysis functionality to be implemented"

// DocumentDataArgs carry document text handed over by the model.
type DocumentDataArgs struct {
	FinancialDocumentData string `json:"financial_document_data" jsonschema:"Financial document text to analyze"`
}

// CleanDocumentData collapses every run of spaces into a single space.
// Other whitespace is left alone.
func CleanDocumentData(data string) string {
	if !strings.Contains(data, "  ") {
		return data
	}
	var b strings.Builder
	b.Grow(len(data))
	prevSpace := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c == ' ' && prevSpace {
			continue
		}
		prevSpace = c == ' '
		b.WriteByte(c)
	}
	return b.String()
}

// NewAnalyzeInvestmentTool returns the analyze_investment tool.
func NewAnalyzeInvestmentTool(deps shared.Deps) (tool.Tool, error) {
	log := deps.Logger()

	fn := func(_ tool.Context, args DocumentDataArgs) (string, error) {
		cleaned := CleanDocumentData(args.FinancialDocumentData)
		log.Debugw("Tool: analyze_investment called",
			"input_chars", len(args.FinancialDocumentData),
			"cleaned_chars", len(cleaned),
		)
		return InvestmentPlaceholder, nil
	}

	return shared.NewToolBuilder(
		"analyze_investment",
		"Analyze financial document data for investment insights",
		fn,
		deps,
	).
		WithStats().
		Build()
}
