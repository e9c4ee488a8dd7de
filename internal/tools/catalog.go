package tools

// Tool names referenced by agent and task definitions.
const (
	ReadFinancialDocument   = "read_financial_document"
	AnalyzeInvestment       = "analyze_investment"
	CreateRiskAssessment    = "create_risk_assessment"
	SearchFinancialDocument = "search_financial_document"
)

// Category groups tools for listings.
type Category string

const (
	CategoryDocument  Category = "document"
	CategoryAnalysis  Category = "analysis"
	CategoryRetrieval Category = "retrieval"
)

// Definition describes a tool's metadata for registration and documentation.
type Definition struct {
	Name        string
	Title       string
	Description string
	Category    Category
	// Placeholder tools return fixed text and never look at their input.
	Placeholder bool
	// RequiresIndex tools are only registered when an embedding store is configured.
	RequiresIndex bool
}

var toolDefinitions = []Definition{
	{
		Name:        ReadFinancialDocument,
		Title:       "Read Financial Document",
		Description: "Tool to read data from a pdf file from a path",
		Category:    CategoryDocument,
	},
	{
		Name:        AnalyzeInvestment,
		Title:       "Analyze Investment",
		Description: "Analyze financial document data for investment insights",
		Category:    CategoryAnalysis,
		Placeholder: true,
	},
	{
		Name:        CreateRiskAssessment,
		Title:       "Create Risk Assessment",
		Description: "Create risk assessment from financial document data",
		Category:    CategoryAnalysis,
		Placeholder: true,
	},
	{
		Name:          SearchFinancialDocument,
		Title:         "Search Financial Document",
		Description:   "Search the financial document for the passages most relevant to a question",
		Category:      CategoryRetrieval,
		RequiresIndex: true,
	},
}

// Definitions returns a copy of the tool catalog.
func Definitions() []Definition {
	out := make([]Definition, len(toolDefinitions))
	copy(out, toolDefinitions)
	return out
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Definition, bool) {
	for _, def := range toolDefinitions {
		if def.Name == name {
			return def, true
		}
	}
	return Definition{}, false
}
