package analysis

import (
	"google.golang.org/adk/tool"

	"finanalyst/internal/tools/shared"
)

// RiskPlaceholder is returned until risk analytics exist.
const RiskPlaceholder = "Risk assessment functionality to be implemented"

// NewRiskAssessmentTool returns the create_risk_assessment tool.
func NewRiskAssessmentTool(deps shared.Deps) (tool.Tool, error) {
	log := deps.Logger()

	fn := func(_ tool.Context, args DocumentDataArgs) (string, error) {
		log.Debugw("Tool: create_risk_assessment called", "input_chars", len(args.FinancialDocumentData))
		return RiskPlaceholder, nil
	}

	return shared.NewToolBuilder(
		"create_risk_assessment",
		"Create risk assessment from financial document data",
		fn,
		deps,
	).
		WithStats().
		Build()
}
