package tools

import (
	"finanalyst/internal/tools/analysis"
	tooldoc "finanalyst/internal/tools/document"
	"finanalyst/internal/tools/shared"
	"finanalyst/pkg/errors"
)

// RegisterAllTools builds every tool the configured dependencies allow and
// registers it. The search tool is skipped when no index is available.
func RegisterAllTools(registry *Registry, deps shared.Deps) error {
	log := deps.Logger().With("component", "tool_registration")

	read, err := tooldoc.NewReadTool(deps)
	if err != nil {
		return err
	}
	registry.Register(ReadFinancialDocument, read)
	log.Debug("Registered document tools")

	investment, err := analysis.NewAnalyzeInvestmentTool(deps)
	if err != nil {
		return err
	}
	registry.Register(AnalyzeInvestment, investment)

	risk, err := analysis.NewRiskAssessmentTool(deps)
	if err != nil {
		return err
	}
	registry.Register(CreateRiskAssessment, risk)
	log.Debug("Registered analysis tools")

	if deps.HasSearch() {
		search, err := tooldoc.NewSearchTool(deps)
		if err != nil {
			return err
		}
		registry.Register(SearchFinancialDocument, search)
		log.Debug("Registered retrieval tools")
	}

	for _, def := range toolDefinitions {
		if !def.RequiresIndex && !registry.Has(def.Name) {
			return errors.Wrapf(errors.ErrUnknownTool, "catalog tool %s was not registered", def.Name)
		}
	}

	log.Infow("Tools registered", "count", len(registry.List()))
	return nil
}
