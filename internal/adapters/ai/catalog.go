package ai

import (
	"strings"

	"finanalyst/pkg/errors"
)

// knownModels lists the models with published pricing, in USD per 1K tokens.
// Runs on any other model still work but report zero cost.
var knownModels = []ModelInfo{
	priced(ProviderNameGroq, ModelLlama33Versatile, "llama-3.3", 131072, 0.00059, 0.00079),
	priced(ProviderNameGroq, ModelLlama31Instant, "llama-3.1", 131072, 0.00005, 0.00008),

	priced(ProviderNameOpenAI, ModelGPT4oMini, "gpt-4o", 128000, 0.00015, 0.0006),
	priced(ProviderNameOpenAI, ModelGPT4o, "gpt-4o", 128000, 0.0025, 0.01),

	priced(ProviderNameDeepSeek, ModelDeepSeekChat, "deepseek-v3", 64000, 0.00027, 0.0011),

	priced(ProviderNameAnthropic, ModelClaude45Sonnet, "claude-4.5", 200000, 0.003, 0.015),
	priced(ProviderNameAnthropic, ModelClaude35Haiku, "claude-3.5", 200000, 0.0008, 0.004),

	// Gemini is only driven through tool-calling completions.
	withoutStreaming(priced(ProviderNameGoogle, ModelGemini25Flash, "gemini-2.5", 1048576, 0.0003, 0.0025)),
}

func priced(p ProviderName, model ProviderModelName, family string, window int, in, out float64) ModelInfo {
	return ModelInfo{
		Provider:          p,
		Name:              string(model),
		Family:            family,
		MaxTokens:         window,
		InputCostPer1K:    in,
		OutputCostPer1K:   out,
		SupportsTools:     true,
		SupportsStreaming: true,
	}
}

func withoutStreaming(m ModelInfo) ModelInfo {
	m.SupportsStreaming = false
	return m
}

// modelsOf returns the priced models served by p.
func modelsOf(p ProviderName) []ModelInfo {
	var out []ModelInfo
	for _, m := range knownModels {
		if m.Provider == p {
			out = append(out, m)
		}
	}
	return out
}

// catalog answers model metadata lookups for one provider.
type catalog struct {
	provider ProviderName
	models   []ModelInfo
}

func newCatalog(p ProviderName) catalog {
	return catalog{provider: p, models: modelsOf(p)}
}

func (c catalog) lookup(model string) (ModelInfo, error) {
	for _, m := range c.models {
		if strings.EqualFold(m.Name, model) {
			return m, nil
		}
	}
	return ModelInfo{}, errors.Wrapf(errors.ErrNotFound, "%s model %s not found", c.provider, model)
}
