package ai

import (
	"context"

	"github.com/shopspring/decimal"
)

// Provider is an LLM vendor with a model catalog.
type Provider interface {
	Name() string

	// GetModel returns catalog metadata. Unknown models may still be served
	// with zero pricing.
	GetModel(ctx context.Context, model string) (ModelInfo, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)

	SupportsStreaming() bool
	SupportsTools() bool
}

// ModelInfo describes a model's limits and price. The crew prices every
// call from InputCostPer1K and OutputCostPer1K.
type ModelInfo struct {
	Provider          ProviderName
	Name              string // provider-specific identifier
	Family            string // e.g. "llama-3.3"
	MaxTokens         int    // context window
	InputCostPer1K    float64
	OutputCostPer1K   float64
	SupportsTools     bool
	SupportsStreaming bool
}

// Ref returns the "provider/model" reference accepted by ResolveRef.
func (m ModelInfo) Ref() string {
	if m.Provider == "" {
		return m.Name
	}
	return string(m.Provider) + "/" + m.Name
}

// Cost prices a call in USD.
func (m ModelInfo) Cost(inputTokens, outputTokens int64) decimal.Decimal {
	thousand := decimal.NewFromInt(1000)
	in := decimal.NewFromInt(inputTokens).Div(thousand).Mul(decimal.NewFromFloat(m.InputCostPer1K))
	out := decimal.NewFromInt(outputTokens).Div(thousand).Mul(decimal.NewFromFloat(m.OutputCostPer1K))
	return in.Add(out)
}
