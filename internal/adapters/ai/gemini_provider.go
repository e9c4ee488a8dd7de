package ai

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/genai"

	"finanalyst/pkg/errors"
)

// GeminiProvider implements Google Gemini via the genai SDK.
type GeminiProvider struct {
	catalog
	apiKey      string
	timeout     time.Duration
	rateLimiter RateLimiter
}

var _ ChatProvider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a new Gemini provider. The SDK client is created
// lazily per request because construction needs a context.
func NewGeminiProvider(apiKey string, timeout time.Duration, limiter RateLimiter) *GeminiProvider {
	if limiter == nil {
		limiter = Unlimited{}
	}
	return &GeminiProvider{
		catalog:     newCatalog(ProviderNameGoogle),
		apiKey:      apiKey,
		timeout:     timeout,
		rateLimiter: limiter,
	}
}

// Name returns provider name.
func (p *GeminiProvider) Name() string { return ProviderNameGoogle.String() }

// GetModel returns model info by name.
func (p *GeminiProvider) GetModel(_ context.Context, model string) (ModelInfo, error) {
	return p.lookup(model)
}

// ListModels lists available models.
func (p *GeminiProvider) ListModels(_ context.Context) ([]ModelInfo, error) {
	return p.models, nil
}

// SupportsStreaming indicates streaming support.
func (p *GeminiProvider) SupportsStreaming() bool { return false }

// SupportsTools indicates tool calling support.
func (p *GeminiProvider) SupportsTools() bool { return true }

// Chat sends a generate content request to Gemini.
func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, &RateLimitError{Provider: ProviderNameGoogle, Limit: p.rateLimiter.Limit(), Err: err}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}

	contents, cfg := toGeminiRequest(req)
	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrExternal, "gemini request failed: %v", err)
	}

	chatResp := &ChatResponse{ID: resp.ResponseID, Model: req.Model}
	if resp.UsageMetadata != nil {
		chatResp.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	for i, cand := range resp.Candidates {
		msg := Message{Role: RoleAssistant}
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					msg.Content += part.Text
				}
				if part.FunctionCall != nil {
					args, _ := json.Marshal(part.FunctionCall.Args)
					id := part.FunctionCall.ID
					if id == "" {
						id = part.FunctionCall.Name
					}
					msg.ToolCalls = append(msg.ToolCalls, ToolCall{
						ID:       id,
						Type:     "function",
						Function: FunctionCall{Name: part.FunctionCall.Name, Arguments: string(args)},
					})
				}
			}
		}

		finish := FinishReasonStop
		switch {
		case len(msg.ToolCalls) > 0:
			finish = FinishReasonToolCalls
		case cand.FinishReason == genai.FinishReasonMaxTokens:
			finish = FinishReasonLength
		}

		chatResp.Choices = append(chatResp.Choices, Choice{Index: i, Message: msg, FinishReason: finish})
	}

	return chatResp, nil
}

// ChatStream is not supported for Gemini; callers fall back to Chat.
func (p *GeminiProvider) ChatStream(_ context.Context, _ ChatRequest) (<-chan ChatStreamChunk, <-chan error) {
	errCh := make(chan error, 1)
	errCh <- errors.Wrap(errors.ErrNotImplemented, "gemini streaming")
	close(errCh)
	return nil, errCh
}

func toGeminiRequest(req ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	var contents []*genai.Content
	var systemParts []*genai.Part
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, genai.NewPartFromText(msg.Content))
		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Function.Name, args))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			contents = append(contents, genai.NewContentFromParts(
				[]*genai.Part{genai.NewPartFromFunctionResponse(msg.Name, response)}, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(systemParts) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: systemParts}
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Function.Name,
				Description:          t.Function.Description,
				ParametersJsonSchema: t.Function.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, cfg
}
