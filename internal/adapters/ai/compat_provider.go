package ai

import (
	"context"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"finanalyst/pkg/errors"
)

// CompatProvider talks to any endpoint implementing the OpenAI chat
// completions API. Groq, OpenAI and DeepSeek are all served by it.
type CompatProvider struct {
	catalog
	client      *openai.Client
	rateLimiter RateLimiter
}

var _ ChatProvider = (*CompatProvider)(nil)

// CompatOptions configures a CompatProvider.
type CompatOptions struct {
	Name        ProviderName
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Models      []ModelInfo
	RateLimiter RateLimiter
}

// NewCompatProvider creates an OpenAI-compatible chat provider.
func NewCompatProvider(opts CompatOptions) *CompatProvider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = Unlimited{}
	}

	return &CompatProvider{
		catalog:     catalog{provider: opts.Name, models: opts.Models},
		client:      openai.NewClientWithConfig(cfg),
		rateLimiter: limiter,
	}
}

// NewGroqProvider creates the default provider for crew agents.
func NewGroqProvider(apiKey string, timeout time.Duration, limiter RateLimiter) *CompatProvider {
	return NewCompatProvider(CompatOptions{
		Name:        ProviderNameGroq,
		APIKey:      apiKey,
		BaseURL:     groqBaseURL,
		Timeout:     timeout,
		Models:      modelsOf(ProviderNameGroq),
		RateLimiter: limiter,
	})
}

// NewOpenAIProvider creates an OpenAI chat provider.
func NewOpenAIProvider(apiKey string, timeout time.Duration, limiter RateLimiter) *CompatProvider {
	return NewCompatProvider(CompatOptions{
		Name:        ProviderNameOpenAI,
		APIKey:      apiKey,
		Timeout:     timeout,
		Models:      modelsOf(ProviderNameOpenAI),
		RateLimiter: limiter,
	})
}

// NewDeepSeekProvider creates a DeepSeek chat provider.
func NewDeepSeekProvider(apiKey string, timeout time.Duration, limiter RateLimiter) *CompatProvider {
	return NewCompatProvider(CompatOptions{
		Name:        ProviderNameDeepSeek,
		APIKey:      apiKey,
		BaseURL:     deepSeekBaseURL,
		Timeout:     timeout,
		Models:      modelsOf(ProviderNameDeepSeek),
		RateLimiter: limiter,
	})
}

// Name returns provider name.
func (p *CompatProvider) Name() string { return p.provider.String() }

// GetModel returns model info by name.
func (p *CompatProvider) GetModel(_ context.Context, model string) (ModelInfo, error) {
	return p.lookup(model)
}

// ListModels lists available models.
func (p *CompatProvider) ListModels(_ context.Context) ([]ModelInfo, error) {
	return p.models, nil
}

// SupportsStreaming indicates streaming support.
func (p *CompatProvider) SupportsStreaming() bool { return true }

// SupportsTools indicates tool calling support.
func (p *CompatProvider) SupportsTools() bool { return true }

// Chat sends a chat completion request.
func (p *CompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, &RateLimitError{Provider: p.provider, Limit: p.rateLimiter.Limit(), Err: err}
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.toOpenAIRequest(req))
	if err != nil {
		return nil, p.wrapError(err)
	}

	chatResp := &ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	for _, choice := range resp.Choices {
		chatResp.Choices = append(chatResp.Choices, Choice{
			Index:        choice.Index,
			Message:      fromOpenAIMessage(choice.Message),
			FinishReason: fromOpenAIFinishReason(choice.FinishReason),
		})
	}

	return chatResp, nil
}

// ChatStream streams a chat completion. Tool call fragments are forwarded as
// received; callers that need complete tool calls should use Chat.
func (p *CompatProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatStreamChunk, <-chan error) {
	chunks := make(chan ChatStreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errCh)

		if err := p.rateLimiter.Wait(ctx); err != nil {
			errCh <- &RateLimitError{Provider: p.provider, Limit: p.rateLimiter.Limit(), Err: err}
			return
		}

		oreq := p.toOpenAIRequest(req)
		oreq.Stream = true
		oreq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

		stream, err := p.client.CreateChatCompletionStream(ctx, oreq)
		if err != nil {
			errCh <- p.wrapError(err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- p.wrapError(err)
				return
			}

			chunk := ChatStreamChunk{ID: resp.ID, Model: resp.Model}
			for _, c := range resp.Choices {
				delta := MessageDelta{
					Role:    MessageRole(c.Delta.Role),
					Content: c.Delta.Content,
				}
				for _, tc := range c.Delta.ToolCalls {
					delta.ToolCalls = append(delta.ToolCalls, fromOpenAIToolCall(tc))
				}
				chunk.Choices = append(chunk.Choices, StreamChoice{
					Index:        c.Index,
					Delta:        delta,
					FinishReason: fromOpenAIFinishReason(c.FinishReason),
				})
			}
			if resp.Usage != nil {
				chunk.Usage = &Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errCh
}

func (p *CompatProvider) toOpenAIRequest(req ChatRequest) openai.ChatCompletionRequest {
	oreq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		MaxTokens:   req.MaxTokens,
	}

	for _, msg := range req.Messages {
		omsg := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			omsg.ToolCalls = append(omsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		oreq.Messages = append(oreq.Messages, omsg)
	}

	for _, t := range req.Tools {
		oreq.Tools = append(oreq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}

	return oreq
}

func (p *CompatProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &RateLimitError{
				Provider: p.provider,
				Limit:    p.rateLimiter.Limit(),
				Err:      errors.Wrap(errors.ErrRateLimitExceeded, apiErr.Message),
			}
		}
		return errors.Wrapf(errors.ErrExternal, "%s API error (%d): %s", p.provider, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return errors.Wrapf(err, "%s request failed", p.provider)
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) Message {
	msg := Message{
		Role:    MessageRole(m.Role),
		Content: m.Content,
		Name:    m.Name,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, fromOpenAIToolCall(tc))
	}
	return msg
}

func fromOpenAIToolCall(tc openai.ToolCall) ToolCall {
	return ToolCall{
		ID:   tc.ID,
		Type: string(tc.Type),
		Function: FunctionCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		},
	}
}

func fromOpenAIFinishReason(reason openai.FinishReason) FinishReason {
	switch reason {
	case openai.FinishReasonLength:
		return FinishReasonLength
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishReasonToolCalls
	case "":
		return ""
	default:
		return FinishReasonStop
	}
}
