package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"

	"finanalyst/pkg/errors"
)

// Anthropic requires max_tokens on every request.
const claudeDefaultMaxTokens = 4096

// ClaudeProvider implements the Anthropic Claude integration.
type ClaudeProvider struct {
	catalog
	client      *anthropic.Client
	rateLimiter RateLimiter
}

var _ ChatProvider = (*ClaudeProvider)(nil)

// NewClaudeProvider creates a new Claude provider.
func NewClaudeProvider(apiKey string, timeout time.Duration, limiter RateLimiter) *ClaudeProvider {
	if limiter == nil {
		limiter = Unlimited{}
	}
	return &ClaudeProvider{
		catalog:     newCatalog(ProviderNameAnthropic),
		client:      anthropic.NewClient(apiKey, anthropic.WithHTTPClient(&http.Client{Timeout: timeout})),
		rateLimiter: limiter,
	}
}

// Name returns provider name.
func (p *ClaudeProvider) Name() string { return ProviderNameAnthropic.String() }

// GetModel returns model info by name.
func (p *ClaudeProvider) GetModel(_ context.Context, model string) (ModelInfo, error) {
	return p.lookup(model)
}

// ListModels lists available models.
func (p *ClaudeProvider) ListModels(_ context.Context) ([]ModelInfo, error) {
	return p.models, nil
}

// SupportsStreaming indicates streaming support.
func (p *ClaudeProvider) SupportsStreaming() bool { return true }

// SupportsTools indicates tool calling support.
func (p *ClaudeProvider) SupportsTools() bool { return true }

// Chat sends a messages request to Anthropic.
func (p *ClaudeProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, &RateLimitError{Provider: ProviderNameAnthropic, Limit: p.rateLimiter.Limit(), Err: err}
	}

	resp, err := p.client.CreateMessages(ctx, toClaudeRequest(req))
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return nil, errors.Wrapf(errors.ErrExternal, "claude API error (%s): %s", apiErr.Type, apiErr.Message)
		}
		return nil, errors.Wrap(err, "claude request failed")
	}

	msg := Message{Role: RoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text.WriteString(*block.Text)
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   block.MessageContentToolUse.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      block.MessageContentToolUse.Name,
					Arguments: string(block.MessageContentToolUse.Input),
				},
			})
		}
	}
	msg.Content = text.String()

	finish := FinishReasonStop
	switch resp.StopReason {
	case anthropic.MessagesStopReasonToolUse:
		finish = FinishReasonToolCalls
	case anthropic.MessagesStopReasonMaxTokens:
		finish = FinishReasonLength
	}

	return &ChatResponse{
		ID:      resp.ID,
		Model:   string(resp.Model),
		Choices: []Choice{{Index: 0, Message: msg, FinishReason: finish}},
		Usage: NewUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

// ChatStream streams text deltas from Anthropic.
func (p *ClaudeProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatStreamChunk, <-chan error) {
	chunks := make(chan ChatStreamChunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errCh)

		if err := p.rateLimiter.Wait(ctx); err != nil {
			errCh <- &RateLimitError{Provider: ProviderNameAnthropic, Limit: p.rateLimiter.Limit(), Err: err}
			return
		}

		streamReq := anthropic.MessagesStreamRequest{
			MessagesRequest: toClaudeRequest(req),
			OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
				if data.Delta.Text == nil || *data.Delta.Text == "" {
					return
				}
				select {
				case chunks <- ChatStreamChunk{
					Model: req.Model,
					Choices: []StreamChoice{{
						Delta: MessageDelta{Role: RoleAssistant, Content: *data.Delta.Text},
					}},
				}:
				case <-ctx.Done():
				}
			},
		}

		resp, err := p.client.CreateMessagesStream(ctx, streamReq)
		if err != nil {
			errCh <- errors.Wrap(err, "claude stream failed")
			return
		}

		usage := NewUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		select {
		case chunks <- ChatStreamChunk{
			ID:      resp.ID,
			Model:   string(resp.Model),
			Choices: []StreamChoice{{FinishReason: FinishReasonStop}},
			Usage:   &usage,
		}:
		case <-ctx.Done():
		}
	}()

	return chunks, errCh
}

// toClaudeRequest separates system messages and folds consecutive messages
// of the same role, since Anthropic requires strictly alternating turns.
func toClaudeRequest(req ChatRequest) anthropic.MessagesRequest {
	var system []string
	var messages []anthropic.Message

	appendContent := func(role anthropic.ChatRole, content anthropic.MessageContent) {
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, content)
			return
		}
		messages = append(messages, anthropic.Message{Role: role, Content: []anthropic.MessageContent{content}})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				appendContent(anthropic.RoleAssistant, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				appendContent(anthropic.RoleAssistant, anthropic.NewToolUseMessageContent(tc.ID, tc.Function.Name, input))
			}
		case RoleTool:
			appendContent(anthropic.RoleUser, anthropic.NewToolResultMessageContent(msg.ToolCallID, msg.Content, false))
		default:
			appendContent(anthropic.RoleUser, anthropic.NewTextMessageContent(msg.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = claudeDefaultMaxTokens
	}

	out := anthropic.MessagesRequest{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		System:    strings.Join(system, "\n\n"),
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		out.Temperature = &t
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropic.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return out
}
