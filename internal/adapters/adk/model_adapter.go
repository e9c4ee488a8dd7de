package adk

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"finanalyst/internal/adapters/ai"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

// ModelAdapter adapts our AI ChatProvider to ADK's model.LLM interface.
type ModelAdapter struct {
	provider    ai.ChatProvider
	modelName   string
	temperature float64
	maxTokens   int
	log         *logger.Logger
}

// AdapterOption customizes a ModelAdapter.
type AdapterOption func(*ModelAdapter)

// WithTemperature sets the sampling temperature used when the request
// config does not carry one.
func WithTemperature(t float64) AdapterOption {
	return func(m *ModelAdapter) { m.temperature = t }
}

// WithMaxTokens caps the completion length. Zero leaves it to the provider.
func WithMaxTokens(n int) AdapterOption {
	return func(m *ModelAdapter) { m.maxTokens = n }
}

// NewModelAdapter creates a new ADK model adapter.
func NewModelAdapter(provider ai.ChatProvider, modelName string, opts ...AdapterOption) *ModelAdapter {
	m := &ModelAdapter{
		provider:  provider,
		modelName: modelName,
		log:       logger.Get().With("component", "model_adapter", "model", modelName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the model name.
func (m *ModelAdapter) Name() string {
	return m.modelName
}

// GenerateContent implements the ADK model.LLM interface.
//
// Streaming is honoured only for plain text turns. Requests that carry tools
// are answered with a single complete response because tool call deltas
// cannot be surfaced as partial events.
func (m *ModelAdapter) GenerateContent(
	ctx context.Context,
	req *model.LLMRequest,
	stream bool,
) iter.Seq2[*model.LLMResponse, error] {
	chatReq := m.convertToChatRequest(req)

	if stream && len(chatReq.Tools) == 0 && m.provider.SupportsStreaming() {
		return m.generateStream(ctx, chatReq)
	}

	return func(yield func(*model.LLMResponse, error) bool) {
		m.log.Debugw("Calling LLM", "messages", len(chatReq.Messages), "tools", len(chatReq.Tools))

		resp, err := m.provider.Chat(ctx, chatReq)
		if err != nil {
			m.log.Errorw("LLM call failed", "error", err)
			yield(nil, errors.Wrap(err, "chat provider failed"))
			return
		}

		m.log.Debugw("LLM response received",
			"choices", len(resp.Choices),
			"tokens", resp.Usage.TotalTokens,
		)

		yield(m.convertToADKResponse(resp), nil)
	}
}

func (m *ModelAdapter) generateStream(ctx context.Context, chatReq ai.ChatRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		chunks, errCh := m.provider.ChatStream(ctx, chatReq)

		var (
			text   strings.Builder
			usage  *ai.Usage
			finish ai.FinishReason
		)
		for chunk := range chunks {
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			for _, c := range chunk.Choices {
				if c.FinishReason != "" {
					finish = c.FinishReason
				}
				if c.Delta.Content == "" {
					continue
				}
				text.WriteString(c.Delta.Content)
				partial := &model.LLMResponse{
					Content: genai.NewContentFromText(c.Delta.Content, genai.RoleModel),
					Partial: true,
				}
				if !yield(partial, nil) {
					return
				}
			}
		}
		if err := <-errCh; err != nil {
			m.log.Errorw("LLM stream failed", "error", err)
			yield(nil, errors.Wrap(err, "chat stream failed"))
			return
		}

		final := &ai.ChatResponse{
			Model: m.modelName,
			Choices: []ai.Choice{{
				Message:      ai.Message{Role: ai.RoleAssistant, Content: text.String()},
				FinishReason: finish,
			}},
		}
		if usage != nil {
			final.Usage = *usage
		}
		yield(m.convertToADKResponse(final), nil)
	}
}

// convertToChatRequest converts ADK request to our format.
func (m *ModelAdapter) convertToChatRequest(req *model.LLMRequest) ai.ChatRequest {
	chatReq := ai.ChatRequest{
		Model:       m.modelName,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			chatReq.Temperature = float64(*cfg.Temperature)
		}
		if cfg.TopP != nil {
			chatReq.TopP = float64(*cfg.TopP)
		}
		if cfg.MaxOutputTokens > 0 {
			chatReq.MaxTokens = int(cfg.MaxOutputTokens)
		}
		if sys := contentText(cfg.SystemInstruction); sys != "" {
			chatReq.Messages = append(chatReq.Messages, ai.Message{Role: ai.RoleSystem, Content: sys})
		}
		for _, t := range cfg.Tools {
			if t == nil {
				continue
			}
			for _, decl := range t.FunctionDeclarations {
				chatReq.Tools = append(chatReq.Tools, ai.ToolDefinition{
					Type: "function",
					Function: ai.FunctionDefinition{
						Name:        decl.Name,
						Description: decl.Description,
						Parameters:  declarationSchema(decl),
					},
				})
			}
		}
	}

	ids := newCallIDs()
	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		chatReq.Messages = append(chatReq.Messages, convertContent(content, ids)...)
	}

	return chatReq
}

// convertContent turns one genai.Content into chat messages. Function
// responses become separate tool messages, one per call.
func convertContent(content *genai.Content, ids *callIDs) []ai.Message {
	role := ai.RoleUser
	switch content.Role {
	case genai.RoleModel:
		role = ai.RoleAssistant
	case "system":
		role = ai.RoleSystem
	}

	msg := ai.Message{Role: role}
	var tools []ai.Message

	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			if msg.Content != "" {
				msg.Content += "\n"
			}
			msg.Content += part.Text
		}
		if fc := part.FunctionCall; fc != nil {
			args, err := json.Marshal(fc.Args)
			if err != nil || fc.Args == nil {
				args = []byte("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, ai.ToolCall{
				ID:   ids.call(fc.ID, fc.Name),
				Type: "function",
				Function: ai.FunctionCall{
					Name:      fc.Name,
					Arguments: string(args),
				},
			})
		}
		if fr := part.FunctionResponse; fr != nil {
			tools = append(tools, ai.Message{
				Role:       ai.RoleTool,
				Content:    encodeFunctionResponse(fr.Response),
				ToolCallID: ids.response(fr.ID, fr.Name),
				Name:       fr.Name,
			})
		}
	}

	var out []ai.Message
	if msg.Content != "" || len(msg.ToolCalls) > 0 {
		out = append(out, msg)
	}
	return append(out, tools...)
}

// convertToADKResponse converts our response to ADK format.
func (m *ModelAdapter) convertToADKResponse(resp *ai.ChatResponse) *model.LLMResponse {
	adkResp := &model.LLMResponse{TurnComplete: true}

	choice, ok := resp.First()
	if !ok {
		adkResp.FinishReason = genai.FinishReasonOther
		adkResp.ErrorCode = "EMPTY_RESPONSE"
		adkResp.ErrorMessage = "no choices in response"
		return adkResp
	}

	content := &genai.Content{Role: genai.RoleModel}

	if choice.Message.Content != "" || len(choice.Message.ToolCalls) == 0 {
		content.Parts = append(content.Parts, genai.NewPartFromText(choice.Message.Content))
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				m.log.Warnw("Failed to parse tool call arguments", "tool", tc.Function.Name, "error", err)
				args = map[string]any{}
			}
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: args,
			},
		})
	}

	adkResp.Content = content

	switch choice.FinishReason {
	case ai.FinishReasonLength:
		adkResp.FinishReason = genai.FinishReasonMaxTokens
	case ai.FinishReasonError:
		adkResp.FinishReason = genai.FinishReasonOther
	default:
		adkResp.FinishReason = genai.FinishReasonStop
	}

	adkResp.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     int32(resp.Usage.PromptTokens),
		CandidatesTokenCount: int32(resp.Usage.CompletionTokens),
		TotalTokenCount:      int32(resp.Usage.TotalTokens),
	}

	return adkResp
}

// contentText joins the text parts of a content.
func contentText(c *genai.Content) string {
	if c == nil {
		return ""
	}
	var parts []string
	for _, p := range c.Parts {
		if p != nil && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// declarationSchema returns the JSON schema of a function declaration in
// the lower-case dialect OpenAI-compatible APIs expect.
func declarationSchema(decl *genai.FunctionDeclaration) map[string]any {
	var raw any
	switch {
	case decl.ParametersJsonSchema != nil:
		raw = decl.ParametersJsonSchema
	case decl.Parameters != nil:
		raw = decl.Parameters
	}

	schema := map[string]any{}
	if raw != nil {
		if data, err := json.Marshal(raw); err == nil {
			_ = json.Unmarshal(data, &schema)
		}
	}
	normalizeSchemaTypes(schema)

	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}

func normalizeSchemaTypes(v any) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if s, ok := child.(string); ok && k == "type" {
				node[k] = strings.ToLower(s)
				continue
			}
			normalizeSchemaTypes(child)
		}
	case []any:
		for _, child := range node {
			normalizeSchemaTypes(child)
		}
	}
}

// encodeFunctionResponse renders a tool result for the model. A lone string
// result is passed through as-is; error values are flattened to their text.
func encodeFunctionResponse(resp map[string]any) string {
	clean := make(map[string]any, len(resp))
	for k, v := range resp {
		if err, ok := v.(error); ok {
			clean[k] = err.Error()
			continue
		}
		clean[k] = v
	}

	if len(clean) == 1 {
		if s, ok := clean["result"].(string); ok {
			return s
		}
	}

	data, err := json.Marshal(clean)
	if err != nil {
		return fmt.Sprintf("%v", clean)
	}
	return string(data)
}

// callIDs pairs function calls with their responses when the upstream
// history has no call IDs (ADK strips the ones it generated itself).
type callIDs struct {
	seq     int
	pending map[string][]string
}

func newCallIDs() *callIDs {
	return &callIDs{pending: make(map[string][]string)}
}

func (c *callIDs) call(id, name string) string {
	if id == "" {
		c.seq++
		id = fmt.Sprintf("call_%s_%d", name, c.seq)
	}
	c.pending[name] = append(c.pending[name], id)
	return id
}

func (c *callIDs) response(id, name string) string {
	queue := c.pending[name]
	if id != "" {
		for i, pending := range queue {
			if pending == id {
				c.pending[name] = append(queue[:i:i], queue[i+1:]...)
				break
			}
		}
		return id
	}
	if len(queue) == 0 {
		c.seq++
		return fmt.Sprintf("call_%s_%d", name, c.seq)
	}
	c.pending[name] = queue[1:]
	return queue[0]
}

// Ensure ModelAdapter implements model.LLM
var _ model.LLM = (*ModelAdapter)(nil)
