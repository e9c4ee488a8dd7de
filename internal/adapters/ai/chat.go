package ai

import "context"

// ChatProvider is a Provider that can run completions. Every provider the
// crew talks to implements it.
type ChatProvider interface {
	Provider

	// Chat runs one completion, possibly answering with tool calls.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream streams a text completion. The error channel yields at most
	// one value and is closed after the chunk channel.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan ChatStreamChunk, <-chan error)
}

// ChatRequest is a provider-neutral completion request. Zero Temperature,
// MaxTokens or TopP leave the provider default in place.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one conversation turn. Tool results carry ToolCallID and the
// tool Name; assistant turns may carry ToolCalls instead of Content.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolDefinition is a function the model may call, in OpenAI wire shape.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function. Parameters is a JSON schema.
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID       string
	Type     string
	Function FunctionCall
}

// FunctionCall names the tool and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string
	Arguments string
}

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonError     FinishReason = "error"
)

// Usage counts the tokens of one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NewUsage builds a Usage for providers that report no total.
func NewUsage(prompt, completion int) Usage {
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

// ChatResponse is a finished completion.
type ChatResponse struct {
	ID      string
	Model   string
	Choices []Choice
	Usage   Usage
}

// Choice is one candidate answer.
type Choice struct {
	Index        int
	Message      Message
	FinishReason FinishReason
}

// First returns the first choice. Providers answer with a single choice
// unless asked otherwise.
func (r *ChatResponse) First() (Choice, bool) {
	if r == nil || len(r.Choices) == 0 {
		return Choice{}, false
	}
	return r.Choices[0], true
}

// ChatStreamChunk is one streamed fragment. Usage arrives with the last chunk.
type ChatStreamChunk struct {
	ID      string
	Model   string
	Choices []StreamChoice
	Usage   *Usage
}

// StreamChoice carries the delta of one choice.
type StreamChoice struct {
	Index        int
	Delta        MessageDelta
	FinishReason FinishReason
}

// MessageDelta is incremental message content.
type MessageDelta struct {
	Role      MessageRole
	Content   string
	ToolCalls []ToolCall
}
