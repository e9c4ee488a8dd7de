package adk

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"finanalyst/internal/adapters/ai"
)

type fakeProvider struct {
	lastReq   ai.ChatRequest
	resp      *ai.ChatResponse
	err       error
	streaming bool
	chunks    []ai.ChatStreamChunk
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) GetModel(context.Context, string) (ai.ModelInfo, error) {
	return ai.ModelInfo{}, nil
}
func (f *fakeProvider) ListModels(context.Context) ([]ai.ModelInfo, error) { return nil, nil }
func (f *fakeProvider) SupportsStreaming() bool                            { return f.streaming }
func (f *fakeProvider) SupportsTools() bool                                { return true }

func (f *fakeProvider) Chat(_ context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeProvider) ChatStream(_ context.Context, req ai.ChatRequest) (<-chan ai.ChatStreamChunk, <-chan error) {
	f.lastReq = req
	out := make(chan ai.ChatStreamChunk, len(f.chunks))
	errCh := make(chan error, 1)
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	close(errCh)
	return out, errCh
}

func collect(t *testing.T, m *ModelAdapter, req *model.LLMRequest, stream bool) []*model.LLMResponse {
	t.Helper()
	var out []*model.LLMResponse
	for resp, err := range m.GenerateContent(context.Background(), req, stream) {
		require.NoError(t, err)
		out = append(out, resp)
	}
	return out
}

func TestModelAdapter_RequestConversion(t *testing.T) {
	p := &fakeProvider{resp: &ai.ChatResponse{Choices: []ai.Choice{{
		Message: ai.Message{Role: ai.RoleAssistant, Content: "done"},
	}}}}
	m := NewModelAdapter(p, "llama-3.3-70b-versatile", WithTemperature(0.5))

	req := &model.LLMRequest{
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText("You are a verifier.", genai.RoleUser),
			Tools: []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        "read_financial_document",
				Description: "Read a PDF",
				Parameters: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{"path": {Type: genai.TypeString}},
				},
			}}}},
		},
		Contents: []*genai.Content{
			genai.NewContentFromText("Verify data/sample.pdf", genai.RoleUser),
			genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromFunctionCall("read_financial_document", map[string]any{"path": "data/sample.pdf"}),
			}, genai.RoleModel),
			genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromFunctionResponse("read_financial_document", map[string]any{"result": "Revenue grew 10%"}),
			}, genai.RoleUser),
		},
	}

	resps := collect(t, m, req, false)
	require.Len(t, resps, 1)

	got := p.lastReq
	assert.InDelta(t, 0.5, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, ai.RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "You are a verifier.", got.Messages[0].Content)
	assert.Equal(t, ai.RoleUser, got.Messages[1].Role)

	call := got.Messages[2]
	assert.Equal(t, ai.RoleAssistant, call.Role)
	require.Len(t, call.ToolCalls, 1)
	assert.JSONEq(t, `{"path":"data/sample.pdf"}`, call.ToolCalls[0].Function.Arguments)

	result := got.Messages[3]
	assert.Equal(t, ai.RoleTool, result.Role)
	assert.Equal(t, "Revenue grew 10%", result.Content)
	assert.Equal(t, call.ToolCalls[0].ID, result.ToolCallID)
	assert.Equal(t, "read_financial_document", result.Name)

	require.Len(t, got.Tools, 1)
	params := got.Tools[0].Function.Parameters
	assert.Equal(t, "object", params["type"])
	props := params["properties"].(map[string]any)
	assert.Equal(t, "string", props["path"].(map[string]any)["type"])
}

func TestModelAdapter_ConfigOverridesDefaults(t *testing.T) {
	p := &fakeProvider{resp: &ai.ChatResponse{Choices: []ai.Choice{{Message: ai.Message{Content: "ok"}}}}}
	m := NewModelAdapter(p, "m", WithTemperature(0.5), WithMaxTokens(100))

	collect(t, m, &model.LLMRequest{Config: &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.25),
		MaxOutputTokens: 42,
	}}, false)

	assert.InDelta(t, 0.25, p.lastReq.Temperature, 1e-6)
	assert.Equal(t, 42, p.lastReq.MaxTokens)
}

func TestModelAdapter_ToolCallResponse(t *testing.T) {
	p := &fakeProvider{resp: &ai.ChatResponse{
		Choices: []ai.Choice{{
			Message: ai.Message{
				Role: ai.RoleAssistant,
				ToolCalls: []ai.ToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: ai.FunctionCall{Name: "analyze_investment", Arguments: `{"financial_document_data":"x"}`},
				}},
			},
			FinishReason: ai.FinishReasonToolCalls,
		}},
		Usage: ai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	m := NewModelAdapter(p, "m")

	resps := collect(t, m, &model.LLMRequest{}, false)
	require.Len(t, resps, 1)
	resp := resps[0]

	require.NotNil(t, resp.Content)
	require.Len(t, resp.Content.Parts, 1)
	fc := resp.Content.Parts[0].FunctionCall
	require.NotNil(t, fc)
	assert.Equal(t, "call_1", fc.ID)
	assert.Equal(t, "analyze_investment", fc.Name)
	assert.Equal(t, "x", fc.Args["financial_document_data"])
	assert.Equal(t, genai.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, int32(15), resp.UsageMetadata.TotalTokenCount)
}

func TestModelAdapter_EmptyChoices(t *testing.T) {
	p := &fakeProvider{resp: &ai.ChatResponse{}}
	m := NewModelAdapter(p, "m")

	resps := collect(t, m, &model.LLMRequest{}, false)
	require.Len(t, resps, 1)
	assert.Equal(t, "EMPTY_RESPONSE", resps[0].ErrorCode)
}

func TestModelAdapter_Stream(t *testing.T) {
	p := &fakeProvider{
		streaming: true,
		chunks: []ai.ChatStreamChunk{
			{Choices: []ai.StreamChoice{{Delta: ai.MessageDelta{Content: "Hel"}}}},
			{Choices: []ai.StreamChoice{{Delta: ai.MessageDelta{Content: "lo"}, FinishReason: ai.FinishReasonStop}}},
			{Usage: &ai.Usage{TotalTokens: 7}},
		},
	}
	m := NewModelAdapter(p, "m")

	resps := collect(t, m, &model.LLMRequest{}, true)
	require.Len(t, resps, 3)
	assert.True(t, resps[0].Partial)
	assert.True(t, resps[1].Partial)

	final := resps[2]
	assert.False(t, final.Partial)
	assert.Equal(t, "Hello", final.Content.Parts[0].Text)
	assert.Equal(t, int32(7), final.UsageMetadata.TotalTokenCount)
}

func TestEncodeFunctionResponse(t *testing.T) {
	assert.Equal(t, "plain", encodeFunctionResponse(map[string]any{"result": "plain"}))
	assert.JSONEq(t, `{"error":"boom"}`, encodeFunctionResponse(map[string]any{"error": fmt.Errorf("boom")}),
		"errors are flattened to text")
}
