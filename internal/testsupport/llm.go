package testsupport

import (
	"context"
	"iter"
	"strings"
	"sync"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// ScriptedLLM is a model.LLM whose replies come from Reply. Every request is
// recorded so tests can inspect prompts.
type ScriptedLLM struct {
	Reply func(req *model.LLMRequest) (*model.LLMResponse, error)

	mu       sync.Mutex
	requests []*model.LLMRequest
}

// NewScriptedLLM answers every request with reply.
func NewScriptedLLM(reply func(req *model.LLMRequest) (*model.LLMResponse, error)) *ScriptedLLM {
	return &ScriptedLLM{Reply: reply}
}

func (l *ScriptedLLM) Name() string { return "scripted" }

func (l *ScriptedLLM) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()

	return func(yield func(*model.LLMResponse, error) bool) {
		if l.Reply == nil {
			yield(TextResponse("ok", 1, 1), nil)
			return
		}
		yield(l.Reply(req))
	}
}

// Requests returns the recorded requests in call order.
func (l *ScriptedLLM) Requests() []*model.LLMRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*model.LLMRequest(nil), l.requests...)
}

// TextResponse is a final model answer carrying token usage.
func TextResponse(text string, promptTokens, completionTokens int32) *model.LLMResponse {
	return &model.LLMResponse{
		Content: genai.NewContentFromText(text, genai.RoleModel),
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     promptTokens,
			CandidatesTokenCount: completionTokens,
			TotalTokenCount:      promptTokens + completionTokens,
		},
		TurnComplete: true,
	}
}

// CallResponse asks for a single function call.
func CallResponse(name string, args map[string]any) *model.LLMResponse {
	return &model.LLMResponse{
		Content: genai.NewContentFromParts([]*genai.Part{genai.NewPartFromFunctionCall(name, args)}, genai.RoleModel),
	}
}

// SystemText returns the system instruction of req as plain text.
func SystemText(req *model.LLMRequest) string {
	if req == nil || req.Config == nil || req.Config.SystemInstruction == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range req.Config.SystemInstruction.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ContentsText joins the text of every content part in req.
func ContentsText(req *model.LLMRequest) string {
	var b strings.Builder
	for _, c := range req.Contents {
		if c == nil {
			continue
		}
		for _, p := range c.Parts {
			if p != nil && p.Text != "" {
				b.WriteString(p.Text)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// ToolNames lists the function declarations offered in req.
func ToolNames(req *model.LLMRequest) []string {
	if req == nil || req.Config == nil {
		return nil
	}
	var names []string
	for _, t := range req.Config.Tools {
		if t == nil {
			continue
		}
		for _, fd := range t.FunctionDeclarations {
			names = append(names, fd.Name)
		}
	}
	return names
}
