package callbacks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"finanalyst/internal/testsupport"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

type usageStub struct {
	agent      string
	prompt     int64
	completion int64
	calls      int
}

func (u *usageStub) Record(_ context.Context, agent string, prompt, completion int64) float64 {
	u.agent, u.prompt, u.completion = agent, prompt, completion
	u.calls++
	return 0.001
}

type budgetStub struct{ err error }

func (b budgetStub) Check(context.Context) error { return b.err }

func requestWithTools() *model.LLMRequest {
	return &model.LLMRequest{
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText("You are a verifier.", genai.RoleUser),
			Tools: []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name: "read_financial_document",
			}}}},
		},
	}
}

func runBefore(t *testing.T, h *ModelHooks, ctx *testsupport.ToolContext, req *model.LLMRequest) (*model.LLMResponse, error) {
	t.Helper()
	for _, cb := range h.Before() {
		resp, err := cb(ctx, req)
		if resp != nil || err != nil {
			return resp, err
		}
	}
	return nil, nil
}

func TestModelHooks_IterationLimit(t *testing.T) {
	h := NewModelHooks(Deps{Agent: "verifier", Model: "llama", MaxIter: 3, Log: logger.Nop()})
	ctx := testsupport.NewToolContext(context.Background(), "verification")

	for i := 1; i <= 2; i++ {
		req := requestWithTools()
		resp, err := runBefore(t, h, ctx, req)
		require.NoError(t, err)
		assert.Nil(t, resp)
		assert.Len(t, req.Config.Tools, 1, "call %d keeps tools", i)
	}

	last := requestWithTools()
	resp, err := runBefore(t, h, ctx, last)
	require.NoError(t, err)
	assert.Nil(t, resp, "the last allowed call still reaches the model")
	assert.Empty(t, last.Config.Tools)
	require.Len(t, last.Config.SystemInstruction.Parts, 2)
	assert.Equal(t, FinalAnswerPrompt, last.Config.SystemInstruction.Parts[1].Text)

	resp, err = runBefore(t, h, ctx, requestWithTools())
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Contains(t, resp.Content.Parts[0].Text, "maximum number of iterations")
	assert.Equal(t, 4, h.Calls("invocation-test"))

	other := testsupport.NewToolContext(context.Background(), "verification")
	other.Invocation = "invocation-other"
	resp, err = runBefore(t, h, other, requestWithTools())
	require.NoError(t, err)
	assert.Nil(t, resp, "invocations are counted separately")

	_, err = h.Release()(ctx)
	require.NoError(t, err)
	assert.Zero(t, h.Calls("invocation-test"))
}

func TestModelHooks_ForceFinalWithoutConfig(t *testing.T) {
	h := NewModelHooks(Deps{Agent: "verifier", MaxIter: 1, Log: logger.Nop()})
	req := &model.LLMRequest{}

	_, err := runBefore(t, h, testsupport.NewToolContext(context.Background(), "verification"), req)
	require.NoError(t, err)
	require.NotNil(t, req.Config)
	assert.Equal(t, FinalAnswerPrompt, req.Config.SystemInstruction.Parts[0].Text)
}

func TestModelHooks_Budget(t *testing.T) {
	limit := errors.Wrap(errors.ErrExecutionLimitExceeded, "run spent $1.20 of $1.00")
	h := NewModelHooks(Deps{Agent: "risk_assessor", MaxIter: 15, Budget: budgetStub{err: limit}, Log: logger.Nop()})

	_, err := runBefore(t, h, testsupport.NewToolContext(context.Background(), "risk_assessment"), requestWithTools())
	assert.ErrorIs(t, err, errors.ErrExecutionLimitExceeded)
	assert.Zero(t, h.Calls("invocation-test"), "rejected calls are not counted")
}

func TestModelHooks_Throttle(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	h := NewModelHooks(Deps{Agent: "financial_analyst", MaxIter: 15, Limiter: limiter, Log: logger.Nop()})

	_, err := runBefore(t, h, testsupport.NewToolContext(context.Background(), "analyze_financial_document"), requestWithTools())
	require.NoError(t, err, "the first call uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = runBefore(t, h, testsupport.NewToolContext(ctx, "analyze_financial_document"), requestWithTools())
	assert.ErrorIs(t, err, errors.ErrRateLimitExceeded)
}

func TestModelHooks_RecordResponse(t *testing.T) {
	usage := &usageStub{}
	h := NewModelHooks(Deps{Agent: "investment_advisor", Model: "llama", MaxIter: 15, Usage: usage, Log: logger.Nop()})
	ctx := testsupport.NewToolContext(context.Background(), "investment_analysis")
	after := h.After()[0]

	_, err := runBefore(t, h, ctx, requestWithTools())
	require.NoError(t, err)

	resp, err := after(ctx, &model.LLMResponse{Partial: true, Content: genai.NewContentFromText("Hel", genai.RoleModel)}, nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Zero(t, usage.calls, "partial chunks carry no usage")

	resp, err = after(ctx, &model.LLMResponse{
		Content:       genai.NewContentFromText("Hello", genai.RoleModel),
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 120, CandidatesTokenCount: 30},
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, resp, "responses pass through unchanged")
	assert.Equal(t, 1, usage.calls)
	assert.Equal(t, "investment_advisor", usage.agent)
	assert.Equal(t, int64(120), usage.prompt)
	assert.Equal(t, int64(30), usage.completion)

	resp, err = after(ctx, nil, errors.ErrExternal)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 1, usage.calls)
}

func TestDescribeResponse(t *testing.T) {
	call := &model.LLMResponse{Content: genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromFunctionCall("read_financial_document", nil),
	}, genai.RoleModel)}
	assert.Equal(t, "tool calls read_financial_document", describeResponse(call))
	assert.Equal(t, "<empty>", describeResponse(&model.LLMResponse{}))
	assert.Equal(t, "ok", describeResponse(&model.LLMResponse{Content: genai.NewContentFromText(" ok ", genai.RoleModel)}))
}
