package callbacks

import (
	"strings"
	"sync"
	"time"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"finanalyst/internal/metrics"
	"finanalyst/pkg/errors"
)

const (
	// FinalAnswerPrompt is appended to the system instruction on the last allowed call.
	FinalAnswerPrompt = "You have used all allowed steps for this task. Do not call any more tools. " +
		"Give your best final answer now, using only the information you already have."

	staleInvocation = time.Hour
	sweepThreshold  = 256
)

// ModelHooks holds the model callbacks of one agent. A single instance serves
// every invocation of the agent, so per-call state is keyed by invocation id.
type ModelHooks struct {
	deps Deps

	mu    sync.Mutex
	calls map[string]*invocationCalls
}

type invocationCalls struct {
	count   int
	started time.Time // start of the in-flight model call
	seen    time.Time
}

// NewModelHooks creates the model callbacks for one agent.
func NewModelHooks(deps Deps) *ModelHooks {
	return &ModelHooks{deps: deps, calls: make(map[string]*invocationCalls)}
}

// Before returns the callbacks that run ahead of every model call, in order:
// budget check, iteration cap, then the rpm limiter.
func (h *ModelHooks) Before() []llmagent.BeforeModelCallback {
	return []llmagent.BeforeModelCallback{h.checkBudget, h.limitIterations, h.throttle}
}

// After returns the callbacks that observe model responses.
func (h *ModelHooks) After() []llmagent.AfterModelCallback {
	return []llmagent.AfterModelCallback{h.recordResponse}
}

// Release drops the per-invocation counters once the agent finishes.
func (h *ModelHooks) Release() agent.AfterAgentCallback {
	return func(ctx agent.CallbackContext) (*genai.Content, error) {
		h.mu.Lock()
		delete(h.calls, ctx.InvocationID())
		h.mu.Unlock()
		return nil, nil
	}
}

// Calls reports how many model calls an invocation has made.
func (h *ModelHooks) Calls(invocationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.calls[invocationID]; ok {
		return c.count
	}
	return 0
}

func (h *ModelHooks) checkBudget(ctx agent.CallbackContext, _ *model.LLMRequest) (*model.LLMResponse, error) {
	if h.deps.Budget == nil {
		return nil, nil
	}
	return nil, h.deps.Budget.Check(ctx)
}

// limitIterations counts model calls per invocation. The call that reaches
// MaxIter runs without tools and is told to answer. Anything after that is
// answered locally without reaching the model.
func (h *ModelHooks) limitIterations(ctx agent.CallbackContext, req *model.LLMRequest) (*model.LLMResponse, error) {
	now := time.Now()

	h.mu.Lock()
	h.sweep(now)
	c, ok := h.calls[ctx.InvocationID()]
	if !ok {
		c = &invocationCalls{}
		h.calls[ctx.InvocationID()] = c
	}
	c.count++
	c.started = now
	c.seen = now
	count := c.count
	h.mu.Unlock()

	if h.deps.MaxIter <= 0 || count < h.deps.MaxIter {
		return nil, nil
	}

	log := h.deps.logger().With("agent", h.deps.Agent, "invocation", ctx.InvocationID())

	if count == h.deps.MaxIter {
		log.Infof("Iteration %d of %d: asking for a final answer", count, h.deps.MaxIter)
		forceFinalAnswer(req)
		return nil, nil
	}

	log.Warnw("Agent exceeded max iterations, stopping",
		"calls", count,
		"max_iter", h.deps.MaxIter,
		"error", errors.ErrMaxIterations,
	)
	metrics.RecordForcedFinal(h.deps.Agent, h.deps.Model)

	return &model.LLMResponse{
		Content: genai.NewContentFromText(
			"Agent stopped after reaching the maximum number of iterations without a final answer.",
			genai.RoleModel,
		),
		TurnComplete: true,
	}, nil
}

func (h *ModelHooks) throttle(ctx agent.CallbackContext, _ *model.LLMRequest) (*model.LLMResponse, error) {
	if h.deps.Limiter == nil {
		return nil, nil
	}

	start := time.Now()
	if err := h.deps.Limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(errors.ErrRateLimitExceeded, "agent %s: %v", h.deps.Agent, err)
	}

	wait := time.Since(start)
	metrics.RecordRateLimitWait(h.deps.Agent, wait)
	if wait > time.Second {
		h.deps.logf(h.deps.logger(), "Agent %s waited %s for its rpm limit", h.deps.Agent, wait.Round(time.Millisecond))
	}

	h.mu.Lock()
	if c, ok := h.calls[ctx.InvocationID()]; ok {
		c.started = time.Now()
	}
	h.mu.Unlock()

	return nil, nil
}

// recordResponse logs the response and records usage once per completed call.
// Streaming chunks are skipped; the aggregated response carries the usage.
func (h *ModelHooks) recordResponse(ctx agent.CallbackContext, resp *model.LLMResponse, respErr error) (*model.LLMResponse, error) {
	if resp != nil && resp.Partial && respErr == nil {
		return nil, nil
	}

	var latency time.Duration
	h.mu.Lock()
	if c, ok := h.calls[ctx.InvocationID()]; ok && !c.started.IsZero() {
		latency = time.Since(c.started)
	}
	h.mu.Unlock()

	log := h.deps.logger().With("agent", h.deps.Agent, "model", h.deps.Model)

	if respErr != nil {
		metrics.RecordAgentCall(h.deps.Agent, h.deps.Model, latency, 0, 0, 0, respErr)
		log.Errorw("Model call failed", "error", respErr, "latency", latency)
		return nil, nil
	}
	if resp == nil {
		return nil, nil
	}

	var prompt, completion int64
	if resp.UsageMetadata != nil {
		prompt = int64(resp.UsageMetadata.PromptTokenCount)
		completion = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	var cost float64
	if h.deps.Usage != nil {
		cost = h.deps.Usage.Record(ctx, h.deps.Agent, prompt, completion)
	}

	var callErr error
	if resp.ErrorCode != "" {
		callErr = errors.Wrapf(errors.ErrExternal, "%s: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	metrics.RecordAgentCall(h.deps.Agent, h.deps.Model, latency, cost, int(prompt), int(completion), callErr)

	h.deps.logf(log, "Model response: %s (tokens in=%d out=%d, %s)",
		describeResponse(resp), prompt, completion, latency.Round(time.Millisecond))

	return nil, nil
}

// sweep drops invocations that never reached Release, e.g. failed runs.
// Callers hold h.mu.
func (h *ModelHooks) sweep(now time.Time) {
	if len(h.calls) < sweepThreshold {
		return
	}
	for id, c := range h.calls {
		if now.Sub(c.seen) > staleInvocation {
			delete(h.calls, id)
		}
	}
}

func forceFinalAnswer(req *model.LLMRequest) {
	if req.Config == nil {
		req.Config = &genai.GenerateContentConfig{}
	}
	req.Config.Tools = nil

	if req.Config.SystemInstruction == nil {
		req.Config.SystemInstruction = genai.NewContentFromText(FinalAnswerPrompt, genai.RoleUser)
		return
	}
	req.Config.SystemInstruction.Parts = append(req.Config.SystemInstruction.Parts, genai.NewPartFromText(FinalAnswerPrompt))
}

func describeResponse(resp *model.LLMResponse) string {
	if resp.Content == nil {
		return "<empty>"
	}

	var calls []string
	var text strings.Builder
	for _, part := range resp.Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall.Name)
		}
		text.WriteString(part.Text)
	}
	if len(calls) > 0 {
		return "tool calls " + strings.Join(calls, ", ")
	}
	return truncate(text.String(), 200)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
