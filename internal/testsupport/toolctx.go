package testsupport

import (
	"context"
	"iter"
	"testing"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/memory"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"
)

// ToolContext is an in-memory tool.Context for calling tool handlers and
// callbacks directly in unit tests.
type ToolContext struct {
	context.Context
	Agent      string
	Session    string
	Invocation string
	state      MapState
	actions session.EventActions
}

// NewToolContext returns a context that reports agent as the calling agent.
func NewToolContext(ctx context.Context, agentName string) *ToolContext {
	return &ToolContext{
		Context:    ctx,
		Agent:      agentName,
		Session:    "session-test",
		Invocation: "invocation-test",
		state:      MapState{},
	}
}

// WithState seeds session state.
func (c *ToolContext) WithState(values map[string]any) *ToolContext {
	for k, v := range values {
		c.state[k] = v
	}
	return c
}

func (c *ToolContext) UserContent() *genai.Content            { return nil }
func (c *ToolContext) InvocationID() string                   { return c.Invocation }
func (c *ToolContext) AgentName() string                      { return c.Agent }
func (c *ToolContext) ReadonlyState() session.ReadonlyState   { return c.state }
func (c *ToolContext) UserID() string                         { return "user-test" }
func (c *ToolContext) AppName() string                        { return "finanalyst" }
func (c *ToolContext) SessionID() string                      { return c.Session }
func (c *ToolContext) Branch() string                         { return "" }
func (c *ToolContext) Artifacts() agent.Artifacts             { return nil }
func (c *ToolContext) State() session.State                   { return c.state }
func (c *ToolContext) FunctionCallID() string                 { return "call-test" }
func (c *ToolContext) Actions() *session.EventActions         { return &c.actions }
func (c *ToolContext) SearchMemory(context.Context, string) (*memory.SearchResponse, error) {
	return &memory.SearchResponse{}, nil
}

// MapState is a map-backed session.State.
type MapState map[string]any

func (s MapState) Get(key string) (any, error) {
	v, ok := s[key]
	if !ok {
		return nil, session.ErrStateKeyNotExist
	}
	return v, nil
}

func (s MapState) Set(key string, value any) error {
	s[key] = value
	return nil
}

func (s MapState) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for k, v := range s {
			if !yield(k, v) {
				return
			}
		}
	}
}

type runnableTool interface {
	Run(ctx tool.Context, args any) (map[string]any, error)
}

// RunTool executes t the way the ADK flow does and returns its response map.
func RunTool(tb testing.TB, t tool.Tool, ctx tool.Context, args map[string]any) (map[string]any, error) {
	tb.Helper()
	r, ok := t.(runnableTool)
	if !ok {
		tb.Fatalf("tool %s is not runnable", t.Name())
	}
	if args == nil {
		args = map[string]any{}
	}
	return r.Run(ctx, args)
}
