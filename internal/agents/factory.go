package agents

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/agent/workflowagents/sequentialagent"
	"google.golang.org/adk/model"
	adktool "google.golang.org/adk/tool"
	"google.golang.org/adk/tool/agenttool"

	"finanalyst/internal/agents/callbacks"
	"finanalyst/internal/agents/state"
	"finanalyst/internal/tools"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
	"finanalyst/pkg/templates"
)

// CrewAgentName is the name of the sequential root agent of a crew.
const CrewAgentName = "financial_document_crew"

const (
	taskTemplate     = "agents/task"
	coworkerTemplate = "agents/coworker"
)

// FactoryDeps gathers external dependencies needed to instantiate agents.
type FactoryDeps struct {
	Model     model.LLM
	ModelName string // label used in metrics and logs, e.g. groq/llama-3.3-70b-versatile
	Tools     *tools.Registry
	Templates *templates.Registry
	Costs     *CostTracker
	Guard     *CostGuard
	Log       *logger.Logger
}

// Factory builds ADK agents from crew definitions. Agents are rebuilt for
// every kickoff because goals and descriptions are interpolated per run, but
// the max_rpm limiters live as long as the factory.
type Factory struct {
	model     model.LLM
	modelName string
	tools     *tools.Registry
	templates *templates.Registry
	costs     *CostTracker
	guard     *CostGuard
	log       *logger.Logger

	mu       sync.Mutex
	limiters map[AgentKey]*rate.Limiter
}

// NewFactory builds an agent factory with required dependencies.
func NewFactory(deps FactoryDeps) (*Factory, error) {
	if deps.Model == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "model is required")
	}
	if deps.Tools == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "tool registry is required")
	}
	if deps.Templates == nil {
		deps.Templates = templates.Get()
	}
	if deps.Log == nil {
		deps.Log = logger.Get()
	}
	if deps.ModelName == "" {
		deps.ModelName = deps.Model.Name()
	}

	return &Factory{
		model:     deps.Model,
		modelName: deps.ModelName,
		tools:     deps.Tools,
		templates: deps.Templates,
		costs:     deps.Costs,
		guard:     deps.Guard,
		log:       deps.Log.With("component", "agent_factory"),
		limiters:  make(map[AgentKey]*rate.Limiter),
	}, nil
}

// BuildCrew creates the sequential crew agent. defs must already be
// interpolated; filePath is the document every tool call should read.
func (f *Factory) BuildCrew(defs *Definitions, filePath string) (agent.Agent, error) {
	if err := defs.Validate(); err != nil {
		return nil, err
	}

	subAgents := make([]agent.Agent, 0, len(defs.Tasks))
	for i := range defs.Tasks {
		ag, err := f.buildTaskAgent(defs, i, filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "build task %s", defs.Tasks[i].Key)
		}
		subAgents = append(subAgents, ag)
	}

	return sequentialagent.New(sequentialagent.Config{AgentConfig: agent.Config{
		Name:        CrewAgentName,
		Description: "Runs the financial document tasks in order",
		SubAgents:   subAgents,
	}})
}

// Limiter returns the max_rpm limiter shared by every instance of an agent,
// or nil when the agent is not rate limited. Calls are spaced evenly, so no
// minute admits more than MaxRPM of them.
func (f *Factory) Limiter(def AgentDefinition) *rate.Limiter {
	if def.MaxRPM <= 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	limit := rate.Every(time.Minute / time.Duration(def.MaxRPM))
	if l, ok := f.limiters[def.Key]; ok {
		if l.Limit() != limit {
			l.SetLimit(limit)
		}
		return l
	}

	l := rate.NewLimiter(limit, 1)
	f.limiters[def.Key] = l
	return l
}

type toolInfo struct {
	Name        string
	Description string
}

type coworkerInfo struct {
	Key  AgentKey
	Role string
}

type taskPrompt struct {
	Role           string
	Backstory      string
	Goal           string
	Tools          []toolInfo
	Coworkers      []coworkerInfo
	Memory         []state.TaskOutput
	FilePath       string
	Description    string
	ExpectedOutput string
	MaxIter        int
}

func (f *Factory) buildTaskAgent(defs *Definitions, position int, filePath string) (agent.Agent, error) {
	task := defs.Tasks[position]
	def, ok := defs.Agent(task.Agent)
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownAgent, "%s", task.Agent)
	}

	toolset, infos, err := f.toolset(def, defs.ToolsFor(task))
	if err != nil {
		return nil, err
	}

	var coworkers []coworkerInfo
	if def.AllowDelegation {
		for _, other := range defs.Agents {
			if other.Key == def.Key {
				continue
			}
			cw, err := f.buildCoworker(other, filePath)
			if err != nil {
				return nil, errors.Wrapf(err, "coworker %s", other.Key)
			}
			toolset = append(toolset, agenttool.New(cw, &agenttool.Config{}))
			coworkers = append(coworkers, coworkerInfo{Key: other.Key, Role: other.Role})
		}
	}

	// The immediate predecessor's output already arrives as conversation
	// context; memory adds the ones before it.
	var earlier []string
	if def.Memory && position > 1 {
		for _, t := range defs.Tasks[:position-1] {
			earlier = append(earlier, t.Key.String())
		}
	}

	prompt := taskPrompt{
		Role:           def.Role,
		Backstory:      def.Backstory,
		Goal:           def.Goal,
		Tools:          infos,
		Coworkers:      coworkers,
		FilePath:       filePath,
		Description:    task.Description,
		ExpectedOutput: task.ExpectedOutput,
		MaxIter:        def.MaxIter,
	}

	deps := f.callbackDeps(def)
	modelHooks := callbacks.NewModelHooks(deps)
	taskHooks := callbacks.NewTaskHooks(task.Key.String(), deps)

	return llmagent.New(llmagent.Config{
		Name:        task.Key.String(),
		Description: fmt.Sprintf("%s: %s", def.Role, firstLine(task.Description)),
		Model:       f.model,
		Tools:       toolset,
		InstructionProvider: func(ctx agent.ReadonlyContext) (string, error) {
			p := prompt
			if len(earlier) > 0 {
				p.Memory = state.TaskOutputs(ctx.ReadonlyState(), earlier)
			}
			return f.templates.Render(taskTemplate, p)
		},
		IncludeContents:          llmagent.IncludeContentsNone,
		OutputKey:                task.Key.String(),
		DisallowTransferToParent: true,
		DisallowTransferToPeers:  true,
		BeforeAgentCallbacks:     []agent.BeforeAgentCallback{taskHooks.Before()},
		AfterAgentCallbacks:      []agent.AfterAgentCallback{taskHooks.After(), modelHooks.Release()},
		BeforeModelCallbacks:     modelHooks.Before(),
		AfterModelCallbacks:      modelHooks.After(),
		BeforeToolCallbacks:      []llmagent.BeforeToolCallback{callbacks.AuditLogBeforeToolCallback(deps)},
		AfterToolCallbacks:       []llmagent.AfterToolCallback{callbacks.AuditLogAfterToolCallback(deps)},
	})
}

// buildCoworker creates the delegation target for def. Coworkers never
// delegate further.
func (f *Factory) buildCoworker(def AgentDefinition, filePath string) (agent.Agent, error) {
	toolset, infos, err := f.toolset(def, def.Tools)
	if err != nil {
		return nil, err
	}

	instruction, err := f.templates.Render(coworkerTemplate, taskPrompt{
		Role:      def.Role,
		Backstory: def.Backstory,
		Goal:      def.Goal,
		Tools:     infos,
		FilePath:  filePath,
		MaxIter:   def.MaxIter,
	})
	if err != nil {
		return nil, err
	}

	deps := f.callbackDeps(def)
	modelHooks := callbacks.NewModelHooks(deps)

	return llmagent.New(llmagent.Config{
		Name:        def.Key.String(),
		Description: fmt.Sprintf("Delegate work to coworker: %s. %s", def.Role, def.Goal),
		Model:       f.model,
		Tools:       toolset,
		// Backstories may contain braces, so skip state injection.
		InstructionProvider: func(agent.ReadonlyContext) (string, error) {
			return instruction, nil
		},
		DisallowTransferToParent: true,
		DisallowTransferToPeers:  true,
		AfterAgentCallbacks:      []agent.AfterAgentCallback{modelHooks.Release()},
		BeforeModelCallbacks:     modelHooks.Before(),
		AfterModelCallbacks:      modelHooks.After(),
		BeforeToolCallbacks:      []llmagent.BeforeToolCallback{callbacks.AuditLogBeforeToolCallback(deps)},
		AfterToolCallbacks:       []llmagent.AfterToolCallback{callbacks.AuditLogAfterToolCallback(deps)},
	})
}

// toolset resolves names and adds document search for agents with memory.
func (f *Factory) toolset(def AgentDefinition, names []string) ([]adktool.Tool, []toolInfo, error) {
	names = append([]string(nil), names...)
	if def.Memory && f.tools.Has(tools.SearchFinancialDocument) && !contains(names, tools.SearchFinancialDocument) {
		names = append(names, tools.SearchFinancialDocument)
	}

	resolved, err := f.tools.Resolve(names)
	if err != nil {
		return nil, nil, err
	}

	infos := make([]toolInfo, 0, len(resolved))
	for _, t := range resolved {
		infos = append(infos, toolInfo{Name: t.Name(), Description: t.Description()})
	}
	return resolved, infos, nil
}

func (f *Factory) callbackDeps(def AgentDefinition) callbacks.Deps {
	deps := callbacks.Deps{
		Agent:   def.Key.String(),
		Model:   f.modelName,
		MaxIter: def.MaxIter,
		Limiter: f.Limiter(def),
		Verbose: def.Verbose,
		Log:     f.log.With("agent", def.Key.String()),
	}
	// Typed nil pointers must not leak into the interfaces.
	if f.costs != nil {
		deps.Usage = f.costs
	}
	if f.guard != nil {
		deps.Budget = f.guard
	}
	return deps
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
