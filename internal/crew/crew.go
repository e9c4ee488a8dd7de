package crew

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"finanalyst/internal/agents"
	"finanalyst/internal/agents/state"
	"finanalyst/internal/metrics"
	"finanalyst/internal/tools/shared"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
	"finanalyst/pkg/templates"
)

const (
	// AppName scopes ADK sessions.
	AppName = "finanalyst"

	DefaultQuery    = "Analyze this financial document for investment insights"
	DefaultFilePath = "data/sample.pdf"

	anonymousUser = "anonymous"
	summaryWords  = 10
)

// Inputs are interpolated into agent goals and task descriptions.
type Inputs struct {
	Query    string `json:"query"`
	FilePath string `json:"file_path"`
}

// WithDefaults fills empty inputs.
func (in Inputs) WithDefaults() Inputs {
	if strings.TrimSpace(in.Query) == "" {
		in.Query = DefaultQuery
	}
	if strings.TrimSpace(in.FilePath) == "" {
		in.FilePath = DefaultFilePath
	}
	return in
}

func (in Inputs) values() map[string]string {
	return map[string]string{
		agents.InputQuery:    in.Query,
		agents.InputFilePath: in.FilePath,
	}
}

// RunOptions tune a single kickoff.
type RunOptions struct {
	RunID    uuid.UUID // generated when zero
	UserID   string    // daily budget key; empty skips the daily check
	Source   string    // cli, api, telegram, worker
	Tasks    []agents.TaskKey
	Progress ProgressFunc
}

// TaskOutput is the result of one task.
type TaskOutput struct {
	Key     agents.TaskKey  `json:"key"`
	Agent   agents.AgentKey `json:"agent"`
	Role    string          `json:"role"`
	Raw     string          `json:"raw"`
	Summary string          `json:"summary"`
}

// Output is what a kickoff returns. Raw is the last task's output.
type Output struct {
	RunID     uuid.UUID           `json:"run_id"`
	Inputs    Inputs              `json:"inputs"`
	Raw       string              `json:"raw"`
	Tasks     []TaskOutput        `json:"tasks"`
	Usage     agents.UsageSummary `json:"usage"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
}

// Config wires a Crew.
type Config struct {
	Definitions *agents.Definitions
	Factory     *agents.Factory
	Guard       *agents.CostGuard
	Templates   *templates.Registry
	// TaskTimeout bounds each task; a run gets TaskTimeout per task. Zero disables it.
	TaskTimeout time.Duration
	Log         *logger.Logger
}

// Crew runs the configured tasks sequentially through an ADK runner.
type Crew struct {
	defs        *agents.Definitions
	factory     *agents.Factory
	guard       *agents.CostGuard
	templates   *templates.Registry
	sessions    session.Service
	taskTimeout time.Duration
	log         *logger.Logger
}

// New validates cfg and creates a crew.
func New(cfg Config) (*Crew, error) {
	if cfg.Definitions == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "crew definitions are required")
	}
	if err := cfg.Definitions.Validate(); err != nil {
		return nil, err
	}
	if cfg.Factory == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "agent factory is required")
	}
	if cfg.Templates == nil {
		cfg.Templates = templates.Get()
	}
	if cfg.Log == nil {
		cfg.Log = logger.Get()
	}

	return &Crew{
		defs:        cfg.Definitions,
		factory:     cfg.Factory,
		guard:       cfg.Guard,
		templates:   cfg.Templates,
		sessions:    session.InMemoryService(),
		taskTimeout: cfg.TaskTimeout,
		log:         cfg.Log.With("component", "crew"),
	}, nil
}

// Definitions returns the uninterpolated crew configuration.
func (c *Crew) Definitions() *agents.Definitions {
	return c.defs
}

// Kickoff runs the crew over one document.
func (c *Crew) Kickoff(ctx context.Context, in Inputs, opts RunOptions) (out *Output, err error) {
	in = in.WithDefaults()
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	if opts.Source == "" {
		opts.Source = "cli"
	}
	userID := opts.UserID
	if userID == "" {
		userID = anonymousUser
	}

	startedAt := time.Now()
	usage := agents.NewRunUsage()
	emit := func(e Event) {
		if opts.Progress == nil {
			return
		}
		e.RunID = opts.RunID
		e.Timestamp = time.Now()
		opts.Progress(e)
	}

	log := c.log.With("run_id", opts.RunID, "source", opts.Source)

	defer func() {
		elapsed := time.Since(startedAt)
		metrics.RecordCrewRun(opts.Source, elapsed, err)
		if c.guard != nil && opts.UserID != "" {
			c.guard.RecordRun(context.WithoutCancel(ctx), opts.UserID, usage.Cost())
		}
		if err != nil {
			task, _ := errors.FailedTask(err)
			log.Errorw("Crew run failed", "error", err, "task", task, "duration", elapsed)
			emit(Event{Kind: EventRunFailed, Error: err.Error()})
			return
		}
		log.Infow("Crew run completed", "duration", elapsed, "cost_usd", usage.Cost().StringFixed(6))
		emit(Event{Kind: EventRunCompleted, Output: out.Raw})
	}()

	defs := c.defs
	if len(opts.Tasks) > 0 {
		if defs, err = defs.Only(opts.Tasks...); err != nil {
			return nil, err
		}
	}
	defs, err = defs.Interpolate(in.values())
	if err != nil {
		return nil, err
	}

	if c.guard != nil && opts.UserID != "" {
		if err = c.guard.CheckDailyLimit(ctx, opts.UserID); err != nil {
			return nil, err
		}
	}

	root, err := c.factory.BuildCrew(defs, in.FilePath)
	if err != nil {
		return nil, err
	}

	r, err := runner.New(runner.Config{
		AppName:        AppName,
		Agent:          root,
		SessionService: c.sessions,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create runner")
	}

	if c.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.taskTimeout*time.Duration(len(defs.Tasks)))
		defer cancel()
	}

	sessionID := opts.RunID.String()
	ctx = agents.WithRunUsage(ctx, usage)
	ctx = shared.WithRun(ctx, shared.RunInfo{RunID: opts.RunID, Source: opts.Source})

	if _, err = c.sessions.Create(ctx, &session.CreateRequest{
		AppName:   AppName,
		UserID:    userID,
		SessionID: sessionID,
		State:     state.Inputs(opts.RunID.String(), in.Query, in.FilePath, startedAt),
	}); err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	defer func() {
		if derr := c.sessions.Delete(context.WithoutCancel(ctx), &session.DeleteRequest{
			AppName: AppName, UserID: userID, SessionID: sessionID,
		}); derr != nil {
			log.Warnw("Failed to delete crew session", "error", derr)
		}
	}()

	message, err := c.templates.Render("agents/kickoff", in)
	if err != nil {
		return nil, err
	}

	log.Infow("Crew kickoff", "tasks", len(defs.Tasks), "file_path", in.FilePath, "query", in.Query)
	emit(Event{Kind: EventRunStarted, Total: len(defs.Tasks)})

	if err = c.consume(ctx, r, userID, sessionID, message, defs, emit); err != nil {
		return nil, err
	}

	resp, err := c.sessions.Get(ctx, &session.GetRequest{AppName: AppName, UserID: userID, SessionID: sessionID})
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}

	out = &Output{
		RunID:     opts.RunID,
		Inputs:    in,
		Tasks:     collectOutputs(resp.Session.State(), defs),
		StartedAt: startedAt,
	}
	if n := len(out.Tasks); n > 0 {
		out.Raw = out.Tasks[n-1].Raw
	}
	if strings.TrimSpace(out.Raw) == "" {
		return nil, errors.Wrapf(errors.ErrEmptyOutput, "task %s", defs.Tasks[len(defs.Tasks)-1].Key)
	}
	out.Usage = usage.Summary()
	out.Duration = time.Since(startedAt)

	return out, nil
}

// consume drains the runner and turns agent events into progress events.
func (c *Crew) consume(ctx context.Context, r *runner.Runner, userID, sessionID, message string, defs *agents.Definitions, emit func(Event)) error {
	positions := make(map[string]int, len(defs.Tasks))
	for i, t := range defs.Tasks {
		positions[t.Key.String()] = i + 1
	}

	content := genai.NewContentFromText(message, genai.RoleUser)
	current := ""

	for event, err := range r.Run(ctx, userID, sessionID, content, agent.RunConfig{StreamingMode: agent.StreamingModeNone}) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return errors.NewTaskError(current, errors.Wrap(errors.ErrTimeout, ctxErr.Error()))
			}
			return errors.NewTaskError(current, err)
		}
		if event == nil || event.Partial {
			continue
		}

		pos, isTask := positions[event.Author]
		if !isTask {
			continue
		}
		task, _ := defs.Task(agents.TaskKey(event.Author))

		if event.Author != current {
			current = event.Author
			emit(Event{Kind: EventTaskStarted, Task: current, Agent: task.Agent.String(), Position: pos, Total: len(defs.Tasks)})
		}

		if event.Content == nil {
			continue
		}
		for _, part := range event.Content.Parts {
			if part != nil && part.FunctionCall != nil {
				emit(Event{Kind: EventToolCalled, Task: current, Agent: task.Agent.String(), Tool: part.FunctionCall.Name})
			}
		}
		if text := eventText(event); text != "" && event.IsFinalResponse() {
			emit(Event{Kind: EventTaskCompleted, Task: current, Agent: task.Agent.String(), Output: text, Position: pos, Total: len(defs.Tasks)})
		}
	}
	return nil
}

func collectOutputs(st session.ReadonlyState, defs *agents.Definitions) []TaskOutput {
	outputs := make([]TaskOutput, 0, len(defs.Tasks))
	for _, t := range defs.Tasks {
		raw, _ := state.GetTaskOutput(st, t.Key.String())
		role := ""
		if a, ok := defs.Agent(t.Agent); ok {
			role = a.Role
		}
		outputs = append(outputs, TaskOutput{
			Key:     t.Key,
			Agent:   t.Agent,
			Role:    role,
			Raw:     raw,
			Summary: Summarize(raw),
		})
	}
	return outputs
}

func eventText(event *session.Event) string {
	if event.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range event.Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Summarize returns the first ten words of text, with an ellipsis when cut.
func Summarize(text string) string {
	words := strings.Fields(text)
	if len(words) <= summaryWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:summaryWords], " ") + "..."
}
