package agents

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"finanalyst/pkg/errors"
)

//go:embed config/*.yaml
var embeddedConfig embed.FS

const (
	agentsFile = "agents.yaml"
	tasksFile  = "tasks.yaml"
)

// AgentDefinition is the static description of a crew member.
type AgentDefinition struct {
	Key             AgentKey `yaml:"key" json:"key" validate:"required"`
	Role            string   `yaml:"role" json:"role" validate:"required"`
	Goal            string   `yaml:"goal" json:"goal" validate:"required"`
	Backstory       string   `yaml:"backstory" json:"backstory" validate:"required"`
	Verbose         bool     `yaml:"verbose" json:"verbose"`
	Memory          bool     `yaml:"memory" json:"memory"`
	Tools           []string `yaml:"tools" json:"tools" validate:"dive,required"`
	MaxIter         int      `yaml:"max_iter" json:"max_iter" validate:"min=1,max=100"`
	MaxRPM          int      `yaml:"max_rpm" json:"max_rpm" validate:"min=0,max=10000"`
	AllowDelegation bool     `yaml:"allow_delegation" json:"allow_delegation"`
}

// TaskDefinition pairs instructions with the agent that carries them out.
// Tools, when set, replace the agent's own tools for this task.
type TaskDefinition struct {
	Key            TaskKey  `yaml:"key" json:"key" validate:"required"`
	Description    string   `yaml:"description" json:"description" validate:"required"`
	ExpectedOutput string   `yaml:"expected_output" json:"expected_output" validate:"required"`
	Agent          AgentKey `yaml:"agent" json:"agent" validate:"required"`
	Tools          []string `yaml:"tools" json:"tools" validate:"dive,required"`
	AsyncExecution bool     `yaml:"async_execution" json:"async_execution"`
}

// Definitions is the validated crew configuration. Task order is execution order.
type Definitions struct {
	Agents []AgentDefinition `yaml:"agents" json:"agents" validate:"required,min=1,dive"`
	Tasks  []TaskDefinition  `yaml:"tasks" json:"tasks" validate:"required,min=1,dive"`
}

// DefaultDefinitions returns the embedded crew configuration.
func DefaultDefinitions() (*Definitions, error) {
	sub, err := fs.Sub(embeddedConfig, "config")
	if err != nil {
		return nil, errors.Wrap(err, "open embedded crew config")
	}
	return LoadDefinitions(sub)
}

// LoadDefinitionsDir reads agents.yaml and tasks.yaml from dir. A file missing
// from dir falls back to the embedded copy.
func LoadDefinitionsDir(dir string) (*Definitions, error) {
	sub, err := fs.Sub(embeddedConfig, "config")
	if err != nil {
		return nil, errors.Wrap(err, "open embedded crew config")
	}
	return LoadDefinitions(overlayFS{dir: dir, fallback: sub})
}

// LoadDefinitions parses and validates crew configuration from fsys.
func LoadDefinitions(fsys fs.FS) (*Definitions, error) {
	var defs Definitions

	var agentsDoc struct {
		Agents []AgentDefinition `yaml:"agents"`
	}
	if err := decodeYAML(fsys, agentsFile, &agentsDoc); err != nil {
		return nil, err
	}
	var tasksDoc struct {
		Tasks []TaskDefinition `yaml:"tasks"`
	}
	if err := decodeYAML(fsys, tasksFile, &tasksDoc); err != nil {
		return nil, err
	}

	defs.Agents = agentsDoc.Agents
	defs.Tasks = tasksDoc.Tasks
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return &defs, nil
}

func decodeYAML(fsys fs.FS, name string, out any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "parse %s: %v", name, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and cross references between tasks and agents.
func (d *Definitions) Validate() error {
	if err := validate.Struct(d); err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "crew definitions: %v", err)
	}

	agents := make(map[AgentKey]struct{}, len(d.Agents))
	for _, a := range d.Agents {
		if _, dup := agents[a.Key]; dup {
			return errors.Wrapf(errors.ErrInvalidInput, "duplicate agent %s", a.Key)
		}
		agents[a.Key] = struct{}{}
	}

	tasks := make(map[TaskKey]struct{}, len(d.Tasks))
	for _, t := range d.Tasks {
		if _, dup := tasks[t.Key]; dup {
			return errors.Wrapf(errors.ErrInvalidInput, "duplicate task %s", t.Key)
		}
		tasks[t.Key] = struct{}{}
		if _, ok := agents[t.Agent]; !ok {
			return errors.Wrapf(errors.ErrUnknownAgent, "task %s references %s", t.Key, t.Agent)
		}
		if t.AsyncExecution {
			return errors.Wrapf(errors.ErrInvalidInput, "task %s: async execution is not supported", t.Key)
		}
	}
	return nil
}

// Agent returns the definition for key.
func (d *Definitions) Agent(key AgentKey) (AgentDefinition, bool) {
	for _, a := range d.Agents {
		if a.Key == key {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

// Task returns the definition for key.
func (d *Definitions) Task(key TaskKey) (TaskDefinition, bool) {
	for _, t := range d.Tasks {
		if t.Key == key {
			return t, true
		}
	}
	return TaskDefinition{}, false
}

// Only returns a copy restricted to the named tasks, keeping their order.
func (d *Definitions) Only(keys ...TaskKey) (*Definitions, error) {
	out := &Definitions{Agents: d.Agents}
	for _, key := range keys {
		t, ok := d.Task(key)
		if !ok {
			return nil, errors.Wrapf(errors.ErrNotFound, "task %s", key)
		}
		out.Tasks = append(out.Tasks, t)
	}
	return out, nil
}

// ToolsFor returns the tools a task runs with.
func (d *Definitions) ToolsFor(task TaskDefinition) []string {
	if len(task.Tools) > 0 {
		return task.Tools
	}
	if a, ok := d.Agent(task.Agent); ok {
		return a.Tools
	}
	return nil
}

type overlayFS struct {
	dir      string
	fallback fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := os.Open(filepath.Join(o.dir, filepath.FromSlash(name)))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return o.fallback.Open(name)
}
