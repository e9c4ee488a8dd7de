package agents

import (
	"regexp"
	"sort"

	"finanalyst/pkg/errors"
)

// Inputs accepted by the crew definitions.
const (
	InputQuery    = "query"
	InputFilePath = "file_path"
)

// KnownInputs lists the placeholders a definition may declare. Other
// brace-delimited text is left untouched.
var KnownInputs = []string{InputQuery, InputFilePath}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Interpolate replaces {placeholders} in text. A known input missing from
// inputs is an error; unknown placeholders are kept verbatim.
func Interpolate(text string, inputs map[string]string) (string, error) {
	var missing []string

	out := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		if val, ok := inputs[name]; ok {
			return val
		}
		if isKnownInput(name) {
			missing = append(missing, name)
		}
		return match
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", errors.Wrapf(errors.ErrMissingInput, "%v", missing)
	}
	return out, nil
}

func isKnownInput(name string) bool {
	for _, k := range KnownInputs {
		if k == name {
			return true
		}
	}
	return false
}

// Interpolate returns a copy of the definitions with inputs substituted into
// agent goals and backstories and task descriptions and expected outputs.
func (d *Definitions) Interpolate(inputs map[string]string) (*Definitions, error) {
	out := &Definitions{
		Agents: make([]AgentDefinition, len(d.Agents)),
		Tasks:  make([]TaskDefinition, len(d.Tasks)),
	}

	var err error
	for i, a := range d.Agents {
		if a.Role, err = Interpolate(a.Role, inputs); err != nil {
			return nil, errors.Wrapf(err, "agent %s role", a.Key)
		}
		if a.Goal, err = Interpolate(a.Goal, inputs); err != nil {
			return nil, errors.Wrapf(err, "agent %s goal", a.Key)
		}
		if a.Backstory, err = Interpolate(a.Backstory, inputs); err != nil {
			return nil, errors.Wrapf(err, "agent %s backstory", a.Key)
		}
		out.Agents[i] = a
	}

	for i, t := range d.Tasks {
		if t.Description, err = Interpolate(t.Description, inputs); err != nil {
			return nil, errors.Wrapf(err, "task %s description", t.Key)
		}
		if t.ExpectedOutput, err = Interpolate(t.ExpectedOutput, inputs); err != nil {
			return nil, errors.Wrapf(err, "task %s expected output", t.Key)
		}
		out.Tasks[i] = t
	}

	return out, nil
}
