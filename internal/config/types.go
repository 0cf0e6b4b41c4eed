package config

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents a full pipeline document.
type Config struct {
	Version     string   `yaml:"version" validate:"required,semver"`
	Name        string   `yaml:"name" validate:"required,min=1,max=100"`
	Description string   `yaml:"description,omitempty"`
	Settings    Settings `yaml:"settings,omitempty"`
	Steps       []Step   `yaml:"steps" validate:"required,min=1,dive"`
}

// Settings holds global execution parameters.
type Settings struct {
	Parallel        int  `yaml:"parallel,omitempty" validate:"omitempty,min=1,max=32"`
	Timeout         int  `yaml:"timeout,omitempty" validate:"omitempty,min=1,max=360000"`
	ContinueOnError bool `yaml:"continue_on_error,omitempty"`
	Verbose         bool `yaml:"verbose,omitempty"`
}

// Step runs one action in the DAG. Inputs map port names to artifact paths
// or to "step_id:port" references into an earlier step's outputs; outputs
// map port names to the paths where new artifacts are created.
type Step struct {
	ID        string            `yaml:"id" validate:"required,step_id"`
	Name      string            `yaml:"name,omitempty"`
	Action    string            `yaml:"action" validate:"required,action_name"`
	Inputs    map[string]string `yaml:"inputs,omitempty"`
	Params    map[string]string `yaml:"params,omitempty"`
	Outputs   map[string]string `yaml:"outputs" validate:"required,min=1"`
	DependsOn []string          `yaml:"depends_on,omitempty"`
	Enabled   bool              `yaml:"enabled,omitempty"`
}

// UnmarshalYAML applies the enabled-by-default rule.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type rawStep Step
	var temp rawStep
	temp.Enabled = true
	if err := value.Decode(&temp); err != nil {
		return err
	}
	*s = Step(temp)
	return nil
}

// InputRef splits a "step_id:port" input reference. ok is false for plain
// filesystem paths.
func InputRef(value string) (stepID, port string, ok bool) {
	i := strings.IndexByte(value, ':')
	if i <= 0 || i == len(value)-1 {
		return "", "", false
	}
	stepID, port = value[:i], value[i+1:]
	if !stepIDPattern.MatchString(stepID) {
		return "", "", false
	}
	return stepID, port, true
}

// Dependencies returns the step's explicit dependencies plus those implied
// by input references, deduplicated.
func (s *Step) Dependencies() []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			deps = append(deps, id)
		}
	}
	for _, dep := range s.DependsOn {
		add(dep)
	}
	for _, value := range s.Inputs {
		if stepID, _, ok := InputRef(value); ok {
			add(stepID)
		}
	}
	return deps
}

// StepMap builds a lookup table for steps by ID.
func StepMap(steps []Step) map[string]Step {
	out := make(map[string]Step, len(steps))
	for _, step := range steps {
		out[step.ID] = step
	}
	return out
}
