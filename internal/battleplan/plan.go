// Package battleplan implements reusable, YAML-defined multi-agent
// workflow templates ("battle plans"): a named sequence of phases with
// dependency and parallel-group relationships, materialized into work
// items and driven to completion one ready phase at a time.
package battleplan

import "time"

// StepCondition controls when a phase is eligible to run.
type StepCondition string

const (
	ConditionAlways    StepCondition = "always"
	ConditionOnSuccess StepCondition = "on_success"
	ConditionOnFailure StepCondition = "on_failure"
	ConditionManual    StepCondition = "manual"
)

// Phase is a single step in a battle plan workflow.
type Phase struct {
	Name            string         `yaml:"name" json:"name"`
	Agent           string         `yaml:"agent" json:"agent"`
	Action          string         `yaml:"action,omitempty" json:"action,omitempty"`
	Description     string         `yaml:"description,omitempty" json:"description,omitempty"`
	Condition       StepCondition  `yaml:"condition,omitempty" json:"condition,omitempty"`
	ContinueOnError bool           `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
	TimeoutMinutes  int            `yaml:"timeout_minutes,omitempty" json:"timeout_minutes,omitempty"`
	Inputs          map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs         []string       `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	DependsOn       []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	ParallelWith    []string       `yaml:"parallel_with,omitempty" json:"parallel_with,omitempty"`
}

func (p *Phase) applyDefaults() {
	if p.Action == "" {
		p.Action = "execute"
	}
	if p.Condition == "" {
		p.Condition = ConditionAlways
	}
	if p.TimeoutMinutes == 0 {
		p.TimeoutMinutes = 30
	}
}

// Plan is a reusable battle plan that orchestrates multiple agents across
// a phase dependency graph.
type Plan struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Version     string         `yaml:"version,omitempty" json:"version,omitempty"`
	Phases      []Phase        `yaml:"phases" json:"phases"`
	Variables   map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	Labels      []string       `yaml:"labels,omitempty" json:"labels,omitempty"`
	CreatedAt   time.Time      `yaml:"created_at,omitempty" json:"created_at,omitempty"`
}

func (p *Plan) applyDefaults() {
	if p.Version == "" {
		p.Version = "1.0"
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	for i := range p.Phases {
		p.Phases[i].applyDefaults()
	}
}

// Phase looks up a phase by name.
func (p *Plan) Phase(name string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].Name == name {
			return &p.Phases[i]
		}
	}
	return nil
}

// EntryPhases returns every phase with no dependencies, the set a plan
// starts from.
func (p *Plan) EntryPhases() []Phase {
	var out []Phase
	for _, phase := range p.Phases {
		if len(phase.DependsOn) == 0 {
			out = append(out, phase)
		}
	}
	return out
}

// ParallelGroups partitions phases into groups that may execute
// concurrently, following each phase's ParallelWith list.
func (p *Plan) ParallelGroups() [][]Phase {
	var groups [][]Phase
	processed := make(map[string]bool)

	for _, phase := range p.Phases {
		if processed[phase.Name] {
			continue
		}

		if len(phase.ParallelWith) > 0 {
			group := []Phase{phase}
			for _, name := range phase.ParallelWith {
				if sibling := p.Phase(name); sibling != nil && !processed[sibling.Name] {
					group = append(group, *sibling)
					processed[sibling.Name] = true
				}
			}
			groups = append(groups, group)
		} else {
			groups = append(groups, []Phase{phase})
		}
		processed[phase.Name] = true
	}

	return groups
}
