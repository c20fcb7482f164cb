package dragonscale

import (
	"fmt"
	"maps"
)

// TargetKind distinguishes the tool namespace from the sub-agent namespace.
type TargetKind string

const (
	TargetTool  TargetKind = "tool"
	TargetAgent TargetKind = "agent"
)

// Target names what performs a step.
type Target struct {
	Kind TargetKind `json:"kind" yaml:"kind"`
	Name string     `json:"name" yaml:"name"`
}

// ToolRef targets a registered tool.
func ToolRef(name string) Target {
	return Target{Kind: TargetTool, Name: name}
}

// AgentRef targets a registered sub-agent.
func AgentRef(name string) Target {
	return Target{Kind: TargetAgent, Name: name}
}

func (t Target) String() string {
	return fmt.Sprintf("%s '%s'", t.Kind, t.Name)
}

// Valid reports whether the target names exactly one namespace and a name.
func (t Target) Valid() bool {
	return (t.Kind == TargetTool || t.Kind == TargetAgent) && t.Name != ""
}

// PlanStep is one ordered action of a plan. It is immutable once built:
// fields are unexported and accessors hand out copies.
type PlanStep struct {
	id        string
	target    Target
	action    string
	params    map[string]any
	condition string
}

// StepOption customises a step at construction time.
type StepOption func(*PlanStep)

// WithStepID sets the identifier later steps use to reference this step's result.
func WithStepID(id string) StepOption {
	return func(s *PlanStep) {
		s.id = id
	}
}

// WithCondition guards the step; it is skipped when the expression is false.
func WithCondition(expr string) StepOption {
	return func(s *PlanStep) {
		s.condition = expr
	}
}

// NewStep builds a step. The params map is copied.
func NewStep(target Target, action string, params map[string]any, opts ...StepOption) PlanStep {
	s := PlanStep{
		target: target,
		action: action,
		params: maps.Clone(params),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.params == nil {
		s.params = map[string]any{}
	}
	return s
}

func (s PlanStep) ID() string        { return s.id }
func (s PlanStep) Target() Target    { return s.target }
func (s PlanStep) Action() string    { return s.action }
func (s PlanStep) Condition() string { return s.condition }

// Params returns a copy of the step parameters.
func (s PlanStep) Params() map[string]any {
	return maps.Clone(s.params)
}

// Plan is either a SingleAction or a *MultiStepPlan.
type Plan interface {
	// Steps returns the plan as an ordered step list.
	Steps() []PlanStep
	Len() int
	isPlan()
}

// SingleAction is the one-step shortcut; the executor calls its target directly.
type SingleAction struct {
	Target Target
	Action string
	Params map[string]any
}

// NewSingleAction builds the shortcut plan, copying params.
func NewSingleAction(target Target, action string, params map[string]any) SingleAction {
	return SingleAction{Target: target, Action: action, Params: maps.Clone(params)}
}

func (a SingleAction) Steps() []PlanStep {
	return []PlanStep{NewStep(a.Target, a.Action, a.Params, WithStepID("step_1"))}
}

func (a SingleAction) Len() int { return 1 }

func (SingleAction) isPlan() {}

// MultiStepPlan is an ordered sequence of steps. Insertion order is execution order.
type MultiStepPlan struct {
	name      string
	steps     []PlanStep
	variables map[string]any
}

// PlanOption customises a MultiStepPlan.
type PlanOption func(*MultiStepPlan)

// WithPlanName labels the plan for logs and history.
func WithPlanName(name string) PlanOption {
	return func(p *MultiStepPlan) {
		p.name = name
	}
}

// WithVariables sets plan-level variables visible to step conditions.
func WithVariables(vars map[string]any) PlanOption {
	return func(p *MultiStepPlan) {
		p.variables = maps.Clone(vars)
	}
}

// NewMultiStepPlan builds a plan from steps. Steps without an ID get step_<n>
// (1-based position). Targets are not resolved here; an unknown target fails
// when the plan runs.
func NewMultiStepPlan(steps []PlanStep, opts ...PlanOption) *MultiStepPlan {
	p := &MultiStepPlan{
		steps:     make([]PlanStep, len(steps)),
		variables: map[string]any{},
	}
	for i, s := range steps {
		if s.id == "" {
			s.id = fmt.Sprintf("step_%d", i+1)
		}
		s.params = maps.Clone(s.params)
		p.steps[i] = s
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.variables == nil {
		p.variables = map[string]any{}
	}
	return p
}

func (p *MultiStepPlan) Name() string { return p.name }

// Steps returns a copy of the ordered steps.
func (p *MultiStepPlan) Steps() []PlanStep {
	out := make([]PlanStep, len(p.steps))
	copy(out, p.steps)
	return out
}

func (p *MultiStepPlan) Len() int { return len(p.steps) }

// Variables returns a copy of the plan variables.
func (p *MultiStepPlan) Variables() map[string]any {
	return maps.Clone(p.variables)
}

func (*MultiStepPlan) isPlan() {}

// DescribePlan renders a plan as one line per step.
func DescribePlan(p Plan) []string {
	if p == nil {
		return nil
	}
	steps := p.Steps()
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		line := fmt.Sprintf("%s: %s -> %s", s.ID(), s.Target(), s.Action())
		if s.Condition() != "" {
			line += fmt.Sprintf(" [if %s]", s.Condition())
		}
		lines = append(lines, line)
	}
	return lines
}
