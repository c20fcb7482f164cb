package adapters

import (
	"context"
	"fmt"
	"maps"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"go.uber.org/zap"
)

// DefaultMaxDepth bounds how deeply plan agents may delegate to each other.
const DefaultMaxDepth = 4

type depthKey struct{}

// PlanFunc builds the nested plan a PlanAgent runs for one delegation.
type PlanFunc func(action string, params map[string]any) (dragonscale.Plan, error)

// FromPlanner builds nested plans with a planner. The command is the "query"
// or "command" parameter, falling back to the action.
func FromPlanner(p dragonscale.Planner) PlanFunc {
	return func(action string, params map[string]any) (dragonscale.Plan, error) {
		rest := maps.Clone(params)
		command := action
		for _, key := range []string{"query", "command"} {
			if s, ok := rest[key].(string); ok && s != "" {
				command = s
				delete(rest, key)
				break
			}
		}
		return p.Plan(command, rest)
	}
}

// StaticPlan always runs plan.
func StaticPlan(plan dragonscale.Plan) PlanFunc {
	return func(string, map[string]any) (dragonscale.Plan, error) {
		return plan, nil
	}
}

// PlanAgent is a sub-agent that runs its own nested plan. The nested run's
// value is the delegating step's result; its trace stays private.
type PlanAgent struct {
	name     string
	build    PlanFunc
	executor dragonscale.Executor
	maxDepth int
	logger   *zap.Logger
}

// AgentOption configures a PlanAgent.
type AgentOption func(*PlanAgent)

// WithMaxDepth sets the maximum nesting of plan agents.
func WithMaxDepth(depth int) AgentOption {
	return func(a *PlanAgent) {
		a.maxDepth = depth
	}
}

// WithAgentLogger sets the logger.
func WithAgentLogger(logger *zap.Logger) AgentOption {
	return func(a *PlanAgent) {
		a.logger = logger
	}
}

// NewPlanAgent creates an agent that runs the plans built by build on executor.
func NewPlanAgent(name string, build PlanFunc, executor dragonscale.Executor, options ...AgentOption) *PlanAgent {
	a := &PlanAgent{
		name:     name,
		build:    build,
		executor: executor,
		maxDepth: DefaultMaxDepth,
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// Name implements the dragonscale.SubAgent interface.
func (a *PlanAgent) Name() string { return a.name }

// Delegate implements the dragonscale.SubAgent interface.
func (a *PlanAgent) Delegate(ctx context.Context, action string, params map[string]any) (any, error) {
	if a.build == nil || a.executor == nil {
		return nil, dragonscale.NewConfigurationError(fmt.Sprintf("agent '%s' has no planner or executor", a.name), nil)
	}

	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= a.maxDepth {
		return nil, fmt.Errorf("agent '%s' exceeded the maximum delegation depth of %d", a.name, a.maxDepth)
	}

	plan, err := a.build(action, params)
	if err != nil {
		return nil, fmt.Errorf("agent '%s' could not plan '%s': %w", a.name, action, err)
	}
	if plan == nil {
		return nil, fmt.Errorf("agent '%s' produced no plan for '%s'", a.name, action)
	}

	a.logger.Debug("Delegating to nested plan",
		zap.String("agent", a.name),
		zap.String("action", action),
		zap.Int("steps", plan.Len()),
		zap.Int("depth", depth+1))

	res, err := a.executor.Execute(context.WithValue(ctx, depthKey{}, depth+1), plan)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}
