// Package planner turns commands and extraction results into plans.
package planner

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/extract"
	"go.uber.org/zap"
)

// Target names the planner emits. The tools and sub-agents registered with
// the engine must use the same names.
const (
	ShellTool     = "shell"
	FileTool      = "file"
	CalculateTool = "calculate"
	ResearchAgent = "research"
)

// DefaultNativeFileOps are the file operations the file tool performs
// without a shell.
var DefaultNativeFileOps = []string{"list", "read", "create", "write", "append", "delete", "copy", "move", "mkdir"}

var (
	segmentSeparator = regexp.MustCompile(`(?i)\s+(?:and\s+)?then\s+`)
	// shellCompound spots if/for/while/until/case blocks, whose own "then"
	// must not be treated as a step boundary.
	shellCompound = regexp.MustCompile(`(?:^|[;&|(]\s*)(?:if|for|while|until|case)\s[\s\S]*[;\n]\s*(?:fi|done|esac)\b`)
)

// Rule maps a command segment to one step. Rules are tried in order and the
// first match wins.
type Rule struct {
	Name  string
	Match func(segment string) bool
	Build func(segment string) (dragonscale.Target, string, map[string]any)
}

var (
	researchVocabulary = regexp.MustCompile(`(?i)\b(research|search|look\s+up|find\s+out|investigate)\b`)
	researchLead       = regexp.MustCompile(`(?i)^.*?\b(?:research|search|look\s+up|find\s+out|investigate)\b\s*(?:(?:for|about|on|into|whether)\b)?\s*`)
	calculateLead      = regexp.MustCompile(`(?i)^\s*(?:calculate|compute|evaluate)\b\s*`)
)

// ResearchRule sends research and search requests to the research sub-agent.
var ResearchRule = Rule{
	Name:  "research",
	Match: researchVocabulary.MatchString,
	Build: func(segment string) (dragonscale.Target, string, map[string]any) {
		query := strings.TrimSpace(researchLead.ReplaceAllString(segment, ""))
		if query == "" {
			query = segment
		}
		return dragonscale.AgentRef(ResearchAgent), "research", map[string]any{"query": query}
	},
}

// CalculateRule sends arithmetic to the calculate tool.
var CalculateRule = Rule{
	Name:  "calculate",
	Match: calculateLead.MatchString,
	Build: func(segment string) (dragonscale.Target, string, map[string]any) {
		expr := strings.TrimSpace(calculateLead.ReplaceAllString(segment, ""))
		return dragonscale.ToolRef(CalculateTool), "evaluate", map[string]any{"expression": expr}
	},
}

// RulePlanner is a shallow keyword dispatcher. The same command and params
// always produce the same plan.
type RulePlanner struct {
	rules     []Rule
	nativeOps []string
	logger    *zap.Logger
}

// Option configures a RulePlanner.
type Option func(*RulePlanner)

// WithRule adds a rule ahead of the built-in ones.
func WithRule(rule Rule) Option {
	return func(p *RulePlanner) {
		p.rules = append([]Rule{rule}, p.rules...)
	}
}

// WithNativeFileOps replaces the operations routed to the file tool.
func WithNativeFileOps(ops ...string) Option {
	return func(p *RulePlanner) {
		p.nativeOps = ops
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *RulePlanner) {
		p.logger = logger
	}
}

// New creates a RulePlanner with the research and calculate rules. Segments
// no rule claims run as shell commands.
func New(opts ...Option) *RulePlanner {
	p := &RulePlanner{
		rules:     []Rule{ResearchRule, CalculateRule},
		nativeOps: DefaultNativeFileOps,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Plan splits command on "then" and "and then" into segments. Semicolons
// stay inside a segment so one shell runs the whole sequence, and shell
// compound commands are never split. One segment yields a
// SingleAction; several yield a MultiStepPlan in segment order. params are
// merged into every step and override rule-derived parameters.
func (p *RulePlanner) Plan(command string, params map[string]any) (dragonscale.Plan, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, dragonscale.NewPlanValidationError("command cannot be empty", nil)
	}

	parts := []string{command}
	if !shellCompound.MatchString(command) {
		parts = segmentSeparator.Split(command, -1)
	}
	var segments []string
	for _, s := range parts {
		if s = strings.Trim(s, " \t\r\n;"); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return nil, dragonscale.NewPlanValidationError("command has no actionable segments", nil)
	}

	if len(segments) == 1 {
		target, action, stepParams := p.route(segments[0])
		maps.Copy(stepParams, params)
		p.logger.Debug("Planned single action", zap.String("target", target.String()), zap.String("action", action))
		return dragonscale.NewSingleAction(target, action, stepParams), nil
	}

	steps := make([]dragonscale.PlanStep, 0, len(segments))
	for _, seg := range segments {
		target, action, stepParams := p.route(seg)
		maps.Copy(stepParams, params)
		steps = append(steps, dragonscale.NewStep(target, action, stepParams))
	}
	p.logger.Debug("Planned multi-step command", zap.Int("steps", len(steps)))
	return dragonscale.NewMultiStepPlan(steps, dragonscale.WithPlanName(command)), nil
}

func (p *RulePlanner) route(segment string) (dragonscale.Target, string, map[string]any) {
	for _, r := range p.rules {
		if r.Match(segment) {
			target, action, params := r.Build(segment)
			if params == nil {
				params = map[string]any{}
			}
			return target, action, params
		}
	}
	return dragonscale.ToolRef(ShellTool), "run", map[string]any{"command": segment}
}

// FromExtraction plans an extraction result. Info without a command and
// Error results have nothing to run and yield a nil plan.
func (p *RulePlanner) FromExtraction(result dragonscale.ExtractionResult, ci dragonscale.ContextInfo) (dragonscale.Plan, error) {
	if err := result.Validate(); err != nil {
		return nil, dragonscale.NewPlanValidationError("invalid extraction result", err)
	}

	switch result.Kind {
	case dragonscale.KindAction:
		return shellAction(result.Action.Command, ci), nil
	case dragonscale.KindInfo:
		if result.Info.RelatedCommand == "" {
			return nil, nil
		}
		return shellAction(result.Info.RelatedCommand, ci), nil
	case dragonscale.KindFileOperation:
		return p.fileOperationPlan(result.FileOperation, ci)
	}
	return nil, nil
}

func shellAction(command string, ci dragonscale.ContextInfo) dragonscale.SingleAction {
	return dragonscale.NewSingleAction(dragonscale.ToolRef(ShellTool), "run", shellParams(command, ci))
}

func shellParams(command string, ci dragonscale.ContextInfo) map[string]any {
	params := map[string]any{"command": command}
	if ci.ShellFamily != "" {
		params["shell"] = ci.ShellFamily
	}
	if ci.WorkingDir != "" {
		params["dir"] = ci.WorkingDir
	}
	return params
}

// fileOperationPlan routes the operation to the file tool when it supports
// it natively and to the shell rendering otherwise. Both steps are present
// and guarded by the plan variable "native", so the trace shows which ran.
func (p *RulePlanner) fileOperationPlan(fo *dragonscale.FileOperation, ci dragonscale.ContextInfo) (dragonscale.Plan, error) {
	op := strings.ToLower(fo.Operation)
	native := slices.Contains(p.nativeOps, op)

	command := fo.Command
	if rendered, err := extract.NewShellTranslator(ci.IsWindows()).Translate(op, fo.Params); err == nil {
		command = rendered
	}

	if !native && command == "" {
		return nil, dragonscale.NewPlanValidationError(fmt.Sprintf("file operation '%s' is not supported", fo.Operation), nil)
	}

	steps := []dragonscale.PlanStep{
		dragonscale.NewStep(dragonscale.ToolRef(FileTool), op, fo.Params,
			dragonscale.WithStepID("file_tool"), dragonscale.WithCondition("native == true")),
	}
	if command != "" {
		steps = append(steps, dragonscale.NewStep(dragonscale.ToolRef(ShellTool), "run", shellParams(command, ci),
			dragonscale.WithStepID("shell_fallback"), dragonscale.WithCondition("native == false")))
	}
	return dragonscale.NewMultiStepPlan(steps,
		dragonscale.WithPlanName("file_operation:"+op),
		dragonscale.WithVariables(map[string]any{"native": native}),
	), nil
}
