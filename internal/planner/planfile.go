package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/executor"
	"gopkg.in/yaml.v3"
)

// PlanFile is the on-disk form of a MultiStepPlan.
type PlanFile struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Variables   map[string]any `yaml:"variables" json:"variables"`
	Steps       []PlanFileStep `yaml:"steps" json:"steps"`
}

// PlanFileStep names exactly one of Tool or Agent.
type PlanFileStep struct {
	ID        string         `yaml:"id" json:"id"`
	Tool      string         `yaml:"tool" json:"tool"`
	Agent     string         `yaml:"agent" json:"agent"`
	Action    string         `yaml:"action" json:"action"`
	Params    map[string]any `yaml:"params" json:"params"`
	Condition string         `yaml:"condition" json:"condition"`
}

// PlanFileLoader loads a PlanFile from a source such as a path.
type PlanFileLoader interface {
	Load(source string) (*PlanFile, error)
	Format() string
}

var (
	loadersMu sync.RWMutex
	loaders   = make(map[string]PlanFileLoader)
)

// RegisterPlanFileLoader registers a loader for its format name.
func RegisterPlanFileLoader(loader PlanFileLoader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[loader.Format()] = loader
}

// GetPlanFileLoader retrieves a loader by format name (e.g. "yaml").
func GetPlanFileLoader(format string) (PlanFileLoader, bool) {
	loadersMu.RLock()
	defer loadersMu.RUnlock()
	loader, ok := loaders[format]
	return loader, ok
}

// YAMLLoader reads YAML plan files. JSON is valid YAML, so it also serves
// the "json" format.
type YAMLLoader struct {
	format string
}

func (l YAMLLoader) Load(path string) (*PlanFile, error) {
	return ReadPlanFile(path)
}

func (l YAMLLoader) Format() string { return l.format }

func init() {
	RegisterPlanFileLoader(YAMLLoader{format: "yaml"})
	RegisterPlanFileLoader(YAMLLoader{format: "yml"})
	RegisterPlanFileLoader(YAMLLoader{format: "json"})
}

// ReadPlanFile parses a YAML plan file without validating it.
func ReadPlanFile(path string) (*PlanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()

	var pf PlanFile
	if err := yaml.NewDecoder(f).Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}
	return &pf, nil
}

// stepRef finds references inside conditions. Parameters only resolve when
// the whole value is a reference, so "echo $HOME" is left alone.
var (
	stepRef  = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)
	paramRef = regexp.MustCompile(`^\$([a-zA-Z_][a-zA-Z0-9_]*)(?:\.[a-zA-Z0-9_]+|\[[0-9]+\])*$`)
)

// stepIDs returns the effective step IDs, assigning step_<n> where missing.
func (pf *PlanFile) stepIDs() []string {
	ids := make([]string, len(pf.Steps))
	for i, s := range pf.Steps {
		ids[i] = s.ID
		if ids[i] == "" {
			ids[i] = fmt.Sprintf("step_%d", i+1)
		}
	}
	return ids
}

// Validate checks that every step names exactly one target and an action,
// IDs are unique, conditions parse, and $references only point at earlier
// steps or plan variables.
func (pf *PlanFile) Validate() error {
	if len(pf.Steps) == 0 {
		return dragonscale.NewPlanValidationError("plan has no steps", nil)
	}

	ids := pf.stepIDs()
	seen := make(map[string]int, len(ids))
	for i, id := range ids {
		if prev, exists := seen[id]; exists {
			return dragonscale.NewPlanValidationError(fmt.Sprintf("duplicate step ID '%s' (steps %d and %d)", id, prev+1, i+1), nil)
		}
		seen[id] = i
	}

	for i, s := range pf.Steps {
		id := ids[i]
		if (s.Tool == "") == (s.Agent == "") {
			return dragonscale.NewPlanValidationError(fmt.Sprintf("step '%s' must name exactly one of tool or agent", id), nil)
		}
		if strings.TrimSpace(s.Action) == "" {
			return dragonscale.NewPlanValidationError(fmt.Sprintf("step '%s' has no action", id), nil)
		}
		if s.Condition != "" {
			if err := executor.ValidateExpression(s.Condition); err != nil {
				return dragonscale.NewPlanValidationError(fmt.Sprintf("step '%s' has an invalid condition", id), err)
			}
		}

		refs := stepRef.FindAllStringSubmatch(s.Condition, -1)
		for _, v := range s.Params {
			if str, ok := v.(string); ok {
				if m := paramRef.FindStringSubmatch(str); m != nil {
					refs = append(refs, m)
				}
			}
		}
		for _, ref := range refs {
			name := ref[1]
			if _, isVar := pf.Variables[name]; isVar {
				continue
			}
			at, exists := seen[name]
			if !exists {
				return dragonscale.NewPlanValidationError(fmt.Sprintf("step '%s' references unknown step '%s'", id, name), nil)
			}
			if at >= i {
				return dragonscale.NewPlanValidationError(fmt.Sprintf("step '%s' references step '%s', which has not run yet", id, name), nil)
			}
		}
	}
	return nil
}

// ToPlan converts the file to a MultiStepPlan. Call Validate first.
func (pf *PlanFile) ToPlan() *dragonscale.MultiStepPlan {
	ids := pf.stepIDs()
	steps := make([]dragonscale.PlanStep, 0, len(pf.Steps))
	for i, s := range pf.Steps {
		target := dragonscale.ToolRef(s.Tool)
		if s.Agent != "" {
			target = dragonscale.AgentRef(s.Agent)
		}
		opts := []dragonscale.StepOption{dragonscale.WithStepID(ids[i])}
		if s.Condition != "" {
			opts = append(opts, dragonscale.WithCondition(s.Condition))
		}
		steps = append(steps, dragonscale.NewStep(target, s.Action, s.Params, opts...))
	}
	return dragonscale.NewMultiStepPlan(steps,
		dragonscale.WithPlanName(pf.Name),
		dragonscale.WithVariables(pf.Variables))
}

// LoadPlan loads the file at path with the loader for its extension,
// validates it and returns the plan.
func LoadPlan(path string) (*dragonscale.MultiStepPlan, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		format = "yaml"
	}
	loader, ok := GetPlanFileLoader(format)
	if !ok {
		return nil, dragonscale.NewPlanValidationError(fmt.Sprintf("no plan loader registered for format %q", format), nil)
	}

	pf, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return pf.ToPlan(), nil
}
