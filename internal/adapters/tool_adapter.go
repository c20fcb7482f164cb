package adapters

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// ToolFunc is the function signature wrapped by FuncTool.
type ToolFunc func(ctx context.Context, action string, params map[string]any) (any, error)

// FuncTool adapts a Go function to the dragonscale.Tool interface.
type FuncTool struct {
	toolFunc    ToolFunc
	schema      map[string]any
	name        string
	validator   func(action string, params map[string]any) error
	actions     []string
	description string
	category    string
}

// ToolOption represents an option for configuring a FuncTool.
type ToolOption func(*FuncTool)

// WithValidator sets a custom validator run before every call.
func WithValidator(validator func(action string, params map[string]any) error) ToolOption {
	return func(tool *FuncTool) {
		tool.validator = validator
	}
}

// WithActions restricts the tool to the listed actions.
func WithActions(actions ...string) ToolOption {
	return func(tool *FuncTool) {
		tool.actions = slices.Clone(actions)
		sort.Strings(tool.actions)
		tool.schema["actions"] = tool.actions
	}
}

// WithCategory sets the tool's category.
func WithCategory(category string) ToolOption {
	return func(tool *FuncTool) {
		tool.category = category
		tool.schema["category"] = category
	}
}

// WithDescription sets a detailed description for the tool.
func WithDescription(description string) ToolOption {
	return func(tool *FuncTool) {
		tool.description = description
		tool.schema["description"] = description
	}
}

// WithParameters sets the parameters description in the schema.
func WithParameters(parameters map[string]string) ToolOption {
	return func(tool *FuncTool) {
		tool.schema["parameters"] = parameters
	}
}

// WithReturns sets the return value description in the schema.
func WithReturns(returns string) ToolOption {
	return func(tool *FuncTool) {
		tool.schema["returns"] = returns
	}
}

// WithExamples adds usage examples to the schema.
func WithExamples(examples []string) ToolOption {
	return func(tool *FuncTool) {
		tool.schema["examples"] = examples
	}
}

// NewFuncTool creates a new tool backed by fn.
func NewFuncTool(name string, fn ToolFunc, options ...ToolOption) *FuncTool {
	tool := &FuncTool{
		toolFunc: fn,
		schema:   map[string]any{"name": name},
		name:     name,
	}
	for _, option := range options {
		option(tool)
	}
	return tool
}

// Execute implements the dragonscale.Tool interface.
func (t *FuncTool) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	if t.toolFunc == nil {
		return nil, fmt.Errorf("tool function is nil")
	}
	if err := t.Validate(action, params); err != nil {
		return nil, fmt.Errorf("input validation failed for %s: %w", t.name, err)
	}
	return t.toolFunc(ctx, action, params)
}

// Validate checks the action against WithActions and runs the custom
// validator, if any.
func (t *FuncTool) Validate(action string, params map[string]any) error {
	if len(t.actions) > 0 {
		if _, found := slices.BinarySearch(t.actions, action); !found {
			return fmt.Errorf("unsupported action '%s'", action)
		}
	}
	if t.validator != nil {
		return t.validator(action, params)
	}
	return nil
}

// Schema describes the tool for help output and prompts.
func (t *FuncTool) Schema() map[string]any {
	return t.schema
}

// Description returns the description set with WithDescription.
func (t *FuncTool) Description() string { return t.description }

// Category returns the category set with WithCategory.
func (t *FuncTool) Category() string { return t.category }

// Name implements the dragonscale.Tool interface.
func (t *FuncTool) Name() string {
	return t.name
}
