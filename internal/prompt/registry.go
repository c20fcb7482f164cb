package prompt

import (
	"context"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"go.uber.org/zap"
)

// Registry runs dotprompt files loaded by Genkit. When a prompt file is
// missing, GenerateText can send the raw "prompt" input to the default model
// instead.
type Registry struct {
	g        *genkit.Genkit
	logger   *zap.Logger
	fallback bool

	mu     sync.Mutex
	lookup map[string]*ai.Prompt
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRawFallback lets GenerateText call the default model directly when the
// named prompt is not loaded.
func WithRawFallback() RegistryOption {
	return func(r *Registry) {
		r.fallback = true
	}
}

// NewRegistry initializes Genkit with opts (plugins, default model, prompt
// directory) and wraps it.
func NewRegistry(ctx context.Context, logger *zap.Logger, opts []genkit.GenkitOption, options ...RegistryOption) (*Registry, error) {
	g, err := genkit.Init(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Genkit: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{g: g, logger: logger, lookup: make(map[string]*ai.Prompt)}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// GetPrompt retrieves a loaded prompt by name.
func (r *Registry) GetPrompt(name string) (*ai.Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.lookup[name]; ok {
		return p, nil
	}
	p := genkit.LookupPrompt(r.g, name)
	if p == nil {
		return nil, fmt.Errorf("prompt '%s' not found", name)
	}
	r.lookup[name] = p
	return p, nil
}

// ExecutePrompt renders the named prompt with input and runs it against the
// prompt's model.
func (r *Registry) ExecutePrompt(ctx context.Context, promptName string, input map[string]any, execOpts ...ai.PromptExecuteOption) (*ai.ModelResponse, error) {
	p, err := r.GetPrompt(promptName)
	if err != nil {
		return nil, err
	}
	resp, err := p.Execute(ctx, append([]ai.PromptExecuteOption{ai.WithInput(input)}, execOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute prompt '%s': %w", promptName, err)
	}
	return resp, nil
}

// GenerateText executes the named prompt and returns the completion text.
func (r *Registry) GenerateText(ctx context.Context, promptName string, input map[string]any) (string, error) {
	if _, err := r.GetPrompt(promptName); err != nil {
		raw, ok := input["prompt"].(string)
		if !r.fallback || !ok {
			return "", err
		}
		r.logger.Debug("Prompt file missing, using default model", zap.String("prompt", promptName))
		return genkit.GenerateText(ctx, r.g, ai.WithPrompt(raw))
	}

	resp, err := r.ExecutePrompt(ctx, promptName, input)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	r.logger.Debug("Prompt executed",
		zap.String("prompt", promptName),
		zap.Int("response_bytes", len(text)))
	return text, nil
}
