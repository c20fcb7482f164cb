package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"go.uber.org/zap"
)

// DefaultPromptName is the dotprompt file the Genkit model renders.
const DefaultPromptName = "interpret"

// TextGenerator executes a named prompt. *prompt.Registry implements it.
type TextGenerator interface {
	GenerateText(ctx context.Context, promptName string, input map[string]any) (string, error)
}

// GenkitLanguageModel implements dragonscale.LanguageModel on top of a Genkit
// prompt registry. The formatted prompt is passed as the "prompt" input.
type GenkitLanguageModel struct {
	generator  TextGenerator
	promptName string
	logger     *zap.Logger
}

// GenkitOption configures a GenkitLanguageModel.
type GenkitOption func(*GenkitLanguageModel)

// WithPromptName selects the dotprompt file to execute.
func WithPromptName(name string) GenkitOption {
	return func(m *GenkitLanguageModel) {
		m.promptName = name
	}
}

// WithModelLogger sets the logger.
func WithModelLogger(logger *zap.Logger) GenkitOption {
	return func(m *GenkitLanguageModel) {
		m.logger = logger
	}
}

// NewGenkitLanguageModel creates a new adapter for the generator.
func NewGenkitLanguageModel(generator TextGenerator, options ...GenkitOption) *GenkitLanguageModel {
	m := &GenkitLanguageModel{
		generator:  generator,
		promptName: DefaultPromptName,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// GetAIResponse implements the dragonscale.LanguageModel interface.
func (m *GenkitLanguageModel) GetAIResponse(ctx context.Context, prompt string) (string, error) {
	if m.generator == nil {
		return "", dragonscale.NewConfigurationError("language model is not configured", nil)
	}

	start := time.Now()
	text, err := m.generator.GenerateText(ctx, m.promptName, map[string]any{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("prompt '%s' failed: %w", m.promptName, err)
	}
	m.logger.Debug("Language model responded",
		zap.String("prompt", m.promptName),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}

type staticRule struct {
	contains string
	response string
	err      error
}

// StaticLanguageModel answers prompts from canned responses. It is used
// offline and in tests.
type StaticLanguageModel struct {
	mu       sync.Mutex
	rules    []staticRule
	fallback string
	latency  time.Duration
	prompts  []string
}

// NewStaticLanguageModel returns a model that answers fallback when no rule
// matches.
func NewStaticLanguageModel(fallback string) *StaticLanguageModel {
	return &StaticLanguageModel{fallback: fallback}
}

// On answers response to prompts containing substr. Rules are matched in the
// order they were added.
func (m *StaticLanguageModel) On(substr, response string) *StaticLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, staticRule{contains: substr, response: response})
	return m
}

// FailOn returns err for prompts containing substr.
func (m *StaticLanguageModel) FailOn(substr string, err error) *StaticLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, staticRule{contains: substr, err: err})
	return m
}

// WithLatency delays every response by d, or until ctx is done.
func (m *StaticLanguageModel) WithLatency(d time.Duration) *StaticLanguageModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
	return m
}

// GetAIResponse implements the dragonscale.LanguageModel interface.
func (m *StaticLanguageModel) GetAIResponse(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	latency := m.latency
	rules := m.rules
	m.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	for _, r := range rules {
		if strings.Contains(prompt, r.contains) {
			return r.response, r.err
		}
	}
	return m.fallback, nil
}

// Prompts returns every prompt received so far.
func (m *StaticLanguageModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Calls returns the number of prompts received.
func (m *StaticLanguageModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
