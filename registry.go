package dragonscale

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Named is anything registered under a unique name.
type Named interface {
	Name() string
}

// Replacement records a registration that was overwritten.
type Replacement[T Named] struct {
	Name       string
	Previous   T
	ReplacedAt time.Time
}

// Registry maps unique names to capabilities. It is populated during setup
// and frozen when the engine is constructed.
type Registry[T Named] struct {
	kind    string
	logger  *zap.Logger
	mu      sync.RWMutex
	entries map[string]T
	history []Replacement[T]
	frozen  bool
}

// ToolRegistry holds tools; SubAgentRegistry holds sub-agents. The two
// namespaces are separate.
type (
	ToolRegistry     = Registry[Tool]
	SubAgentRegistry = Registry[SubAgent]
)

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry(logger *zap.Logger) *ToolRegistry {
	return newRegistry[Tool]("tool", logger)
}

// NewSubAgentRegistry creates an empty sub-agent registry.
func NewSubAgentRegistry(logger *zap.Logger) *SubAgentRegistry {
	return newRegistry[SubAgent]("agent", logger)
}

func newRegistry[T Named](kind string, logger *zap.Logger) *Registry[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[T]{
		kind:    kind,
		logger:  logger,
		entries: make(map[string]T),
	}
}

// Register adds items. Re-registering a name overwrites the entry, logs a
// warning and keeps the replaced value in History.
func (r *Registry[T]) Register(items ...T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return NewConfigurationError(fmt.Sprintf("%s registry is frozen", r.kind), nil)
	}

	for _, item := range items {
		name := item.Name()
		if name == "" {
			return NewValidationError("registration", fmt.Sprintf("%s name cannot be empty", r.kind), nil)
		}
		if prev, exists := r.entries[name]; exists {
			r.logger.Warn("Overwriting registration",
				zap.String("kind", r.kind),
				zap.String("name", name))
			r.history = append(r.history, Replacement[T]{Name: name, Previous: prev, ReplacedAt: time.Now()})
		}
		r.entries[name] = item
	}
	return nil
}

// Lookup resolves a name.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.entries[name]
	return item, ok
}

// Names returns the registered names, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// History returns every overwritten registration in the order it happened.
func (r *Registry[T]) History() []Replacement[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.history)
}

// Freeze makes the registry read-only.
func (r *Registry[T]) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry[T]) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}
