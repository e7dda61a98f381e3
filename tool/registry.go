package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for registry and executor operations.
var (
	// ErrToolNotFound is returned when a tool cannot be found by name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidSchema is returned when a tool schema is invalid.
	ErrInvalidSchema = errors.New("invalid tool schema")

	// ErrDuplicateTool is returned when registering a name twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

// Registry holds named tools and produces the schema list sent to the
// completion service.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, validating its schema.
func (r *Registry) Register(t Tool) error {
	if t.Name() == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidSchema)
	}
	if schema := t.InputSchema(); schema.Type != "object" {
		return fmt.Errorf("%w: tool %q schema type must be \"object\", got %q",
			ErrInvalidSchema, t.Name(), schema.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// RegisterAll registers multiple tools, stopping at the first error.
func (r *Registry) RegisterAll(tools []Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the wire-facing declarations of all tools in
// registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Execute runs a tool by name.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Execute(ctx, input)
}
