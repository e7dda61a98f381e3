// Package tool defines the tool-invocation surface: the Tool interface, a
// registry of named tools, and an executor with per-call timeouts.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is the interface that all tools must implement.
type Tool interface {
	// Name returns the tool name (used in completion-service calls).
	Name() string

	// Description returns a human-readable description of what the tool does.
	Description() string

	// InputSchema returns the JSON Schema for the tool's input parameters.
	InputSchema() Schema

	// Execute runs the tool with the provided input and returns the result.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Schema defines the JSON Schema for a tool's input parameters.
type Schema struct {
	// Type must be "object".
	Type string `json:"type"`

	// Properties defines the tool's parameters.
	Properties map[string]Property `json:"properties"`

	// Required lists the names of required parameters.
	Required []string `json:"required,omitempty"`
}

// Property defines a single parameter in a tool schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`

	// Items defines the schema for array items (when Type is "array").
	Items *Property `json:"items,omitempty"`
}

// Definition is a tool's wire-facing declaration, sent to the completion
// service as part of the tool schema.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema Schema `json:"input_schema"`
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          Schema
	Fn              func(ctx context.Context, input json.RawMessage) (string, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.ToolDescription }
func (f *Func) InputSchema() Schema { return f.Schema }

func (f *Func) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return f.Fn(ctx, input)
}

// NewFunc creates a function-backed tool.
func NewFunc(name, description string, schema Schema, fn func(ctx context.Context, input json.RawMessage) (string, error)) *Func {
	return &Func{ToolName: name, ToolDescription: description, Schema: schema, Fn: fn}
}
