package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Executor runs registered tools with a per-call timeout. It satisfies the
// orchestrator's invoker contract: Invoke(ctx, name, input).
type Executor struct {
	registry *Registry
	timeout  time.Duration
}

// NewExecutor creates an executor over the given registry with a default
// 30 second per-call timeout.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry, timeout: 30 * time.Second}
}

// SetTimeout sets the per-call execution timeout.
func (e *Executor) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.timeout = timeout
	}
}

// Invoke executes a tool by name under the configured timeout. A timeout or
// cancellation surfaces as the context error wrapped with the tool name.
func (e *Executor) Invoke(ctx context.Context, name string, input json.RawMessage) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	output, err := e.registry.Execute(execCtx, name, input)
	if err != nil {
		if ctxErr := execCtx.Err(); ctxErr != nil {
			return output, fmt.Errorf("tool %s: %w", name, ctxErr)
		}
		return output, err
	}
	return output, nil
}
