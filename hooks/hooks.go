// Package hooks provides observation points around the pipeline: turn
// boundaries, tool calls, and compaction.
package hooks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/convoflow/convoflow/compaction"
	"github.com/convoflow/convoflow/types"
)

// BeforeTurnHook is called before the effective context is sent to the
// completion service.
type BeforeTurnHook func(ctx context.Context, sessionID string, messages []*types.Message) error

// AfterTurnHook is called after a turn produced its final result.
type AfterTurnHook func(ctx context.Context, sessionID string, result *types.TurnResult) error

// ToolCallHook is called when a tool invocation resolves.
type ToolCallHook func(ctx context.Context, toolName string, input json.RawMessage, output string, err error) error

// BeforeCompactionHook is called before transcript compaction.
type BeforeCompactionHook func(ctx context.Context, sessionID string) error

// AfterCompactionHook is called after a successful compaction.
type AfterCompactionHook func(ctx context.Context, record *compaction.Record) error

// Registry holds all registered hooks.
type Registry struct {
	mu               sync.RWMutex
	beforeTurn       []BeforeTurnHook
	afterTurn        []AfterTurnHook
	toolCall         []ToolCallHook
	beforeCompaction []BeforeCompactionHook
	afterCompaction  []AfterCompactionHook
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// OnBeforeTurn registers a hook called before each completion round.
func (r *Registry) OnBeforeTurn(hook BeforeTurnHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeTurn = append(r.beforeTurn, hook)
}

// OnAfterTurn registers a hook called after each finished turn.
func (r *Registry) OnAfterTurn(hook AfterTurnHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterTurn = append(r.afterTurn, hook)
}

// OnToolCall registers a hook called when a tool invocation resolves.
func (r *Registry) OnToolCall(hook ToolCallHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolCall = append(r.toolCall, hook)
}

// OnBeforeCompaction registers a hook called before compaction.
func (r *Registry) OnBeforeCompaction(hook BeforeCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeCompaction = append(r.beforeCompaction, hook)
}

// OnAfterCompaction registers a hook called after a successful compaction.
func (r *Registry) OnAfterCompaction(hook AfterCompactionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCompaction = append(r.afterCompaction, hook)
}

// TriggerBeforeTurn calls all registered before-turn hooks.
func (r *Registry) TriggerBeforeTurn(ctx context.Context, sessionID string, messages []*types.Message) error {
	r.mu.RLock()
	hooks := append([]BeforeTurnHook(nil), r.beforeTurn...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID, messages); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterTurn calls all registered after-turn hooks.
func (r *Registry) TriggerAfterTurn(ctx context.Context, sessionID string, result *types.TurnResult) error {
	r.mu.RLock()
	hooks := append([]AfterTurnHook(nil), r.afterTurn...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID, result); err != nil {
			return err
		}
	}
	return nil
}

// TriggerToolCall calls all registered tool-call hooks.
func (r *Registry) TriggerToolCall(ctx context.Context, toolName string, input json.RawMessage, output string, err error) error {
	r.mu.RLock()
	hooks := append([]ToolCallHook(nil), r.toolCall...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if hookErr := hook(ctx, toolName, input, output, err); hookErr != nil {
			return hookErr
		}
	}
	return nil
}

// TriggerBeforeCompaction calls all registered before-compaction hooks.
func (r *Registry) TriggerBeforeCompaction(ctx context.Context, sessionID string) error {
	r.mu.RLock()
	hooks := append([]BeforeCompactionHook(nil), r.beforeCompaction...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// TriggerAfterCompaction calls all registered after-compaction hooks.
func (r *Registry) TriggerAfterCompaction(ctx context.Context, record *compaction.Record) error {
	r.mu.RLock()
	hooks := append([]AfterCompactionHook(nil), r.afterCompaction...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, record); err != nil {
			return err
		}
	}
	return nil
}
