package convoflow

import (
	"context"
	"encoding/json"

	"github.com/convoflow/convoflow/streaming"
	"github.com/convoflow/convoflow/tool"
	"github.com/convoflow/convoflow/types"
)

// CompletionClient produces a model completion for an effective context.
// Implementations wrap a concrete provider SDK; the service is agnostic to
// which one.
type CompletionClient interface {
	// Complete sends the messages and tool definitions to the model and
	// returns the completion, including any requested tool invocations.
	Complete(ctx context.Context, messages []*types.Message, tools []tool.Definition) (*types.Completion, error)
}

// ToolInvoker resolves a requested tool invocation to its textual result.
// The built-in tool.Executor satisfies it; an external tool-invocation
// service can be plugged in through WithToolInvoker.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, input json.RawMessage) (string, error)
}

// StreamingCompletionClient extends CompletionClient with incremental
// delivery. Implementations call emit for every text fragment and tool
// lifecycle event as it arrives, then return the finished completion.
type StreamingCompletionClient interface {
	CompletionClient

	// CompleteStream streams the completion, emitting events in arrival
	// order. The returned completion carries the accumulated final state.
	CompleteStream(ctx context.Context, messages []*types.Message, tools []tool.Definition, emit func(streaming.Event)) (*types.Completion, error)
}
