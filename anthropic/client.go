// Package anthropic adapts the Anthropic Messages API to the completion
// client interface the pipeline consumes.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/convoflow/convoflow/streaming"
	"github.com/convoflow/convoflow/tool"
	"github.com/convoflow/convoflow/types"
)

// DefaultMaxTokens is the generation ceiling when none is configured.
const DefaultMaxTokens = 8192

// Client wraps the Anthropic SDK as a blocking and streaming completion
// client.
type Client struct {
	api       *anthropic.Client
	model     string
	maxTokens int64
}

// New creates a completion client for the given model.
func New(api *anthropic.Client, model string) *Client {
	return &Client{
		api:       api,
		model:     model,
		maxTokens: DefaultMaxTokens,
	}
}

// SetMaxTokens overrides the generation ceiling.
func (c *Client) SetMaxTokens(n int64) {
	if n > 0 {
		c.maxTokens = n
	}
}

func (c *Client) params(messages []*types.Message, tools []tool.Definition) anthropic.MessageNewParams {
	system, msgs := convertMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params
}

// Complete sends one blocking completion request.
func (c *Client) Complete(ctx context.Context, messages []*types.Message, tools []tool.Definition) (*types.Completion, error) {
	msg, err := c.api.Messages.New(ctx, c.params(messages, tools))
	if err != nil {
		return nil, err
	}
	return convertResponse(msg), nil
}

// CompleteStream streams one completion, emitting a text event per fragment
// and a starting tool event per tool_use block as its input finishes
// accumulating. The returned completion is built from the accumulated final
// message.
func (c *Client) CompleteStream(ctx context.Context, messages []*types.Message, tools []tool.Definition, emit func(streaming.Event)) (*types.Completion, error) {
	stream := c.api.Messages.NewStreaming(ctx, c.params(messages, tools))

	acc := anthropic.Message{}
	inputs := make(map[int64]*strings.Builder)

	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, err
		}

		switch e := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if _, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				inputs[e.Index] = &strings.Builder{}
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := e.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				emit(streaming.TextEvent{Text: delta.Text})
			case anthropic.InputJSONDelta:
				if b, ok := inputs[e.Index]; ok {
					b.WriteString(delta.PartialJSON)
				}
			}

		case anthropic.ContentBlockStopEvent:
			if b, ok := inputs[e.Index]; ok {
				delete(inputs, e.Index)
				idx := int(e.Index)
				if idx < len(acc.Content) {
					if toolUse, ok := acc.Content[idx].AsAny().(anthropic.ToolUseBlock); ok {
						emit(streaming.ToolCallEvent{
							Name:   toolUse.Name,
							Input:  json.RawMessage(b.String()),
							Status: streaming.ToolStarting,
						})
					}
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	return convertResponse(&acc), nil
}
