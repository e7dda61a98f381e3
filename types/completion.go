package types

import "encoding/json"

// Usage contains token usage statistics reported by the completion service.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add combines two Usage values.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

// Total returns the total number of tokens (prompt + completion).
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// ToolRequest is one tool invocation requested by the completion service.
type ToolRequest struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Completion is the result of one completion-service call: either final text
// or a list of tool invocation requests, plus the usage for the call.
type Completion struct {
	Text         string        `json:"text,omitempty"`
	ToolRequests []ToolRequest `json:"tool_requests,omitempty"`
	StopReason   string        `json:"stop_reason,omitempty"`
	Usage        Usage         `json:"usage"`
}

// RequestsTools reports whether the completion asks for tool invocations
// instead of (or in addition to) final text.
func (c *Completion) RequestsTools() bool {
	return len(c.ToolRequests) > 0
}

// TurnResult is what one full turn returns: the assistant text, the tool
// calls made along the way, and cumulative usage across all completion
// rounds.
type TurnResult struct {
	// Text is the final assistant text.
	Text string `json:"text"`

	// Message is the final assistant message appended to the transcript.
	Message *Message `json:"message,omitempty"`

	// ToolCalls are all resolved tool invocations from this turn, in
	// invocation order.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Usage is cumulative across all completion rounds of the turn.
	Usage Usage `json:"usage"`

	// Rounds is how many completion-service calls the turn made.
	Rounds int `json:"rounds"`

	// Compacted reports whether the turn triggered a successful compaction.
	Compacted bool `json:"compacted"`
}
