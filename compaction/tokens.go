package compaction

import (
	"github.com/convoflow/convoflow/types"
)

// charsPerToken is the character-based approximation ratio for English-like
// text. Good enough as a trigger heuristic; never used for billing.
const charsPerToken = 4

// messageOverheadTokens accounts for per-message role and framing overhead.
const messageOverheadTokens = 4

// ApproximateTokens estimates the token count of a string.
func ApproximateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + charsPerToken - 1) / charsPerToken
}

// EstimateTokens approximates a token budget for a message list from its
// accumulated size, including tool call inputs and outputs.
func EstimateTokens(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverheadTokens
		total += ApproximateTokens(msg.Content)
		for _, call := range msg.ToolCalls {
			total += ApproximateTokens(call.Name)
			total += ApproximateTokens(string(call.Input))
			total += ApproximateTokens(call.Output)
		}
	}
	return total
}

// ShouldCompact reports whether the usage observed for the last turn meets
// or exceeds the configured threshold. Pure predicate.
func ShouldCompact(observedTokens, threshold int) bool {
	if threshold <= 0 {
		return false
	}
	return observedTokens >= threshold
}
