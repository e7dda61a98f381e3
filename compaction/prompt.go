package compaction

import (
	"fmt"
	"strings"

	"github.com/convoflow/convoflow/types"
)

// SummarizationSystemPrompt is the dedicated instruction under which
// transcript prefixes are summarized.
const SummarizationSystemPrompt = `You are a conversation summarizer. Produce a concise summary of the conversation below that preserves:
1. Main topics discussed and decisions reached
2. Important facts, names, and data mentioned
3. Tool invocations and their outcomes, where relevant
4. Any pending tasks or open questions

Write the summary as plain prose. Do not add commentary about the summarization itself.`

// summaryContextTemplate is the synthetic system block that presents the
// summary in the effective context.
const summaryContextTemplate = `Earlier messages in this conversation have been summarized to save space. Summary of the prior conversation:

%s

Continue the conversation using this summary as context for anything that happened before the messages below.`

// maxToolResultChars bounds how much of a tool output is carried into the
// summarization prompt.
const maxToolResultChars = 500

// RenderTranscript converts a message prefix into the role-labeled text sent
// to the completion service for summarization, noting tool usage inline.
func RenderTranscript(messages []*types.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		parts := make([]string, 0, 1+len(msg.ToolCalls))
		if msg.Content != "" {
			parts = append(parts, msg.Content)
		}
		for _, call := range msg.ToolCalls {
			parts = append(parts, renderToolCall(call))
		}
		if len(parts) == 0 {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n", msg.Role, strings.Join(parts, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderToolCall(call types.ToolCall) string {
	if call.Output == "" && !call.IsError {
		return fmt.Sprintf("[Tool: %s, Input: %s]", call.Name, string(call.Input))
	}
	result := call.Output
	if len(result) > maxToolResultChars {
		result = result[:maxToolResultChars-3] + "..."
	}
	if call.IsError {
		return fmt.Sprintf("[Tool Error from %s: %s]", call.Name, result)
	}
	return fmt.Sprintf("[Tool Result from %s: %s]", call.Name, result)
}

// BuildSummarizationPrompt wraps a rendered transcript in the summarization
// request sent as the user message.
func BuildSummarizationPrompt(transcript string) string {
	return fmt.Sprintf("Summarize the following conversation:\n\n%s", transcript)
}

// SummaryContextBlock formats the synthetic system-role message presenting
// an existing summary in the effective context.
func SummaryContextBlock(summary string) string {
	return fmt.Sprintf(summaryContextTemplate, summary)
}
