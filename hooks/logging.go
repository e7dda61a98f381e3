package hooks

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/convoflow/convoflow/compaction"
	"github.com/convoflow/convoflow/types"
)

// LoggingHooks provides built-in structured-logging hooks.
type LoggingHooks struct {
	logger *slog.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger.
func NewLoggingHooks(logger *slog.Logger) *LoggingHooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHooks{logger: logger.With("component", "pipeline")}
}

// RegisterAll attaches all logging hooks to a registry.
func (h *LoggingHooks) RegisterAll(r *Registry) {
	r.OnBeforeTurn(h.BeforeTurn)
	r.OnAfterTurn(h.AfterTurn)
	r.OnToolCall(h.ToolCall)
	r.OnBeforeCompaction(h.BeforeCompaction)
	r.OnAfterCompaction(h.AfterCompaction)
}

// BeforeTurn logs the effective context size before a completion round.
func (h *LoggingHooks) BeforeTurn(ctx context.Context, sessionID string, messages []*types.Message) error {
	h.logger.Debug("sending effective context",
		"session_id", sessionID, "messages", len(messages))
	return nil
}

// AfterTurn logs the finished turn.
func (h *LoggingHooks) AfterTurn(ctx context.Context, sessionID string, result *types.TurnResult) error {
	h.logger.Info("turn finished",
		"session_id", sessionID,
		"rounds", result.Rounds,
		"tool_calls", len(result.ToolCalls),
		"total_tokens", result.Usage.Total(),
	)
	return nil
}

// ToolCall logs a resolved tool invocation.
func (h *LoggingHooks) ToolCall(ctx context.Context, toolName string, input json.RawMessage, output string, err error) error {
	if err != nil {
		h.logger.Warn("tool failed", "tool", toolName, "error", err)
		return nil
	}
	preview := output
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	h.logger.Debug("tool succeeded", "tool", toolName, "output", preview)
	return nil
}

// BeforeCompaction logs the start of a compaction.
func (h *LoggingHooks) BeforeCompaction(ctx context.Context, sessionID string) error {
	h.logger.Info("starting compaction", "session_id", sessionID)
	return nil
}

// AfterCompaction logs the outcome of a successful compaction.
func (h *LoggingHooks) AfterCompaction(ctx context.Context, record *compaction.Record) error {
	h.logger.Info("compaction finished",
		"session_id", record.SessionID,
		"messages_summarized", record.MessagesSummarized,
		"tokens_before", record.TokensBefore,
		"tokens_after", record.TokensAfter,
		"duration", record.Duration,
	)
	return nil
}
