// Package compaction decides when a session transcript should be summarized
// and rewrites the effective context sent to the completion service.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/convoflow/convoflow/tool"
	"github.com/convoflow/convoflow/types"
)

// Completer is the slice of the completion service the engine needs for
// summarization.
type Completer interface {
	Complete(ctx context.Context, messages []*types.Message, tools []tool.Definition) (*types.Completion, error)
}

// DefaultKeepRecent is how many trailing messages are excluded from the
// summarized prefix by default.
const DefaultKeepRecent = 10

// minNewForRecompaction is how many messages must accrue past the compacted
// prefix plus the kept-recent window before a re-compaction is permitted.
const minNewForRecompaction = 2

// Record describes one successful compaction.
type Record struct {
	SessionID          string        `json:"session_id"`
	MessagesSummarized int           `json:"messages_summarized"`
	CompressedCount    int           `json:"compressed_count"`
	TokensBefore       int           `json:"tokens_before"`
	TokensAfter        int           `json:"tokens_after"`
	Duration           time.Duration `json:"duration"`
}

// Engine summarizes transcript prefixes and builds effective contexts.
type Engine struct {
	client Completer
	logger *slog.Logger

	mu         sync.RWMutex
	keepRecent int
}

// NewEngine creates an engine that summarizes via the given completer. A
// negative keepRecent falls back to DefaultKeepRecent; zero is a valid
// setting that summarizes the entire transcript.
func NewEngine(client Completer, keepRecent int, logger *slog.Logger) *Engine {
	if keepRecent < 0 {
		keepRecent = DefaultKeepRecent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:     client,
		logger:     logger.With("component", "compaction"),
		keepRecent: keepRecent,
	}
}

// KeepRecent returns the configured kept-recent count.
func (e *Engine) KeepRecent() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keepRecent
}

// SetKeepRecent updates the kept-recent count.
func (e *Engine) SetKeepRecent(n int) error {
	if n < 0 {
		return fmt.Errorf("keep recent must be non-negative, got %d", n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keepRecent = n
	return nil
}

// Summarize sends the prefix, rendered with role labels and tool usage
// notes, to the completion service under the summarization instruction. A
// failed or empty response is ErrSummarizationFailed, never an empty
// success.
func (e *Engine) Summarize(ctx context.Context, prefix []*types.Message) (string, error) {
	if len(prefix) == 0 {
		return "", ErrNothingToCompact
	}

	request := []*types.Message{
		types.NewMessage(types.RoleSystem, SummarizationSystemPrompt),
		types.NewUserMessage(BuildSummarizationPrompt(RenderTranscript(prefix))),
	}

	completion, err := e.client.Complete(ctx, request, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}
	if completion.Text == "" {
		return "", fmt.Errorf("%w: empty response from summarizer", ErrSummarizationFailed)
	}
	return completion.Text, nil
}

// Compact summarizes everything except the last keepRecent messages, then
// replaces the session's compaction state with the new summary and marks the
// prefix compressed. The transcript itself is never reordered or truncated.
//
// It reports ErrNothingToCompact when the transcript is too short and
// ErrNoNewMessages when not enough has accrued since the last compaction.
func (e *Engine) Compact(ctx context.Context, sess *types.Session) (*Record, error) {
	keep := e.KeepRecent()

	// The caller's compaction lock serializes concurrent compactions;
	// the session lock covers the turn that may be appending meanwhile.
	// Appends between the two critical sections only extend the slice, so
	// the prefix chosen here stays a valid prefix.
	sess.RLock()
	prefixLen := len(sess.Messages) - keep
	if prefixLen < 1 {
		sess.RUnlock()
		return nil, ErrNothingToCompact
	}
	if c := sess.Compaction.CompressedCount; c > 0 && prefixLen-c < minNewForRecompaction {
		sess.RUnlock()
		return nil, ErrNoNewMessages
	}
	prefix := append([]*types.Message(nil), sess.Messages[:prefixLen]...)
	tokensBefore := EstimateTokens(sess.Messages)
	sess.RUnlock()

	start := time.Now()
	summary, err := e.Summarize(ctx, prefix)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	sess.Compaction = types.CompactionState{
		Summary:         summary,
		CompressedAt:    time.Now().UTC(),
		CompressedCount: prefixLen,
	}
	for _, msg := range prefix {
		msg.Compressed = true
	}
	tokensAfter := ApproximateTokens(summary) + EstimateTokens(sess.Messages[prefixLen:])
	sess.Unlock()

	record := &Record{
		SessionID:          sess.ID,
		MessagesSummarized: prefixLen,
		CompressedCount:    prefixLen,
		TokensBefore:       tokensBefore,
		TokensAfter:        tokensAfter,
		Duration:           time.Since(start),
	}

	e.logger.Info("compacted session",
		"session_id", sess.ID,
		"messages_summarized", record.MessagesSummarized,
		"tokens_before", record.TokensBefore,
		"tokens_after", record.TokensAfter,
	)
	return record, nil
}

// BuildEffectiveContext returns the ordered list actually sent to the
// completion service: the system message, a synthetic system-role block
// presenting the summary when one exists, then every message past the
// compacted prefix.
func (e *Engine) BuildEffectiveContext(sess *types.Session, systemPrompt string) []*types.Message {
	sess.RLock()
	defer sess.RUnlock()

	tail := sess.Messages[sess.Compaction.CompressedCount:]

	out := make([]*types.Message, 0, len(tail)+2)
	out = append(out, types.NewMessage(types.RoleSystem, systemPrompt))
	if sess.Compaction.HasSummary() {
		out = append(out, types.NewMessage(types.RoleSystem, SummaryContextBlock(sess.Compaction.Summary)))
	}
	return append(out, tail...)
}
