package convoflow

import (
	"context"
	"strings"

	"github.com/convoflow/convoflow/compaction"
	"github.com/convoflow/convoflow/streaming"
	"github.com/convoflow/convoflow/tool"
	"github.com/convoflow/convoflow/types"
)

// RunTurn executes one full blocking turn: append the user message, build
// the effective context, run the completion/tool loop, append the final
// assistant message, compact if due, and persist best-effort. systemPrompt
// overrides the configured system prompt for this turn; empty uses the
// default.
//
// Turns against the proactive session require the active-driver token and
// return ErrDriverBusy while a proactive run holds it.
func (s *Service) RunTurn(ctx context.Context, sessionID, text, systemPrompt string) (*types.TurnResult, error) {
	release, err := s.claimDriver(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.executeTurn(ctx, sessionID, text, systemPrompt, nil)
}

// RunTurnStreaming executes one full turn like RunTurn, invoking onEvent for
// every text fragment, tool lifecycle update, synthetic compaction
// started/finished marker, and the final done event, in order. onEvent is
// called from the turn's goroutine and must not block for long.
func (s *Service) RunTurnStreaming(ctx context.Context, sessionID, text, systemPrompt string, onEvent func(streaming.Event)) (*types.TurnResult, error) {
	release, err := s.claimDriver(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if onEvent == nil {
		onEvent = func(streaming.Event) {}
	}
	return s.executeTurn(ctx, sessionID, text, systemPrompt, onEvent)
}

// claimDriver acquires the active-driver token for turns against the
// proactive session. Other sessions need no token; the returned release is a
// no-op for them.
func (s *Service) claimDriver(sessionID string) (func(), error) {
	if sessionID != s.cfg.proactiveSessionID {
		return func() {}, nil
	}

	token, holder, ok := s.driver.TryAcquire("user", sessionID)
	if !ok {
		err := NewConvoErrorWithSession("RunTurn", sessionID, ErrDriverBusy)
		if holder != nil {
			err = err.WithContext("held_by", holder.Source)
		}
		return nil, err
	}
	return func() { s.driver.Release(token) }, nil
}

// executeTurn is the shared turn pipeline. emit is nil for blocking turns.
func (s *Service) executeTurn(ctx context.Context, sessionID, text, systemPrompt string, emit func(streaming.Event)) (*types.TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewConvoErrorWithSession("RunTurn", sessionID, ErrEmptyMessage)
	}
	if systemPrompt == "" {
		systemPrompt = s.cfg.systemPrompt
	}

	sess := s.resolveSession(ctx, sessionID)
	sess.Append(types.NewUserMessage(text))
	s.store.Touch(sessionID)

	effective := s.engine.BuildEffectiveContext(sess, systemPrompt)

	if err := s.hooks.TriggerBeforeTurn(ctx, sessionID, effective); err != nil {
		s.logger.Warn("before-turn hook failed", "session_id", sessionID, "error", err)
	}

	final, toolCalls, usage, rounds, err := s.completionLoop(ctx, sessionID, sess, effective, emit)
	if err != nil {
		return nil, err
	}

	compacted := s.maybeCompact(ctx, sessionID, sess, usage, emit)

	s.persistSnapshot(ctx, sess)

	result := &types.TurnResult{
		Text:      final.Content,
		Message:   final,
		ToolCalls: toolCalls,
		Usage:     usage,
		Rounds:    rounds,
		Compacted: compacted,
	}

	if err := s.hooks.TriggerAfterTurn(ctx, sessionID, result); err != nil {
		s.logger.Warn("after-turn hook failed", "session_id", sessionID, "error", err)
	}

	if emit != nil {
		emit(streaming.DoneEvent{Text: result.Text})
	}
	return result, nil
}

// completionLoop runs the bounded completion/tool loop. Intermediate
// assistant and tool-result messages are appended to the transcript as they
// are produced; the final assistant message carries the turn's segments.
func (s *Service) completionLoop(ctx context.Context, sessionID string, sess *types.Session, effective []*types.Message, emit func(streaming.Event)) (*types.Message, []types.ToolCall, types.Usage, int, error) {
	defs := s.registry.Definitions()

	var rec *streaming.Reconstructor
	if emit != nil {
		rec = streaming.NewReconstructor()
	}

	var (
		usage     types.Usage
		toolCalls []types.ToolCall
	)

	working := effective
	for round := 1; round <= s.cfg.maxToolRounds; round++ {
		comp, err := s.complete(ctx, working, defs, rec, emit)
		if err != nil {
			// A transient remote failure still lands any text produced
			// before the failure in the transcript.
			if rec != nil {
				if partial := rec.Text(); partial != "" {
					msg := types.NewAssistantMessage(partial, nil)
					msg.Segments = rec.Segments()
					sess.Append(msg)
				}
			}
			return nil, nil, usage, round, NewConvoErrorWithSession("RunTurn", sessionID, err)
		}
		usage = usage.Add(comp.Usage)

		if !comp.RequestsTools() {
			final := types.NewAssistantMessage(comp.Text, nil)
			if rec != nil {
				if final.Content == "" {
					final.Content = rec.Text()
				}
				final.Segments = rec.Segments()
			}
			final.Usage = &comp.Usage
			sess.Append(final)
			return final, toolCalls, usage, round, nil
		}

		calls := s.invokeTools(ctx, comp.ToolRequests, rec, emit)
		toolCalls = append(toolCalls, calls...)

		assistant := types.NewAssistantMessage(comp.Text, calls)
		results := types.NewToolResultMessage(calls)
		sess.Append(assistant)
		sess.Append(results)
		working = append(working, assistant, results)
	}

	return nil, nil, usage, s.cfg.maxToolRounds,
		NewConvoErrorWithSession("RunTurn", sessionID, ErrTooManyToolRounds).
			WithContext("max_rounds", s.cfg.maxToolRounds)
}

// complete performs one completion call, streaming when the client and
// caller both support it. Streamed events are mirrored into the
// reconstructor so segments can be rebuilt afterwards.
func (s *Service) complete(ctx context.Context, messages []*types.Message, defs []tool.Definition, rec *streaming.Reconstructor, emit func(streaming.Event)) (*types.Completion, error) {
	if emit != nil {
		if sc, ok := s.cfg.client.(StreamingCompletionClient); ok {
			return sc.CompleteStream(ctx, messages, defs, func(ev streaming.Event) {
				switch e := ev.(type) {
				case streaming.TextEvent:
					rec.AppendText(e.Text)
				case streaming.ToolCallEvent:
					rec.ApplyTool(e)
				}
				emit(ev)
			})
		}
	}

	comp, err := s.cfg.client.Complete(ctx, messages, defs)
	if err != nil {
		return nil, err
	}
	if emit != nil && comp.Text != "" {
		rec.AppendText(comp.Text)
		emit(streaming.TextEvent{Text: comp.Text})
	}
	return comp, nil
}

// invokeTools resolves each requested invocation sequentially, emitting
// executing and terminal lifecycle events around each call. A failed tool
// becomes an error-flagged result message, not a turn failure; the model
// sees the error text and decides how to proceed.
func (s *Service) invokeTools(ctx context.Context, requests []types.ToolRequest, rec *streaming.Reconstructor, emit func(streaming.Event)) []types.ToolCall {
	calls := make([]types.ToolCall, 0, len(requests))
	for _, req := range requests {
		if emit != nil {
			ev := streaming.ToolCallEvent{Name: req.Name, Input: req.Input, Status: streaming.ToolExecuting}
			rec.ApplyTool(ev)
			emit(ev)
		}

		output, err := s.invoker.Invoke(ctx, req.Name, req.Input)

		if herr := s.hooks.TriggerToolCall(ctx, req.Name, req.Input, output, err); herr != nil {
			s.logger.Warn("tool-call hook failed", "tool", req.Name, "error", herr)
		}

		call := types.ToolCall{
			ID:      req.ID,
			Name:    req.Name,
			Input:   req.Input,
			Output:  output,
			IsError: err != nil,
		}
		if err != nil {
			call.Output = err.Error()
		}

		if emit != nil {
			status := streaming.ToolCompleted
			if err != nil {
				status = streaming.ToolFailed
			}
			ev := streaming.ToolCallEvent{
				Name:    req.Name,
				Input:   req.Input,
				Status:  status,
				Result:  call.Output,
				IsError: call.IsError,
			}
			rec.ApplyTool(ev)
			emit(ev)
		}

		calls = append(calls, call)
	}
	return calls
}

// maybeCompact checks the trigger after a finished turn and compacts under
// the session's compaction lock. A held lock or a failed compaction never
// fails the turn.
func (s *Service) maybeCompact(ctx context.Context, sessionID string, sess *types.Session, usage types.Usage, emit func(streaming.Event)) bool {
	observed := usage.Total()
	if observed == 0 {
		msgs, _ := sess.Snapshot()
		observed = compaction.EstimateTokens(msgs)
	}
	if !compaction.ShouldCompact(observed, s.CompactionThreshold()) {
		return false
	}

	if !s.locks.TryAcquire(sessionID) {
		s.logger.Debug("compaction already in progress, skipping",
			"session_id", sessionID)
		return false
	}
	defer s.locks.Release(sessionID)

	if emit != nil {
		emit(streaming.CompactionStartedEvent{SessionID: sessionID})
	}
	if err := s.hooks.TriggerBeforeCompaction(ctx, sessionID); err != nil {
		s.logger.Warn("before-compaction hook failed", "session_id", sessionID, "error", err)
	}

	record, err := s.engine.Compact(ctx, sess)

	if emit != nil {
		emit(streaming.CompactionFinishedEvent{SessionID: sessionID, Err: err})
	}
	if err != nil {
		s.logger.Warn("compaction failed", "session_id", sessionID, "error", err)
		return false
	}

	if herr := s.hooks.TriggerAfterCompaction(ctx, record); herr != nil {
		s.logger.Warn("after-compaction hook failed", "session_id", sessionID, "error", herr)
	}
	return true
}
