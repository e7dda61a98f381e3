package streaming

import "encoding/json"

// EventType identifies a streaming event emitted to the caller of a
// streaming turn.
type EventType string

const (
	// EventTypeText carries an incremental assistant text fragment.
	EventTypeText EventType = "text"

	// EventTypeToolCall carries a tool invocation lifecycle update.
	EventTypeToolCall EventType = "tool_call"

	// EventTypeCompactionStarted signals that transcript compaction began.
	EventTypeCompactionStarted EventType = "compaction_started"

	// EventTypeCompactionFinished signals that transcript compaction ended.
	EventTypeCompactionFinished EventType = "compaction_finished"

	// EventTypeDone signals that the turn finished.
	EventTypeDone EventType = "done"
)

// Event is a single streaming event.
type Event interface {
	Type() EventType
}

// TextEvent is an incremental assistant text fragment.
type TextEvent struct {
	Text string
}

func (TextEvent) Type() EventType { return EventTypeText }

// ToolCallEvent is a tool invocation lifecycle update.
type ToolCallEvent struct {
	Name    string
	Input   json.RawMessage
	Status  ToolStatus
	Result  string
	IsError bool
}

func (ToolCallEvent) Type() EventType { return EventTypeToolCall }

// CompactionStartedEvent signals that compaction began for the session.
type CompactionStartedEvent struct {
	SessionID string
}

func (CompactionStartedEvent) Type() EventType { return EventTypeCompactionStarted }

// CompactionFinishedEvent signals that compaction ended. Err is non-nil when
// compaction failed; the turn itself still succeeds.
type CompactionFinishedEvent struct {
	SessionID string
	Err       error
}

func (CompactionFinishedEvent) Type() EventType { return EventTypeCompactionFinished }

// DoneEvent signals that the turn finished successfully.
type DoneEvent struct {
	Text string
}

func (DoneEvent) Type() EventType { return EventTypeDone }
