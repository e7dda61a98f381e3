// Package types holds the shared data model for conversation sessions:
// messages, tool-call records, compaction state, and turn results.
package types

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow/streaming"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall records one tool invocation attached to a message: the request
// (name, input, correlation id) and, once resolved, the result or error.
type ToolCall struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  string          `json:"output,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// Message is one entry in a session transcript. Message order is the
// conversation's chronological order and is never reordered; compaction only
// flips the Compressed flag on a contiguous prefix.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`

	// Content is the textual body. Empty for assistant messages that only
	// carry tool calls.
	Content string `json:"content,omitempty"`

	// ToolCalls are the tool invocations carried by this message, in the
	// order they were requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Segments is the rendered streaming output for assistant messages
	// produced by a streaming turn.
	Segments []streaming.Segment `json:"segments,omitempty"`

	// Compressed is set once the message falls inside a summarized prefix.
	Compressed bool `json:"compressed,omitempty"`

	Usage     *Usage    `json:"usage,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserMessage creates a user message with text content.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string, toolCalls []ToolCall) *Message {
	m := NewMessage(RoleAssistant, content)
	m.ToolCalls = toolCalls
	return m
}

// NewToolResultMessage creates a tool-role message carrying resolved tool
// call results.
func NewToolResultMessage(results []ToolCall) *Message {
	m := NewMessage(RoleTool, "")
	m.ToolCalls = results
	return m
}

// HasToolCalls reports whether the message carries any tool invocations.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// CompactionState is a session's compaction metadata. CompressedCount only
// increases; each successful compaction replaces the summary and record
// rather than appending to it.
type CompactionState struct {
	// Summary is the generated summary text, empty when no compaction has
	// happened yet.
	Summary string `json:"summary,omitempty"`

	// CompressedAt is when the last compaction succeeded. Zero when absent.
	CompressedAt time.Time `json:"compressed_at,omitempty"`

	// CompressedCount is the length of the compacted transcript prefix.
	CompressedCount int `json:"compressed_count"`
}

// HasSummary reports whether a compaction has ever succeeded.
func (c CompactionState) HasSummary() bool {
	return c.Summary != "" && c.CompressedCount > 0
}

// Session is one conversation's transcript and compaction state. It is owned
// by the session store. Turns append while compaction rewrites the
// already-finalized prefix, possibly from another goroutine, so Messages and
// Compaction are guarded by the session's lock: single-step accessors lock
// internally, multi-step read-modify sequences take Lock/RLock explicitly.
// Message fields are immutable once appended, except Compressed, which
// compaction flips under the write lock.
type Session struct {
	ID           string          `json:"id"`
	Messages     []*Message      `json:"messages"`
	Compaction   CompactionState `json:"compaction"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActivity time.Time       `json:"last_activity"`

	mu sync.RWMutex
}

// Lock takes the session's write lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session's write lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// RLock takes the session's read lock.
func (s *Session) RLock() { s.mu.RLock() }

// RUnlock releases the session's read lock.
func (s *Session) RUnlock() { s.mu.RUnlock() }

// Append adds a message to the end of the transcript.
func (s *Session) Append(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msg)
}

// Len returns the transcript length.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}

// Uncompressed returns how many messages lie past the compacted prefix.
func (s *Session) Uncompressed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages) - s.Compaction.CompressedCount
}

// Snapshot returns a copy of the transcript and compaction state that stays
// consistent while the session keeps changing. Message values are copied; the
// tool-call and segment slices they reference are never mutated after append.
func (s *Session) Snapshot() ([]*Message, CompactionState) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		c := *m
		msgs[i] = &c
	}
	return msgs, s.Compaction
}
