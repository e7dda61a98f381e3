// Package streaming reconstructs an ordered segment list for one in-flight
// turn from interleaved text fragments and tool-call lifecycle events.
package streaming

import (
	"encoding/json"
)

// SegmentType identifies what a segment holds.
type SegmentType string

const (
	// SegmentText holds accumulated characters for one continuous span of
	// assistant output.
	SegmentText SegmentType = "text"

	// SegmentToolCall holds the lifecycle of a single tool invocation.
	SegmentToolCall SegmentType = "tool_call"
)

// ToolStatus is the lifecycle status of a tool-call segment.
type ToolStatus string

const (
	ToolStarting  ToolStatus = "starting"
	ToolExecuting ToolStatus = "executing"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// Terminal reports whether the status ends a tool-call segment's lifecycle.
func (s ToolStatus) Terminal() bool {
	return s == ToolCompleted || s == ToolFailed
}

// Segment is one unit of reconstructed streaming output: either a continuous
// text run or one tool invocation's lifecycle.
type Segment struct {
	Type SegmentType `json:"type"`

	// Text content (SegmentText only).
	Text string `json:"text,omitempty"`

	// Tool call fields (SegmentToolCall only).
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Status    ToolStatus      `json:"status,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// open marks a text segment that can still receive fragments.
	open bool
}

// Reconstructor merges incremental text fragments and tool-call lifecycle
// events into an ordered segment list for a single turn. It is a pure state
// machine: the same ordered event sequence always yields the same segments,
// regardless of timing between events.
//
// A tool-call segment's merge identity is (tool name, first segment of that
// name with a non-terminal status). Two concurrent in-flight invocations of
// the same tool name within one turn are not disambiguated; the earlier
// non-terminal segment absorbs the update.
//
// Reconstructor is not safe for concurrent use; one turn owns one instance.
type Reconstructor struct {
	segments []Segment
}

// NewReconstructor returns an empty reconstructor for one turn.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{}
}

// AppendText folds a text fragment into the current open text segment, or
// opens a new one if the most recent segment is closed or is a tool call.
func (r *Reconstructor) AppendText(fragment string) {
	if fragment == "" {
		return
	}
	if n := len(r.segments); n > 0 {
		last := &r.segments[n-1]
		if last.Type == SegmentText && last.open {
			last.Text += fragment
			return
		}
	}
	r.segments = append(r.segments, Segment{Type: SegmentText, Text: fragment, open: true})
}

// ApplyTool folds a tool-call lifecycle event into the segment list. An event
// matching an existing non-terminal segment of the same tool name replaces
// that segment's fields in place; otherwise a new tool-call segment is opened
// and the current text run, if any, is closed.
func (r *Reconstructor) ApplyTool(ev ToolCallEvent) {
	for i := range r.segments {
		seg := &r.segments[i]
		if seg.Type != SegmentToolCall || seg.ToolName != ev.Name || seg.Status.Terminal() {
			continue
		}
		seg.Status = ev.Status
		if len(ev.Input) > 0 {
			seg.ToolInput = ev.Input
		}
		seg.Result = ev.Result
		seg.IsError = ev.IsError
		return
	}

	// New invocation: a tool call always breaks the current text run.
	r.closeText()
	r.segments = append(r.segments, Segment{
		Type:      SegmentToolCall,
		ToolName:  ev.Name,
		ToolInput: ev.Input,
		Status:    ev.Status,
		Result:    ev.Result,
		IsError:   ev.IsError,
	})
}

// closeText marks the trailing text segment, if open, as finished.
func (r *Reconstructor) closeText() {
	if n := len(r.segments); n > 0 {
		last := &r.segments[n-1]
		if last.Type == SegmentText {
			last.open = false
		}
	}
}

// Segments returns a copy of the reconstructed segments in the order they
// were opened.
func (r *Reconstructor) Segments() []Segment {
	out := make([]Segment, len(r.segments))
	copy(out, r.segments)
	for i := range out {
		out[i].open = false
	}
	return out
}

// Text returns the concatenated text of all text segments, in order. This is
// the assistant text produced so far, including partial output from a turn
// that failed mid-stream.
func (r *Reconstructor) Text() string {
	var s string
	for _, seg := range r.segments {
		if seg.Type == SegmentText {
			s += seg.Text
		}
	}
	return s
}

// Len returns the number of segments opened so far.
func (r *Reconstructor) Len() int {
	return len(r.segments)
}
