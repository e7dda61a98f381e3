package compaction

import "errors"

// Sentinel errors for compaction operations.
var (
	// ErrNothingToCompact indicates the transcript is too short to leave
	// anything outside the kept-recent window.
	ErrNothingToCompact = errors.New("nothing to compact")

	// ErrNoNewMessages indicates no new messages have accumulated beyond the
	// kept-recent window since the last compaction.
	ErrNoNewMessages = errors.New("no new messages to compact")

	// ErrSummarizationFailed indicates the summarization call failed. It is
	// never silently treated as a successful empty summary.
	ErrSummarizationFailed = errors.New("summarization failed")

	// ErrInProgress indicates compaction is already running for the session.
	ErrInProgress = errors.New("compaction already in progress")
)
