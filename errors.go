package convoflow

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the service configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSessionNotFound is returned when a session does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptyMessage is returned when a turn is started with no user text
	ErrEmptyMessage = errors.New("empty message")

	// ErrTooManyToolRounds is returned when the tool loop exceeds its bound
	ErrTooManyToolRounds = errors.New("too many tool rounds")

	// ErrCompactionInProgress is returned when a manual compaction is requested
	// while another compaction holds the session's compaction lock
	ErrCompactionInProgress = errors.New("compaction already in progress")

	// ErrDriverBusy is returned when the active-driver token is already held
	ErrDriverBusy = errors.New("active driver token already held")

	// ErrServiceNotStarted is returned when calling methods before Start()
	ErrServiceNotStarted = errors.New("service not started")

	// ErrServiceAlreadyStarted is returned when Start() is called twice
	ErrServiceAlreadyStarted = errors.New("service already started")
)

// ConvoError represents an error with additional context
type ConvoError struct {
	Op        string         // Operation that failed
	Err       error          // Underlying error
	SessionID string         // Session ID if applicable
	Context   map[string]any // Additional context
}

// Error implements the error interface
func (e *ConvoError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session=%s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *ConvoError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *ConvoError) WithContext(key string, value any) *ConvoError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewConvoError creates a new ConvoError
func NewConvoError(op string, err error) *ConvoError {
	return &ConvoError{
		Op:  op,
		Err: err,
	}
}

// NewConvoErrorWithSession creates a new ConvoError with session ID
func NewConvoErrorWithSession(op string, sessionID string, err error) *ConvoError {
	return &ConvoError{
		Op:        op,
		Err:       err,
		SessionID: sessionID,
	}
}
