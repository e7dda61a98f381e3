// Package persistence defines the durable-storage contract for session
// transcripts and provides in-memory and PostgreSQL implementations.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/convoflow/convoflow/types"
)

// ErrNotFound is returned when a session has no persisted snapshot.
var ErrNotFound = errors.New("session not persisted")

// SessionInfo is a summary row returned by List.
type SessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// Snapshot is a persisted session: the full transcript plus compaction
// metadata.
type Snapshot struct {
	SessionID  string                `json:"session_id"`
	Messages   []*types.Message      `json:"messages"`
	Compaction types.CompactionState `json:"compaction"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Store is the persistence collaborator. Save failures are absorbed by the
// pipeline (logged, never failing a turn), so implementations should make
// Save atomic per session: a partially written snapshot is worse than a
// stale one.
type Store interface {
	Save(ctx context.Context, sessionID string, messages []*types.Message, meta types.CompactionState) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]SessionInfo, error)
}
