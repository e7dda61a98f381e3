package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/convoflow/convoflow/types"
)

// Memory is an in-process Store. It is the default when no durable store is
// configured, and doubles as the test implementation.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string]*Snapshot)}
}

// Save stores a deep-enough copy of the transcript so later in-memory
// mutation does not bleed into the snapshot.
func (m *Memory) Save(ctx context.Context, sessionID string, messages []*types.Message, meta types.CompactionState) error {
	copied := make([]*types.Message, len(messages))
	for i, msg := range messages {
		c := *msg
		copied[i] = &c
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	createdAt := time.Now().UTC()
	if prev, ok := m.snapshots[sessionID]; ok {
		createdAt = prev.CreatedAt
	}
	m.snapshots[sessionID] = &Snapshot{
		SessionID:  sessionID,
		Messages:   copied,
		Compaction: meta,
		CreatedAt:  createdAt,
	}
	return nil
}

// Load returns the stored snapshot or ErrNotFound.
func (m *Memory) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make([]*types.Message, len(snap.Messages))
	for i, msg := range snap.Messages {
		c := *msg
		copied[i] = &c
	}
	return &Snapshot{
		SessionID:  snap.SessionID,
		Messages:   copied,
		Compaction: snap.Compaction,
		CreatedAt:  snap.CreatedAt,
	}, nil
}

// Delete removes the snapshot. Deleting an absent session is a no-op.
func (m *Memory) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, sessionID)
	return nil
}

// List returns summary rows for all persisted sessions.
func (m *Memory) List(ctx context.Context) ([]SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		infos = append(infos, SessionInfo{
			ID:           snap.SessionID,
			CreatedAt:    snap.CreatedAt,
			MessageCount: len(snap.Messages),
		})
	}
	return infos, nil
}
