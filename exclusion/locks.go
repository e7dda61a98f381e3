// Package exclusion provides the mutual-exclusion primitives for the
// pipeline: a per-session compaction lock table and the single process-wide
// active-driver token.
package exclusion

import (
	"sync"
)

// SessionLocks is a per-session held/free flag table guarded by one coarse
// mutex. It serializes compaction per session: TryAcquire fails while the
// flag is held, and callers must release on every exit path.
type SessionLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewSessionLocks creates an empty lock table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{held: make(map[string]bool)}
}

// TryAcquire attempts to take the lock for the given session id. It returns
// false without blocking when the lock is already held.
func (l *SessionLocks) TryAcquire(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[sessionID] {
		return false
	}
	l.held[sessionID] = true
	return true
}

// Release frees the lock for the given session id. Releasing an unheld lock
// is a no-op.
func (l *SessionLocks) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
}

// Held reports whether the lock for the given session id is currently held.
func (l *SessionLocks) Held(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[sessionID]
}

// Forget drops any lock state for a deleted session.
func (l *SessionLocks) Forget(sessionID string) {
	l.Release(sessionID)
}
