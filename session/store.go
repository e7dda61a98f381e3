// Package session owns the in-memory mapping from session id to transcript
// and activity metadata, with time-based eviction.
package session

import (
	"sync"
	"time"

	"github.com/convoflow/convoflow/types"
)

// DefaultTTL is how long an untouched session survives before a sweep
// removes it.
const DefaultTTL = 24 * time.Hour

// Store maps session ids to live sessions. Absence of a session is a valid
// state, not a failure: GetOrCreate materializes missing sessions, and
// Sweep removes idle ones wholesale (deletion is all-or-nothing per id).
type Store struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	ttl      time.Duration

	// now is swapped in tests to control sweep timing.
	now func() time.Time
}

// NewStore creates an empty store with the given TTL. A non-positive ttl
// falls back to DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: make(map[string]*types.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GetOrCreate returns the existing session or creates an empty one, and
// records activity either way.
func (s *Store) GetOrCreate(id string) *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		now := s.now().UTC()
		sess = &types.Session{ID: id, CreatedAt: now}
		s.sessions[id] = sess
	}
	sess.LastActivity = s.now().UTC()
	return sess
}

// Lookup returns the session for id without creating one.
func (s *Store) Lookup(id string) (*types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Install inserts a session loaded from persistence. If the id is already
// present the existing session wins, so a concurrent lazy load cannot
// clobber live state.
func (s *Store) Install(sess *types.Session) *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sess.ID]; ok {
		return existing
	}
	sess.LastActivity = s.now().UTC()
	s.sessions[sess.ID] = sess
	return sess
}

// Touch records current time as last activity without mutating the
// transcript. Touching an absent session is a no-op.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = s.now().UTC()
	}
}

// Delete removes the session and everything attached to it. Deleting an
// absent session is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// IDs returns the ids of all live sessions.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Sweep removes every session whose last activity is older than the TTL and
// returns how many were evicted. It is idempotent and safe to run
// concurrently with normal traffic: the age check and the deletion happen
// under the same lock, so a session touched after the sweep begins is either
// kept whole or was already gone.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-s.ttl)
	evicted := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}
