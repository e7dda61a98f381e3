package exclusion

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Holder describes who currently holds the active-driver token.
type Holder struct {
	// Token is the unique id returned by TryAcquire; Release requires it.
	Token string `json:"token"`

	// Source identifies who acquired the token, e.g. "user" or "scheduler".
	Source string `json:"source"`

	// SessionID is the conversation the holder is driving.
	SessionID string `json:"session_id"`

	// AcquiredAt is when the token was granted.
	AcquiredAt time.Time `json:"acquired_at"`
}

// DriverToken is the single process-wide permit required to drive the
// externally visible conversation stream. At most one holder exists at any
// instant; Release is identity-checked so a stale caller cannot clear
// someone else's hold.
type DriverToken struct {
	mu     sync.Mutex
	holder *Holder
}

// NewDriverToken creates an unheld driver token.
func NewDriverToken() *DriverToken {
	return &DriverToken{}
}

// TryAcquire grants the token if no holder exists. On success it returns the
// token id and true. On conflict it returns the current holder's info and
// false.
func (d *DriverToken) TryAcquire(source, sessionID string) (token string, current *Holder, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.holder != nil {
		h := *d.holder
		return "", &h, false
	}

	d.holder = &Holder{
		Token:      uuid.New().String(),
		Source:     source,
		SessionID:  sessionID,
		AcquiredAt: time.Now().UTC(),
	}
	return d.holder.Token, nil, true
}

// Release clears the holder only if token matches the current holder's
// token. It reports whether the release took effect.
func (d *DriverToken) Release(token string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.holder == nil || d.holder.Token != token {
		return false
	}
	d.holder = nil
	return true
}

// Status reports whether the token is held and, if so, a copy of the
// holder's info.
func (d *DriverToken) Status() (held bool, holder *Holder) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.holder == nil {
		return false, nil
	}
	h := *d.holder
	return true, &h
}
