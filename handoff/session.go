package handoff

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionInvalid covers unknown, expired, and address-mismatched sessions.
// Callers are deliberately not told which; the concrete reason is logged
// server-side only.
var ErrSessionInvalid = errors.New("handoff: invalid or expired session")

// ErrQuotaExceeded indicates the session used up its upload allowance.
var ErrQuotaExceeded = errors.New("handoff: upload quota exceeded")

// Session is one short-lived upload session. Fields are mutated only by the
// owning SessionStore under its lock.
type Session struct {
	ID           string
	Addr         string
	CreatedAt    time.Time
	LastActivity time.Time
	Uploads      int
	MaxUploads   int
}

// SessionStore is a concurrency-safe registry of upload sessions keyed by
// opaque id. Validation fails closed: an entry that fails any check is
// deleted on the spot and cannot be retried.
type SessionStore struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	ttl        time.Duration
	maxUploads int

	now func() time.Time
}

// NewSessionStore creates a registry whose sessions expire ttl after
// creation and accept at most maxUploads uploads each.
func NewSessionStore(ttl time.Duration, maxUploads int) *SessionStore {
	return &SessionStore{
		sessions:   make(map[string]*Session),
		ttl:        ttl,
		maxUploads: maxUploads,
		now:        time.Now,
	}
}

// Create registers a new session bound to the given client address and
// returns its id.
func (s *SessionStore) Create(addr string) string {
	id := "upload-" + uuid.NewString()
	now := s.now()

	s.mu.Lock()
	s.sessions[id] = &Session{
		ID:           id,
		Addr:         addr,
		CreatedAt:    now,
		LastActivity: now,
		MaxUploads:   s.maxUploads,
	}
	s.mu.Unlock()

	return id
}

// Validate reports whether the session exists, is within its TTL, and is
// being used from the address that created it. Expired or mismatched
// sessions are deleted as a side effect. A passing validation refreshes the
// session's last-activity timestamp.
func (s *SessionStore) Validate(id, addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	now := s.now()
	if now.Sub(sess.CreatedAt) > s.ttl {
		delete(s.sessions, id)
		return false
	}
	if sess.Addr != addr {
		delete(s.sessions, id)
		return false
	}
	sess.LastActivity = now
	return true
}

// IncrementUpload counts one accepted upload against the session's quota.
func (s *SessionStore) IncrementUpload(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionInvalid
	}
	if sess.Uploads >= sess.MaxUploads {
		return ErrQuotaExceeded
	}
	sess.Uploads++
	return nil
}

// Delete removes the session. Removing an absent id is a no-op.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// SweepExpired removes every session older than the TTL and returns how many
// were dropped.
func (s *SessionStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) > s.ttl {
			delete(s.sessions, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
