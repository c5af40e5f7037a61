package middleware

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionTTL is how long a login stays valid.
const SessionTTL = 30 * 24 * time.Hour

// Sessions holds the tokens issued at login.
type Sessions struct {
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]time.Time
	mu     sync.Mutex
}

// NewSessions creates an empty session store. A zero ttl uses SessionTTL.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &Sessions{ttl: ttl, now: time.Now, tokens: make(map[string]time.Time)}
}

// TTL returns the lifetime of a new session.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Issue creates a session and returns its token.
func (s *Sessions) Issue() string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for t, expires := range s.tokens {
		if !now.Before(expires) {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = now.Add(s.ttl)
	return token
}

// Valid reports whether token belongs to a live session.
func (s *Sessions) Valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.tokens[token]
	if !ok {
		return false
	}
	if !s.now().Before(expires) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// Revoke ends a session.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}
