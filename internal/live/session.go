package live

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Region is one progressive update: the markup that replaces a boundary's
// fallback once its async content settled. Done marks the final message of a
// stream.
type Region struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
	Done bool   `json:"done,omitempty"`
}

// Session is one page delivery in flight: the shell has been sent, region
// updates accumulate until the client's socket attaches and drains them.
type Session struct {
	ID         string
	CreatedAt  time.Time
	LastAccess time.Time

	mu         sync.Mutex
	buffered   []Region
	subscriber chan Region
	remaining  int
	finished   bool
}

// push buffers a region update and forwards it to an attached subscriber.
// The final region is followed by a Done marker.
func (s *Session) push(r Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.deliver(r)
	s.remaining--
	if s.remaining <= 0 {
		s.finished = true
		s.deliver(Region{Done: true})
		if s.subscriber != nil {
			close(s.subscriber)
			s.subscriber = nil
		}
	}
}

func (s *Session) deliver(r Region) {
	s.buffered = append(s.buffered, r)
	if s.subscriber != nil {
		select {
		case s.subscriber <- r:
		default:
			// Slow socket; it will catch up from the buffer on
			// reattach.
		}
	}
}

// attach returns everything buffered so far plus a channel for subsequent
// updates. The channel is nil when the stream already finished.
func (s *Session) attach() ([]Region, <-chan Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replay := make([]Region, len(s.buffered))
	copy(replay, s.buffered)
	if s.finished {
		return replay, nil
	}
	if s.subscriber != nil {
		close(s.subscriber)
	}
	ch := make(chan Region, 16)
	s.subscriber = ch
	return replay, ch
}

// registry tracks sessions by ID with TTL expiry.
type registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	ttl      time.Duration
}

func newRegistry(ttl time.Duration) *registry {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

func (r *registry) create(regions int) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:         id,
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
		remaining:  regions,
		finished:   regions == 0,
	}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return s, nil
}

func (r *registry) get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil, false
	}
	if time.Since(s.LastAccess) > r.ttl {
		delete(r.sessions, id)
		return nil, false
	}
	s.LastAccess = time.Now()
	return s, true
}

func (r *registry) delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// cleanupExpired removes sessions idle past the TTL and reports how many.
func (r *registry) cleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	cutoff := time.Now().Add(-r.ttl)
	for id, s := range r.sessions {
		if s.LastAccess.Before(cutoff) {
			delete(r.sessions, id)
			count++
		}
	}
	return count
}

// generateSessionID creates a cryptographically secure session ID.
func generateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
