package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/h3ma209/Cora/pkg/models"
)

// DefaultTTL is how long an idle session stays alive.
const DefaultTTL = 30 * time.Minute

// DefaultMaxTurns caps the user/assistant pairs included in a prompt.
const DefaultMaxTurns = 20

// Session is the ordered dialogue under one opaque id. Storage may
// retain more turns than prompts use; History truncates.
type Session struct {
	ID         string
	Turns      []models.Turn
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Manager owns the process-wide session map. One mutex guards the map
// and every session's turn list; critical sections are lookup, insert,
// append, and snapshot.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a Manager with the given TTL (DefaultTTL when
// zero).
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GetOrCreate resolves id to a live session. A missing, expired, or
// empty id allocates a fresh UUID; expiry is not an error at this
// layer.
func (m *Manager) GetOrCreate(id string) (sessionID string, isNew bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			s.LastSeenAt = m.now()
			return s.ID, false
		}
	}

	now := m.now()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		LastSeenAt: now,
	}
	m.sessions[s.ID] = s
	return s.ID, true
}

// Append pushes one turn and refreshes the session clock. Appending to
// an unknown id is a no-op: the session expired between resolution and
// commit, and a dead session must not influence new requests.
func (m *Manager) Append(id, role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return
	}
	now := m.now()
	s.Turns = append(s.Turns, models.Turn{Role: role, Content: content, TS: now})
	s.LastSeenAt = now
}

// AppendExchange commits a user turn and the assistant turn that
// answered it as one critical section, so a concurrent request on the
// same session observes either both turns or neither.
func (m *Manager) AppendExchange(id, question, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return
	}
	now := m.now()
	s.Turns = append(s.Turns,
		models.Turn{Role: "user", Content: question, TS: now},
		models.Turn{Role: "assistant", Content: answer, TS: now},
	)
	s.LastSeenAt = now
}

// History returns a snapshot of the last 2*maxTurns messages in
// chronological order. The copy is taken under the lock; callers
// assemble prompts without holding it.
func (m *Manager) History(id string, maxTurns int) []models.Turn {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	turns := s.Turns
	if max := 2 * maxTurns; len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out
}

// Len returns the number of turns stored for id.
func (m *Manager) Len(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return 0
	}
	return len(s.Turns)
}

// Sweep removes expired sessions and reports how many were dropped.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

func (m *Manager) sweepLocked() int {
	cutoff := m.now().Add(-m.ttl)
	n := 0
	for id, s := range m.sessions {
		if s.LastSeenAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}
