package termsession

import (
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// eventRetention is how long a closed session's event history outlives the
// session entry before the sweeper drops it.
const eventRetention = 30 * time.Minute

// Manager tracks every live session and owns the shared event log. One
// Manager exists per process; handlers register sessions on accept and
// remove them when Run returns.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closedAt map[string]time.Time // session ID -> when it was removed

	events *EventLog
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		closedAt: make(map[string]time.Time),
		events:   NewEventLog(),
	}
}

// Events exposes the shared event log.
func (m *Manager) Events() *EventLog { return m.events }

// NewSession creates and registers a session for an accepted connection.
func (m *Manager) NewSession(conn *websocket.Conn, cfg Config) *Session {
	s := NewSession(conn, cfg, m.events)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	log.Printf("[session-mgr] registered session %s (%d active)", s.ID, m.Count())
	return s
}

// Remove deregisters a session once its Run loop has returned. The event
// history is retained for a while so the events endpoint can still explain
// recent disconnects.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.closedAt[id] = time.Now()
	m.mu.Unlock()
	log.Printf("[session-mgr] removed session %s", id)
}

// Get returns a session by ID, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// List returns snapshots of all registered sessions.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll asks every session to tear down. Fire-and-forget, used during
// process shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Shutdown()
	}
}

// Sweep removes event histories of sessions that have been gone longer than
// eventRetention, and prunes registry entries whose sessions already reached
// Closed without being removed. Returns how many entries were cleaned. Run
// periodically from the scheduler.
func (m *Manager) Sweep() int {
	cleaned := 0
	cutoff := time.Now().Add(-eventRetention)

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.State() == StateClosed {
			delete(m.sessions, id)
			m.closedAt[id] = time.Now()
			cleaned++
		}
	}
	var expired []string
	for id, at := range m.closedAt {
		if at.Before(cutoff) {
			delete(m.closedAt, id)
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.events.Clear(id)
	}
	if cleaned > 0 || len(expired) > 0 {
		log.Printf("[session-mgr] sweep: %d closed sessions, %d event histories", cleaned, len(expired))
	}
	return cleaned
}
