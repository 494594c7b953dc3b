package termsession

import (
	"sync"
	"time"
)

// EventType identifies a session lifecycle event.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventConnectFailed EventType = "connect_failed"
)

// Event records one lifecycle transition of a session.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// maxEventsPerSession limits stored events per session.
const maxEventsPerSession = 100

// EventLog keeps a bounded in-memory history of session lifecycle events
// for the events endpoint. Oldest entries are dropped first.
type EventLog struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewEventLog() *EventLog {
	return &EventLog{events: make(map[string][]Event)}
}

// Record appends an event for the given session.
func (l *EventLog) Record(sessionID string, t EventType, details string) {
	e := Event{
		SessionID: sessionID,
		Type:      t,
		Details:   details,
		Timestamp: time.Now(),
	}
	l.mu.Lock()
	events := append(l.events[sessionID], e)
	if len(events) > maxEventsPerSession {
		events = events[len(events)-maxEventsPerSession:]
	}
	l.events[sessionID] = events
	l.mu.Unlock()
}

// ForSession returns the stored events for one session, oldest first.
func (l *EventLog) ForSession(sessionID string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.events[sessionID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// All returns every stored event across sessions, grouped by session.
func (l *EventLog) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, events := range l.events {
		out = append(out, events...)
	}
	return out
}

// Clear drops the history of one session.
func (l *EventLog) Clear(sessionID string) {
	l.mu.Lock()
	delete(l.events, sessionID)
	l.mu.Unlock()
}
