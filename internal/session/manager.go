package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager keys sessions by ID so independent visitors never share state.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewManager creates an empty session manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "session_manager"),
	}
}

// Get returns the session for id, or nil if none exists.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// GetOrCreate returns the session for id, creating one when id is empty or
// unknown. The returned session's ID is authoritative; callers must echo it
// back to the visitor.
func (m *Manager) GetOrCreate(id string) *Session {
	if id != "" {
		if s := m.Get(id); s != nil {
			s.Touch()
			return s
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check under the write lock; another request may have created it.
	if id != "" {
		if s, ok := m.sessions[id]; ok {
			s.Touch()
			return s
		}
	}

	s := New(uuid.NewString())
	m.sessions[s.ID] = s
	m.logger.Debug("Session created", "session_id", s.ID, "total", len(m.sessions))
	return s
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap removes sessions idle for longer than maxIdle and returns how many
// were evicted. Durable state already lives in the transcript store, so an
// evicted mid-survey session simply restarts at the profile step.
func (m *Manager) Reap(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()
	reaped := 0
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			delete(m.sessions, id)
			reaped++
		}
	}
	if reaped > 0 {
		m.logger.Info("Reaped idle sessions", "count", reaped, "remaining", len(m.sessions))
	}
	return reaped
}
