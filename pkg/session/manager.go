package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graphlite/graphlite/pkg/catalog"
	"github.com/graphlite/graphlite/pkg/errors"
	"github.com/graphlite/graphlite/pkg/log"
	"github.com/graphlite/graphlite/pkg/metrics"
)

// Manager is the coordinator's session registry: one per opened database,
// never constructed more than once.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs an empty session registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create authenticates user against cat and, on success, registers a new
// session with no current schema/graph.
func (m *Manager) Create(cat *catalog.Catalog, userName, password string) (*Session, error) {
	user, err := cat.Authenticate(userName, password)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:        uuid.NewString(),
		User:      user,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.SessionsActive.Inc()
	sessionLog := log.WithSession(s.ID)
	sessionLog.Info().Str("user", userName).Msg("session created")
	return s, nil
}

// Get looks up a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Newf(errors.Validation, "session %q does not exist", id)
	}
	return s, nil
}

// Close rolls back any live transaction on the session and removes it from
// the registry.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return errors.Newf(errors.Validation, "session %q does not exist", id)
	}
	s.Rollback()
	metrics.SessionsActive.Dec()
	closeLog := log.WithSession(id)
	closeLog.Info().Msg("session closed")
	return nil
}

// CloseAll rolls back and drops every live session, used on coordinator
// shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(id)
	}
}

// Count reports the number of live sessions, for diagnostics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
