// Package session owns chat sessions for loaded models. Each model gets a
// primary session named "{modelId}-main".
package session

import (
	"fmt"
	"log"
	"sync"

	"github.com/sengac/mindstrike-sub006/internal/backend"
)

// PrimaryID returns the primary session id for a model.
func PrimaryID(modelID string) string {
	return modelID + "-main"
}

// Manager maps session ids to native session handles.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]backend.Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]backend.Session)}
}

// Create opens the primary session for modelID on the given context.
func (m *Manager) Create(modelID string, ctx backend.Context) (backend.Session, error) {
	id := PrimaryID(modelID)
	sess, err := ctx.NewSession(id)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return sess, nil
}

// Get returns the primary session for modelID, or nil.
func (m *Manager) Get(modelID string) backend.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[PrimaryID(modelID)]
}

// Dispose closes and forgets the primary session for modelID. Close errors
// are logged and swallowed; the entry is always removed.
func (m *Manager) Dispose(modelID string) {
	id := PrimaryID(modelID)

	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := sess.Close(); err != nil {
		log.Printf("[session] dispose %s: %v", id, err)
	}
}

// UpdateSessionHistory is reserved for replaying per-thread history into a
// session. No external history source is wired in this version, so it is a
// no-op.
func (m *Manager) UpdateSessionHistory(modelID, threadID string) {
	_ = modelID
	_ = threadID
}
