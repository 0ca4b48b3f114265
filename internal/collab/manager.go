package collab

import (
	"sync"
	"time"

	"github.com/serroba/crdt-docs/internal/acl"
	"github.com/serroba/crdt-docs/internal/crdt"
	"github.com/serroba/crdt-docs/internal/presence"
	"github.com/serroba/crdt-docs/internal/storage"
	"github.com/serroba/crdt-docs/internal/ws"
)

// Manager manages sessions across documents. All sessions share one
// server replica identity (NodeID); replicas are per document, so ids
// minted for different documents never meet.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// Shared dependencies
	nodeID         crdt.NodeID
	store          storage.Store
	permStore      acl.Store
	hub            *ws.Hub
	snapshotPolicy *storage.SnapshotPolicy
	batcher        presence.BatcherConfig
	awayAfter      time.Duration
	offlineAfter   time.Duration
}

// ManagerConfig holds configuration for creating a manager.
type ManagerConfig struct {
	NodeID         crdt.NodeID
	Store          storage.Store
	PermStore      acl.Store
	Hub            *ws.Hub
	SnapshotPolicy *storage.SnapshotPolicy
	Batcher        presence.BatcherConfig
	AwayAfter      time.Duration
	OfflineAfter   time.Duration
}

// NewManager creates a new session manager.
func NewManager(cfg ManagerConfig) *Manager {
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = crdt.NewNodeID()
	}

	return &Manager{
		sessions:       make(map[string]*Session),
		nodeID:         nodeID,
		store:          cfg.Store,
		permStore:      cfg.PermStore,
		hub:            cfg.Hub,
		snapshotPolicy: cfg.SnapshotPolicy,
		batcher:        cfg.Batcher,
		awayAfter:      cfg.AwayAfter,
		offlineAfter:   cfg.OfflineAfter,
	}
}

// NodeID returns the server replica identity shared by all sessions.
func (m *Manager) NodeID() crdt.NodeID {
	return m.nodeID
}

// GetOrCreateSession returns an existing session or creates a new one,
// loading its replica from storage.
func (m *Manager) GetOrCreateSession(docID string) (*Session, error) {
	// Try read lock first
	m.mu.RLock()
	session, exists := m.sessions[docID]
	m.mu.RUnlock()

	if exists {
		return session, nil
	}

	// Need to create - acquire write lock
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if session, exists = m.sessions[docID]; exists {
		return session, nil
	}

	var permChecker *acl.Checker
	if m.permStore != nil {
		permChecker = acl.NewChecker(m.permStore)
	}

	session = NewSession(SessionConfig{
		DocID:          docID,
		NodeID:         m.nodeID,
		Store:          m.store,
		PermChecker:    permChecker,
		Hub:            m.hub,
		SnapshotPolicy: m.snapshotPolicy,
		Batcher:        m.batcher,
		AwayAfter:      m.awayAfter,
		OfflineAfter:   m.offlineAfter,
	})

	if err := session.Load(); err != nil {
		return nil, err
	}

	m.sessions[docID] = session

	return session, nil
}

// GetSession returns an existing session or nil if not found.
func (m *Manager) GetSession(docID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessions[docID]
}

// TickPresence drives every open session's presence machinery. Meant to
// be called from a single ticker goroutine.
func (m *Manager) TickPresence() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))

	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.TickPresence()
	}
}

// CloseSession closes and removes a session.
func (m *Manager) CloseSession(docID string) error {
	m.mu.Lock()
	session, exists := m.sessions[docID]

	if !exists {
		m.mu.Unlock()

		return nil
	}

	delete(m.sessions, docID)
	m.mu.Unlock()

	return session.Close()
}

// CloseAll closes all sessions.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))

	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var lastErr error

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// SessionCount returns the number of active sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
