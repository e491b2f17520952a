//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rumycoding/kotori/kotori"
	"github.com/rumycoding/kotori/log"
)

// DefaultMaxIdle is the default age after which inactive sessions are
// reaped.
const DefaultMaxIdle = 24 * time.Hour

// ErrSessionNotFound is returned for operations on unknown sessions.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Manager is the session registry. Creation is globally serialized;
// per-session updates take the session's own lock.
type Manager struct {
	createMu sync.Mutex
	creating map[string]struct{}

	mu            sync.RWMutex
	sessions      map[string]*Session
	locks         map[string]*sync.Mutex
	orchestrators map[string]*Orchestrator

	conversations *ConversationStore
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{
		creating:      make(map[string]struct{}),
		sessions:      make(map[string]*Session),
		locks:         make(map[string]*sync.Mutex),
		orchestrators: make(map[string]*Orchestrator),
		conversations: NewConversationStore(),
	}
}

// Conversations returns the conversation history store.
func (m *Manager) Conversations() *ConversationStore {
	return m.conversations
}

// Create registers a new session and returns its record.
func (m *Manager) Create(cfg kotori.Config, ui UISettings) (*Session, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	id := uuid.New().String()
	// Guard against an id already being published or mid-creation. A
	// UUID collision cannot realistically happen, but the registry must
	// never double-publish.
	if _, inflight := m.creating[id]; inflight || m.exists(id) {
		return nil, fmt.Errorf("session id collision: %s", id)
	}
	m.creating[id] = struct{}{}
	defer delete(m.creating, id)

	now := time.Now().UTC()
	s := &Session{
		ID:           id,
		IsActive:     true,
		CreatedAt:    now,
		LastActivity: now,
		Config:       cfg,
		UISettings:   ui,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.locks[id] = &sync.Mutex{}
	m.mu.Unlock()

	log.Infof("session %s created (language=%s deck=%s)", id, cfg.Language, cfg.DeckName)
	return s.Clone(), nil
}

// Exists reports whether the session is registered.
func (m *Manager) Exists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

func (m *Manager) exists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// Get returns a copy of the session record.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// List returns copies of all session records.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// Stats summarizes the registry.
type Stats struct {
	Total    int `json:"total_sessions"`
	Active   int `json:"active_sessions"`
	Inactive int `json:"inactive_sessions"`
}

// Stats returns registry counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{Total: len(m.sessions)}
	for _, s := range m.sessions {
		if s.IsActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
	}
	return stats
}

// update runs fn under the session's own lock.
func (m *Manager) update(id string, fn func(*Session)) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	lock := m.locks[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	lock.Lock()
	defer lock.Unlock()
	fn(s)
	s.LastActivity = time.Now().UTC()
	return nil
}

// Touch refreshes the session's last-activity timestamp.
func (m *Manager) Touch(id string) error {
	return m.update(id, func(*Session) {})
}

// SetActive flips the session's active flag.
func (m *Manager) SetActive(id string, active bool) error {
	return m.update(id, func(s *Session) {
		s.IsActive = active
	})
}

// UpdateConfig replaces the session's bot configuration.
func (m *Manager) UpdateConfig(id string, cfg kotori.Config) error {
	return m.update(id, func(s *Session) {
		s.Config = cfg
	})
}

// UpdateUISettings replaces the session's UI settings.
func (m *Manager) UpdateUISettings(id string, ui UISettings) error {
	return m.update(id, func(s *Session) {
		s.UISettings = ui
	})
}

// UpdateStateInfo replaces the session's graph-state summary.
func (m *Manager) UpdateStateInfo(id string, info StateInfo) error {
	return m.update(id, func(s *Session) {
		s.CurrentState = info
	})
}

// AttachOrchestrator binds the running orchestrator to the session.
// Only one may be attached at a time.
func (m *Manager) AttachOrchestrator(id string, o *Orchestrator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	if existing, ok := m.orchestrators[id]; ok && existing != nil {
		return fmt.Errorf("session %s already has an orchestrator attached", id)
	}
	m.orchestrators[id] = o
	return nil
}

// DetachOrchestrator removes the orchestrator binding.
func (m *Manager) DetachOrchestrator(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orchestrators, id)
}

// Orchestrator returns the orchestrator attached to the session, if any.
func (m *Manager) Orchestrator(id string) (*Orchestrator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orchestrators[id]
	return o, ok && o != nil
}

// Close stops the session's orchestrator, removes the record, its lock
// and its history.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	o := m.orchestrators[id]
	delete(m.sessions, id)
	delete(m.locks, id)
	delete(m.orchestrators, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if o != nil {
		o.Stop()
	}
	m.conversations.Delete(id)
	log.Infof("session %s closed (created %s)", id, s.CreatedAt.Format(time.RFC3339))
	return nil
}

// CleanupInactive removes inactive sessions idle for longer than maxIdle
// and returns how many were reaped.
func (m *Manager) CleanupInactive(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	cutoff := time.Now().UTC().Add(-maxIdle)

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if !s.IsActive && s.LastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if err := m.Close(id); err == nil {
			log.Infof("reaped inactive session %s", id)
		}
	}
	return len(stale)
}
