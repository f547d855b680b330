package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentspine/core"
)

// MemoryStore is a volatile Store implementation keeping sessions in a
// process-local map. It is safe for concurrent access and best suited for
// tests or ephemeral demos. Snapshots are copies so callers cannot mutate
// internal state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Open implements Store.
func (s *MemoryStore) Open(params OpenParams) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[params.SessionID]; ok {
		return cloneSession(sess), nil
	}
	now := time.Now().UTC()
	sess := &Session{Meta: Meta{
		SessionID:       params.SessionID,
		Provider:        params.Provider,
		Model:           params.Model,
		WorkspaceDir:    params.WorkspaceDir,
		ParentSessionID: params.ParentSessionID,
		SubagentDepth:   params.SubagentDepth,
		CreatedAt:       now,
		UpdatedAt:       now,
	}}
	s.sessions[params.SessionID] = sess
	return cloneSession(sess), nil
}

// Append implements Store.
func (s *MemoryStore) Append(sessionID string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(sessionID)
	sess.Messages = append(sess.Messages, msg)
	sess.Meta.UpdatedAt = time.Now().UTC()
	return nil
}

// ReplacePrefix implements Store.
func (s *MemoryStore) ReplacePrefix(sessionID string, upToIndex int, summary core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	if upToIndex < 0 {
		upToIndex = 0
	}
	if upToIndex > len(sess.Messages) {
		upToIndex = len(sess.Messages)
	}
	messages := make([]core.Message, 0, 1+len(sess.Messages)-upToIndex)
	messages = append(messages, summary)
	messages = append(messages, sess.Messages[upToIndex:]...)
	sess.Messages = messages
	sess.Meta.UpdatedAt = time.Now().UTC()
	return nil
}

// Snapshot implements Store.
func (s *MemoryStore) Snapshot(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return cloneSession(sess), nil
}

// UpdateHeader implements Store.
func (s *MemoryStore) UpdateHeader(sessionID string, patch HeaderPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(sessionID)
	patch.apply(&sess.Meta)
	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.getOrCreateLocked(sessionID)
	sess.Messages = nil
	sess.Meta.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) getOrCreateLocked(sessionID string) *Session {
	sess, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now().UTC()
		sess = &Session{Meta: Meta{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}}
		s.sessions[sessionID] = sess
	}
	return sess
}

func cloneSession(sess *Session) *Session {
	clone := &Session{Meta: sess.Meta, Messages: make([]core.Message, len(sess.Messages))}
	copy(clone.Messages, sess.Messages)
	return clone
}
